//go:build !(amd64 && unix)

package dynarec

const nativeSupported = false

func callNative(entry, state uintptr) uint64 {
	panic("dynarec: native execution is not supported on this platform")
}
