//go:build amd64 && unix

package dynarec

import "despair/pkg/dynarec/asm"

const nativeSupported = true

func callNative(entry, state uintptr) uint64 {
	return asm.CallBlock(entry, state)
}
