//go:build unix

package ram

import "golang.org/x/sys/unix"

func mapRegion(size int) ([]byte, error) {
	return unix.Mmap(
		-1, 0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
}

func unmapRegion(buffer []byte) error {
	return unix.Munmap(buffer)
}
