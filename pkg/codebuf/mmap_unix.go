//go:build unix

package codebuf

import "golang.org/x/sys/unix"

// mapExec is swapped out by tests to simulate exhaustion.
var mapExec = func(size int) ([]byte, error) {
	return unix.Mmap(
		-1, 0,
		size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}

func protectExec(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}
