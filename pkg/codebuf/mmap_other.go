//go:build !unix

package codebuf

// Without mmap the buffer is ordinary heap memory. It can be built and
// inspected but not executed.
var mapExec = func(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmap(mem []byte) error {
	return nil
}

func protectExec(mem []byte) error {
	return nil
}
