//go:build !unix

package ram

func mapRegion(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapRegion(buffer []byte) error {
	return nil
}
