// Package ram provides fixed-size memory arenas that bytecode addresses by
// offset. Arenas are mapped outside the Go heap so their addresses are stable
// and can be embedded into generated code.
package ram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"unsafe"
)

const PageSize = 1 << 12

// ErrOutOfBounds is wrapped by every failed bounds check.
var ErrOutOfBounds = errors.New("access out of bounds")

// ErrUnmapped is returned when an address lies in no registered arena.
var ErrUnmapped = errors.New("address not mapped")

func TotalSizeNeededPages(size int) int {
	if size <= 0 {
		return PageSize
	}
	return PageSize * ((PageSize + size - 1) / PageSize)
}

// Arena is one contiguous region: a data space, a stack, the global data of
// an image, a heap, or the native core state.
type Arena struct {
	name   string
	buffer []byte // whole mapping, page rounded
	size   int    // usable bytes
}

// New maps a zeroed arena of size usable bytes.
func New(name string, size int) (*Arena, error) {
	if size < 0 {
		return nil, fmt.Errorf("arena %s: negative size %d", name, size)
	}
	buffer, err := mapRegion(TotalSizeNeededPages(size))
	if err != nil {
		return nil, fmt.Errorf("failed to map arena %s (%d bytes): %w", name, size, err)
	}
	return &Arena{name: name, buffer: buffer, size: size}, nil
}

// NewFrom maps an arena and copies initial into it.
func NewFrom(name string, initial []byte) (*Arena, error) {
	a, err := New(name, len(initial))
	if err != nil {
		return nil, err
	}
	copy(a.buffer, initial)
	return a, nil
}

func (a *Arena) Name() string {
	return a.name
}

// Size returns the number of usable bytes.
func (a *Arena) Size() int {
	return a.size
}

// Base returns the host address of offset 0.
func (a *Arena) Base() uintptr {
	return uintptr(unsafe.Pointer(&a.buffer[0]))
}

// Pointer returns an unsafe pointer to offset 0.
func (a *Arena) Pointer() unsafe.Pointer {
	return unsafe.Pointer(&a.buffer[0])
}

// Bytes returns the usable bytes.
func (a *Arena) Bytes() []byte {
	return a.buffer[:a.size]
}

// Contains reports whether [addr, addr+n) lies inside the arena.
func (a *Arena) Contains(addr uint64, n int) bool {
	base := uint64(a.Base())
	return addr >= base && addr-base+uint64(n) <= uint64(a.size)
}

// InBounds reports whether [off, off+n) is a valid range.
func (a *Arena) InBounds(off int64, n int) bool {
	return off >= 0 && n >= 0 && off+int64(n) <= int64(a.size)
}

func (a *Arena) check(off int64, n int) error {
	if !a.InBounds(off, n) {
		return fmt.Errorf("%w: %s[%d:%d] (size %d)", ErrOutOfBounds, a.name, off, off+int64(n), a.size)
	}
	return nil
}

// Slice returns the bounds-checked range [off, off+n).
func (a *Arena) Slice(off int64, n int) ([]byte, error) {
	if err := a.check(off, n); err != nil {
		return nil, err
	}
	return a.buffer[off : off+int64(n)], nil
}

// Read loads a little-endian unsigned value of n bytes (1, 2, 4 or 8).
func (a *Arena) Read(off int64, n int) (uint64, error) {
	b, err := a.Slice(off, n)
	if err != nil {
		return 0, err
	}
	return decode(b), nil
}

// Write stores the low n bytes of v little-endian.
func (a *Arena) Write(off int64, n int, v uint64) error {
	b, err := a.Slice(off, n)
	if err != nil {
		return err
	}
	encode(b, v)
	return nil
}

// ReadFloat loads a float32.
func (a *Arena) ReadFloat(off int64) (float32, error) {
	v, err := a.Read(off, 4)
	return math.Float32frombits(uint32(v)), err
}

// WriteFloat stores a float32.
func (a *Arena) WriteFloat(off int64, f float32) error {
	return a.Write(off, 4, uint64(math.Float32bits(f)))
}

// Close unmaps the arena.
func (a *Arena) Close() error {
	if a.buffer == nil {
		return nil
	}
	err := unmapRegion(a.buffer)
	a.buffer = nil
	a.size = 0
	return err
}

func decode(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	panic(fmt.Sprintf("ram: unsupported access width %d", len(b)))
}

func encode(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		panic(fmt.Sprintf("ram: unsupported access width %d", len(b)))
	}
}

// Space resolves raw host addresses back to the arena that holds them. It is
// shared by every core of a process, so it is safe for concurrent use.
type Space struct {
	mu     sync.RWMutex
	arenas []*Arena // sorted by base
}

// Add registers an arena.
func (s *Space) Add(a *Arena) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arenas = append(s.arenas, a)
	sort.Slice(s.arenas, func(i, j int) bool { return s.arenas[i].Base() < s.arenas[j].Base() })
}

// Remove unregisters an arena. It does not unmap it.
func (s *Space) Remove(a *Arena) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.arenas {
		if x == a {
			s.arenas = append(s.arenas[:i], s.arenas[i+1:]...)
			return
		}
	}
}

// Find returns the arena whose base address is exactly addr.
func (s *Space) Find(addr uint64) (*Arena, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.arenas {
		if uint64(a.Base()) == addr {
			return a, true
		}
	}
	return nil, false
}

// Resolve maps [addr, addr+n) to an arena and offset.
func (s *Space) Resolve(addr uint64, n int) (*Arena, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.arenas), func(i int) bool { return uint64(s.arenas[i].Base()) > addr })
	if i > 0 {
		a := s.arenas[i-1]
		if a.Contains(addr, n) {
			return a, int64(addr - uint64(a.Base())), nil
		}
		if addr-uint64(a.Base()) < uint64(a.size) {
			return nil, 0, fmt.Errorf("%w: %#x+%d crosses end of %s", ErrOutOfBounds, addr, n, a.name)
		}
	}
	return nil, 0, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
}

// Len returns the number of registered arenas.
func (s *Space) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arenas)
}
