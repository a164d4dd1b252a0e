// Package ports implements the numbered port space through which bytecode
// talks to devices, the memory manager and the thread manager.
package ports

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/tliron/commonlog"
)

// Size is the number of addressable port bytes.
const Size = 256

// Reserved port addresses.
const (
	GPUFramebufferIn  = 0x00
	GPUFramebufferOut = 0x01
	Keyboard          = 0x02
	MemoryMakeHeap    = 0x03
	MemoryDestroyHeap = 0x0B
	FileCommand       = 0x0C
	StringCommand     = 0x0D
	ThreadCreate      = 0x0E
	ThreadParameter   = 0x0F
	DMASize           = 0x17
	GPUCommand        = 0x1B
	GPUEffects        = 0x20
	GPURotation       = 0x21
)

var Names = map[uint32]string{
	GPUFramebufferIn:  "GPU_FB_IN_DMA",
	GPUFramebufferOut: "GPU_FB_OUT_DMA",
	Keyboard:          "KEYBOARD",
	MemoryMakeHeap:    "MEMORY_MAKE_HEAP",
	MemoryDestroyHeap: "MEMORY_DESTROY_HEAP",
	FileCommand:       "FILE_COMMAND",
	StringCommand:     "STRING_COMMAND",
	ThreadCreate:      "THREAD_CREATE",
	ThreadParameter:   "THREAD_PARAMETER",
	DMASize:           "DMA_SIZE",
	GPUCommand:        "GPU_COMMAND",
	GPUEffects:        "GPU_EFFECTS",
	GPURotation:       "GPU_ROTATION",
}

var ErrPortRange = errors.New("port out of range")

var log = commonlog.GetLogger("despair.ports")

// Handler consumes a value written to its port with an access of width
// bytes. The value is not stored; the handler may store a reply through the
// bank.
type Handler func(b *Bank, width int, value uint64) error

// Bank is the port space of one core. Ports are little-endian byte
// storage; a write to a port with a handler goes to the handler instead.
type Bank struct {
	mu       sync.Mutex
	mem      [Size]byte
	handlers [Size]Handler
}

func New() *Bank {
	return &Bank{}
}

// Handle registers h for writes to port. A nil handler makes the port plain
// storage again.
func (b *Bank) Handle(port uint8, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[port] = h
}

// Unsupported registers a handler that logs and latches the value at the
// width it was written, for ports whose commands this engine does not
// implement. Neighbouring ports are left alone.
func (b *Bank) Unsupported(port uint8) {
	b.Handle(port, func(b *Bank, width int, value uint64) error {
		log.Infof("unsupported port %s written with %#x (%d bytes)", Names[uint32(port)], value, width)
		return b.Store(uint32(port), width, value)
	})
}

func span(port uint32, width int) error {
	switch width {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("port %#x: invalid width %d", port, width)
	}
	if uint64(port)+uint64(width) > Size {
		return fmt.Errorf("%w: %#x+%d", ErrPortRange, port, width)
	}
	return nil
}

// Store writes the low width bytes of v without triggering a handler.
func (b *Bank) Store(port uint32, width int, v uint64) error {
	if err := span(port, width); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	put(b.mem[port:port+uint32(width)], v)
	return nil
}

// Write passes v to the port's handler, or stores it when there is none.
func (b *Bank) Write(port uint32, width int, v uint64) error {
	if err := span(port, width); err != nil {
		return err
	}
	b.mu.Lock()
	h := b.handlers[port]
	b.mu.Unlock()
	if h == nil {
		return b.Store(port, width, v)
	}
	if err := h(b, width, v&mask(width)); err != nil {
		return fmt.Errorf("port %s: %w", Names[port], err)
	}
	return nil
}

// Read returns the zero-extended little-endian value at port.
func (b *Bank) Read(port uint32, width int) (uint64, error) {
	if err := span(port, width); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return get(b.mem[port : port+uint32(width)]), nil
}

// WriteFloat stores f. Float writes never reach a handler.
func (b *Bank) WriteFloat(port uint32, f float32) error {
	return b.Store(port, 4, uint64(math.Float32bits(f)))
}

func (b *Bank) ReadFloat(port uint32) (float32, error) {
	v, err := b.Read(port, 4)
	return math.Float32frombits(uint32(v)), err
}

// Snapshot copies the whole port space.
func (b *Bank) Snapshot() [Size]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mem
}

func mask(width int) uint64 {
	if width >= 8 {
		return math.MaxUint64
	}
	return 1<<(8*uint(width)) - 1
}

func put(p []byte, v uint64) {
	switch len(p) {
	case 1:
		p[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(p, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(p, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(p, v)
	}
}

func get(p []byte) uint64 {
	switch len(p) {
	case 1:
		return uint64(p[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(p))
	case 4:
		return uint64(binary.LittleEndian.Uint32(p))
	}
	return binary.LittleEndian.Uint64(p)
}
