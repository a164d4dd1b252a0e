// Package devices defines the collaborators that sit behind the port space:
// the GPU and the keyboard. Rendering and input are supplied by the host.
package devices

import "sync"

// DrawCall is one DRW instruction as seen by the GPU.
type DrawCall struct {
	X, Y     int32
	Image    uint64 // host address of the image
	Effects  uint8
	Rotation uint16
}

type GPU interface {
	Draw(call DrawCall) error
	FramebufferIn(addr uint64) error
	FramebufferOut(addr uint64) error
	Command(cmd uint64) error
}

type Keyboard interface {
	// KeyStatus reports whether the key with the given code is held.
	KeyStatus(key uint64) bool
}

// Null ignores every request and reports no keys held.
type Null struct{}

func (Null) Draw(DrawCall) error { return nil }
func (Null) FramebufferIn(uint64) error { return nil }
func (Null) FramebufferOut(uint64) error { return nil }
func (Null) Command(uint64) error { return nil }
func (Null) KeyStatus(uint64) bool { return false }

// Recorder captures GPU traffic and serves key states from a map. It is
// safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	draws    []DrawCall
	commands []uint64
	dmaIn    []uint64
	dmaOut   []uint64
	keys     map[uint64]bool
}

func NewRecorder() *Recorder {
	return &Recorder{keys: map[uint64]bool{}}
}

func (r *Recorder) Draw(call DrawCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draws = append(r.draws, call)
	return nil
}

func (r *Recorder) FramebufferIn(addr uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dmaIn = append(r.dmaIn, addr)
	return nil
}

func (r *Recorder) FramebufferOut(addr uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dmaOut = append(r.dmaOut, addr)
	return nil
}

func (r *Recorder) Command(cmd uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	return nil
}

func (r *Recorder) KeyStatus(key uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys[key]
}

// Press marks key as held or released.
func (r *Recorder) Press(key uint64, held bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key] = held
}

func (r *Recorder) Draws() []DrawCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DrawCall(nil), r.draws...)
}

func (r *Recorder) Commands() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.commands...)
}

// DMA returns the framebuffer addresses passed to FramebufferIn and
// FramebufferOut.
func (r *Recorder) DMA() (in, out []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.dmaIn...), append([]uint64(nil), r.dmaOut...)
}
