package codebuf

import (
	"bytes"
	"errors"
	"testing"

	"despair/pkg/x86"
)

func TestGrowthPreservesContent(t *testing.T) {
	buf, err := New(64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buf.Free()

	first := make([]byte, 50)
	for i := range first {
		first[i] = byte(i*7 + 1)
	}
	buf.Append(first)
	if buf.Cap() != 64 {
		t.Fatalf("Cap = %d, want 64", buf.Cap())
	}

	// Force several growths.
	filler := bytes.Repeat([]byte{0xCC}, 40)
	for i := 0; i < 10; i++ {
		buf.Append(filler)
	}
	if err := buf.Err(); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if buf.Len() != 450 {
		t.Errorf("Len = %d, want 450", buf.Len())
	}
	if buf.Cap() != 512 {
		t.Errorf("Cap = %d, want 512 (grown by whole increments)", buf.Cap())
	}
	if !bytes.Equal(buf.Bytes()[:50], first) {
		t.Errorf("first 50 bytes changed after growth")
	}
	for i, b := range buf.Bytes()[50:] {
		if b != 0xCC {
			t.Fatalf("byte %d = %#x, want 0xcc", 50+i, b)
		}
	}
}

func TestLargeAppendGrowsByMultipleIncrements(t *testing.T) {
	buf, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buf.Free()
	buf.Append(make([]byte, 100))
	if buf.Cap() != 112 {
		t.Errorf("Cap = %d, want 112", buf.Cap())
	}
}

func TestPatch(t *testing.T) {
	buf, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buf.Free()
	if buf.Cap() != DefaultIncrement {
		t.Errorf("Cap = %d, want %d", buf.Cap(), DefaultIncrement)
	}

	buf.Append(make([]byte, 16))
	buf.PatchUint32(2, 0xDEADBEEF)
	buf.PatchUint64(8, 0x0102030405060708)
	want := []byte{0, 0, 0xEF, 0xBE, 0xAD, 0xDE, 0, 0, 8, 7, 6, 5, 4, 3, 2, 1}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("Bytes = % x, want % x", buf.Bytes(), want)
	}
}

func TestPatchBeyondCursorPanics(t *testing.T) {
	buf, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buf.Free()
	buf.Append([]byte{1, 2, 3})

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	buf.PatchUint32(0, 1)
}

func TestFinalizeFreezesBuffer(t *testing.T) {
	buf, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buf.Free()
	buf.Append([]byte{0xC3})
	if err := buf.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !buf.Finalized() {
		t.Fatal("Finalized = false")
	}
	if buf.Bytes()[0] != 0xC3 {
		t.Errorf("finalized buffer not readable")
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on append after finalize")
		}
	}()
	buf.Append([]byte{0x90})
}

func TestGrowthFailureIsSticky(t *testing.T) {
	buf, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buf.Free()

	saved := mapExec
	defer func() { mapExec = saved }()
	exhausted := errors.New("out of memory")
	mapExec = func(int) ([]byte, error) { return nil, exhausted }

	buf.Append(make([]byte, 8))
	buf.Append([]byte{1})
	buf.Append([]byte{2})
	if !errors.Is(buf.Err(), exhausted) {
		t.Fatalf("Err = %v, want wrapped exhaustion", buf.Err())
	}
	if buf.Len() != 8 {
		t.Errorf("Len = %d, want 8", buf.Len())
	}
	if err := buf.Finalize(); !errors.Is(err, exhausted) {
		t.Errorf("Finalize = %v, want exhaustion", err)
	}
}

func TestNewFailure(t *testing.T) {
	saved := mapExec
	defer func() { mapExec = saved }()
	mapExec = func(int) ([]byte, error) { return nil, errors.New("no") }
	if _, err := New(0); err == nil {
		t.Fatal("expected error")
	}
}

func TestAssemblerSink(t *testing.T) {
	buf, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buf.Free()

	a := x86.New(buf)
	a.SubRegImm32(x86.RSP, 0x20)
	a.AddRegImm32(x86.RSP, 0x20)
	a.Ret()
	want := []byte{0x48, 0x83, 0xEC, 0x20, 0x48, 0x83, 0xC4, 0x20, 0xC3}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("Bytes = % x, want % x", buf.Bytes(), want)
	}
	if a.Len() != buf.Len() {
		t.Errorf("assembler length %d != buffer length %d", a.Len(), buf.Len())
	}
}
