package image

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sample() *Image {
	code := make([]byte, 300)
	for i := range code {
		code[i] = byte(i * 7)
	}
	return &Image{
		Header: Header{StackSize: 4096, DataSize: 64, CodeStart: 12, Param: 0xDEADBEEF},
		Code:   code,
		Global: []byte("global data segment"),
	}
}

const shardsStart = len(Magic) + 1 + headerSize + 2 + 4 + digestSize + (DataShards+ParityShards)*digestSize

func shardSize(encoded []byte) int {
	return (len(encoded) - shardsStart) / (DataShards + ParityShards)
}

func TestRoundTrip(t *testing.T) {
	img := sample()
	b, err := img.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(img, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if got.ID() != img.ID() {
		t.Errorf("ID changed across round trip: %s != %s", got.ID(), img.ID())
	}
}

func TestEmptySegments(t *testing.T) {
	img := &Image{Header: Header{StackSize: 16}}
	b, err := img.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Code) != 0 || len(got.Global) != 0 {
		t.Errorf("expected empty segments, got code %d global %d", len(got.Code), len(got.Global))
	}
}

func TestIDDependsOnContents(t *testing.T) {
	a, b := sample(), sample()
	if a.ID() != b.ID() {
		t.Fatalf("identical images have different IDs")
	}
	b.Global[0] ^= 1
	if a.ID() == b.ID() {
		t.Errorf("changing global data did not change the ID")
	}
	b = sample()
	b.Header.Param++
	if a.ID() == b.ID() {
		t.Errorf("changing the header did not change the ID")
	}
}

func TestRepairDamagedShards(t *testing.T) {
	img := sample()
	b, err := img.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	size := shardSize(b)

	for _, damaged := range [][]int{{0}, {3}, {1, 2}, {0, 5}} {
		c := bytes.Clone(b)
		for _, s := range damaged {
			c[shardsStart+s*size] ^= 0xFF
		}
		got, err := Decode(c)
		if err != nil {
			t.Errorf("shards %v damaged: Decode: %v", damaged, err)
			continue
		}
		if diff := cmp.Diff(img, got); diff != "" {
			t.Errorf("shards %v damaged: mismatch (-want +got):\n%s", damaged, diff)
		}
	}
}

func TestTooMuchDamage(t *testing.T) {
	b, err := sample().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	size := shardSize(b)
	for s := 0; s < ParityShards+1; s++ {
		b[shardsStart+s*size] ^= 0xFF
	}
	if _, err := Decode(b); !errors.Is(err, ErrUnrecoverable) {
		t.Errorf("expected ErrUnrecoverable, got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	good, err := sample().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	badMagic := bytes.Clone(good)
	badMagic[0] = 'X'
	badVersion := bytes.Clone(good)
	badVersion[len(Magic)] = 9

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"magic", badMagic, ErrBadMagic},
		{"version", badVersion, ErrVersion},
		{"truncated", good[:len(good)-10], ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.dspx")
	img := sample()
	if err := Save(path, img); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(img, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
