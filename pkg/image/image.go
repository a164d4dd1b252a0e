// Package image reads and writes executable images: a header, the code
// space and the initial global data, compressed and protected by
// Reed-Solomon parity so a damaged file can still be loaded.
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/reedsolomon"
	"github.com/mr-tron/base58"
	"github.com/tliron/commonlog"
	"golang.org/x/crypto/blake2b"
)

const (
	Magic   = "DSPX"
	Version = 1

	DataShards   = 4
	ParityShards = 2

	headerSize = 20
	digestSize = blake2b.Size256
)

var (
	ErrBadMagic       = errors.New("not an executable image")
	ErrVersion        = errors.New("unsupported image version")
	ErrTruncated      = errors.New("image truncated")
	ErrUnrecoverable  = errors.New("image payload damaged beyond repair")
	ErrPayloadLengths = errors.New("payload lengths do not match")
)

var log = commonlog.GetLogger("despair.image")

// Header is the per-program configuration consumed when a core starts.
type Header struct {
	StackSize uint32 `yaml:"stackSize"`
	DataSize  uint32 `yaml:"dataSize"`
	CodeStart uint32 `yaml:"codeStart"`
	// Param is stored at the base of the data space when non-zero.
	Param uint64 `yaml:"param"`
}

func (h Header) bytes() []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(b[0:], h.StackSize)
	binary.LittleEndian.PutUint32(b[4:], h.DataSize)
	binary.LittleEndian.PutUint32(b[8:], h.CodeStart)
	binary.LittleEndian.PutUint64(b[12:], h.Param)
	return b
}

func headerFrom(b []byte) Header {
	return Header{
		StackSize: binary.LittleEndian.Uint32(b[0:]),
		DataSize:  binary.LittleEndian.Uint32(b[4:]),
		CodeStart: binary.LittleEndian.Uint32(b[8:]),
		Param:     binary.LittleEndian.Uint64(b[12:]),
	}
}

// Image is a loaded program.
type Image struct {
	Header Header
	Code   []byte
	Global []byte
}

func (img *Image) payload() []byte {
	var buf bytes.Buffer
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(img.Code)))
	buf.Write(n[:])
	binary.LittleEndian.PutUint32(n[:], uint32(len(img.Global)))
	buf.Write(n[:])
	buf.Write(img.Code)
	buf.Write(img.Global)
	return buf.Bytes()
}

// ID identifies the program by the hash of its header and contents. It
// does not depend on compression.
func (img *Image) ID() string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(Magic))
	h.Write(img.Header.bytes())
	h.Write(img.payload())
	return base58.Encode(h.Sum(nil))
}

// Encode serializes the image:
//
//	magic[4] version[1] header[20] data[1] parity[1] compressed-length[4]
//	digest[32] shard-digests[(data+parity)*32] shards[(data+parity)*size]
func (img *Image) Encode() ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(img.payload(), nil)
	enc.Close()

	rs, err := reedsolomon.New(DataShards, ParityShards)
	if err != nil {
		return nil, fmt.Errorf("creating Reed-Solomon encoder: %w", err)
	}
	shards, err := rs.Split(append([]byte(nil), compressed...))
	if err != nil {
		return nil, fmt.Errorf("splitting payload: %w", err)
	}
	if err := rs.Encode(shards); err != nil {
		return nil, fmt.Errorf("computing parity: %w", err)
	}

	var out bytes.Buffer
	out.WriteString(Magic)
	out.WriteByte(Version)
	out.Write(img.Header.bytes())
	out.WriteByte(DataShards)
	out.WriteByte(ParityShards)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(compressed)))
	out.Write(n[:])
	digest := blake2b.Sum256(compressed)
	out.Write(digest[:])
	for _, s := range shards {
		d := blake2b.Sum256(s)
		out.Write(d[:])
	}
	for _, s := range shards {
		out.Write(s)
	}
	return out.Bytes(), nil
}

// Decode parses an encoded image. Shards whose digest does not match are
// rebuilt from parity before the payload is decompressed.
func Decode(b []byte) (*Image, error) {
	fixed := len(Magic) + 1 + headerSize + 2 + 4 + digestSize
	if len(b) < fixed {
		return nil, ErrTruncated
	}
	if string(b[:len(Magic)]) != Magic {
		return nil, ErrBadMagic
	}
	off := len(Magic)
	if b[off] != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, b[off])
	}
	off++
	header := headerFrom(b[off:])
	off += headerSize
	data, parity := int(b[off]), int(b[off+1])
	off += 2
	size := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	var digest [digestSize]byte
	copy(digest[:], b[off:])
	off += digestSize

	total := data + parity
	if data == 0 {
		return nil, fmt.Errorf("%w: no data shards", ErrTruncated)
	}
	shardSize := (size + data - 1) / data
	if len(b) < off+total*digestSize+total*shardSize {
		return nil, ErrTruncated
	}
	digests := b[off : off+total*digestSize]
	off += total * digestSize

	shards := make([][]byte, total)
	damaged := 0
	for i := range shards {
		s := b[off+i*shardSize : off+(i+1)*shardSize]
		if blake2b.Sum256(s) != [digestSize]byte(digests[i*digestSize:(i+1)*digestSize]) {
			damaged++
			continue
		}
		shards[i] = append([]byte(nil), s...)
	}

	rs, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, fmt.Errorf("creating Reed-Solomon decoder: %w", err)
	}
	if damaged > 0 {
		if err := rs.ReconstructData(shards); err != nil {
			return nil, fmt.Errorf("%w: %d of %d shards damaged: %v", ErrUnrecoverable, damaged, total, err)
		}
		log.Warningf("image: rebuilt %d damaged shards from parity", damaged)
	}
	var compressed bytes.Buffer
	if err := rs.Join(&compressed, shards, size); err != nil {
		return nil, fmt.Errorf("joining shards: %w", err)
	}
	if blake2b.Sum256(compressed.Bytes()) != digest {
		return nil, ErrUnrecoverable
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()
	payload, err := dec.DecodeAll(compressed.Bytes(), nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	return fromPayload(header, payload)
}

func fromPayload(h Header, p []byte) (*Image, error) {
	if len(p) < 8 {
		return nil, ErrPayloadLengths
	}
	codeLen := int(binary.LittleEndian.Uint32(p[0:]))
	globalLen := int(binary.LittleEndian.Uint32(p[4:]))
	if len(p) != 8+codeLen+globalLen {
		return nil, fmt.Errorf("%w: code %d + global %d in %d bytes", ErrPayloadLengths, codeLen, globalLen, len(p)-8)
	}
	return &Image{
		Header: h,
		Code:   append([]byte(nil), p[8:8+codeLen]...),
		Global: append([]byte(nil), p[8+codeLen:]...),
	}, nil
}

// Load reads and decodes an image file.
func Load(path string) (*Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Save encodes img to path.
func Save(path string, img *Image) error {
	b, err := img.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
