// Package volumeio reads and writes label, intensity and distance volumes in
// a small binary container with optional compression and checksum.
//
// Layout (little endian):
//
//	magic "MRFV" | version u8 | kind u8 | width u32 | height u32 | depth u32 |
//	channels u32 | format u8 | [crc32 u32] | payload
//
// The format byte packs the compression (high 3 bits) and the checksum
// (next 2 bits). The CRC, when present, covers the stored payload.
package volumeio

import (
	"fmt"
	"strings"
)

const (
	magic   = "MRFV"
	version = 1

	// maxElements bounds voxels x channels so a corrupt header cannot
	// trigger a huge allocation: 2 GiB of labels or 4 GiB of floats.
	maxElements = 1 << 30

	// minZstdMemory is the decoder memory floor; zstd never uses windows
	// smaller than 1 KiB, even for tiny frames.
	minZstdMemory = 1 << 20
)

// Kind identifies what a file holds.
type Kind uint8

const (
	// KindLabels stores one uint16 class id per voxel.
	KindLabels Kind = 1

	// KindScalars stores one float32 intensity per voxel.
	KindScalars Kind = 2

	// KindDistances stores channels float32 distances per voxel, class fastest.
	KindDistances Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindLabels:
		return "labels"
	case KindScalars:
		return "scalars"
	case KindDistances:
		return "distances"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) elemSize() int {
	if k == KindLabels {
		return 2
	}
	return 4
}

// Compression is the payload compression method.
// NOTE: Should be no more than 8 (3 bits) of compression types.
type Compression uint8

const (
	Uncompressed Compression = iota
	Snappy
	Zstd
)

func (c Compression) String() string {
	switch c {
	case Uncompressed:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression accepts "none", "snappy" or "zstd"; the empty string
// means none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "uncompressed":
		return Uncompressed, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	default:
		return Uncompressed, fmt.Errorf("unknown compression %q (must be none, snappy or zstd)", s)
	}
}

// Checksum is the integrity check stored ahead of the payload.
// NOTE: Should be no more than 4 (2 bits) of checksum types.
type Checksum uint8

const (
	NoChecksum Checksum = iota
	CRC32
)

func (c Checksum) String() string {
	switch c {
	case NoChecksum:
		return "no checksum"
	case CRC32:
		return "crc32"
	default:
		return fmt.Sprintf("Checksum(%d)", uint8(c))
	}
}

// Format combines compression and checksum in one byte.
type Format uint8

// EncodeFormat packs c and cs.
func EncodeFormat(c Compression, cs Checksum) Format {
	a := (uint8(c) & 0x07) << 5
	b := (uint8(cs) & 0x03) << 3
	return Format(a | b)
}

// DecodeFormat unpacks f.
func DecodeFormat(f Format) (Compression, Checksum) {
	return Compression(uint8(f) >> 5), Checksum((uint8(f) >> 3) & 0x03)
}

// Options control how a volume is written.
type Options struct {
	Compression Compression
	Checksum    Checksum
}

// Header describes a stored volume.
type Header struct {
	Kind        Kind
	Width       uint32
	Height      uint32
	Depth       uint32
	Channels    uint32
	Compression Compression
	Checksum    Checksum
}

func (h Header) voxels() uint64 {
	return uint64(h.Width) * uint64(h.Height) * uint64(h.Depth)
}

// elements returns voxels x channels, or false if it is zero or exceeds
// maxElements. Every partial product is checked, so it cannot overflow.
func (h Header) elements() (uint64, bool) {
	n := uint64(1)
	for _, f := range []uint32{h.Width, h.Height, h.Depth, h.Channels} {
		n *= uint64(f)
		if n == 0 || n > maxElements {
			return 0, false
		}
	}
	return n, true
}
