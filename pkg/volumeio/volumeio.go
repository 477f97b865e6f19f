package volumeio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"mrficm/internal/models"
	"mrficm/pkg/mrf"
)

// WriteLabels stores a label volume.
func WriteLabels(w io.Writer, v *models.LabelVolume, opts Options) error {
	if err := v.Validate(); err != nil {
		return err
	}
	raw := make([]byte, 2*len(v.Data))
	for i, l := range v.Data {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(l))
	}
	return write(w, header(KindLabels, v.Dims, 1, opts), raw)
}

// ReadLabels loads a label volume.
func ReadLabels(r io.Reader) (*models.LabelVolume, error) {
	h, raw, err := read(r, KindLabels)
	if err != nil {
		return nil, err
	}
	v := &models.LabelVolume{Dims: dims(h), Data: make([]mrf.Label, h.voxels())}
	for i := range v.Data {
		v.Data[i] = mrf.Label(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return v, nil
}

// WriteScalars stores an intensity volume.
func WriteScalars(w io.Writer, v *models.ScalarVolume, opts Options) error {
	if err := v.Validate(); err != nil {
		return err
	}
	return write(w, header(KindScalars, v.Dims, 1, opts), encodeFloats(v.Data))
}

// ReadScalars loads an intensity volume.
func ReadScalars(r io.Reader) (*models.ScalarVolume, error) {
	h, raw, err := read(r, KindScalars)
	if err != nil {
		return nil, err
	}
	return &models.ScalarVolume{Dims: dims(h), Data: decodeFloats(raw)}, nil
}

// WriteDistances stores a per-voxel, per-class distance volume.
func WriteDistances(w io.Writer, v *models.DistanceVolume, opts Options) error {
	if err := v.Validate(); err != nil {
		return err
	}
	return write(w, header(KindDistances, v.Dims, v.Classes, opts), encodeFloats(v.Data))
}

// ReadDistances loads a distance volume.
func ReadDistances(r io.Reader) (*models.DistanceVolume, error) {
	h, raw, err := read(r, KindDistances)
	if err != nil {
		return nil, err
	}
	return &models.DistanceVolume{Dims: dims(h), Classes: int(h.Channels), Data: decodeFloats(raw)}, nil
}

// ReadHeader decodes only the header, leaving r positioned at the checksum
// or payload.
func ReadHeader(r io.Reader) (Header, error) {
	var fixed struct {
		Magic    [4]byte
		Version  uint8
		Kind     Kind
		Width    uint32
		Height   uint32
		Depth    uint32
		Channels uint32
		Format   Format
	}
	if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		return Header{}, fmt.Errorf("failed to read volume header: %w", err)
	}
	if string(fixed.Magic[:]) != magic {
		return Header{}, fmt.Errorf("not a volume file (magic %q)", fixed.Magic[:])
	}
	if fixed.Version != version {
		return Header{}, fmt.Errorf("unsupported volume file version %d", fixed.Version)
	}
	c, cs := DecodeFormat(fixed.Format)
	h := Header{
		Kind:        fixed.Kind,
		Width:       fixed.Width,
		Height:      fixed.Height,
		Depth:       fixed.Depth,
		Channels:    fixed.Channels,
		Compression: c,
		Checksum:    cs,
	}
	if _, ok := h.elements(); !ok {
		return Header{}, fmt.Errorf("implausible volume size %dx%dx%d with %d channels",
			h.Width, h.Height, h.Depth, h.Channels)
	}
	return h, nil
}

// SaveLabels writes a label volume to path, creating parent directories.
func SaveLabels(path string, v *models.LabelVolume, opts Options) error {
	return saveFile(path, func(w io.Writer) error { return WriteLabels(w, v, opts) })
}

// LoadLabels reads a label volume from path.
func LoadLabels(path string) (*models.LabelVolume, error) {
	var v *models.LabelVolume
	err := loadFile(path, func(r io.Reader) (err error) {
		v, err = ReadLabels(r)
		return err
	})
	return v, err
}

// SaveScalars writes an intensity volume to path.
func SaveScalars(path string, v *models.ScalarVolume, opts Options) error {
	return saveFile(path, func(w io.Writer) error { return WriteScalars(w, v, opts) })
}

// LoadScalars reads an intensity volume from path.
func LoadScalars(path string) (*models.ScalarVolume, error) {
	var v *models.ScalarVolume
	err := loadFile(path, func(r io.Reader) (err error) {
		v, err = ReadScalars(r)
		return err
	})
	return v, err
}

// SaveDistances writes a distance volume to path.
func SaveDistances(path string, v *models.DistanceVolume, opts Options) error {
	return saveFile(path, func(w io.Writer) error { return WriteDistances(w, v, opts) })
}

// LoadDistances reads a distance volume from path.
func LoadDistances(path string) (*models.DistanceVolume, error) {
	var v *models.DistanceVolume
	err := loadFile(path, func(r io.Reader) (err error) {
		v, err = ReadDistances(r)
		return err
	})
	return v, err
}

func header(k Kind, d mrf.Dims, channels int, opts Options) Header {
	return Header{
		Kind:        k,
		Width:       uint32(d.Width),
		Height:      uint32(d.Height),
		Depth:       uint32(d.Depth),
		Channels:    uint32(channels),
		Compression: opts.Compression,
		Checksum:    opts.Checksum,
	}
}

func dims(h Header) mrf.Dims {
	return mrf.Dims{Width: int(h.Width), Height: int(h.Height), Depth: int(h.Depth)}
}

func write(w io.Writer, h Header, raw []byte) error {
	payload, err := compress(raw, h.Compression)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(version)
	buf.WriteByte(byte(h.Kind))
	for _, v := range []uint32{h.Width, h.Height, h.Depth, h.Channels} {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.WriteByte(byte(EncodeFormat(h.Compression, h.Checksum)))

	switch h.Checksum {
	case NoChecksum:
	case CRC32:
		_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(payload))
	default:
		return fmt.Errorf("illegal checksum (%s) during serialization", h.Checksum)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write volume header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write volume payload: %w", err)
	}
	return nil
}

func read(r io.Reader, want Kind) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	if h.Kind != want {
		return Header{}, nil, fmt.Errorf("expected a %s volume, file holds %s", want, h.Kind)
	}
	if want != KindDistances && h.Channels != 1 {
		return Header{}, nil, fmt.Errorf("%s volume with %d channels", want, h.Channels)
	}

	var sum uint32
	switch h.Checksum {
	case NoChecksum:
	case CRC32:
		if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
			return Header{}, nil, fmt.Errorf("failed to read checksum: %w", err)
		}
	default:
		return Header{}, nil, fmt.Errorf("illegal checksum (%s) in volume file", h.Checksum)
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return Header{}, nil, fmt.Errorf("failed to read volume payload: %w", err)
	}
	if h.Checksum == CRC32 {
		if got := crc32.ChecksumIEEE(payload); got != sum {
			return Header{}, nil, fmt.Errorf("checksum mismatch: stored %08x, computed %08x", sum, got)
		}
	}

	n, _ := h.elements()
	expected := int(n) * want.elemSize()
	raw, err := decompress(payload, h.Compression, expected)
	if err != nil {
		return Header{}, nil, err
	}
	if len(raw) != expected {
		return Header{}, nil, fmt.Errorf("volume payload holds %d bytes, expected %d", len(raw), expected)
	}
	return h, raw, nil
}

func compress(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case Uncompressed:
		return raw, nil
	case Snappy:
		return snappy.Encode(nil, raw), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("illegal compression (%s) during serialization", c)
	}
}

// decompress refuses to produce more than expected bytes, checking before it
// allocates where the codec allows.
func decompress(payload []byte, c Compression, expected int) ([]byte, error) {
	switch c {
	case Uncompressed:
		return payload, nil
	case Snappy:
		n, err := snappy.DecodedLen(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snappy payload: %w", err)
		}
		if n != expected {
			return nil, fmt.Errorf("snappy payload decodes to %d bytes, expected %d", n, expected)
		}
		raw, err := snappy.Decode(make([]byte, n), payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snappy payload: %w", err)
		}
		return raw, nil
	case Zstd:
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(max(expected, minZstdMemory))))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(payload, make([]byte, 0, expected))
		if err != nil {
			return nil, fmt.Errorf("failed to decode zstd payload: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("illegal compression (%s) in volume file", c)
	}
}

func encodeFloats(data []float32) []byte {
	raw := make([]byte, 4*len(data))
	for i, f := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(f))
	}
	return raw
}

func decodeFloats(raw []byte) []float32 {
	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return data
}

func saveFile(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func loadFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := fn(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
