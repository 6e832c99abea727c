// Package geotiff writes and reads single-band floating-point GeoTIFF rasters.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/klauspost/compress/zlib"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// TIFF tag numbers written or read by this package.
const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPlanarConfiguration       = 284
	tagPredictor                 = 317
	tagSampleFormat              = 339
	tagModelPixelScale           = 33550
	tagModelTiepoint             = 33922
	tagModelTransformation       = 34264
	tagGeoKeyDirectory           = 34735
	tagGeoDoubleParams           = 34736
	tagGeoASCIIParams            = 34737
	tagGDALNoData                = 42113
)

// Compression codes.
const (
	CompressionNone    = 1
	CompressionLZW     = 5
	CompressionDeflate = 8
)

// TIFF field types.
const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

const (
	photometricMinIsBlack = 1
	sampleFormatIEEEFloat = 3
	targetStripBytes      = 8 << 10
)

var errTooLarge = errors.New("raster dimensions exceed 65535")

type writeOptions struct {
	compression  uint16
	rowsPerStrip int
}

type WriteOption func(*writeOptions)

// WithDeflate compresses strips with zlib (TIFF compression 8).
func WithDeflate() WriteOption {
	return func(o *writeOptions) {
		o.compression = CompressionDeflate
	}
}

// WithRowsPerStrip overrides the strip height, which otherwise targets
// strips of about 8KB.
func WithRowsPerStrip(rows int) WriteOption {
	return func(o *writeOptions) {
		o.rowsPerStrip = rows
	}
}

// Write encodes values as a single-band GeoTIFF at path and returns the number
// of cells written as the no-data sentinel. NaN cells become ref.NoData; all
// georeferencing is copied from ref. The file is written to a temporary name
// and renamed into place.
func Write(path string, values []float64, ref domain.GeoRef, options ...WriteOption) (int, error) {
	var buf bytes.Buffer
	noData, err := Encode(&buf, values, ref, options...)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("rename %s: %w", path, err)
	}
	return noData, nil
}

// Encode writes a little-endian classic TIFF to w. See Write.
func Encode(w io.Writer, values []float64, ref domain.GeoRef, options ...WriteOption) (int, error) {
	if ref.Width <= 0 || ref.Height <= 0 {
		return 0, fmt.Errorf("invalid raster size %dx%d", ref.Width, ref.Height)
	}
	if ref.Width > math.MaxUint16 || ref.Height > math.MaxUint16 {
		return 0, errTooLarge
	}
	if len(values) != ref.Cells() {
		return 0, fmt.Errorf("got %d values for a %dx%d raster", len(values), ref.Width, ref.Height)
	}
	if ref.DataType != domain.Float32 && ref.DataType != domain.Float64 {
		return 0, fmt.Errorf("unsupported data type %s", ref.DataType)
	}

	o := writeOptions{compression: CompressionNone}
	for _, option := range options {
		option(&o)
	}
	bytesPerSample := ref.DataType.Bits() / 8
	if o.rowsPerStrip <= 0 {
		o.rowsPerStrip = max(targetStripBytes/(ref.Width*bytesPerSample), 1)
	}
	o.rowsPerStrip = min(o.rowsPerStrip, ref.Height)

	// The sentinel must survive a round trip through the sample type.
	noDataValue := ref.NoData
	if ref.DataType == domain.Float32 {
		noDataValue = float64(float32(noDataValue))
	}
	filled, replaced := domain.FillNoData(values, noDataValue)

	strips, err := encodeStrips(filled, ref, o)
	if err != nil {
		return 0, err
	}

	e := newIFDEncoder()
	e.short(tagImageWidth, uint16(ref.Width))
	e.short(tagImageLength, uint16(ref.Height))
	e.short(tagBitsPerSample, uint16(ref.DataType.Bits()))
	e.short(tagCompression, o.compression)
	e.short(tagPhotometricInterpretation, photometricMinIsBlack)
	e.long(tagStripOffsets, make([]uint32, len(strips))...) // patched below
	e.short(tagSamplesPerPixel, 1)
	e.short(tagRowsPerStrip, uint16(o.rowsPerStrip))
	byteCounts := make([]uint32, len(strips))
	for i, s := range strips {
		byteCounts[i] = uint32(len(s))
	}
	e.long(tagStripByteCounts, byteCounts...)
	e.short(tagPlanarConfiguration, 1)
	e.short(tagPredictor, 1)
	e.short(tagSampleFormat, sampleFormatIEEEFloat)

	gt := ref.GeoTransform
	if ref.Rotated() {
		e.double(tagModelTransformation,
			gt[1], gt[2], 0, gt[0],
			gt[4], gt[5], 0, gt[3],
			0, 0, 0, 0,
			0, 0, 0, 1)
	} else {
		e.double(tagModelPixelScale, gt[1], -gt[5], 0)
		e.double(tagModelTiepoint, 0, 0, 0, gt[0], gt[3], 0)
	}
	directory, ascii := encodeGeoKeys(ref.SpatialRef)
	e.short(tagGeoKeyDirectory, directory...)
	if ascii != "" {
		e.ascii(tagGeoASCIIParams, ascii)
	}
	e.ascii(tagGDALNoData, strconv.FormatFloat(noDataValue, 'g', -1, 64))

	// Layout: header, strip data, IFD, out-of-line values.
	const headerSize = 8
	offset := uint32(headerSize)
	offsets := make([]uint32, len(strips))
	for i, s := range strips {
		offsets[i] = offset
		offset += uint32(len(s))
		offset += offset & 1
	}
	e.patchLong(tagStripOffsets, offsets)
	ifdOffset := offset

	var out bytes.Buffer
	out.WriteString("II")
	_ = binary.Write(&out, binary.LittleEndian, uint16(42))
	_ = binary.Write(&out, binary.LittleEndian, ifdOffset)
	for _, s := range strips {
		out.Write(s)
		if out.Len()&1 == 1 {
			out.WriteByte(0)
		}
	}
	e.writeTo(&out, ifdOffset)

	if _, err := w.Write(out.Bytes()); err != nil {
		return 0, err
	}
	return replaced, nil
}

func encodeStrips(values []float64, ref domain.GeoRef, o writeOptions) ([][]byte, error) {
	bytesPerSample := ref.DataType.Bits() / 8
	rowBytes := ref.Width * bytesPerSample
	var strips [][]byte
	for row := 0; row < ref.Height; row += o.rowsPerStrip {
		rows := min(o.rowsPerStrip, ref.Height-row)
		raw := make([]byte, rows*rowBytes)
		cells := values[row*ref.Width : (row+rows)*ref.Width]
		for i, v := range cells {
			if ref.DataType == domain.Float32 {
				binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(v)))
			} else {
				binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
			}
		}
		if o.compression == CompressionDeflate {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(raw); err != nil {
				return nil, err
			}
			if err := zw.Close(); err != nil {
				return nil, err
			}
			raw = buf.Bytes()
		}
		strips = append(strips, raw)
	}
	return strips, nil
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// An ifdEncoder collects the entries of a single image file directory.
type ifdEncoder struct {
	entries []*ifdEntry
}

func newIFDEncoder() *ifdEncoder {
	return &ifdEncoder{}
}

func (e *ifdEncoder) add(tag, typ uint16, count int, data []byte) {
	e.entries = append(e.entries, &ifdEntry{tag: tag, typ: typ, count: uint32(count), data: data})
}

func (e *ifdEncoder) short(tag uint16, values ...uint16) {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	e.add(tag, typeShort, len(values), data)
}

func (e *ifdEncoder) long(tag uint16, values ...uint32) {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	e.add(tag, typeLong, len(values), data)
}

func (e *ifdEncoder) patchLong(tag uint16, values []uint32) {
	for _, entry := range e.entries {
		if entry.tag == tag {
			for i, v := range values {
				binary.LittleEndian.PutUint32(entry.data[4*i:], v)
			}
		}
	}
}

func (e *ifdEncoder) double(tag uint16, values ...float64) {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	e.add(tag, typeDouble, len(values), data)
}

func (e *ifdEncoder) ascii(tag uint16, s string) {
	data := append([]byte(s), 0)
	e.add(tag, typeASCII, len(data), data)
}

// writeTo appends the directory, which starts at ifdOffset in the file, and
// the values too large to fit in an entry.
func (e *ifdEncoder) writeTo(out *bytes.Buffer, ifdOffset uint32) {
	slices.SortFunc(e.entries, func(a, b *ifdEntry) int { return int(a.tag) - int(b.tag) })

	extraOffset := ifdOffset + 2 + 12*uint32(len(e.entries)) + 4
	var extra bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(out, le, uint16(len(e.entries)))
	for _, entry := range e.entries {
		_ = binary.Write(out, le, entry.tag)
		_ = binary.Write(out, le, entry.typ)
		_ = binary.Write(out, le, entry.count)
		if len(entry.data) <= 4 {
			var inline [4]byte
			copy(inline[:], entry.data)
			out.Write(inline[:])
			continue
		}
		_ = binary.Write(out, le, extraOffset+uint32(extra.Len()))
		extra.Write(entry.data)
		if extra.Len()&1 == 1 {
			extra.WriteByte(0)
		}
	}
	_ = binary.Write(out, le, uint32(0)) // no further IFDs
	out.Write(extra.Bytes())
}
