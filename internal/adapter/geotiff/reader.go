package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

var errShortRead = errors.New("short read")

// A Raster is a decoded single-band GeoTIFF. Values keep the no-data
// sentinel as stored; use IsNoData to test cells.
type Raster struct {
	Values      []float64
	GeoRef      domain.GeoRef
	Compression int
}

// IsNoData reports whether v is the raster's no-data sentinel.
func (r *Raster) IsNoData(v float64) bool {
	return v == r.GeoRef.NoData || (math.IsNaN(v) && math.IsNaN(r.GeoRef.NoData))
}

// A stripIFD is a struct into which github.com/google/tiff can unmarshal a
// stripped single-band IFD.
type stripIFD struct {
	ImageWidth                uint16    `tiff:"field,tag=256"`
	ImageLength               uint16    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	StripOffsets              []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	RowsPerStrip              uint16    `tiff:"field,tag=278"`
	StripByteCounts           []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag    []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// Read decodes the GeoTIFF at path.
func Read(path string) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return r, nil
}

// Decode parses a stripped, single-band, floating-point GeoTIFF.
func Decode(r *bytes.Reader) (*Raster, error) {
	var order [2]byte
	if _, err := r.ReadAt(order[:], 0); err != nil {
		return nil, err
	}
	if string(order[:]) != "II" {
		return nil, fmt.Errorf("byte order %q: %w", order[:], errors.ErrUnsupported)
	}

	t, err := tiff.Parse(r, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(t.IFDs()) == 0 {
		return nil, errors.New("no IFDs")
	}

	var ifd stripIFD
	if err := tiff.UnmarshalIFD(t.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	if ifd.SamplesPerPixel > 1 ||
		ifd.PlanarConfiguration > 1 ||
		ifd.Predictor > 1 ||
		ifd.SampleFormat != sampleFormatIEEEFloat ||
		(ifd.BitsPerSample != 32 && ifd.BitsPerSample != 64) {
		return nil, errors.ErrUnsupported
	}

	ref := domain.GeoRef{
		Width:    int(ifd.ImageWidth),
		Height:   int(ifd.ImageLength),
		DataType: domain.Float32,
		NoData:   math.NaN(),
	}
	if ifd.BitsPerSample == 64 {
		ref.DataType = domain.Float64
	}
	if s := strings.TrimRight(strings.TrimSpace(ifd.GDALNoData), "\x00"); s != "" {
		if ref.NoData, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("GDAL_NODATA %q: %w", s, err)
		}
	}
	if ref.GeoTransform, err = geoTransform(&ifd); err != nil {
		return nil, err
	}
	if len(ifd.GeoKeyDirectoryTag) > 0 {
		keys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return nil, err
		}
		ref.SpatialRef = keys.SpatialRef()
	}

	compression := int(ifd.Compression)
	if compression == 0 {
		compression = CompressionNone
	}
	values, err := readStrips(r, &ifd, ref, compression)
	if err != nil {
		return nil, err
	}
	return &Raster{Values: values, GeoRef: ref, Compression: compression}, nil
}

func geoTransform(ifd *stripIFD) ([6]float64, error) {
	if m := ifd.ModelTransformationTag; len(m) == 16 {
		return [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}, nil
	}
	if len(ifd.ModelPixelScaleTag) != 3 || len(ifd.ModelTiepointTag) != 6 {
		return [6]float64{}, errors.New("missing georeferencing tags")
	}
	sx, sy := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
	x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
	return [6]float64{x - i*sx, sx, 0, y + j*sy, 0, -sy}, nil
}

func readStrips(r io.ReaderAt, ifd *stripIFD, ref domain.GeoRef, compression int) ([]float64, error) {
	if len(ifd.StripOffsets) != len(ifd.StripByteCounts) {
		return nil, errors.New("incorrect number of strip byte counts or offsets")
	}
	rowsPerStrip := int(ifd.RowsPerStrip)
	if rowsPerStrip == 0 {
		rowsPerStrip = ref.Height
	}
	bytesPerSample := ref.DataType.Bits() / 8
	if want := (ref.Height + rowsPerStrip - 1) / rowsPerStrip; len(ifd.StripOffsets) != want {
		return nil, fmt.Errorf("found %d strips, expected %d", len(ifd.StripOffsets), want)
	}

	values := make([]float64, 0, ref.Cells())
	for i, offset := range ifd.StripOffsets {
		rows := min(rowsPerStrip, ref.Height-i*rowsPerStrip)
		size := rows * ref.Width * bytesPerSample

		compressed := make([]byte, ifd.StripByteCounts[i])
		switch n, err := r.ReadAt(compressed, int64(offset)); {
		case err != nil && !(errors.Is(err, io.EOF) && n == len(compressed)):
			return nil, err
		case n != len(compressed):
			return nil, errShortRead
		}

		raw, err := decompress(compressed, size, compression)
		if err != nil {
			return nil, fmt.Errorf("strip %d: %w", i, err)
		}
		for j := 0; j < size; j += bytesPerSample {
			if bytesPerSample == 4 {
				values = append(values, float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[j:]))))
			} else {
				values = append(values, math.Float64frombits(binary.LittleEndian.Uint64(raw[j:])))
			}
		}
	}
	return values, nil
}

func decompress(data []byte, size, compression int) ([]byte, error) {
	var r io.Reader
	switch compression {
	case CompressionNone:
		if len(data) < size {
			return nil, errShortRead
		}
		return data[:size], nil
	case CompressionLZW:
		r = lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
	case CompressionDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("compression %d: %w", compression, errors.ErrUnsupported)
	}
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
