package geotiff

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

const ncFillFloat = 9.969209968386869e36

func testGeoRef(width, height int) domain.GeoRef {
	return domain.GeoRef{
		NoData:       ncFillFloat,
		Width:        width,
		Height:       height,
		DataType:     domain.Float32,
		GeoTransform: [6]float64{-0.9375, 1.875, 0, 89.4621, 0, -1.9047},
		SpatialRef:   domain.WGS84,
	}
}

func ramp(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i) * 0.5
	}
	return values
}

func TestWriteRead_RoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name    string
		options []WriteOption
		want    int
	}{
		{"uncompressed", nil, CompressionNone},
		{"deflate", []WriteOption{WithDeflate()}, CompressionDeflate},
		{"one row per strip", []WriteOption{WithRowsPerStrip(1), WithDeflate()}, CompressionDeflate},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ref := testGeoRef(7, 5)
			values := ramp(ref.Cells())
			values[3] = math.NaN()
			values[34] = math.NaN()

			path := filepath.Join(t.TempDir(), "out.tif")
			noData, err := Write(path, values, ref, tc.options...)
			require.NoError(t, err)
			assert.Equal(t, 2, noData)

			raster, err := Read(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, raster.Compression)
			assert.Equal(t, ref, raster.GeoRef)
			require.Len(t, raster.Values, ref.Cells())
			for i, v := range raster.Values {
				if math.IsNaN(values[i]) {
					assert.True(t, raster.IsNoData(v), "cell %d", i)
					continue
				}
				assert.False(t, raster.IsNoData(v), "cell %d", i)
				assert.Equal(t, values[i], v, "cell %d", i)
			}
		})
	}
}

func TestWriteRead_Float64(t *testing.T) {
	ref := testGeoRef(3, 2)
	ref.DataType = domain.Float64
	ref.NoData = -9999
	values := []float64{0.1, 0.2, math.NaN(), 1e-300, 5, 6}

	var buf bytes.Buffer
	noData, err := Encode(&buf, values, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, noData)

	raster, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, ref, raster.GeoRef)
	assert.Equal(t, []float64{0.1, 0.2, -9999, 1e-300, 5, 6}, raster.Values)
}

func TestWriteRead_Rotated(t *testing.T) {
	ref := testGeoRef(4, 4)
	ref.GeoTransform = [6]float64{100, 2, 0.5, 50, 0.25, -2}

	var buf bytes.Buffer
	_, err := Encode(&buf, ramp(16), ref)
	require.NoError(t, err)

	raster, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, ref.GeoTransform, raster.GeoRef.GeoTransform)
}

func TestWrite_ProjectedSpatialRef(t *testing.T) {
	ref := testGeoRef(2, 2)
	ref.SpatialRef = domain.SpatialRef{EPSG: 32721, Model: domain.ModelProjected, Citation: "WGS 84 / UTM zone 21S", PixelArea: false}

	var buf bytes.Buffer
	_, err := Encode(&buf, ramp(4), ref)
	require.NoError(t, err)

	raster, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, ref.SpatialRef, raster.GeoRef.SpatialRef)
}

func TestWrite_Errors(t *testing.T) {
	ref := testGeoRef(3, 3)

	_, err := Encode(&bytes.Buffer{}, ramp(8), ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 8 values")

	bad := ref
	bad.Width = 0
	_, err = Encode(&bytes.Buffer{}, nil, bad)
	require.Error(t, err)

	bad = ref
	bad.Width = 70000
	_, err = Encode(&bytes.Buffer{}, ramp(bad.Cells()), bad)
	require.ErrorIs(t, err, errTooLarge)
}

func TestWrite_ReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "precip.tif")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	_, err := Write(path, ramp(4), testGeoRef(2, 2))
	require.NoError(t, err)

	raster, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, ramp(4), raster.Values)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestDecode_RejectsBigEndian(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("MM\x00\x2a\x00\x00\x00\x08")))
	require.Error(t, err)
}

func TestEncodeGeoKeys(t *testing.T) {
	directory, ascii := encodeGeoKeys(domain.WGS84)
	assert.Equal(t, []uint16{
		1, 1, 0, 5,
		1024, 0, 1, 2,
		1025, 0, 1, 1,
		2048, 0, 1, 4326,
		2049, tagGeoASCIIParams, 7, 0,
		2054, 0, 1, 9102,
	}, directory)
	assert.Equal(t, "WGS 84|", ascii)

	keys, err := ParseGeoKeys(directory, nil, []byte(ascii))
	require.NoError(t, err)
	assert.Equal(t, domain.WGS84, keys.SpatialRef())
}

func TestParseGeoKeys_Errors(t *testing.T) {
	for _, tc := range []struct {
		name      string
		directory []uint16
	}{
		{"short", []uint16{1, 1}},
		{"version", []uint16{2, 1, 0, 0}},
		{"count", []uint16{1, 1, 0, 2, 1024, 0, 1, 2}},
		{"ascii out of range", []uint16{1, 1, 0, 1, 1026, tagGeoASCIIParams, 10, 0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseGeoKeys(tc.directory, nil, []byte("x|"))
			require.Error(t, err)
		})
	}
}

func TestDir_WriteRaster(t *testing.T) {
	root := filepath.Join(t.TempDir(), "rasters")
	dir, err := NewDir(root, WithDeflate())
	require.NoError(t, err)

	ref := testGeoRef(4, 3)
	values := ramp(ref.Cells())
	values[2] = math.NaN()
	noData, err := dir.WriteRaster("precip-2005.tif", values, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, noData)

	r, err := Read(filepath.Join(root, "precip-2005.tif"))
	require.NoError(t, err)
	assert.Equal(t, CompressionDeflate, r.Compression)
	assert.True(t, r.IsNoData(r.Values[2]))
}
