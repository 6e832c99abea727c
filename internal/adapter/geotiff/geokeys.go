package geotiff

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

var errGeoKeys = errors.New("malformed GeoKey directory")

type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS   GeoKey = 2048
	GeoKeyGeogCitation  GeoKey = 2049
	GeoKeyAngularUnits  GeoKey = 2054
	GeoKeyProjectedCRS  GeoKey = 3072
	GeoKeyPCSCitation   GeoKey = 3073
	GeoKeyLinearUnits   GeoKey = 3076
	GeoKeyVerticalCRS   GeoKey = 4096
	GeoKeyVerticalUnits GeoKey = 4099
)

const (
	rasterPixelIsArea  = 1
	rasterPixelIsPoint = 2
	unitDegree         = 9102
	unitMetre          = 9001
)

type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errGeoKeys
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, fmt.Errorf("%w: version %d", errGeoKeys, keyDirectoryVersion)
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, fmt.Errorf("%w: revision %d", errGeoKeys, keyRevision)
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, fmt.Errorf("%w: minor revision %d", errGeoKeys, minorRevision)
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, fmt.Errorf("%w: %d keys in %d entries", errGeoKeys, numberOfKeys, len(directory))
	}

	parsed := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		numberOfValues := int(keyValues[2])
		switch tiffTagLocation {
		case 0:
			if numberOfValues != 1 {
				return nil, errGeoKeys
			}
			parsed.Params[key] = int(keyValues[3])
		case tagGeoDoubleParams:
			index := int(keyValues[3])
			if numberOfValues != 1 || index >= len(doubleParams) {
				return nil, errGeoKeys
			}
			parsed.DoubleParams[key] = doubleParams[index]
		case tagGeoASCIIParams:
			index := int(keyValues[3])
			if index+numberOfValues > len(asciiParams) {
				return nil, errGeoKeys
			}
			parsed.ASCIIParams[key] = string(asciiParams[index : index+numberOfValues])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsed, nil
}

// SpatialRef maps parsed keys back onto a spatial reference.
func (p *ParsedGeoKeys) SpatialRef() domain.SpatialRef {
	ref := domain.SpatialRef{
		Model:     domain.ModelType(p.Params[GeoKeyGTModelType]),
		PixelArea: p.Params[GeoKeyGTRasterType] != rasterPixelIsPoint,
	}
	switch ref.Model {
	case domain.ModelGeographic:
		ref.EPSG = p.Params[GeoKeyGeodeticCRS]
		ref.Citation = p.ASCIIParams[GeoKeyGeogCitation]
	case domain.ModelProjected:
		ref.EPSG = p.Params[GeoKeyProjectedCRS]
		ref.Citation = p.ASCIIParams[GeoKeyPCSCitation]
	}
	if ref.Citation == "" {
		ref.Citation = p.ASCIIParams[GeoKeyGTCitation]
	}
	ref.Citation = strings.TrimRight(ref.Citation, "|")
	return ref
}

type geoKeyEntry struct {
	key   GeoKey
	value int    // for short params
	ascii string // for ASCII params
}

// encodeGeoKeys builds the GeoKeyDirectoryTag and GeoAsciiParamsTag values
// for ref. Keys are emitted in ascending order as the GeoTIFF spec requires.
func encodeGeoKeys(ref domain.SpatialRef) ([]uint16, string) {
	rasterType := rasterPixelIsPoint
	if ref.PixelArea {
		rasterType = rasterPixelIsArea
	}
	entries := []geoKeyEntry{
		{key: GeoKeyGTModelType, value: int(ref.Model)},
		{key: GeoKeyGTRasterType, value: rasterType},
	}
	switch ref.Model {
	case domain.ModelGeographic:
		entries = append(entries, geoKeyEntry{key: GeoKeyGeodeticCRS, value: ref.EPSG})
		if ref.Citation != "" {
			entries = append(entries, geoKeyEntry{key: GeoKeyGeogCitation, ascii: ref.Citation})
		}
		entries = append(entries, geoKeyEntry{key: GeoKeyAngularUnits, value: unitDegree})
	case domain.ModelProjected:
		entries = append(entries, geoKeyEntry{key: GeoKeyProjectedCRS, value: ref.EPSG})
		if ref.Citation != "" {
			entries = append(entries, geoKeyEntry{key: GeoKeyPCSCitation, ascii: ref.Citation})
		}
		entries = append(entries, geoKeyEntry{key: GeoKeyLinearUnits, value: unitMetre})
	default:
		if ref.Citation != "" {
			entries = append(entries, geoKeyEntry{key: GeoKeyGTCitation, ascii: ref.Citation})
		}
	}
	slices.SortFunc(entries, func(a, b geoKeyEntry) int { return int(a.key) - int(b.key) })

	directory := []uint16{1, 1, 0, uint16(len(entries))}
	var ascii strings.Builder
	for _, e := range entries {
		if e.ascii == "" {
			directory = append(directory, uint16(e.key), 0, 1, uint16(e.value))
			continue
		}
		offset := ascii.Len()
		ascii.WriteString(e.ascii)
		ascii.WriteByte('|')
		directory = append(directory, uint16(e.key), tagGeoASCIIParams, uint16(len(e.ascii)+1), uint16(offset))
	}
	return directory, ascii.String()
}
