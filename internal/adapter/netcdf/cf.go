package netcdf

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// ErrMalformedFillValue is returned by strict decoding when a variable's
// _FillValue attribute is not a single number.
var ErrMalformedFillValue = errors.New("malformed _FillValue attribute")

// DefaultFillFloat is the netCDF library's default fill for float variables.
const DefaultFillFloat = 9.969209968386869e36

// flatten converts a (possibly nested) slice of numbers into a row-major
// []float64 and its shape.
func flatten(values any) ([]float64, []int, error) {
	rv := reflect.ValueOf(values)
	if !rv.IsValid() {
		return nil, nil, errors.New("no values")
	}
	if rv.Kind() != reflect.Slice {
		f, ok := toFloat(rv)
		if !ok {
			return nil, nil, fmt.Errorf("unsupported value type %T", values)
		}
		return []float64{f}, nil, nil
	}

	shape := []int{rv.Len()}
	if rv.Len() == 0 || rv.Type().Elem().Kind() != reflect.Slice {
		out := make([]float64, rv.Len())
		for i := range out {
			f, ok := toFloat(rv.Index(i))
			if !ok {
				return nil, nil, fmt.Errorf("unsupported value type %T", values)
			}
			out[i] = f
		}
		return out, shape, nil
	}

	var out []float64
	var inner []int
	for i := range rv.Len() {
		child, childShape, err := flatten(rv.Index(i).Interface())
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			inner = childShape
		} else if !slices.Equal(inner, childShape) {
			return nil, nil, errors.New("ragged array")
		}
		out = append(out, child...)
	}
	return out, append(shape, inner...), nil
}

func toFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Interface:
		if v.IsNil() {
			return 0, false
		}
		return toFloat(v.Elem())
	default:
		return 0, false
	}
}

// isFloat64 reports whether the innermost element type of values is float64.
func isFloat64(values any) bool {
	t := reflect.TypeOf(values)
	for t != nil && t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Float64
}

// attrNumbers returns a numeric attribute as a slice. ok is false when the
// attribute is absent; err is set when it is present but not numeric.
func attrNumbers(attrs api.AttributeMap, key string) (values []float64, ok bool, err error) {
	if attrs == nil {
		return nil, false, nil
	}
	v, has := attrs.Get(key)
	if !has {
		return nil, false, nil
	}
	if _, isString := v.(string); isString {
		return nil, true, fmt.Errorf("attribute %s is a string", key)
	}
	values, _, err = flatten(v)
	if err != nil {
		return nil, true, fmt.Errorf("attribute %s: %w", key, err)
	}
	return values, true, nil
}

func attrString(attrs api.AttributeMap, key string) string {
	if attrs == nil {
		return ""
	}
	v, has := attrs.Get(key)
	if !has {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimRight(s, "\x00")
}

// packing holds the CF decoding parameters of a data variable.
type packing struct {
	fill    *float64
	missing []float64
	scale   float64
	offset  float64
}

// parsePacking reads _FillValue, missing_value, scale_factor, and add_offset.
// With ignoreFill set the _FillValue attribute is treated as absent.
func parsePacking(attrs api.AttributeMap, ignoreFill bool) (packing, error) {
	p := packing{scale: 1}
	if !ignoreFill {
		fill, ok, err := attrNumbers(attrs, "_FillValue")
		switch {
		case err != nil:
			return p, fmt.Errorf("%w: %w", ErrMalformedFillValue, err)
		case ok && len(fill) != 1:
			return p, fmt.Errorf("%w: %d values", ErrMalformedFillValue, len(fill))
		case ok:
			p.fill = &fill[0]
		}
	}

	missing, _, err := attrNumbers(attrs, "missing_value")
	if err != nil {
		return p, err
	}
	p.missing = missing

	if scale, ok, err := attrNumbers(attrs, "scale_factor"); err != nil {
		return p, err
	} else if ok && len(scale) > 0 {
		p.scale = scale[0]
	}
	if offset, ok, err := attrNumbers(attrs, "add_offset"); err != nil {
		return p, err
	} else if ok && len(offset) > 0 {
		p.offset = offset[0]
	}
	return p, nil
}

func (p packing) packed() bool {
	return p.scale != 1 || p.offset != 0
}

// noData is the sentinel recorded for rasters derived from the variable.
func (p packing) noData() float64 {
	switch {
	case p.fill != nil && !math.IsNaN(*p.fill):
		return *p.fill
	case len(p.missing) > 0 && !math.IsNaN(p.missing[0]):
		return p.missing[0]
	default:
		return DefaultFillFloat
	}
}

// decode masks fill and missing values as NaN and unpacks the rest in place.
func (p packing) decode(raw []float64) {
	for i, v := range raw {
		if p.isMissing(v) {
			raw[i] = math.NaN()
			continue
		}
		raw[i] = v*p.scale + p.offset
	}
}

func (p packing) isMissing(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	if p.fill != nil && v == *p.fill {
		return true
	}
	for _, m := range p.missing {
		if v == m {
			return true
		}
	}
	return false
}

// TimeUnits is a parsed CF time unit such as "hours since 1800-01-01".
type TimeUnits struct {
	Step      time.Duration
	Reference time.Time
}

// ParseTimeUnits parses "<unit> since <reference>". The standard calendar is
// assumed.
func ParseTimeUnits(units string) (TimeUnits, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return TimeUnits{}, fmt.Errorf("time units %q: missing \"since\"", units)
	}

	var tu TimeUnits
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds", "second", "secs", "sec", "s":
		tu.Step = time.Second
	case "minutes", "minute", "mins", "min":
		tu.Step = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		tu.Step = time.Hour
	case "days", "day", "d":
		tu.Step = 24 * time.Hour
	default:
		return TimeUnits{}, fmt.Errorf("time units %q: unsupported unit %q", units, unit)
	}

	reference, err := parseReference(ref)
	if err != nil {
		return TimeUnits{}, fmt.Errorf("time units %q: %w", units, err)
	}
	tu.Reference = reference
	return tu, nil
}

// Time converts an offset in these units to an instant.
func (tu TimeUnits) Time(offset float64) time.Time {
	seconds := offset * tu.Step.Seconds()
	whole := math.Floor(seconds)
	nanos := math.Round((seconds - whole) * 1e9)
	return time.Unix(tu.Reference.Unix()+int64(whole), int64(nanos)).UTC()
}

// Offset is the inverse of Time.
func (tu TimeUnits) Offset(t time.Time) float64 {
	seconds := float64(t.Unix()-tu.Reference.Unix()) + float64(t.Nanosecond()-tu.Reference.Nanosecond())/1e9
	return seconds / tu.Step.Seconds()
}

// parseReference accepts the loose forms found in CF files, for example
// "1800-1-1 00:00:0.0", "2001-01-01T00:00:00Z", or "1900-01-01".
func parseReference(s string) (time.Time, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return time.Time{}, errors.New("empty reference time")
	}
	if date, clock, ok := strings.Cut(fields[0], "T"); ok {
		fields = append([]string{date, clock}, fields[1:]...)
	}

	date := strings.Split(fields[0], "-")
	if len(date) != 3 {
		return time.Time{}, fmt.Errorf("reference date %q", fields[0])
	}
	var ymd [3]int
	for i, part := range date {
		n, err := strconv.Atoi(part)
		if err != nil {
			return time.Time{}, fmt.Errorf("reference date %q", fields[0])
		}
		ymd[i] = n
	}

	var hms [3]float64
	if len(fields) > 1 {
		clock := strings.TrimSuffix(fields[1], "Z")
		for i, part := range strings.Split(clock, ":") {
			if i > 2 {
				return time.Time{}, fmt.Errorf("reference time %q", fields[1])
			}
			v, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("reference time %q", fields[1])
			}
			hms[i] = v
		}
	}
	if len(fields) > 2 && fields[2] != "UTC" && fields[2] != "Z" && fields[2] != "0:00" && fields[2] != "+00:00" {
		return time.Time{}, fmt.Errorf("reference time zone %q", fields[2])
	}

	sec := math.Floor(hms[2])
	nanos := int(math.Round((hms[2] - sec) * 1e9))
	return time.Date(ymd[0], time.Month(ymd[1]), ymd[2], int(hms[0]), int(hms[1]), int(sec), nanos, time.UTC), nil
}
