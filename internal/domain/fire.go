package domain

import "fmt"

// FireDetection is one active-fire pixel from a satellite pass.
//
// The *Text fields keep the tokens exactly as they appeared in the source so
// that projected output does not reformat coordinates or drop leading zeros.
type FireDetection struct {
	Date       string // YYYYMMDD
	Time       string // HHMM, UTC
	Satellite  string // "T" (Terra) or "A" (Aqua)
	Lat        float64
	Lon        float64
	Type       int
	Confidence float64

	LatText  string
	LonText  string
	ConfText string
}

// Key identifies a detection for sinks that need a message key.
func (d FireDetection) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", d.Date, d.Time, d.Satellite, d.LatText, d.LonText)
}

// BoundingBox is an inclusive latitude/longitude window.
type BoundingBox struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// Contains reports whether (lat, lon) lies inside b, edges included.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// SouthAmerica is the default detection window.
var SouthAmerica = BoundingBox{LatMin: -38, LatMax: 15, LonMin: -84, LonMax: -32}

// FireFilter selects detections for the merged output.
type FireFilter struct {
	Box           BoundingBox
	Type          int
	MinConfidence float64
}

// DefaultFireFilter keeps type-0 detections over South America with
// confidence of at least 30.
var DefaultFireFilter = FireFilter{Box: SouthAmerica, Type: 0, MinConfidence: 30}

// Keep reports whether d satisfies every predicate of f.
func (f FireFilter) Keep(d FireDetection) bool {
	return f.Box.Contains(d.Lat, d.Lon) &&
		d.Type == f.Type &&
		d.Confidence >= f.MinConfidence
}
