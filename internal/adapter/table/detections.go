package table

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// ErrMissingColumn is returned when a detection table lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// Columns every MCD14ML table must carry. Other columns are ignored.
var detectionColumns = []string{"YYYYMMDD", "HHMM", "sat", "lat", "lon", "type", "conf"}

const maxLineBytes = 1 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// OpenDetections opens a detection table, transparently decompressing
// gzip files.
func OpenDetections(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	magic, _ := br.Peek(len(gzipMagic))
	if !bytes.Equal(magic, gzipMagic) {
		return struct {
			io.Reader
			io.Closer
		}{br, f}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &gzipFile{Reader: zr, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.file.Close())
}

// ReadDetections parses a whitespace-delimited detection table and calls fn
// for every row in order. The first non-blank line is the header. It returns
// the number of data rows read.
func ReadDetections(r io.Reader, fn func(domain.FireDetection) error) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	var idx map[string]int
	var width, lineNo, rows int
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if idx == nil {
			var err error
			if idx, err = headerIndex(fields); err != nil {
				return 0, fmt.Errorf("line %d: %w", lineNo, err)
			}
			width = len(fields)
			continue
		}
		if len(fields) != width {
			return rows, fmt.Errorf("line %d: %w: got %d fields, want %d", lineNo, ErrBadRow, len(fields), width)
		}
		d, err := parseDetection(fields, idx)
		if err != nil {
			return rows, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rows++
		if err := fn(d); err != nil {
			return rows, err
		}
	}
	if err := scanner.Err(); err != nil {
		return rows, err
	}
	if idx == nil {
		return 0, fmt.Errorf("%w: empty table", ErrMissingColumn)
	}
	return rows, nil
}

func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	var missing []string
	for _, name := range detectionColumns {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return idx, nil
}

func parseDetection(fields []string, idx map[string]int) (domain.FireDetection, error) {
	d := domain.FireDetection{
		Date:      fields[idx["YYYYMMDD"]],
		Time:      fields[idx["HHMM"]],
		Satellite: fields[idx["sat"]],
		LatText:   fields[idx["lat"]],
		LonText:   fields[idx["lon"]],
		ConfText:  fields[idx["conf"]],
	}
	var err error
	if d.Lat, err = strconv.ParseFloat(d.LatText, 64); err != nil {
		return d, fmt.Errorf("%w: lat %q", ErrBadRow, d.LatText)
	}
	if d.Lon, err = strconv.ParseFloat(d.LonText, 64); err != nil {
		return d, fmt.Errorf("%w: lon %q", ErrBadRow, d.LonText)
	}
	if d.Confidence, err = strconv.ParseFloat(d.ConfText, 64); err != nil {
		return d, fmt.Errorf("%w: conf %q", ErrBadRow, d.ConfText)
	}
	typeText := fields[idx["type"]]
	if d.Type, err = strconv.Atoi(typeText); err != nil {
		f, ferr := strconv.ParseFloat(typeText, 64)
		if ferr != nil || f != float64(int(f)) {
			return d, fmt.Errorf("%w: type %q", ErrBadRow, typeText)
		}
		d.Type = int(f)
	}
	return d, nil
}
