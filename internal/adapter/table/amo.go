// Package table reads whitespace-delimited source tables and writes the CSV
// outputs of the AMO and fire-detection pipelines.
package table

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// ErrBadRow is returned for a data row that cannot be parsed.
var ErrBadRow = errors.New("bad row")

// AMO table layout as published by NOAA PSL: one line holding the year range,
// the yearly rows, then a four-line trailer (sentinel and attribution).
const (
	AMOHeaderLines = 1
	AMOFooterLines = 4
)

const amoFields = 13

// ReadAMO parses a whitespace-delimited year-by-month table, skipping
// skipHeader leading and skipFooter trailing lines. Blank lines are ignored.
// Every remaining line must hold a year followed by twelve values.
func ReadAMO(r io.Reader, skipHeader, skipFooter int) ([]domain.AMORow, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if skipHeader+skipFooter > len(lines) {
		return nil, fmt.Errorf("table has %d lines, fewer than %d header and %d footer lines", len(lines), skipHeader, skipFooter)
	}

	var rows []domain.AMORow
	for i, line := range lines[skipHeader : len(lines)-skipFooter] {
		lineNo := skipHeader + i + 1
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != amoFields {
			return nil, fmt.Errorf("line %d: %w: got %d fields, want %d", lineNo, ErrBadRow, len(fields), amoFields)
		}
		year, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: year %q", lineNo, ErrBadRow, fields[0])
		}
		row := domain.AMORow{Year: year}
		for m, field := range fields[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w: month %d value %q", lineNo, ErrBadRow, m+1, field)
			}
			row.Values[m] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}
