package geotiff

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// Dir writes named rasters into one output directory.
// It implements pipeline.RasterWriter.
type Dir struct {
	root    string
	options []WriteOption
}

// NewDir creates root if needed and returns a writer that applies options to
// every raster.
func NewDir(root string, options ...WriteOption) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Dir{root: root, options: options}, nil
}

// WriteRaster writes values to root/name and returns the no-data cell count.
func (d *Dir) WriteRaster(name string, values []float64, ref domain.GeoRef) (int, error) {
	return Write(filepath.Join(d.root, name), values, ref, d.options...)
}
