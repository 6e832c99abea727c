package netcdf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// CubeDir exports monthly totals as NetCDF cubes into one directory.
// It implements pipeline.CubeWriter.
type CubeDir struct {
	root     string
	variable string
}

// NewCubeDir creates root if needed.
func NewCubeDir(root, variable string) (*CubeDir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &CubeDir{root: root, variable: variable}, nil
}

// WriteCube writes monthly to root/name.
func (c *CubeDir) WriteCube(name string, ref domain.GeoRef, monthly []domain.MonthlyGrid) error {
	return WriteMonthlyCube(filepath.Join(c.root, name), c.variable, ref, monthly)
}
