// Package domain models the climate and wildfire datasets prepared by the
// climprep pipelines. It holds types and pure transformations only; reading
// and writing files lives in the adapter packages.
//
// # Precipitation (NCEP/NCAR Reanalysis)
//
// Source files are yearly NetCDF grids named prate.sfc.gauss.<year>.nc from
// the NOAA PSL archive at https://psl.noaa.gov/data/gridded/data.ncep.reanalysis.html.
// The prate variable is a mean precipitation rate in kg/m^2/s (equivalently
// mm/s) over each 6-hourly interval, on a T62 Gaussian grid of 94 latitudes
// by 192 longitudes.
//
// Unit conversion:
//
//	total over interval = rate * 21600   (6 h * 60 min * 60 s)
//
// Temporal binning:
//
//	Every timestamp is truncated to the first instant of its month (UTC) and
//	steps are summed within each month. The number of monthly grids equals the
//	number of distinct months in the file, so a partial final year yields
//	fewer than twelve.
//
// Seasonal total:
//
//	precip-<Y> = Jan + Feb + Mar + Apr of Y  +  Dec of Y-1
//
//	Months are selected by calendar number, not by position, and a missing
//	month is an error ([ErrMissingMonth]).
//
// Missing data:
//
//	Cells equal to _FillValue or missing_value decode to NaN. NaN propagates
//	through every sum and is written to rasters as the no-data sentinel.
//
// # Atlantic Multidecadal Oscillation (AMO)
//
// The unsmoothed AMO index from https://psl.noaa.gov/data/correlation/amon.us.data
// is a whitespace-delimited table: a header line holding the first and last
// year, one line per year with the year followed by twelve monthly values,
// and a four-line footer. -99.99 marks months without a value.
//
// # Active fire detections (MODIS MCD14ML)
//
// Monthly MCD14ML text files carry one detection per line with a header:
//
//	YYYYMMDD HHMM sat lat lon T21 T31 sample FRP conf type dn version
//
// sat is T (Terra) or A (Aqua). conf is the detection confidence, 0-100.
// type is the MCD14ML detection type code. The default filter keeps type 0
// detections with confidence of at least 30 inside the South America window
// lat [-38, 15], lon [-84, -32], all bounds inclusive. Detections are never
// deduplicated across files.
package domain
