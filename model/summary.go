package model

import (
	"strings"

	"github.com/signalsfoundry/opir-geoloc/core"
	"github.com/signalsfoundry/opir-geoloc/losgrid"
)

// Frame error codes reported in the errors-detected list.
const (
	ErrCodeLOSDegraded     = "LOS_DEGRADED"
	ErrCodeLOSFailed       = "LOS_FAILED"
	ErrCodeEphNotAvailable = "EPH_NOT_AVAILABLE"
	ErrCodeNone            = "NO_ERRORS"
)

// Corner is a grid corner's map coordinate in degrees.
type Corner struct {
	Lat float64
	Lon float64
}

// GeoLocSummary holds the frame and file level attributes derived from a
// LOS grid.
type GeoLocSummary struct {
	XStepSize int
	YStepSize int
	// NumGeoPoints counts the persisted nodes, one row and column fewer
	// than the allocated grid.
	NumGeoPoints int

	UL, LL, UR, LR Corner

	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64

	LOSDegraded      bool
	LOSFailed        bool
	EphemerisMissing bool

	// Errors lists the detected error codes, or NO_ERRORS alone.
	Errors []string
}

// ErrorCount is the number of detected errors.
func (s GeoLocSummary) ErrorCount() int {
	if len(s.Errors) == 1 && s.Errors[0] == ErrCodeNone {
		return 0
	}
	return len(s.Errors)
}

// SummarizeGrid derives the summary attributes for a frame. g may be nil
// when no grid could be built. observer is the satellite position from the
// frame's ephemeris.
func SummarizeGrid(g *losgrid.Grid, observer core.Vec3, earth *core.Ellipsoid) GeoLocSummary {
	if earth == nil {
		earth = core.WGS84()
	}
	var s GeoLocSummary

	if g != nil {
		s.XStepSize = g.ColStepSize()
		s.YStepSize = g.RowStepSize()
		nrows, ncols := g.Rows()-1, g.Cols()-1
		s.NumGeoPoints = nrows * ncols

		// Corners index the last allocated row and column.
		s.UL = cornerAt(g, 0, 0)
		s.LL = cornerAt(g, nrows, 0)
		s.UR = cornerAt(g, 0, ncols)
		s.LR = cornerAt(g, nrows, ncols)

		s.MinLatitude, s.MaxLatitude = g.YMin(), g.YMax()
		s.MinLongitude, s.MaxLongitude = g.XMin(), g.XMax()

		if !g.Valid() {
			s.LOSDegraded = true
			s.Errors = append(s.Errors, ErrCodeLOSDegraded)
		}
	} else {
		s.LOSFailed = true
		s.Errors = append(s.Errors, ErrCodeLOSFailed)
	}

	if observer.Norm() < earth.EquatorialRadius() {
		s.EphemerisMissing = true
		s.Errors = append(s.Errors, ErrCodeEphNotAvailable)
	}
	if len(s.Errors) == 0 {
		s.Errors = []string{ErrCodeNone}
	}
	return s
}

func cornerAt(g *losgrid.Grid, row, col int) Corner {
	n, err := g.Node(row, col)
	if err != nil {
		return Corner{Lat: losgrid.InvalidMapValue, Lon: losgrid.InvalidMapValue}
	}
	return Corner{Lat: n.MapY, Lon: n.MapX}
}

// Attributes renders the summary under the attribute names written to
// HDF5-R files. Grid derived attributes are omitted when the grid failed.
func (s GeoLocSummary) Attributes() *Attributes {
	a := NewAttributes()
	if !s.LOSFailed {
		a.Set("H5R.GEO.X_Stepsize_Pixels", Int32(int32(s.XStepSize)))
		a.Set("H5R.GEO.Y_Stepsize_Pixels", Int32(int32(s.YStepSize)))
		a.Set("numGeoPoints", Int32(int32(s.NumGeoPoints)))
		for _, c := range []struct {
			name string
			c    Corner
		}{{"UL", s.UL}, {"LL", s.LL}, {"UR", s.UR}, {"LR", s.LR}} {
			a.Set(c.name+"_lat", Float64(c.c.Lat))
			a.Set(c.name+"_lon", Float64(c.c.Lon))
		}
		a.Set("H5R.minLatitude", Float64(s.MinLatitude))
		a.Set("H5R.maxLatitude", Float64(s.MaxLatitude))
		a.Set("H5R.minLongitude", Float64(s.MinLongitude))
		a.Set("H5R.maxLongitude", Float64(s.MaxLongitude))
	}
	a.Set("H5R.LOS_degraded", Bool(s.LOSDegraded))
	a.Set("H5R.LOS_failed", Bool(s.LOSFailed))
	a.Set("H5R.errorsDetectedCt", Int32(int32(s.ErrorCount())))
	a.Set("H5R.offEarthDiscardCt", Int32(0))
	// Each code is followed by a space.
	a.Set("H5R.errorsDetectedList", String(strings.Join(s.Errors, " ")+" "))
	return a
}
