// Package georef builds LOS grids from georeferenced image descriptions and
// turns populated grids back into ground control point lists.
//
// The builder decides severity: degraded inputs (missing polynomial fit,
// invalid observer radius) are logged as warnings and worked around, and
// only the absence of any image or usable transform is an error.
package georef

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNoImage                   = errors.New("no image")
	ErrNoTransform               = errors.New("no usable pixel to ground transform")
	ErrNoGCPs                    = errors.New("no ground control points")
	ErrPolynomialUnderdetermined = errors.New("too few GCPs for polynomial order")
	ErrSingularFit               = errors.New("singular GCP fit")
	ErrUnsupportedCRS            = errors.New("unsupported coordinate reference system")
)

// Source describes the georeferencing of an image: its size and either
// GCPs with their reference system, a geotransform with its reference
// system, or both.
type Source struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`

	GCPs   []GCP  `json:"gcps,omitempty"`
	GCPCRS string `json:"gcp_crs,omitempty"`

	GeoTransform *AffineTransform `json:"geotransform,omitempty"`
	CRS          string           `json:"crs,omitempty"`
}

// LoadSource decodes a JSON source description.
func LoadSource(r io.Reader) (*Source, error) {
	var src Source
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&src); err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	if src.Cols <= 0 || src.Rows <= 0 {
		return nil, fmt.Errorf("%w: raster size %dx%d", ErrNoImage, src.Cols, src.Rows)
	}
	return &src, nil
}
