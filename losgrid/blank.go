package losgrid

import "fmt"

// OnEarthMask classifies every pixel of a rows x cols image as on (true) or
// off the Earth, tile by tile.
func (g *Grid) OnEarthMask(rows, cols int) ([]bool, error) {
	mask := make([]bool, rows*cols)
	err := g.visitPixels(rows, cols, func(i int, on bool) {
		mask[i] = on
	})
	if err != nil {
		return nil, err
	}
	return mask, nil
}

// BlankOffEarth overwrites every off-Earth pixel of the row-major raster
// with nodata and returns the number of pixels written.
func (g *Grid) BlankOffEarth(raster []int32, rows, cols int, nodata int32) (int, error) {
	if len(raster) != rows*cols {
		return 0, fmt.Errorf("%w: raster has %d pixels, want %dx%d", ErrSampleSize, len(raster), rows, cols)
	}
	blanked := 0
	err := g.visitPixels(rows, cols, func(i int, on bool) {
		if !on {
			raster[i] = nodata
			blanked++
		}
	})
	return blanked, err
}

// visitPixels walks the image one grid cell at a time. Cells with four
// on-Earth corners are on, four off-Earth corners are off, and mixed cells
// are decided per pixel.
func (g *Grid) visitPixels(rows, cols int, fn func(i int, on bool)) error {
	if !g.populated {
		return ErrNotPopulated
	}
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("%w: image %dx%d", ErrInvalidDimensions, rows, cols)
	}
	tileRows := (rows + g.rowStep - 1) / g.rowStep
	tileCols := (cols + g.colStep - 1) / g.colStep
	if tileRows >= g.rows || tileCols >= g.cols {
		return fmt.Errorf("%w: %dx%d image needs %dx%d grid, have %dx%d",
			ErrOutOfBounds, rows, cols, tileRows+1, tileCols+1, g.rows, g.cols)
	}

	for tr := 0; tr < tileRows; tr++ {
		r0 := tr * g.rowStep
		r1 := min(r0+g.rowStep, rows)
		for tc := 0; tc < tileCols; tc++ {
			c0 := tc * g.colStep
			c1 := min(c0+g.colStep, cols)

			tile, err := NewTile(g, tr, tc)
			if err != nil {
				return err
			}
			for r := r0; r < r1; r++ {
				for c := c0; c < c1; c++ {
					var on bool
					switch tile.Status() {
					case StatusAllOnEarth:
						on = true
					case StatusAllOffEarth:
						on = false
					default:
						on = tile.TestPixelOnEarth(float64(r-r0), float64(c-c0))
					}
					fn(r*cols+c, on)
				}
			}
		}
	}
	return nil
}
