package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/opir-geoloc/internal/logging"
	"github.com/signalsfoundry/opir-geoloc/internal/observability"
)

func newBlankCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blank",
		Short: "Overwrite off-Earth pixels of a raster with a no-data value",
		Long: `Blank reads a little-endian int32 raster of --raster-rows x --raster-cols
pixels, classifies every pixel against a stored LOS grid and writes the
raster back with off-Earth pixels set to --nodata.

BLANK_OFF_EARTH=NO copies the raster unchanged.`,
		RunE: a.runBlank,
	}
	addGridInputFlags(cmd)
	f := cmd.Flags()
	f.String("raster", "", "Input raster (little-endian int32, row-major)")
	f.Int("raster-rows", 0, "Raster rows")
	f.Int("raster-cols", 0, "Raster columns")
	f.Int32("nodata", math.MinInt32, "Value written to off-Earth pixels")
	f.Bool("blank", true, "Blank off-Earth pixels (BLANK_OFF_EARTH)")
	f.String("raster-out", "", "Output raster, default overwrites --raster")
	return cmd
}

func (a *app) runBlank(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	oo, err := loadOpenOptions(cmd)
	if err != nil {
		return err
	}
	entry, err := a.loadEntry(cmd)
	if err != nil {
		return err
	}
	g, err := entry.Grid(nil)
	if err != nil {
		return err
	}

	rasterPath, _ := cmd.Flags().GetString("raster")
	if rasterPath == "" {
		return fmt.Errorf("--raster is required")
	}
	rows, _ := cmd.Flags().GetInt("raster-rows")
	cols, _ := cmd.Flags().GetInt("raster-cols")
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("--raster-rows and --raster-cols must be positive")
	}
	raster, err := readInt32Raster(rasterPath, rows*cols)
	if err != nil {
		return err
	}

	blanked := 0
	if oo.BlankOffEarth {
		nodata, _ := cmd.Flags().GetInt32("nodata")
		_, span := observability.StartGridSpan(ctx, "BlankOffEarth", observability.GridShape{
			Rows: g.Rows(), Cols: g.Cols(), RowStep: g.RowStepSize(), ColStep: g.ColStepSize(),
		}, observability.AttrRasterRows.Int(rows), observability.AttrRasterCols.Int(cols))
		blanked, err = g.BlankOffEarth(raster, rows, cols, nodata)
		observability.EndSpan(span, err, observability.AttrBlanked.Int(blanked))
		if err != nil {
			return err
		}
		a.metrics.AddBlankedPixels(blanked)
	}

	out, _ := cmd.Flags().GetString("raster-out")
	if out == "" {
		out = rasterPath
	}
	if err := writeInt32Raster(out, raster); err != nil {
		return err
	}
	a.log.Info(ctx, "blanked off-Earth pixels",
		logging.String("raster", out),
		logging.Int("blanked", blanked),
		logging.Int("pixels", rows*cols),
	)
	_, err = fmt.Fprintf(a.out, "blanked=%d\n", blanked)
	return err
}

func readInt32Raster(path string, n int) ([]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raster := make([]int32, n)
	if err := binary.Read(f, binary.LittleEndian, raster); err != nil {
		return nil, fmt.Errorf("read raster %s: %w", path, err)
	}
	return raster, nil
}

func writeInt32Raster(path string, raster []int32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, raster); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
