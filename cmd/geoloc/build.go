package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/opir-geoloc/core"
	"github.com/signalsfoundry/opir-geoloc/georef"
	"github.com/signalsfoundry/opir-geoloc/internal/config"
	"github.com/signalsfoundry/opir-geoloc/internal/logging"
	"github.com/signalsfoundry/opir-geoloc/internal/orbit"
	"github.com/signalsfoundry/opir-geoloc/losgrid"
	"github.com/signalsfoundry/opir-geoloc/model"
)

// gcpDocument is the JSON written by --gcps.
type gcpDocument struct {
	CRS  string       `json:"crs"`
	GCPs []georef.GCP `json:"gcps"`
}

func newBuildCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a LOS grid from a georeferenced image description",
		Long: `Build samples the georeferencing in --source (JSON: cols, rows, gcps,
gcp_crs, geotransform, crs) and writes the LOS grid records, the derived GCP
list and the frame summary attributes.

The observer comes from --observer, or from --tle-file propagated to --time.
Without either, a geosynchronous observer above the grid centre is used.`,
		RunE: a.runBuild,
	}
	f := cmd.Flags()
	f.String("source", "", "Source description JSON (env GEOLOC_SOURCE)")
	f.Int("step-x", georef.DefaultStepSize, "Column step in pixels (env GEOLOC_STEP_X)")
	f.Int("step-y", georef.DefaultStepSize, "Row step in pixels (env GEOLOC_STEP_Y)")
	f.String("observer", "", "Observer ECF position x,y,z in metres (env GEOLOC_OBSERVER)")
	f.String("tle-file", "", "Two or three line element set for the observer")
	f.String("time", "", "Observation time for --tle-file (RFC 3339, default now)")
	f.Int("gcp-max", config.DefaultGCPMax, "Maximum GCPs to emit, 0 for no cap")
	f.Bool("no-gcp", false, "Ignore source GCPs and emit no GCP list")
	f.Bool("regrid", false, "Resample GCPs even when they already form a grid")
	f.Int("gcp-order", 0, "Polynomial order of the GCP fit, 0 for automatic")
	f.Float64("sat-lon", 0, "Relocate the observer to a geosynchronous longitude (degrees)")
	f.StringArray("co", nil, "Creation option NAME=VALUE (GCP_REGRID, NO_GCP, GCP_ORDER)")
	f.StringArray("attr", nil, "Override a summary attribute NAME=VALUE (requires ATTR_RW)")
	f.Bool("geoid", false, "Write EGM96 geoid heights into GCP Z")
	f.String("out", "", "Write packed node records to this file")
	f.String("gcps", "", "Write the GCP list JSON to this file")
	return cmd
}

func (a *app) runBuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	path := getConfigString(cmd, "source", "GEOLOC_SOURCE", "")
	if path == "" {
		return fmt.Errorf("--source is required")
	}
	src, err := readSource(path)
	if err != nil {
		return err
	}
	oo, err := loadOpenOptions(cmd)
	if err != nil {
		return err
	}
	co, err := loadCreateOptions(cmd)
	if err != nil {
		return err
	}
	observer, err := a.resolveObserver(cmd)
	if err != nil {
		return err
	}

	res, buildErr := georef.BuildLosGrid(ctx, src, georef.BuildOptions{
		XStep:    getConfigInt(cmd, "step-x", "GEOLOC_STEP_X", georef.DefaultStepSize),
		YStep:    getConfigInt(cmd, "step-y", "GEOLOC_STEP_Y", georef.DefaultStepSize),
		GCPOrder: co.GCPOrder,
		NoGCP:    co.NoGCP || oo.NoGCP,
		Regrid:   co.Regrid,
		Observer: observer,
		Logger:   a.log,
		Metrics:  a.metrics,
	})
	if buildErr != nil {
		// A failed grid still gets a summary, flagged LOS_FAILED.
		a.log.Error(ctx, "LOS grid build failed", logging.Err(buildErr))
		if err := a.printSummary(cmd, nil, observer, oo); err != nil {
			return err
		}
		return buildErr
	}
	g := res.Grid
	a.log.Info(ctx, "built LOS grid",
		logging.String("method", res.Method),
		logging.Int("rows", g.Rows()),
		logging.Int("cols", g.Cols()),
		logging.Int("on_earth", g.OnEarthCount()),
		logging.String("status", g.Status().String()),
	)

	if oo.IsSet(config.OptSatLon) {
		if _, err := georef.RelocateToGeoSync(ctx, g, oo.SatLon, a.log); err != nil {
			return err
		}
	}

	if err := a.saveGrid(cmd, g); err != nil {
		return err
	}

	if gcpPath, _ := cmd.Flags().GetString("gcps"); gcpPath != "" && !oo.NoGCP {
		gopts := georef.GCPOptions{
			MaxExplicit: oo.IsSet(config.OptGCPMax),
			Logger:      a.log,
			Metrics:     a.metrics,
		}
		if geoid, _ := cmd.Flags().GetBool("geoid"); geoid {
			gopts.Transform = georef.GeoidHeightZ()
		}
		gcps, err := georef.BuildGCPList(ctx, g, oo.GCPMax, gopts)
		if err != nil {
			return err
		}
		if err := writeJSON(gcpPath, gcpDocument{CRS: georef.WGS84WKT, GCPs: gcps}); err != nil {
			return err
		}
		a.log.Info(ctx, "wrote GCPs", logging.String("path", gcpPath), logging.Int("count", len(gcps)))
	}

	// EPH_NOT_AVAILABLE reflects the requested observer, not a substitute.
	return a.printSummary(cmd, g, observer, oo)
}

// resolveObserver picks the observer from --observer, then --tle-file
// propagated to --time.
func (a *app) resolveObserver(cmd *cobra.Command) (core.Vec3, error) {
	at, err := frameTime(cmd)
	if err != nil {
		return core.Vec3{}, err
	}
	return a.observerAt(cmd, at)
}

// frameTime is --time, or now when unset.
func frameTime(cmd *cobra.Command) (time.Time, error) {
	s, _ := cmd.Flags().GetString("time")
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--time: %w", err)
	}
	return t, nil
}

func (a *app) observerAt(cmd *cobra.Command, at time.Time) (core.Vec3, error) {
	if s := getConfigString(cmd, "observer", "GEOLOC_OBSERVER", ""); s != "" {
		v, err := parseVec3(s)
		if err != nil {
			return core.Vec3{}, fmt.Errorf("--observer: %w", err)
		}
		return v, nil
	}
	tlePath, _ := cmd.Flags().GetString("tle-file")
	if tlePath == "" {
		return core.Vec3{}, nil
	}
	f, err := os.Open(tlePath)
	if err != nil {
		return core.Vec3{}, err
	}
	defer f.Close()
	name, l1, l2, err := orbit.ReadTLE(f)
	if err != nil {
		return core.Vec3{}, err
	}
	pos, err := orbit.ObserverFromTLE(l1, l2, at)
	if err != nil {
		return core.Vec3{}, err
	}
	a.log.Debug(cmd.Context(), "propagated observer",
		logging.String("satellite", name),
		logging.String("time", at.Format(time.RFC3339)),
		logging.Float64("radius", pos.Norm()),
	)
	return pos, nil
}

// printSummary writes the frame attributes as NAME=VALUE lines. --attr
// overrides apply only when ATTR_RW is on.
func (a *app) printSummary(cmd *cobra.Command, g *losgrid.Grid, observer core.Vec3, oo config.OpenOptions) error {
	attrs := model.SummarizeGrid(g, observer, nil).Attributes()
	overrides, _ := cmd.Flags().GetStringArray("attr")
	if len(overrides) > 0 && !oo.AttrRW {
		return fmt.Errorf("attributes are read-only (set %s=YES)", config.OptAttrRW)
	}
	for _, item := range overrides {
		name, value, ok := config.SplitNameValue(item)
		if !ok {
			return fmt.Errorf("--attr %q: want NAME=VALUE", item)
		}
		if err := attrs.Modify(name, value); err != nil {
			return err
		}
	}
	return writeAttributes(a.out, attrs)
}

func writeAttributes(w io.Writer, attrs *model.Attributes) error {
	for _, name := range attrs.Names() {
		v, _ := attrs.Get(name)
		if _, err := fmt.Fprintf(w, "%s=%s\n", name, v.String()); err != nil {
			return err
		}
	}
	return nil
}

func readSource(path string) (*georef.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return georef.LoadSource(f)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
