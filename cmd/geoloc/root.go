package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/opir-geoloc/internal/gridstore"
	"github.com/signalsfoundry/opir-geoloc/internal/logging"
	"github.com/signalsfoundry/opir-geoloc/internal/observability"
	"github.com/signalsfoundry/opir-geoloc/losgrid"
)

// app holds the per-invocation services shared by subcommands.
type app struct {
	out io.Writer
	// base is the logger before run annotation; log carries the run fields.
	base    logging.Logger
	log     logging.Logger
	metrics *observability.GeolocCollector

	shutdownTracing func(context.Context) error
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, base: logging.Noop(), log: logging.Noop()}

	root := &cobra.Command{
		Use:   "geoloc",
		Short: "LOS grid geolocation for OPIR frames",
		Long: `geoloc builds line-of-sight geolocation grids for staring OPIR frames.

It samples an image's georeferencing (GCPs or a geotransform) on a strided
grid, records the LOS vector from the satellite to every node, emits GCP
lists, blanks off-Earth pixels and recomputes grids for a new observer.

Options can be set with GEOLOC_<OPTION> environment variables (also read
from .env), -o/--co NAME=VALUE items, or the dedicated flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			base := logging.New(logging.Config{
				Level:  getConfigString(cmd, "log-level", "LOG_LEVEL", "info"),
				Format: getConfigString(cmd, "log-format", "LOG_FORMAT", "text"),
				Output: errOut,
			})
			ctx, log := logging.StartRun(cmd.Context(), base, runOf(cmd))
			cmd.SetContext(ctx)
			a.base, a.log = base, log

			collector, err := observability.NewGeolocCollector(prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("init metrics: %w", err)
			}
			a.metrics = collector

			tcfg, err := observability.TracingConfigFromEnv()
			if err != nil {
				return err
			}
			tcfg.Writer = errOut
			shutdown, err := observability.InitTracing(ctx, tcfg, log)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			a.shutdownTracing = shutdown
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			observability.ShutdownWithTimeout(cmd.Context(), a.shutdownTracing, a.log)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text or json)")
	pf.StringArrayP("oo", "o", nil, "Open option NAME=VALUE (GCP_MAX, NO_GCP, ATTR_RW, BLANK_OFF_EARTH, SAT_LON)")
	pf.String("store-key", "", "Load/save the grid in the Redis grid store under this key (REDIS_HOST, REDIS_PORT, REDIS_PASS, REDIS_DB)")

	root.AddCommand(
		newBuildCmd(a),
		newBlankCmd(a),
		newRelocateCmd(a),
		newServeMetricsCmd(a),
	)
	return root
}

// runOf describes the invocation for run-scoped logging: the command, its
// source description or record file, and the grid store key.
func runOf(cmd *cobra.Command) logging.Run {
	r := logging.Run{Command: cmd.Name()}
	for _, name := range []string{"source", "records"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Value.String() != "" {
			r.Source = f.Value.String()
			break
		}
	}
	r.GridKey, _ = cmd.Flags().GetString("store-key")
	return r
}

// openStore connects to the Redis grid store configured by REDIS_* variables.
func (a *app) openStore() gridstore.Store {
	return gridstore.NewRedis(gridstore.OpenRedisFromEnv(os.Getenv))
}

// addGridInputFlags registers the flags describing a persisted grid.
func addGridInputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("records", "", "Packed node record file")
	f.Int("rows", 0, "Record rows (grid rows - 1)")
	f.Int("cols", 0, "Record columns (grid columns - 1)")
	f.Int("row-step", 0, "Grid row step in pixels (env GEOLOC_ROW_STEP)")
	f.Int("col-step", 0, "Grid column step in pixels (env GEOLOC_COL_STEP)")
	f.String("observer", "", "Observer ECF position x,y,z in metres")
}

// loadEntry reads a grid from the store when --store-key is set, else from
// the record file and dimension flags.
func (a *app) loadEntry(cmd *cobra.Command) (gridstore.Entry, error) {
	if key, _ := cmd.Flags().GetString("store-key"); key != "" {
		return a.openStore().Load(cmd.Context(), key)
	}

	path, _ := cmd.Flags().GetString("records")
	if path == "" {
		return gridstore.Entry{}, fmt.Errorf("--records or --store-key is required")
	}
	e := gridstore.Entry{
		RecordRows: getConfigInt(cmd, "rows", "GEOLOC_RECORD_ROWS", 0),
		RecordCols: getConfigInt(cmd, "cols", "GEOLOC_RECORD_COLS", 0),
		RowStep:    getConfigInt(cmd, "row-step", "GEOLOC_ROW_STEP", 0),
		ColStep:    getConfigInt(cmd, "col-step", "GEOLOC_COL_STEP", 0),
	}
	obs, err := parseVec3(getConfigString(cmd, "observer", "GEOLOC_OBSERVER", ""))
	if err != nil {
		return gridstore.Entry{}, fmt.Errorf("--observer: %w", err)
	}
	e.Observer = obs

	f, err := os.Open(path)
	if err != nil {
		return gridstore.Entry{}, err
	}
	defer f.Close()
	if e.Records, err = losgrid.ReadRecords(f, e.RecordRows*e.RecordCols); err != nil {
		return gridstore.Entry{}, err
	}
	return e, e.Validate()
}

// saveGrid writes the grid's records to --out and to the store when
// --store-key is set.
func (a *app) saveGrid(cmd *cobra.Command, g *losgrid.Grid) error {
	entry := gridstore.EntryFromGrid(g)
	if path, _ := cmd.Flags().GetString("out"); path != "" {
		if err := writeRecordFile(path, entry.Records); err != nil {
			return err
		}
		a.log.Info(cmd.Context(), "wrote grid records",
			logging.String("path", path),
			logging.Int("rows", entry.RecordRows),
			logging.Int("cols", entry.RecordCols),
		)
	}
	if key, _ := cmd.Flags().GetString("store-key"); key != "" {
		if err := a.openStore().Save(cmd.Context(), key, entry); err != nil {
			return err
		}
		a.log.Info(cmd.Context(), "saved grid", logging.String("key", key))
	}
	return nil
}

func writeRecordFile(path string, records []losgrid.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := losgrid.WriteRecords(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
