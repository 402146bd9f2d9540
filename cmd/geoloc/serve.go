package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/opir-geoloc/georef"
	"github.com/signalsfoundry/opir-geoloc/internal/logging"
	"github.com/signalsfoundry/opir-geoloc/internal/observability"
	"github.com/signalsfoundry/opir-geoloc/timectrl"
)

func newServeMetricsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics, optionally rebuilding a grid periodically",
		Long: `serve-metrics exposes the geolocation metrics on /metrics. With --source
the grid is rebuilt every --interval, and saved under --store-key when set,
so build outcomes and timings keep flowing.`,
		RunE: a.runServeMetrics,
	}
	f := cmd.Flags()
	f.String("addr", ":9090", "HTTP address for Prometheus /metrics (env GEOLOC_METRICS_ADDR)")
	f.String("source", "", "Source description JSON to rebuild")
	f.String("observer", "", "Observer ECF position x,y,z in metres")
	f.String("tle-file", "", "Two or three line element set for the observer")
	f.String("time", "", "First frame time (RFC 3339, default now)")
	f.Duration("interval", time.Minute, "Rebuild interval, also the frame time step")
	return cmd
}

func (a *app) runServeMetrics(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	srv := serveMetrics(getConfigString(cmd, "addr", "GEOLOC_METRICS_ADDR", ":9090"), a.metrics, a.log)

	var rebuilding <-chan struct{}
	if path, _ := cmd.Flags().GetString("source"); path != "" {
		clock, err := a.rebuildClock(cmd, path)
		if err != nil {
			return err
		}
		rebuilding = clock.Run(ctx, 0)
	}

	<-ctx.Done()
	a.log.Info(context.Background(), "shutting down metrics server")
	if rebuilding != nil {
		<-rebuilding
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

// rebuildClock rebuilds the source grid on every frame, starting at --time
// and stepping by --interval. With --tle-file the observer is propagated to
// each frame time. Failures are logged and recorded, not fatal.
func (a *app) rebuildClock(cmd *cobra.Command, path string) (*timectrl.FrameClock, error) {
	start, err := frameTime(cmd)
	if err != nil {
		return nil, err
	}
	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		interval = time.Minute
	}
	clock := timectrl.NewFrameClock(start, interval, timectrl.RealTime)
	clock.AddListener(func(ctx context.Context, at time.Time) {
		if err := a.rebuildOnce(ctx, cmd, path, at); err != nil {
			a.log.Warn(ctx, "periodic grid build failed",
				logging.String("source", path),
				logging.String("frame_time", at.Format(time.RFC3339)),
				logging.Err(err),
			)
		}
	})
	return clock, nil
}

func (a *app) rebuildOnce(ctx context.Context, cmd *cobra.Command, path string, at time.Time) error {
	src, err := readSource(path)
	if err != nil {
		return err
	}
	observer, err := a.observerAt(cmd, at)
	if err != nil {
		return err
	}
	key, _ := cmd.Flags().GetString("store-key")
	ctx, log := logging.StartRun(ctx, a.base, logging.Run{
		Command:   cmd.Name(),
		Source:    path,
		GridKey:   key,
		FrameTime: at,
	})
	res, err := georef.BuildLosGrid(ctx, src, georef.BuildOptions{
		Observer: observer,
		Logger:   log,
		Metrics:  a.metrics,
	})
	if err != nil {
		return err
	}
	if key != "" {
		return a.saveGrid(cmd, res.Grid)
	}
	return nil
}

func serveMetrics(addr string, collector *observability.GeolocCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
