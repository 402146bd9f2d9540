package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Grid build outcomes used as the "outcome" label.
const (
	OutcomeDirectGCP = "direct_gcp"
	OutcomeSampled   = "sampled"
	OutcomeFailed    = "failed"
)

// GeolocCollector bundles Prometheus metrics for LOS grid builds, GCP
// generation and off-Earth blanking.
type GeolocCollector struct {
	gatherer prometheus.Gatherer

	GridBuilds            *prometheus.CounterVec
	GridBuildDuration     prometheus.Histogram
	ObserverSubstitutions prometheus.Counter
	OnEarthNodes          prometheus.Gauge
	GCPsEmitted           prometheus.Gauge
	BlankedPixels         prometheus.Counter
}

// NewGeolocCollector registers geolocation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewGeolocCollector(reg prometheus.Registerer) (*GeolocCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	builds, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoloc_grid_builds_total",
		Help: "LOS grid builds, labeled by outcome (direct_gcp, sampled, failed).",
	}, []string{"outcome"}), "geoloc_grid_builds_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoloc_grid_build_duration_seconds",
		Help:    "Wall time spent building a LOS grid.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "geoloc_grid_build_duration_seconds")
	if err != nil {
		return nil, err
	}

	substitutions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoloc_observer_substitutions_total",
		Help: "Builds whose observer was replaced by a derived geosynchronous position.",
	}), "geoloc_observer_substitutions_total")
	if err != nil {
		return nil, err
	}

	onEarth, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geoloc_grid_on_earth_nodes",
		Help: "On-Earth node count of the most recently built grid.",
	}), "geoloc_grid_on_earth_nodes")
	if err != nil {
		return nil, err
	}

	gcps, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geoloc_gcps_emitted",
		Help: "GCP count of the most recently generated GCP list.",
	}), "geoloc_gcps_emitted")
	if err != nil {
		return nil, err
	}

	blanked, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoloc_blanked_pixels_total",
		Help: "Pixels overwritten with the nodata value by the off-Earth blanking pass.",
	}), "geoloc_blanked_pixels_total")
	if err != nil {
		return nil, err
	}

	return &GeolocCollector{
		gatherer:              gatherer,
		GridBuilds:            builds,
		GridBuildDuration:     duration,
		ObserverSubstitutions: substitutions,
		OnEarthNodes:          onEarth,
		GCPsEmitted:           gcps,
		BlankedPixels:         blanked,
	}, nil
}

// ObserveGridBuild records one grid build.
func (c *GeolocCollector) ObserveGridBuild(outcome string, elapsed time.Duration, onEarthNodes int) {
	if c == nil {
		return
	}
	if c.GridBuilds != nil {
		c.GridBuilds.WithLabelValues(outcome).Inc()
	}
	if c.GridBuildDuration != nil {
		c.GridBuildDuration.Observe(elapsed.Seconds())
	}
	if c.OnEarthNodes != nil && outcome != OutcomeFailed {
		c.OnEarthNodes.Set(float64(onEarthNodes))
	}
}

func (c *GeolocCollector) ObserverSubstituted() {
	if c == nil || c.ObserverSubstitutions == nil {
		return
	}
	c.ObserverSubstitutions.Inc()
}

func (c *GeolocCollector) SetGCPCount(n int) {
	if c == nil || c.GCPsEmitted == nil {
		return
	}
	c.GCPsEmitted.Set(float64(n))
}

func (c *GeolocCollector) AddBlankedPixels(n int) {
	if c == nil || c.BlankedPixels == nil {
		return
	}
	c.BlankedPixels.Add(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *GeolocCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
