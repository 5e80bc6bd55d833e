package metrics

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shuttle-tracker/internal/tracking"
)

type Collector struct {
	reg *prometheus.Registry

	ReportsAccepted *prometheus.CounterVec // role, authoritative
	ReportsRejected *prometheus.CounterVec // reason: validation|authorization|not_found|rate_limited|internal
	Transitions     *prometheus.CounterVec // kind label: position|arrived|departed|advanced|reset
	Confirmations   *prometheus.CounterVec // duplicate label
	Resets          *prometheus.CounterVec // trigger label: startup|manual|scheduled
	Clusters        *prometheus.GaugeVec   // bus label

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	HTTPDuration    *prometheus.HistogramVec // method, route, status
	PublishDuration prometheus.Histogram

	Quorum          prometheus.Gauge
	StalenessWindow prometheus.Gauge // seconds
	ArrivalRadius   prometheus.Gauge // meters
}

func NewCollector(quorum int, stalenessWindow time.Duration, arrivalRadius float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ReportsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_reports_accepted_total",
			Help: "Location reports accepted, by reporter role and whether they moved the bus.",
		}, []string{"role", "authoritative"}),
		ReportsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_reports_rejected_total",
			Help: "Location reports rejected, by reason.",
		}, []string{"reason"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_state_transitions_total",
			Help: "Committed bus state changes, by kind.",
		}, []string{"kind"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_confirmations_total",
			Help: "Arrival confirmations received.",
		}, []string{"duplicate"}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_resets_total",
			Help: "Bus resets to the first stop, by trigger.",
		}, []string{"trigger"}),
		Clusters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_location_clusters",
			Help: "Clusters found in the latest active-locations computation.",
		}, []string{"bus"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracker_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"method", "route", "status"}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		Quorum: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_confirmation_quorum",
			Help: "Confirmations needed to advance a bus without GPS.",
		}),
		StalenessWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_staleness_window_seconds",
			Help: "Age after which a GPS source loses authority.",
		}),
		ArrivalRadius: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_arrival_radius_meters",
			Help: "Distance within which a bus is considered at a stop.",
		}),
	}

	reg.MustRegister(
		c.ReportsAccepted, c.ReportsRejected, c.Transitions,
		c.Confirmations, c.Resets, c.Clusters,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.HTTPDuration, c.PublishDuration,
		c.Quorum, c.StalenessWindow, c.ArrivalRadius,
	)

	c.Quorum.Set(float64(quorum))
	c.StalenessWindow.Set(stalenessWindow.Seconds())
	c.ArrivalRadius.Set(arrivalRadius)

	return c
}

func (c *Collector) ReportAccepted(role tracking.Role, authoritative bool) {
	c.ReportsAccepted.WithLabelValues(string(role), strconv.FormatBool(authoritative)).Inc()
}

func (c *Collector) ReportRejected(reason string) {
	c.ReportsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) Transition(kind tracking.EventKind) {
	c.Transitions.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) ConfirmationRecorded(duplicate bool) {
	c.Confirmations.WithLabelValues(strconv.FormatBool(duplicate)).Inc()
}

func (c *Collector) ClustersObserved(busID string, n int) {
	c.Clusters.WithLabelValues(busID).Set(float64(n))
}

func (c *Collector) ResetPerformed(trigger string) {
	c.Resets.WithLabelValues(trigger).Inc()
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }

func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
