package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricewatch_http_request_duration_seconds",
			Help:    "Histogram of response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// PollCycles counts poll cycles by outcome: completed, failed, skipped
	PollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_poll_cycles_total",
			Help: "Number of poll cycles by result",
		},
		[]string{"result"},
	)

	PollCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_poll_cycle_duration_seconds",
			Help:    "Duration of complete poll cycles",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	ProductChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_product_checks_total",
			Help: "Number of product checks by result",
		},
		[]string{"result"},
	)

	PriceDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_price_drops_total",
			Help: "Number of detected price drops",
		},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_notifications_total",
			Help: "Number of price drop notifications by delivery result",
		},
		[]string{"result"},
	)

	ObservationsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_observations_swept_total",
			Help: "Number of price observations removed by retention sweeps",
		},
	)

	//ExtractDuration measures how long a product page scrape takes
	ExtractDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricewatch_extract_duration_seconds",
			Help:    "Duration of product page extractions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
)

func Init() {
	prometheus.MustRegister(
		HTTPRequests,
		RequestDuration,
		PollCycles,
		PollCycleDuration,
		ProductChecks,
		PriceDrops,
		Notifications,
		ObservationsSwept,
		ExtractDuration,
	)
}
