package prometheus

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Enabled bool
	Port    string
}

type Client struct {
	config     Config
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func Init(cfg Config) (*Client, error) {
	c := &Client{
		config:     cfg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	if cfg.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		go func() {
			http.ListenAndServe(":"+cfg.Port, mux)
		}()
	}

	return c, nil
}

func (c *Client) Incr(name string, tags []string, rate float64) {
	if c == nil || !c.config.Enabled {
		return
	}

	labels, values := splitTags(tags)

	c.mu.Lock()
	counter, exists := c.counters[name]
	if !exists {
		counter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: sanitize(name),
			},
			labels,
		)
		prometheus.MustRegister(counter)
		c.counters[name] = counter
	}
	c.mu.Unlock()

	counter.WithLabelValues(values...).Inc()
}

func (c *Client) Timing(name string, value time.Duration, tags []string, rate float64) {
	c.observe(name, float64(value.Milliseconds()), tags)
}

func (c *Client) Distribution(name string, value float64, tags []string, rate float64) {
	c.observe(name, value, tags)
}

func (c *Client) observe(name string, value float64, tags []string) {
	if c == nil || !c.config.Enabled {
		return
	}

	labels, values := splitTags(tags)

	c.mu.Lock()
	histogram, exists := c.histograms[name]
	if !exists {
		histogram = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: sanitize(name),
			},
			labels,
		)
		prometheus.MustRegister(histogram)
		c.histograms[name] = histogram
	}
	c.mu.Unlock()

	histogram.WithLabelValues(values...).Observe(value)
}

// splitTags turns statsd style "key:value" tags into sorted prometheus
// label names and values. A metric name must always be emitted with the
// same tag keys.
func splitTags(tags []string) ([]string, []string) {
	pairs := make([][2]string, 0, len(tags))
	for _, tag := range tags {
		k, v, found := strings.Cut(tag, ":")
		if !found {
			continue
		}

		pairs = append(pairs, [2]string{sanitize(k), v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i][0] < pairs[j][0]
	})

	labels := make([]string, 0, len(pairs))
	values := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		labels = append(labels, pair[0])
		values = append(values, pair[1])
	}

	return labels, values
}

func sanitize(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
