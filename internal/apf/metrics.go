package apf

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports APF tuner bookkeeping as Prometheus metrics: one fetch
// counter per registered Tuner, labeled by its bin id. Tuners register
// themselves on construction and deregister on teardown, so Collect always
// reflects the live set of active thread-cache bins.
type Collector struct {
	fetchCount *prometheus.Desc

	mu     sync.Mutex
	tuners map[int64]*Tuner
}

// NewCollector returns a Collector with no tuners registered yet; callers
// wire it into a registry and then Register/Unregister tuners as caches
// come and go.
func NewCollector() *Collector {
	return &Collector{
		fetchCount: prometheus.NewDesc(
			"apfalloc_tuner_fetch_count",
			"Number of times this bin's APF tuner has triggered a heap fetch.",
			[]string{"bin"}, nil,
		),
		tuners: make(map[int64]*Tuner),
	}
}

// Register adds t to the set of tuners this collector reports on.
func (c *Collector) Register(t *Tuner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tuners[t.InstanceID] = t
}

// Unregister removes t, e.g. when its owning cache is torn down.
func (c *Collector) Unregister(t *Tuner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tuners, t.InstanceID)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.fetchCount
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tuners {
		ch <- prometheus.MustNewConstMetric(
			c.fetchCount, prometheus.CounterValue,
			float64(t.FetchCount()), strconv.Itoa(t.id),
		)
	}
}
