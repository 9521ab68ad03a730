// Package metrics exports channel, queue and epoch counters to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aradilov/ringchan"
	"github.com/aradilov/ringchan/epoch"
)

// Collector implements prometheus.Collector over a set of registered
// channels and an epoch collector. Values are read at scrape time.
type Collector struct {
	mu      sync.RWMutex
	sources map[string]ringchan.StatsSource
	epoch   *epoch.Collector

	pending   *prometheus.Desc
	senders   *prometheus.Desc
	sent      *prometheus.Desc
	received  *prometheus.Desc
	segments  *prometheus.Desc
	recycled  *prometheus.Desc
	inFlight  *prometheus.Desc
	epochNow  *prometheus.Desc
	advances  *prometheus.Desc
	reclaimed *prometheus.Desc
	garbage   *prometheus.Desc
}

// NewCollector creates a collector. A nil epoch collector means
// epoch.Default().
func NewCollector(namespace string, ec *epoch.Collector) *Collector {
	if ec == nil {
		ec = epoch.Default()
	}
	labels := []string{"channel", "kind"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		sources: make(map[string]ringchan.StatsSource),
		epoch:   ec,

		pending:   desc("channel_pending_messages", "Messages sent and not yet received", labels),
		senders:   desc("channel_senders", "Live sender handles", labels),
		sent:      desc("channel_sent_total", "Messages sent", labels),
		received:  desc("channel_received_total", "Messages received", labels),
		segments:  desc("queue_segments_allocated_total", "Queue segments allocated", labels),
		recycled:  desc("queue_segments_recycled_total", "Queue segments recycled after their grace period", labels),
		inFlight:  desc("queue_pop_in_flight_total", "Pops that found a reserved but unpublished position", labels),
		epochNow:  desc("epoch_current", "Global reclamation epoch", nil),
		advances:  desc("epoch_advances_total", "Epoch advances", nil),
		reclaimed: desc("epoch_reclaimed_total", "Retired objects reclaimed", nil),
		garbage:   desc("epoch_pending_garbage", "Retired objects waiting for their grace period", nil),
	}
}

// Register adds a channel. A later registration with the same name
// replaces the earlier one.
func (c *Collector) Register(src ringchan.StatsSource) {
	name := src.Stats().Name
	c.mu.Lock()
	c.sources[name] = src
	c.mu.Unlock()
}

// Unregister removes a channel by name.
func (c *Collector) Unregister(name string) {
	c.mu.Lock()
	delete(c.sources, name)
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.pending, c.senders, c.sent, c.received, c.segments, c.recycled,
		c.inFlight, c.epochNow, c.advances, c.reclaimed, c.garbage,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	snapshots := make([]ringchan.ChannelStats, 0, len(c.sources))
	for _, src := range c.sources {
		snapshots = append(snapshots, src.Stats())
	}
	c.mu.RUnlock()

	for _, s := range snapshots {
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending), s.Name, s.Kind)
		ch <- prometheus.MustNewConstMetric(c.senders, prometheus.GaugeValue, float64(s.Senders), s.Name, s.Kind)
		ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(s.Sent), s.Name, s.Kind)
		ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(s.Received), s.Name, s.Kind)
		ch <- prometheus.MustNewConstMetric(c.segments, prometheus.CounterValue, float64(s.Queue.SegmentsAllocated), s.Name, s.Kind)
		ch <- prometheus.MustNewConstMetric(c.recycled, prometheus.CounterValue, float64(s.Queue.SegmentsRecycled), s.Name, s.Kind)
		ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.CounterValue, float64(s.Queue.PopInFlight), s.Name, s.Kind)
	}

	es := c.epoch.Stats()
	ch <- prometheus.MustNewConstMetric(c.epochNow, prometheus.GaugeValue, float64(es.Epoch))
	ch <- prometheus.MustNewConstMetric(c.advances, prometheus.CounterValue, float64(es.Advances))
	ch <- prometheus.MustNewConstMetric(c.reclaimed, prometheus.CounterValue, float64(es.Reclaimed))
	ch <- prometheus.MustNewConstMetric(c.garbage, prometheus.GaugeValue, float64(es.Pending))
}
