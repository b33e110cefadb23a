package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lunixbochs/tracecorn/go/models/trace"
)

// Source is what a Collector reads on each scrape. Trace may return nil.
type Source interface {
	Cycles() uint64
	Trace() *trace.Trace
}

// Collector exposes session and trace counters to prometheus. Scrapes must not
// overlap stepping; the session does no locking.
type Collector struct {
	src Source

	cycles       *prometheus.Desc
	flow         *prometheus.Desc
	memory       *prometheus.Desc
	instructions *prometheus.Desc
	open         *prometheus.Desc
}

func NewCollector(src Source, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("tracecorn", "", name), help, labels, constLabels)
	}
	return &Collector{
		src:          src,
		cycles:       desc("cycles_total", "Engine cycles consumed by the session."),
		flow:         desc("flow_events_total", "Traced control flow events by kind.", "kind"),
		memory:       desc("memory_events_total", "Traced memory events by outcome.", "access"),
		instructions: desc("instructions_total", "Traced instructions."),
		open:         desc("open_slices", "Flow slices currently open, summary included."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cycles
	ch <- c.flow
	ch <- c.memory
	ch <- c.instructions
	ch <- c.open
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(c.src.Cycles()))
	t := c.src.Trace()
	if t == nil {
		return
	}
	s := t.Stats()
	counter := func(desc *prometheus.Desc, v uint64, label string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), label)
	}
	counter(c.flow, s.Calls, "call")
	counter(c.flow, s.Returns, "return")
	counter(c.flow, s.Jumps, "jump")
	counter(c.flow, s.Unmatched, "unmatched")
	counter(c.memory, s.MemReads, "read")
	counter(c.memory, s.MemWrites, "write")
	counter(c.memory, s.MemFiltered, "filtered")
	ch <- prometheus.MustNewConstMetric(c.instructions, prometheus.CounterValue, float64(s.Instructions))
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.Open))
}
