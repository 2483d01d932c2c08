package sink

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/layeredqueuing/lqsim/sim/stats"
)

// Prometheus exposes results as gauges in a private registry. The registry
// can be written as a node-exporter textfile after the run.
type Prometheus struct {
	Registry *prometheus.Registry

	throughput   *prometheus.GaugeVec
	utilization  *prometheus.GaugeVec
	waiting      *prometheus.GaugeVec
	loss         *prometheus.GaugeVec
	joinDelay    *prometheus.GaugeVec
	phaseService *prometheus.GaugeVec
	cv2          *prometheus.GaugeVec
	histogram    *prometheus.GaugeVec
	batches      prometheus.Gauge
	rms          prometheus.Gauge
}

// NewPrometheus creates the gauges and registers them.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	vec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "lqsim_" + name, Help: help}, labels)
		reg.MustRegister(g)
		return g
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "lqsim_" + name, Help: help})
		reg.MustRegister(g)
		return g
	}
	return &Prometheus{
		Registry:     reg,
		throughput:   vec("throughput", "Mean throughput", "name", "stat"),
		utilization:  vec("utilization", "Mean utilization", "name", "stat"),
		waiting:      vec("waiting_time", "Mean waiting time", "name", "stat"),
		loss:         vec("loss_probability", "Probability an asynchronous send is dropped", "name", "stat"),
		joinDelay:    vec("join_delay", "Mean join delay", "name", "stat"),
		phaseService: vec("phase_service_time", "Mean phase service time", "name", "phase", "stat"),
		cv2:          vec("squared_cv", "Squared coefficient of variation of service time", "name"),
		histogram:    vec("histogram_bin", "Histogram bin counts", "name", "bin"),
		batches:      gauge("batches", "Completed batches"),
		rms:          gauge("rms_confidence_percent", "RMS of the 95% cycle-time confidence half-widths, percent of mean"),
	}
}

func set(v *prometheus.GaugeVec, s Stat, labels ...string) {
	v.WithLabelValues(append(labels, "mean")...).Set(s.Mean)
	v.WithLabelValues(append(labels, "conf95")...).Set(s.Confidence95)
}

func (p *Prometheus) SetThroughput(name string, s Stat)      { set(p.throughput, s, name) }
func (p *Prometheus) SetUtilization(name string, s Stat)     { set(p.utilization, s, name) }
func (p *Prometheus) SetWaiting(name string, s Stat)         { set(p.waiting, s, name) }
func (p *Prometheus) SetLossProbability(name string, s Stat) { set(p.loss, s, name) }
func (p *Prometheus) SetJoinDelay(name string, s Stat)       { set(p.joinDelay, s, name) }

func (p *Prometheus) SetPhaseServiceTime(name string, phase int, s Stat) {
	set(p.phaseService, s, name, strconv.Itoa(phase))
}

func (p *Prometheus) SetSquaredCoeffVariation(name string, cv2 float64) {
	p.cv2.WithLabelValues(name).Set(cv2)
}

func (p *Prometheus) SetHistogram(name string, h *stats.Histogram) {
	p.histogram.WithLabelValues(name, "underflow").Set(h.Underflow)
	for i, c := range h.Counts {
		lo := h.Min + float64(i)*h.Width()
		p.histogram.WithLabelValues(name, strconv.FormatFloat(lo, 'g', -1, 64)).Set(c)
	}
	p.histogram.WithLabelValues(name, "overflow").Set(h.Overflow)
}

func (p *Prometheus) SetBatch(n int, rms float64) {
	p.batches.Set(float64(n))
	p.rms.Set(rms)
}

// WriteTextfile writes the registry in the text exposition format.
func (p *Prometheus) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.Registry); err != nil {
		return fmt.Errorf("writing metrics file: %w", err)
	}
	return nil
}
