package sink

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/layeredqueuing/lqsim/sim/stats"
)

// Record keeps the latest value of every setter in memory.
type Record struct {
	Throughput      map[string]Stat             `yaml:"throughput,omitempty"`
	Utilization     map[string]Stat             `yaml:"utilization,omitempty"`
	Waiting         map[string]Stat             `yaml:"waiting,omitempty"`
	Loss            map[string]Stat             `yaml:"loss_probability,omitempty"`
	JoinDelay       map[string]Stat             `yaml:"join_delay,omitempty"`
	PhaseService    map[string]map[int]Stat     `yaml:"phase_service_time,omitempty"`
	SquaredCV       map[string]float64          `yaml:"squared_cv,omitempty"`
	Histograms      map[string]*stats.Histogram `yaml:"histograms,omitempty"`
	Batches         int                         `yaml:"batches"`
	RMSConfidence   float64                     `yaml:"rms_confidence"`
	RMSBatchHistory []float64                   `yaml:"-"`
}

// NewRecord creates an empty Record.
func NewRecord() *Record {
	return &Record{
		Throughput:   make(map[string]Stat),
		Utilization:  make(map[string]Stat),
		Waiting:      make(map[string]Stat),
		Loss:         make(map[string]Stat),
		JoinDelay:    make(map[string]Stat),
		PhaseService: make(map[string]map[int]Stat),
		SquaredCV:    make(map[string]float64),
		Histograms:   make(map[string]*stats.Histogram),
	}
}

func (r *Record) SetThroughput(name string, s Stat)      { r.Throughput[name] = s }
func (r *Record) SetUtilization(name string, s Stat)     { r.Utilization[name] = s }
func (r *Record) SetWaiting(name string, s Stat)         { r.Waiting[name] = s }
func (r *Record) SetLossProbability(name string, s Stat) { r.Loss[name] = s }
func (r *Record) SetJoinDelay(name string, s Stat)       { r.JoinDelay[name] = s }

func (r *Record) SetPhaseServiceTime(name string, phase int, s Stat) {
	if r.PhaseService[name] == nil {
		r.PhaseService[name] = make(map[int]Stat)
	}
	r.PhaseService[name][phase] = s
}

func (r *Record) SetSquaredCoeffVariation(name string, cv2 float64) { r.SquaredCV[name] = cv2 }

// SetHistogram keeps a copy, so later resets of h do not change the record.
func (r *Record) SetHistogram(name string, h *stats.Histogram) {
	c := *h
	c.Counts = append([]float64(nil), h.Counts...)
	r.Histograms[name] = &c
}

func (r *Record) SetBatch(n int, rms float64) {
	r.Batches = n
	r.RMSConfidence = rms
	r.RMSBatchHistory = append(r.RMSBatchHistory, rms)
}

// WriteYAML encodes the record.
func (r *Record) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	return enc.Close()
}

// SaveYAML writes the record to path.
func (r *Record) SaveYAML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating results file: %w", err)
	}
	if err := r.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Names returns the sorted keys of a stat map.
func Names(m map[string]Stat) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
