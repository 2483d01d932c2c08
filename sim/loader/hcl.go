package loader

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/layeredqueuing/lqsim/sim/model"
)

// hclFile is the top-level structure of an HCL model for decoding.
type hclFile struct {
	Pragmas    *hclPragmas     `hcl:"pragmas,block"`
	Processors []*hclProcessor `hcl:"processor,block"`
	Tasks      []*hclTask      `hcl:"task,block"`
}

type hclPragmas struct {
	Seed                  int64   `hcl:"seed,optional"`
	Precision             float64 `hcl:"precision,optional"`
	BlockPeriod           float64 `hcl:"block_period,optional"`
	MaxBlocks             int     `hcl:"max_blocks,optional"`
	InitialDelay          float64 `hcl:"initial_delay,optional"`
	ErrorThreshold        int     `hcl:"error_threshold,optional"`
	RescheduleOnAsyncSend bool    `hcl:"reschedule_on_async_send,optional"`
	StrictQueueLength     bool    `hcl:"strict_queue_length,optional"`
	FloatAdvisories       bool    `hcl:"float_advisories,optional"`
}

type hclProcessor struct {
	Name         string  `hcl:"name,label"`
	Scheduling   string  `hcl:"scheduling,optional"`
	Multiplicity int     `hcl:"multiplicity,optional"`
	Quantum      float64 `hcl:"quantum,optional"`
}

type hclTask struct {
	Name         string           `hcl:"name,label"`
	Processor    string           `hcl:"processor"`
	Kind         string           `hcl:"kind,optional"`
	Multiplicity int              `hcl:"multiplicity,optional"`
	Priority     int              `hcl:"priority,optional"`
	ThinkTime    float64          `hcl:"think_time,optional"`
	QueueLength  int              `hcl:"queue_length,optional"`
	Entries      []*hclEntry      `hcl:"entry,block"`
	Activities   []*hclActivity   `hcl:"activity,block"`
	Precedence   []*hclPrecedence `hcl:"precedence,block"`
}

type hclEntry struct {
	Name            string        `hcl:"name,label"`
	Start           string        `hcl:"start,optional"`
	OpenArrivalRate float64       `hcl:"open_arrival_rate,optional"`
	Semaphore       string        `hcl:"semaphore,optional"`
	Phases          []*hclPhase   `hcl:"phase,block"`
	Histogram       *hclHistogram `hcl:"histogram,block"`
}

type hclPhase struct {
	ServiceTime   float64    `hcl:"service_time,optional"`
	CV2           *float64   `hcl:"cv2,optional"`
	ThinkTime     float64    `hcl:"think_time,optional"`
	Deterministic bool       `hcl:"deterministic,optional"`
	Calls         []*hclCall `hcl:"call,block"`
}

type hclActivity struct {
	Name          string     `hcl:"name,label"`
	ServiceTime   float64    `hcl:"service_time,optional"`
	CV2           *float64   `hcl:"cv2,optional"`
	ThinkTime     float64    `hcl:"think_time,optional"`
	Deterministic bool       `hcl:"deterministic,optional"`
	Replies       []string   `hcl:"replies,optional"`
	Calls         []*hclCall `hcl:"call,block"`
}

type hclCall struct {
	To   string  `hcl:"to,label"`
	Mean float64 `hcl:"mean"`
	Type string  `hcl:"type,optional"`
}

type hclPrecedence struct {
	Pre           []string  `hcl:"pre"`
	PreType       string    `hcl:"pre_type,optional"`
	Quorum        int       `hcl:"quorum,optional"`
	Post          []string  `hcl:"post,optional"`
	PostType      string    `hcl:"post_type,optional"`
	Probabilities []float64 `hcl:"probabilities,optional"`
	Counts        []float64 `hcl:"counts,optional"`
	End           string    `hcl:"end,optional"`
}

type hclHistogram struct {
	Min  float64 `hcl:"min"`
	Max  float64 `hcl:"max"`
	Bins int     `hcl:"bins"`
}

// ParseHCL decodes an HCL model. filename is used in diagnostics. Each var
// is available to expressions as var.NAME: numeric values as numbers,
// anything else as a string.
func ParseHCL(data []byte, filename string, vars map[string]string) (*model.Spec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(file.Body, evalContext(vars), &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	return parsed.spec(), nil
}

func evalContext(vars map[string]string) *hcl.EvalContext {
	values := make(map[string]cty.Value, len(vars))
	for name, raw := range vars {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			values[name] = cty.NumberFloatVal(f)
		} else {
			values[name] = cty.StringVal(raw)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": cty.ObjectVal(values)},
	}
}

func (f *hclFile) spec() *model.Spec {
	spec := &model.Spec{}
	if p := f.Pragmas; p != nil {
		spec.Pragmas = model.Pragmas{
			Seed:                  p.Seed,
			Precision:             p.Precision,
			BlockPeriod:           p.BlockPeriod,
			MaxBlocks:             p.MaxBlocks,
			InitialDelay:          p.InitialDelay,
			ErrorThreshold:        p.ErrorThreshold,
			RescheduleOnAsyncSend: p.RescheduleOnAsyncSend,
			StrictQueueLength:     p.StrictQueueLength,
			FloatAdvisories:       p.FloatAdvisories,
		}
	}
	for _, p := range f.Processors {
		spec.Processors = append(spec.Processors, model.ProcessorSpec{
			Name:         p.Name,
			Scheduling:   p.Scheduling,
			Multiplicity: p.Multiplicity,
			Quantum:      p.Quantum,
		})
	}
	for _, t := range f.Tasks {
		spec.Tasks = append(spec.Tasks, t.spec())
	}
	return spec
}

func (t *hclTask) spec() model.TaskSpec {
	ts := model.TaskSpec{
		Name:         t.Name,
		Processor:    t.Processor,
		Kind:         t.Kind,
		Multiplicity: t.Multiplicity,
		Priority:     t.Priority,
		ThinkTime:    t.ThinkTime,
		QueueLength:  t.QueueLength,
	}
	for _, e := range t.Entries {
		es := model.EntrySpec{
			Name:            e.Name,
			Start:           e.Start,
			OpenArrivalRate: e.OpenArrivalRate,
			Semaphore:       e.Semaphore,
		}
		for _, ph := range e.Phases {
			es.Phases = append(es.Phases, model.ActivitySpec{
				ServiceTime:   ph.ServiceTime,
				CV2:           ph.CV2,
				ThinkTime:     ph.ThinkTime,
				Deterministic: ph.Deterministic,
				Calls:         calls(ph.Calls),
			})
		}
		if h := e.Histogram; h != nil {
			es.Histogram = &model.HistogramSpec{Min: h.Min, Max: h.Max, Bins: h.Bins}
		}
		ts.Entries = append(ts.Entries, es)
	}
	for _, a := range t.Activities {
		ts.Activities = append(ts.Activities, model.ActivitySpec{
			Name:          a.Name,
			ServiceTime:   a.ServiceTime,
			CV2:           a.CV2,
			ThinkTime:     a.ThinkTime,
			Deterministic: a.Deterministic,
			Calls:         calls(a.Calls),
			Replies:       a.Replies,
		})
	}
	for _, p := range t.Precedence {
		ts.Precedence = append(ts.Precedence, model.PrecedenceSpec{
			Pre:           p.Pre,
			PreType:       p.PreType,
			Quorum:        p.Quorum,
			Post:          p.Post,
			PostType:      p.PostType,
			Probabilities: p.Probabilities,
			Counts:        p.Counts,
			End:           p.End,
		})
	}
	return ts
}

func calls(in []*hclCall) []model.CallSpec {
	var out []model.CallSpec
	for _, c := range in {
		out = append(out, model.CallSpec{To: c.To, Mean: c.Mean, Type: c.Type})
	}
	return out
}
