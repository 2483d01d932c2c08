package model

// Spec is the declarative, name-keyed description of a model, as produced
// by a loader. Build turns it into a typed, validated Model.
type Spec struct {
	Pragmas    Pragmas         `yaml:"pragmas"`
	Processors []ProcessorSpec `yaml:"processors"`
	Tasks      []TaskSpec      `yaml:"tasks"`
}

// ProcessorSpec declares a processor.
type ProcessorSpec struct {
	Name         string  `yaml:"name"`
	Scheduling   string  `yaml:"scheduling,omitempty"` // fcfs (default), pri, inf, rr
	Multiplicity int     `yaml:"multiplicity,omitempty"`
	Quantum      float64 `yaml:"quantum,omitempty"`
}

// TaskSpec declares a task with its entries, activities and precedence.
type TaskSpec struct {
	Name         string           `yaml:"name"`
	Processor    string           `yaml:"processor"`
	Kind         string           `yaml:"kind,omitempty"` // server (default), reference, infinite, semaphore
	Multiplicity int              `yaml:"multiplicity,omitempty"`
	Priority     int              `yaml:"priority,omitempty"`
	ThinkTime    float64          `yaml:"think_time,omitempty"`
	QueueLength  int              `yaml:"queue_length,omitempty"` // 0 = unbounded
	Entries      []EntrySpec      `yaml:"entries"`
	Activities   []ActivitySpec   `yaml:"activities,omitempty"`
	Precedence   []PrecedenceSpec `yaml:"precedence,omitempty"`
}

// EntrySpec declares an entry. Exactly one of Phases or Start is used;
// an entry with neither gets a single empty phase.
type EntrySpec struct {
	Name            string         `yaml:"name"`
	Phases          []ActivitySpec `yaml:"phases,omitempty"`
	Start           string         `yaml:"start,omitempty"`
	OpenArrivalRate float64        `yaml:"open_arrival_rate,omitempty"`
	Semaphore       string         `yaml:"semaphore,omitempty"` // signal, wait
	Histogram       *HistogramSpec `yaml:"histogram,omitempty"`
}

// ActivitySpec declares an activity, or a phase when it appears under an
// entry (phases have no name and no replies).
type ActivitySpec struct {
	Name          string     `yaml:"name,omitempty"`
	ServiceTime   float64    `yaml:"service_time,omitempty"`
	CV2           *float64   `yaml:"cv2,omitempty"` // default 1 (exponential)
	ThinkTime     float64    `yaml:"think_time,omitempty"`
	Deterministic bool       `yaml:"deterministic,omitempty"`
	Calls         []CallSpec `yaml:"calls,omitempty"`
	Replies       []string   `yaml:"replies,omitempty"`
}

// CallSpec declares a call from an activity or phase to an entry.
type CallSpec struct {
	To   string  `yaml:"to"`
	Mean float64 `yaml:"mean"`           // calls per invocation, or forwarding probability
	Type string  `yaml:"type,omitempty"` // rendezvous (default), send, forward
}

// PrecedenceSpec connects activities: the Pre side becomes the output list
// of its activities, the Post side the input list of its activities.
type PrecedenceSpec struct {
	Pre           []string  `yaml:"pre"`
	PreType       string    `yaml:"pre_type,omitempty"` // "" (single), and, or
	Quorum        int       `yaml:"quorum,omitempty"`
	Post          []string  `yaml:"post"`
	PostType      string    `yaml:"post_type,omitempty"` // "" (single), and, or, loop
	Probabilities []float64 `yaml:"probabilities,omitempty"`
	Counts        []float64 `yaml:"counts,omitempty"`
	End           string    `yaml:"end,omitempty"`
}

// HistogramSpec requests a cycle-time histogram for an entry.
type HistogramSpec struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Bins int     `yaml:"bins"`
}
