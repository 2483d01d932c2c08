package sink

import (
	"github.com/sirupsen/logrus"

	"github.com/layeredqueuing/lqsim/sim/stats"
)

// Log writes results as structured log lines. Batch progress is logged at
// Info, everything else at Debug.
type Log struct {
	Entry *logrus.Entry
}

// NewLog creates a Log sink on the standard logger.
func NewLog() *Log { return &Log{Entry: logrus.NewEntry(logrus.StandardLogger())} }

func (l *Log) stat(kind, name string, s Stat) {
	l.Entry.WithFields(logrus.Fields{
		"kind": kind, "name": name, "mean": s.Mean, "conf95": s.Confidence95,
	}).Debug("result")
}

func (l *Log) SetThroughput(name string, s Stat)      { l.stat("throughput", name, s) }
func (l *Log) SetUtilization(name string, s Stat)     { l.stat("utilization", name, s) }
func (l *Log) SetWaiting(name string, s Stat)         { l.stat("waiting", name, s) }
func (l *Log) SetLossProbability(name string, s Stat) { l.stat("loss", name, s) }
func (l *Log) SetJoinDelay(name string, s Stat)       { l.stat("join_delay", name, s) }

func (l *Log) SetPhaseServiceTime(name string, phase int, s Stat) {
	l.Entry.WithFields(logrus.Fields{
		"kind": "phase_service", "name": name, "phase": phase, "mean": s.Mean, "conf95": s.Confidence95,
	}).Debug("result")
}

func (l *Log) SetSquaredCoeffVariation(name string, cv2 float64) {
	l.Entry.WithFields(logrus.Fields{"kind": "cv2", "name": name, "value": cv2}).Debug("result")
}

func (l *Log) SetHistogram(name string, h *stats.Histogram) {
	l.Entry.WithFields(logrus.Fields{"kind": "histogram", "name": name, "total": h.Total()}).Debug("result")
}

func (l *Log) SetBatch(n int, rms float64) {
	l.Entry.WithFields(logrus.Fields{"batch": n, "rms_confidence": rms}).Info("batch complete")
}
