// Package sim is the root of the lqsim execution core, a discrete-event
// simulator for layered queueing networks.
//
// # Reading Guide
//
// Start with these packages, leaf to root:
//   - stats/: batch-means Result accumulator and the Student-t table
//   - model/: tasks, entries, activities, activity lists and calls; the
//     configure pass that resolves the precedence graph
//   - kernel/: the virtual-time kernel (processes, ports, processors)
//   - engine/: the run-time interpreter (instances, fork/join threads,
//     replies) and the batch run loop
//   - sink/: result publication (YAML record, log lines, Prometheus)
//   - loader/: YAML and HCL model files decoded into a model.Spec
//
// # Architecture
//
// A model is declared as a model.Spec (usually decoded by loader/ from YAML
// or HCL), turned into an immutable typed graph by model.Build, and
// simulated by engine.New(...).Run. Results are written into the model's
// stats.Result fields and published to a sink.Sink after every batch.
//
// All randomness flows from a PartitionedRNG keyed by the model seed, so a
// run is reproducible bit for bit.
package sim
