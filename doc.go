// Package taskgraph is a lightweight task-graph execution engine. Users
// compose tasks that declare upstream dependencies by construction; the
// engine discovers the transitive dependency graph, runs tasks in a
// parallel-safe order, persists each task's output in a content-addressed
// on-disk cache, and replays cached results on subsequent runs whose inputs
// are unchanged.
package taskgraph
