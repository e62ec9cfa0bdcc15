// Package scheduler owns the set of scheduled tasks and drives the dispatch
// loop that fires them.
//
// One Service instance is one independently lifecycled scheduler: construct,
// Start, Stop, restart. There is no process-wide singleton, so multiple
// instances (one per bot) coexist in tests without interference.
package scheduler
