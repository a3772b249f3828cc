package instance

import "time"

// Record is the subset of BotInstance bookkeeping fields the status FSM
// mutates as a side effect of transitions. The full persisted BotInstance
// type lives in the repository package; this is intentionally narrow so
// the FSM does not need to know about manifests, hashes, or deployment
// targets.
type Record struct {
	RunningSince *time.Time
	LastError    string
	ErrorCount   int
	RestartCount int
}

// nowFunc is a seam for deterministic tests; production code leaves it as
// time.Now.
var nowFunc = time.Now
