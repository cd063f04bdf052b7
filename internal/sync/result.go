package sync

import "github.com/mirrorops/mirrorsyncd/internal/refs"

// Status is the terminal state of one ref's cycle.
type Status string

const (
	// StatusNoChange means reconciliation produced an empty diff.
	StatusNoChange Status = "no-change"
	// StatusPublished means the ref was committed and force-pushed.
	StatusPublished Status = "published"
	// StatusFailed means the ref's publish step failed; later refs still ran.
	StatusFailed Status = "failed"
)

// RefResult records the outcome of one ref's cycle.
type RefResult struct {
	Ref    refs.Ref
	Status Status
	// Err is the publish error when Status is StatusFailed.
	Err error
	// TriggerErr is set when the ref published but its downstream build
	// dispatch failed.
	TriggerErr error
}

// Result is the report of a complete mirror run.
type Result struct {
	// Refs holds one entry per processed ref, in processing order.
	Refs []RefResult
	// Updated lists the refs whose content changed, in processing order.
	// It is the input to the downstream build fan-out.
	Updated []string
}

// Failed reports whether any ref's publish or build dispatch failed.
func (r *Result) Failed() bool {
	for _, rr := range r.Refs {
		if rr.Err != nil || rr.TriggerErr != nil {
			return true
		}
	}
	return false
}
