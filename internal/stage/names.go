// Package stage defines the stage-function contract, the runner that
// executes stages with retry and per-item fallback semantics, and the
// built-in heuristic stage implementations. Replacement stage functions
// (for example LLM-backed ones) plug in through the Registry.
package stage

// Stage names, in pipeline order. The orchestrator sequences them; the
// checkpoint chain records them as resumption points.
const (
	Detect         = "detect"
	Extract        = "extract"
	DepMap         = "depmap"
	Score          = "score"
	Route          = "route"
	Approve        = "approve"
	RequestContext = "request_context"
	Enrich         = "enrich"
	Consolidate    = "consolidate"
	Risk           = "risk"
	Export         = "export"
	Done           = "done"
)

// ItemScoped reports whether failures in the named stage are caught per
// item and replaced with degraded fallbacks. Failures in the remaining
// stages are fatal for the session.
func ItemScoped(name string) bool {
	switch name {
	case Score, Enrich, Consolidate, Risk:
		return true
	}
	return false
}
