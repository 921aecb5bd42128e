package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ApexChef/groomflow/internal/depgraph"
	"github.com/ApexChef/groomflow/internal/errors"
	"github.com/ApexChef/groomflow/internal/item"
	"github.com/ApexChef/groomflow/internal/state"
)

// Builtins constructs the default heuristic stage functions. They are
// deterministic and self-contained so the pipeline is fully exercisable
// without external services; production deployments replace individual
// registry entries with LLM-backed functions.
type Builtins struct {
	// Retriever backs the enrichment stage's reference lookup.
	Retriever Retriever
	// ExportDir is where the export stage writes the vetted backlog.
	ExportDir string
	// Parallelism bounds per-item concurrency in item-scoped stages.
	Parallelism int
}

// Registry returns a Registry with every pipeline stage bound to its
// built-in implementation.
func (b Builtins) Registry() *Registry {
	if b.Retriever == nil {
		b.Retriever = NopRetriever{}
	}
	if b.Parallelism < 1 {
		b.Parallelism = 1
	}

	r := NewRegistry()
	r.Register(Detect, detectStage)
	r.Register(Extract, extractStage)
	r.Register(DepMap, depMapStage)
	r.Register(Score, b.scoreStage)
	r.Register(Enrich, b.enrichStage)
	r.Register(Consolidate, b.consolidateStage)
	r.Register(Risk, b.riskStage)
	r.Register(Export, b.exportStage)
	return r
}

// -----------------------------------------------------------------------------
// Detect
// -----------------------------------------------------------------------------

// detectStage classifies the transcript's meeting type. An empty transcript
// is a permanent, fatal failure: nothing downstream can work without input.
func detectStage(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
	if strings.TrimSpace(snap.Transcript) == "" {
		return state.Patch{}, errors.NewPermanent(Detect, errors.New("transcript is empty"))
	}

	lower := strings.ToLower(snap.Transcript)
	eventType := "planning"
	switch {
	case strings.Contains(lower, "incident") || strings.Contains(lower, "outage") || strings.Contains(lower, "postmortem"):
		eventType = "incident-review"
	case strings.Contains(lower, "retro"):
		eventType = "retrospective"
	case strings.Contains(lower, "standup") || strings.Contains(lower, "stand-up") || strings.Contains(lower, "yesterday i"):
		eventType = "standup"
	}

	return state.Patch{EventType: &eventType}, nil
}

// -----------------------------------------------------------------------------
// Extract
// -----------------------------------------------------------------------------

var actionMarkers = []string{"todo:", "action:", "action item", "we need to", "we should", "let's ", "next step"}

// extractStage mines candidate work items out of the transcript. Failure to
// parse is fatal for the session; extracting zero items is not an error.
func extractStage(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
	lines := strings.Split(snap.Transcript, "\n")

	var patch state.Patch
	n := 0
	for i, raw := range lines {
		text, ok := actionText(raw)
		if !ok {
			continue
		}
		n++

		id := fmt.Sprintf("WI-%03d", n)
		patch.WorkItems = append(patch.WorkItems, item.WorkItem{
			ID:            id,
			Title:         itemTitle(text),
			Type:          inferType(text),
			RawContext:    surrounding(lines, i),
			ExtractedText: text,
		})
		patch.Routing = append(patch.Routing, item.RoutingStatus{
			WorkItemID: id,
			Status:     item.StatusPending,
		})
	}

	return patch, nil
}

// actionText reports whether a transcript line proposes work, returning the
// cleaned text.
func actionText(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"- [ ]", "- ", "* ", "• "} {
		if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
			rest = strings.TrimSpace(rest)
			return rest, rest != ""
		}
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range actionMarkers {
		if strings.Contains(lower, marker) {
			return trimmed, true
		}
	}
	return "", false
}

// itemTitle derives a short title from extracted text.
func itemTitle(text string) string {
	title := text
	if i := strings.IndexAny(title, ".;"); i > 0 {
		title = title[:i]
	}
	words := strings.Fields(title)
	if len(words) > 12 {
		words = words[:12]
	}
	return strings.Join(words, " ")
}

// inferType guesses a work item type from its text.
func inferType(text string) item.Type {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "bug", "broken", "crash", "fix ", "fails", "error"):
		return item.TypeBug
	case containsAny(lower, "investigate", "research", "explore", "spike", "prototype"):
		return item.TypeSpike
	case containsAny(lower, "refactor", "cleanup", "clean up", "tech debt", "migrate", "upgrade"):
		return item.TypeTechDebt
	default:
		return item.TypeFeature
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// surrounding returns the line plus one line of context on each side.
func surrounding(lines []string, i int) string {
	start := max(0, i-1)
	end := min(len(lines), i+2)
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

// -----------------------------------------------------------------------------
// Dependency mapping
// -----------------------------------------------------------------------------

var dependencyCues = []string{"after", "depends on", "blocked by", "once we", "requires"}

// depMapStage derives candidate edges over the full item set, cleans them
// through the cycle resolver, and assigns sequence positions from the
// topological order. A cycle that survives cleaning is an anomaly and fatal
// for this stage.
func depMapStage(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
	items := snap.WorkItems
	var edges []item.DependencyEdge

	for _, a := range items {
		for _, b := range items {
			if a.ID == b.ID {
				continue
			}
			bText := strings.ToLower(b.ExtractedText)

			switch {
			case strings.Contains(b.ExtractedText, a.ID):
				edges = append(edges, item.DependencyEdge{
					Source: a.ID, Target: b.ID,
					Kind: item.EdgeBlocks, Strength: item.StrengthHard,
					Reason: fmt.Sprintf("%s references %s explicitly", b.ID, a.ID),
				})
			case containsAny(bText, dependencyCues...) && titleOverlap(a, b) >= 2:
				edges = append(edges, item.DependencyEdge{
					Source: a.ID, Target: b.ID,
					Kind: item.EdgeBlocks, Strength: item.StrengthSoft,
					Reason: fmt.Sprintf("%s appears to depend on work described in %s", b.ID, a.ID),
				})
			case titleOverlap(a, b) >= 2 && a.ID < b.ID:
				edges = append(edges, item.DependencyEdge{
					Source: a.ID, Target: b.ID,
					Kind: item.EdgeRelatesTo, Strength: item.StrengthSoft,
					Reason: "overlapping subject matter",
				})
			}
		}
	}

	res := depgraph.Resolve(edges)

	ids := make([]string, len(items))
	for i, wi := range items {
		ids[i] = wi.ID
	}
	order, ok := depgraph.TopoOrder(ids, res.CleanedEdges)
	if !ok {
		// Should be unreachable post-clean; do not proceed with
		// unordered data.
		return state.Patch{}, errors.NewPermanent(DepMap, errors.ErrDependencyCycle)
	}

	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i + 1
	}

	patch := state.Patch{Edges: res.CleanedEdges, SetEdges: true}
	for _, wi := range items {
		patch.WorkItems = append(patch.WorkItems, item.WorkItem{
			ID:             wi.ID,
			Sequence:       rank[wi.ID],
			Parallelizable: depgraph.CanParallelize(wi.ID, res.CleanedEdges),
		})
	}
	return patch, nil
}

// titleOverlap counts significant words two item titles share.
func titleOverlap(a, b item.WorkItem) int {
	seen := make(map[string]bool)
	for _, w := range significantTerms(a.Title) {
		seen[w] = true
	}
	count := 0
	for _, w := range significantTerms(b.Title) {
		if seen[w] {
			count++
			seen[w] = false
		}
	}
	return count
}

// -----------------------------------------------------------------------------
// Score
// -----------------------------------------------------------------------------

// scoreStage recomputes scores for every non-terminal item. Superseded
// scores are replaced outright by the merge. Item failures degrade to a
// zero score flagged for manual review instead of aborting the batch.
func (b Builtins) scoreStage(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
	var targets []item.WorkItem
	for _, wi := range snap.WorkItems {
		if !snap.RoutingFor(wi.ID).Status.Terminal() {
			targets = append(targets, wi)
		}
	}

	var mu sync.Mutex
	scores := make(map[string]item.Score, len(targets))

	failures := ForEachItem(ctx, targets, b.Parallelism, func(ctx context.Context, wi item.WorkItem) error {
		sc := scoreItem(wi)
		mu.Lock()
		scores[wi.ID] = sc
		mu.Unlock()
		return nil
	})
	for _, f := range failures {
		scores[f.WorkItemID] = item.Score{
			WorkItemID: f.WorkItemID,
			Concerns:   []string{"scoring failed — manual review needed"},
		}
	}

	var patch state.Patch
	total, counted := 0.0, 0
	for _, wi := range targets {
		sc := scores[wi.ID]
		patch.Scores = append(patch.Scores, sc)
		total += sc.Overall
		counted++
	}
	// Average over prior terminal scores too, so the headline number
	// reflects the whole run.
	for _, sc := range snap.Scores {
		if _, recomputed := scores[sc.WorkItemID]; !recomputed {
			total += sc.Overall
			counted++
		}
	}
	if counted > 0 {
		avg := total / float64(counted)
		patch.AverageScore = &avg
	}
	return patch, nil
}

// Verbs that make a title actionable.
var actionVerbs = []string{"add", "build", "create", "fix", "implement", "improve", "investigate", "migrate", "refactor", "remove", "support", "update", "upgrade", "write"}

// scoreItem computes one item's dimension scores and structured feedback.
// Deterministic: identical items always score identically.
func scoreItem(wi item.WorkItem) item.Score {
	text := strings.TrimSpace(strings.Join([]string{wi.ExtractedText, wi.HumanSuppliedText}, "\n"))
	lower := strings.ToLower(text)

	sc := item.Score{
		WorkItemID: wi.ID,
		Dimensions: make(map[string]float64, 4),
	}

	// Clarity: a concise, actionable title.
	clarity := 40.0
	words := strings.Fields(wi.Title)
	if len(words) >= 3 {
		clarity += 20
	}
	if len(wi.Title) <= 80 {
		clarity += 20
	}
	if len(words) > 0 && containsAny(strings.ToLower(words[0]), actionVerbs...) {
		clarity += 20
		sc.Strengths = append(sc.Strengths, "title states a concrete action")
	}
	sc.Dimensions["clarity"] = clarity

	// Detail: enough description to act on.
	detail := 15.0
	switch wordCount := len(strings.Fields(text)); {
	case wordCount >= 120:
		detail = 95
	case wordCount >= 60:
		detail = 80
	case wordCount >= 25:
		detail = 55
	case wordCount >= 10:
		detail = 35
	}
	if detail < 55 {
		sc.Missing = append(sc.Missing, "detailed description")
		sc.Recommendations = append(sc.Recommendations, "expand the description with implementation details")
	} else {
		sc.Strengths = append(sc.Strengths, "substantial description")
	}
	sc.Dimensions["detail"] = detail

	// Acceptance criteria.
	acceptance := 20.0
	if containsAny(lower, "acceptance criteria", "done when", "must ", "verify that", "should pass") {
		acceptance = 85
		sc.Strengths = append(sc.Strengths, "acceptance criteria present")
	} else {
		sc.Missing = append(sc.Missing, "acceptance criteria")
		sc.Recommendations = append(sc.Recommendations, "add acceptance criteria describing done-conditions")
	}
	sc.Dimensions["acceptance_criteria"] = acceptance

	// Scope boundaries.
	scope := 30.0
	if containsAny(lower, "scope", "out of scope", "excluding", "limited to", "only ") {
		scope = 75
	} else {
		sc.Missing = append(sc.Missing, "scope boundaries")
		sc.Recommendations = append(sc.Recommendations, "state what is in and out of scope")
	}
	sc.Dimensions["scope"] = scope

	sc.Overall = 0.20*clarity + 0.35*detail + 0.30*acceptance + 0.15*scope
	if sc.Overall < 50 {
		sc.Concerns = append(sc.Concerns, "item is unlikely to be actionable as written")
	}
	return sc
}

// -----------------------------------------------------------------------------
// Enrich
// -----------------------------------------------------------------------------

// enrichStage produces descriptions, acceptance criteria and retrieved
// references for every approved item. Per-item failures substitute a
// degraded, flagged result.
func (b Builtins) enrichStage(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
	targets := approvedItems(snap)

	var mu sync.Mutex
	enrichments := make(map[string]item.Enrichment, len(targets))

	failures := ForEachItem(ctx, targets, b.Parallelism, func(ctx context.Context, wi item.WorkItem) error {
		e := item.Enrichment{
			WorkItemID:  wi.ID,
			Description: description(wi),
			AcceptanceCriteria: []string{
				fmt.Sprintf("Behavior described in %q is implemented and demonstrated", wi.Title),
				"Existing functionality is unaffected",
			},
		}
		docs, err := b.Retriever.Lookup(ctx, wi.Title, 3)
		if err != nil {
			return errors.NewTransient(Enrich, err)
		}
		for _, d := range docs {
			e.References = append(e.References, d.Path)
		}
		mu.Lock()
		enrichments[wi.ID] = e
		mu.Unlock()
		return nil
	})
	for _, f := range failures {
		enrichments[f.WorkItemID] = item.Enrichment{
			WorkItemID: f.WorkItemID,
			Degraded:   true,
			Note:       "enrichment failed — manual review needed",
		}
	}

	var patch state.Patch
	for _, wi := range targets {
		patch.Enrichments = append(patch.Enrichments, enrichments[wi.ID])
	}
	return patch, nil
}

func description(wi item.WorkItem) string {
	if wi.ConsolidatedText != "" {
		return wi.ConsolidatedText
	}
	return strings.TrimSpace(strings.Join([]string{wi.ExtractedText, wi.HumanSuppliedText}, "\n\n"))
}

// -----------------------------------------------------------------------------
// Consolidate
// -----------------------------------------------------------------------------

// consolidateStage merges each approved item's extracted and human-supplied
// text into its consolidated form.
func (b Builtins) consolidateStage(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
	var patch state.Patch
	for _, wi := range approvedItems(snap) {
		sections := []string{wi.ExtractedText}
		if wi.HumanSuppliedText != "" {
			sections = append(sections, "Additional context:\n"+wi.HumanSuppliedText)
		}
		if e, ok := enrichmentFor(snap, wi.ID); ok && e.Description != "" && e.Description != wi.ExtractedText {
			sections = append(sections, e.Description)
		}
		patch.WorkItems = append(patch.WorkItems, item.WorkItem{
			ID:               wi.ID,
			ConsolidatedText: strings.TrimSpace(strings.Join(sections, "\n\n")),
		})
	}
	return patch, nil
}

func enrichmentFor(snap state.Snapshot, id string) (item.Enrichment, bool) {
	for _, e := range snap.Enrichments {
		if e.WorkItemID == id {
			return e, true
		}
	}
	return item.Enrichment{}, false
}

// -----------------------------------------------------------------------------
// Risk
// -----------------------------------------------------------------------------

// riskStage assesses delivery risk per approved item, degrading per item on
// failure.
func (b Builtins) riskStage(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
	targets := approvedItems(snap)

	var mu sync.Mutex
	risks := make(map[string]item.RiskAnalysis, len(targets))

	failures := ForEachItem(ctx, targets, b.Parallelism, func(ctx context.Context, wi item.WorkItem) error {
		risk := assessRisk(snap, wi)
		mu.Lock()
		risks[wi.ID] = risk
		mu.Unlock()
		return nil
	})
	for _, f := range failures {
		risks[f.WorkItemID] = item.RiskAnalysis{
			WorkItemID: f.WorkItemID,
			Level:      "unknown",
			Degraded:   true,
			Note:       "risk analysis failed — manual review needed",
		}
	}

	var patch state.Patch
	for _, wi := range targets {
		patch.Risks = append(patch.Risks, risks[wi.ID])
	}
	return patch, nil
}

func assessRisk(snap state.Snapshot, wi item.WorkItem) item.RiskAnalysis {
	risk := item.RiskAnalysis{WorkItemID: wi.ID, Level: "low"}

	switch wi.Type {
	case item.TypeSpike:
		risk.Level = "high"
		risk.Factors = append(risk.Factors, "outcome is exploratory by nature")
	case item.TypeBug:
		risk.Level = "medium"
		risk.Factors = append(risk.Factors, "root cause may extend beyond the reported symptom")
	case item.TypeTechDebt:
		risk.Factors = append(risk.Factors, "behavior-preserving change, regression risk concentrated in tests")
	}

	if !wi.Parallelizable && wi.Sequence > 0 {
		risk.Factors = append(risk.Factors, "blocks downstream work if delayed")
		if risk.Level == "low" {
			risk.Level = "medium"
		}
	}
	if sc, ok := snap.ScoreFor(wi.ID); ok {
		risk.Factors = append(risk.Factors, sc.Concerns...)
	}
	if len(risk.Factors) > 0 {
		risk.Mitigations = append(risk.Mitigations, "review factors during sprint planning")
	}
	return risk
}

// -----------------------------------------------------------------------------
// Export
// -----------------------------------------------------------------------------

// exportedBacklog is the YAML document written by the export stage.
type exportedBacklog struct {
	EventType string         `yaml:"event_type"`
	Items     []exportedItem `yaml:"items"`
}

type exportedItem struct {
	ID                 string   `yaml:"id"`
	Title              string   `yaml:"title"`
	Type               string   `yaml:"type"`
	Status             string   `yaml:"status"`
	Score              float64  `yaml:"score"`
	Sequence           int      `yaml:"sequence,omitempty"`
	Parallelizable     bool     `yaml:"parallelizable,omitempty"`
	Description        string   `yaml:"description,omitempty"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria,omitempty"`
	References         []string `yaml:"references,omitempty"`
	RiskLevel          string   `yaml:"risk_level,omitempty"`
	RiskFactors        []string `yaml:"risk_factors,omitempty"`
	Notes              []string `yaml:"notes,omitempty"`
}

// exportStage writes the vetted backlog to disk. Not item-scoped: a write
// failure is fatal for the session.
func (b Builtins) exportStage(ctx context.Context, snap state.Snapshot) (state.Patch, error) {
	doc := exportedBacklog{EventType: snap.EventType}

	items := approvedItems(snap)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Sequence < items[j].Sequence })

	var exported []string
	for _, wi := range items {
		rs := snap.RoutingFor(wi.ID)
		out := exportedItem{
			ID:             wi.ID,
			Title:          wi.Title,
			Type:           string(wi.Type),
			Status:         string(rs.Status),
			Sequence:       wi.Sequence,
			Parallelizable: wi.Parallelizable,
			Description:    description(wi),
		}
		if sc, ok := snap.ScoreFor(wi.ID); ok {
			out.Score = sc.Overall
		}
		if e, ok := enrichmentFor(snap, wi.ID); ok {
			out.AcceptanceCriteria = e.AcceptanceCriteria
			out.References = e.References
			if e.Degraded {
				out.Notes = append(out.Notes, e.Note)
			}
		}
		for _, risk := range snap.Risks {
			if risk.WorkItemID == wi.ID {
				out.RiskLevel = risk.Level
				out.RiskFactors = risk.Factors
				if risk.Degraded {
					out.Notes = append(out.Notes, risk.Note)
				}
			}
		}
		doc.Items = append(doc.Items, out)
		exported = append(exported, wi.ID)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return state.Patch{}, errors.NewPermanent(Export, err)
	}

	if b.ExportDir != "" {
		if err := os.MkdirAll(b.ExportDir, 0755); err != nil {
			return state.Patch{}, errors.NewTransient(Export, err)
		}
		path := filepath.Join(b.ExportDir, "backlog.yaml")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return state.Patch{}, errors.NewTransient(Export, err)
		}
	}

	return state.Patch{ExportedIDs: exported}, nil
}

// approvedItems returns the work items in the approved set, in work-item
// order.
func approvedItems(snap state.Snapshot) []item.WorkItem {
	var items []item.WorkItem
	for _, wi := range snap.WorkItems {
		if snap.Approved(wi.ID) {
			items = append(items, wi)
		}
	}
	return items
}
