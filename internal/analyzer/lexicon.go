package analyzer

// Semantic categories for a redirection, in tie-break priority order.
const (
	CategoryComprehensionGap     = "comprehension_gap"
	CategoryScopeDrift           = "scope_drift"
	CategoryFactualError         = "factual_error"
	CategoryInstructionAmbiguity = "instruction_ambiguity"
	CategoryPriorityConflict     = "priority_conflict"
	CategoryToneMismatch         = "tone_mismatch"
	CategoryToolingMisuse        = "tooling_misuse"
)

// categoryPriority resolves score ties; earlier wins.
var categoryPriority = []string{
	CategoryComprehensionGap,
	CategoryScopeDrift,
	CategoryFactualError,
	CategoryInstructionAmbiguity,
	CategoryPriorityConflict,
	CategoryToneMismatch,
	CategoryToolingMisuse,
}

// Severity labels.
const (
	SeverityTrivial  = "trivial"
	SeverityMinor    = "minor"
	SeverityMajor    = "major"
	SeverityCritical = "critical"
)

// Emotional tones.
const (
	ToneNeutral     = "neutral"
	TonePatience    = "patience"
	ToneFrustration = "frustration"
	ToneUrgency     = "urgency"
	ToneResignation = "resignation"
)

// Root-cause signals.
const (
	RootInstructionAmbiguity = "instruction_ambiguity"
	RootMissingContext       = "missing_context"
	RootHallucination        = "hallucination"
	RootStaleKnowledge       = "stale_knowledge"
	RootOverEagerAction      = "over_eager_action"
	RootUnderSpecification   = "under_specification"
)

// Resolution effectiveness labels.
const (
	ResolutionResolved   = "resolved"
	ResolutionPartial    = "partial"
	ResolutionUnresolved = "unresolved"
	ResolutionRegressed  = "regressed"
	ResolutionPending    = "pending"
)

// Redirection record states.
const (
	StateDetected          = "detected"
	StateCategorized       = "categorized"
	StateSeverityAssigned  = "severity_assigned"
	StateResolutionTracked = "resolution_tracked"
	StateReported          = "reported"
	StateDiscarded         = "discarded"
)

// marker is one weighted lexical cue.
type marker struct {
	phrase string
	weight float64
	// prefixOnly restricts the match to the start of the turn.
	prefixOnly bool
}

// correctiveMarkers signal that a user turn redirects the assistant.
var correctiveMarkers = []marker{
	{phrase: "no,", weight: 0.35, prefixOnly: true},
	{phrase: "no.", weight: 0.35, prefixOnly: true},
	{phrase: "no ", weight: 0.3, prefixOnly: true},
	{phrase: "stop", weight: 0.4, prefixOnly: true},
	{phrase: "wait", weight: 0.25, prefixOnly: true},
	{phrase: "actually", weight: 0.3},
	{phrase: "that's not", weight: 0.4},
	{phrase: "thats not", weight: 0.4},
	{phrase: "that is not", weight: 0.4},
	{phrase: "i meant", weight: 0.45},
	{phrase: "i said", weight: 0.4},
	{phrase: "i asked", weight: 0.35},
	{phrase: "you misunderstood", weight: 0.5},
	{phrase: "not what i", weight: 0.45},
	{phrase: "that's wrong", weight: 0.45},
	{phrase: "incorrect", weight: 0.35},
	{phrase: "instead", weight: 0.2},
	{phrase: "don't", weight: 0.15},
	{phrase: "undo", weight: 0.3},
	{phrase: "go back", weight: 0.25},
}

// categorySignals are per-category weighted cues.
var categorySignals = map[string][]marker{
	CategoryComprehensionGap: {
		{phrase: "i said", weight: 0.5},
		{phrase: "i meant", weight: 0.5},
		{phrase: "you misunderstood", weight: 0.6},
		{phrase: "not what i asked", weight: 0.6},
		{phrase: "not what i meant", weight: 0.6},
		{phrase: "listen", weight: 0.3},
		{phrase: "read my", weight: 0.4},
	},
	CategoryScopeDrift: {
		{phrase: "stay focused", weight: 0.5},
		{phrase: "off topic", weight: 0.5},
		{phrase: "just do", weight: 0.35},
		{phrase: "only", weight: 0.2},
		{phrase: "don't change", weight: 0.45},
		{phrase: "didn't ask", weight: 0.45},
		{phrase: "too much", weight: 0.3},
		{phrase: "scope", weight: 0.4},
	},
	CategoryFactualError: {
		{phrase: "that's wrong", weight: 0.5},
		{phrase: "incorrect", weight: 0.5},
		{phrase: "not true", weight: 0.5},
		{phrase: "false", weight: 0.35},
		{phrase: "doesn't exist", weight: 0.45},
		{phrase: "made up", weight: 0.5},
		{phrase: "no such", weight: 0.45},
	},
	CategoryInstructionAmbiguity: {
		{phrase: "to clarify", weight: 0.5},
		{phrase: "to be clear", weight: 0.5},
		{phrase: "what i want", weight: 0.4},
		{phrase: "let me rephrase", weight: 0.55},
		{phrase: "more specifically", weight: 0.45},
	},
	CategoryPriorityConflict: {
		{phrase: "first", weight: 0.3},
		{phrase: "before that", weight: 0.4},
		{phrase: "more important", weight: 0.5},
		{phrase: "priority", weight: 0.5},
		{phrase: "later", weight: 0.2},
		{phrase: "not now", weight: 0.4},
	},
	CategoryToneMismatch: {
		{phrase: "too verbose", weight: 0.5},
		{phrase: "shorter", weight: 0.4},
		{phrase: "too long", weight: 0.4},
		{phrase: "just answer", weight: 0.45},
		{phrase: "stop apologizing", weight: 0.55},
		{phrase: "be concise", weight: 0.5},
	},
	CategoryToolingMisuse: {
		{phrase: "wrong file", weight: 0.5},
		{phrase: "wrong tool", weight: 0.55},
		{phrase: "don't run", weight: 0.45},
		{phrase: "shouldn't have", weight: 0.4},
		{phrase: "don't edit", weight: 0.45},
		{phrase: "use the", weight: 0.2},
	},
}

// escalationMarkers raise severity.
var escalationMarkers = []string{"again", "still", "once more", "how many times", "!!"}

// toneSignals map lexical cues onto emotional tones.
var toneSignals = map[string][]string{
	TonePatience:    {"please", "could you", "would you mind", "when you can", "no worries"},
	ToneFrustration: {"again", "ugh", "seriously", "come on", "why do you", "frustrating"},
	ToneUrgency:     {"now", "asap", "quickly", "immediately", "urgent", "right away"},
	ToneResignation: {"never mind", "nevermind", "forget it", "whatever", "i give up", "fine,"},
}

// rootCauseSignals are direct lexical cues for root causes.
var rootCauseSignals = map[string][]string{
	RootMissingContext:     {"you don't know", "context", "as i mentioned", "remember", "earlier i"},
	RootHallucination:      {"made up", "doesn't exist", "no such", "invented", "not rust", "never said"},
	RootStaleKnowledge:     {"outdated", "old version", "deprecated", "changed since", "no longer"},
	RootOverEagerAction:    {"didn't ask", "too much", "shouldn't have", "don't change", "just the"},
	RootUnderSpecification: {"to clarify", "to be clear", "more specifically", "let me rephrase"},
}

// categoryRootCauses fall back when no direct cue fires.
var categoryRootCauses = map[string][]string{
	CategoryComprehensionGap:     {RootInstructionAmbiguity},
	CategoryScopeDrift:           {RootOverEagerAction},
	CategoryFactualError:         {RootHallucination, RootStaleKnowledge},
	CategoryInstructionAmbiguity: {RootUnderSpecification},
	CategoryPriorityConflict:     {RootUnderSpecification},
	CategoryToneMismatch:         {RootInstructionAmbiguity},
	CategoryToolingMisuse:        {RootOverEagerAction},
}

// suggestionTemplates are keyed by category, then root cause. The empty
// root-cause key is the category default.
var suggestionTemplates = map[string]map[string]string{
	CategoryComprehensionGap: {
		"":                       "Restate the user's request before acting and confirm the interpretation.",
		RootInstructionAmbiguity: "Echo back ambiguous instructions as a checklist before starting work.",
		RootHallucination:        "Quote the user's exact words when they constrain the output.",
	},
	CategoryScopeDrift: {
		"":                  "Limit changes to what was explicitly requested; list anything extra as a suggestion.",
		RootOverEagerAction: "Ask before expanding scope beyond the stated task.",
	},
	CategoryFactualError: {
		"":                 "Verify factual claims against retrieved knowledge before asserting them.",
		RootHallucination:  "Flag uncertain claims explicitly rather than presenting them as fact.",
		RootStaleKnowledge: "Check stored knowledge recency and prefer newer validated items.",
	},
	CategoryInstructionAmbiguity: {
		"":                     "Ask one clarifying question when instructions admit multiple readings.",
		RootUnderSpecification: "Surface unstated assumptions and confirm them before proceeding.",
	},
	CategoryPriorityConflict: {
		"": "Confirm task ordering when multiple requests are outstanding.",
	},
	CategoryToneMismatch: {
		"": "Match the user's preferred response length and register.",
	},
	CategoryToolingMisuse: {
		"":                  "Confirm the target file or tool when the instruction names one.",
		RootOverEagerAction: "Prefer read-only inspection before mutating actions.",
	},
}
