package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

func turns(texts ...string) []Turn {
	// alternating user/assistant starting with user
	out := make([]Turn, len(texts))
	for i, text := range texts {
		speaker := SpeakerUser
		if i%2 == 1 {
			speaker = SpeakerAssistant
		}
		out[i] = Turn{Index: i + 1, Speaker: speaker, Text: text}
	}
	return out
}

func newAnalyzer() *Analyzer {
	return New(config.Default().Analyzer)
}

func TestWrongLanguageRedirection(t *testing.T) {
	transcript := turns(
		"Write X in Go",
		"Here is Rust code for X: fn main() {}",
		"No, I said Go, not Rust",
	)
	records := newAnalyzer().Analyze(transcript)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, 3, rec.TurnIndex)
	assert.True(t, rec.Detected)
	assert.GreaterOrEqual(t, rec.Confidence, 0.4)
	assert.Equal(t, CategoryComprehensionGap, rec.Category)
	assert.Equal(t, SeverityMinor, rec.Severity)
	assert.Equal(t, ResolutionPending, rec.Resolution, "no following user turn exists")
	assert.Equal(t, StateReported, rec.State)

	causes := map[string]bool{}
	for _, c := range rec.RootCauses {
		causes[c] = true
	}
	assert.True(t, causes[RootInstructionAmbiguity] || causes[RootHallucination])
	assert.NotEmpty(t, rec.Suggestions)
}

func TestFirstUserTurnNeverRedirection(t *testing.T) {
	transcript := []Turn{
		{Index: 1, Speaker: SpeakerUser, Text: "No, really, write it in Go"},
	}
	records := newAnalyzer().Analyze(transcript)
	assert.Empty(t, records, "a user turn before any assistant turn cannot redirect")
}

func TestNonCorrectiveTurnNotDetected(t *testing.T) {
	transcript := turns(
		"Write a parser",
		"Here is the parser.",
		"Great, thanks! Now add tests please",
	)
	records := newAnalyzer().Analyze(transcript)
	assert.Empty(t, records)
}

func TestLowConfidenceDiscarded(t *testing.T) {
	cfg := config.Default().Analyzer
	cfg.MinDetectionConfidence = 0.9
	a := New(cfg)

	transcript := turns(
		"Write X in Go",
		"Here is Rust code",
		"actually use Go",
	)
	records := a.Analyze(transcript)
	require.Len(t, records, 1)
	assert.Equal(t, StateDiscarded, records[0].State)
}

func TestEscalationRaisesSeverity(t *testing.T) {
	transcript := turns(
		"Only change the parser file",
		"I refactored the parser and the lexer.",
		"No, I said only the parser, don't change the lexer",
		"I changed the lexer again as well.",
		"STOP! Again you changed the lexer! I said only the parser!",
	)
	records := newAnalyzer().Analyze(transcript)
	require.Len(t, records, 2)

	first, second := records[0], records[1]
	assert.Greater(t, second.SeverityScore, first.SeverityScore)
	assert.Contains(t, []string{SeverityMajor, SeverityCritical}, second.Severity)
	assert.Equal(t, ToneFrustration, second.Tone)
}

func TestResolutionTracking(t *testing.T) {
	resolved := turns(
		"Write X in Go",
		"Here is Rust code",
		"No, I said Go, not Rust",
		"Here is the Go version: package main",
		"perfect, thank you",
	)
	records := newAnalyzer().Analyze(resolved)
	require.Len(t, records, 1)
	assert.Equal(t, ResolutionResolved, records[0].Resolution)

	unresolved := turns(
		"Write X in Go",
		"Here is Rust code",
		"No, I said Go, not Rust",
		"Here is more Rust code",
		"No, I said Go, not Rust",
	)
	records = newAnalyzer().Analyze(unresolved)
	require.Len(t, records, 2)
	assert.Contains(t, []string{ResolutionUnresolved, ResolutionRegressed}, records[0].Resolution)
}

func TestToneDetection(t *testing.T) {
	a := newAnalyzer()
	assert.Equal(t, TonePatience, a.tone("could you please fix it when you can"))
	assert.Equal(t, ToneUrgency, a.tone("fix it now, this is urgent"))
	assert.Equal(t, ToneResignation, a.tone("never mind, forget it"))
	assert.Equal(t, ToneNeutral, a.tone("change the variable name"))
}

func TestCategoryTieBreakPriority(t *testing.T) {
	a := newAnalyzer()
	// no categorical cue at all: priority order decides
	cat, score := a.categorize("no")
	assert.Equal(t, CategoryComprehensionGap, cat)
	assert.Zero(t, score)

	cat, _ = a.categorize("that's wrong, no such function exists")
	assert.Equal(t, CategoryFactualError, cat)

	cat, _ = a.categorize("too verbose, be concise")
	assert.Equal(t, CategoryToneMismatch, cat)
}

func TestCategoryWeightsAreTunable(t *testing.T) {
	cfg := config.Default().Analyzer
	cfg.CategoryWeights = map[string]float64{CategoryComprehensionGap: 0}
	a := New(cfg)

	// with comprehension_gap zeroed, the factual cue wins
	cat, _ := a.categorize("i said that's wrong, no such api")
	assert.Equal(t, CategoryFactualError, cat)
}

func TestReportAggregation(t *testing.T) {
	transcript := turns(
		"Write X in Go",
		"Here is Rust code",
		"No, I said Go, not Rust",
		"Here is the Go version",
		"great",
	)
	a := newAnalyzer()
	records := a.Analyze(transcript)
	report := BuildReport("sess-1", transcript, records)

	assert.Equal(t, 3, report.UserTurns)
	assert.Equal(t, 1, report.RedirectionCount)
	assert.InDelta(t, 1.0/3.0, report.Rate, 1e-9)
	assert.Equal(t, 1, report.ByCategory[CategoryComprehensionGap])
	assert.Equal(t, 1, report.ByEffectiveness[ResolutionResolved])
	assert.NotEmpty(t, report.Suggestions)
}

func TestPersistWritesMetaPatternAndHealth(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(64)

	project := &types.Project{Name: "p", Type: types.ProjectAI, Active: true}
	_, err := store.PutProject(ctx, project)
	require.NoError(t, err)
	sessionID, err := store.PutSession(ctx, &types.Session{ExternalID: "ext", ProjectID: project.ID})
	require.NoError(t, err)

	transcript := turns(
		"Write X in Go",
		"Here is Rust code",
		"No, I said Go, not Rust",
	)
	a := newAnalyzer()
	records := a.Analyze(transcript)
	report := BuildReport(sessionID, transcript, records)

	patternID, err := Persist(ctx, store, report, nil)
	require.NoError(t, err)

	pattern, err := store.GetPattern(ctx, patternID)
	require.NoError(t, err)
	assert.Equal(t, types.PatternMeta, pattern.PatternType)
	assert.Equal(t, sessionID, pattern.SessionID)
	assert.InDelta(t, 0.5, pattern.Content["rate"].(float64), 1e-9, "one redirection across two user turns")

	logs := store.HealthLogs()
	require.NotEmpty(t, logs)
	found := false
	for _, h := range logs {
		if h.Component == types.ComponentSemanticClassifier {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPersistUnknownSession(t *testing.T) {
	store := storage.NewMemoryStore(64)
	report := BuildReport("ghost", nil, nil)
	_, err := Persist(context.Background(), store, report, nil)
	assert.Error(t, err)
}
