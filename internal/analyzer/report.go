package analyzer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

// Report aggregates one session's redirection analysis.
type Report struct {
	SessionID        string         `json:"session_id"`
	UserTurns        int            `json:"user_turns"`
	RedirectionCount int            `json:"redirection_count"`
	Rate             float64        `json:"rate"`
	ByCategory       map[string]int `json:"category_distribution"`
	BySeverity       map[string]int `json:"severity_distribution"`
	ByEffectiveness  map[string]int `json:"effectiveness_distribution"`
	Records          []Record       `json:"records"`
	Suggestions      []string       `json:"suggestions"`
}

// BuildReport aggregates per-turn records into the session report.
func BuildReport(sessionID string, transcript []Turn, records []Record) *Report {
	r := &Report{
		SessionID:       sessionID,
		ByCategory:      map[string]int{},
		BySeverity:      map[string]int{},
		ByEffectiveness: map[string]int{},
		Records:         records,
	}
	for _, t := range transcript {
		if t.Speaker == SpeakerUser {
			r.UserTurns++
		}
	}

	seenSuggestions := map[string]bool{}
	for _, rec := range records {
		if rec.State != StateReported {
			continue
		}
		r.RedirectionCount++
		r.ByCategory[rec.Category]++
		r.BySeverity[rec.Severity]++
		r.ByEffectiveness[rec.Resolution]++
		for _, s := range rec.Suggestions {
			if !seenSuggestions[s] {
				seenSuggestions[s] = true
				r.Suggestions = append(r.Suggestions, s)
			}
		}
	}
	if r.UserTurns > 0 {
		r.Rate = float64(r.RedirectionCount) / float64(r.UserTurns)
	}
	return r
}

// Persist writes the report as a meta_pattern row plus a semantic-classifier
// health log. Session lookup and pattern write errors are returned; a failed
// health log write is only logged.
func Persist(ctx context.Context, store storage.Store, report *Report, logger *zap.Logger) (patternID string, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sess, err := store.GetSession(ctx, report.SessionID)
	if err != nil {
		return "", err
	}

	confidence := 0.0
	for _, rec := range report.Records {
		if rec.State == StateReported {
			confidence += rec.Confidence
		}
	}
	if report.RedirectionCount > 0 {
		confidence /= float64(report.RedirectionCount)
	}

	pattern := &types.Pattern{
		PatternType: types.PatternMeta,
		Title:       fmt.Sprintf("redirection analysis: session %s", sess.ExternalID),
		Content: map[string]any{
			"session_id":                 report.SessionID,
			"user_turns":                 report.UserTurns,
			"redirection_count":          report.RedirectionCount,
			"rate":                       report.Rate,
			"category_distribution":      report.ByCategory,
			"severity_distribution":      report.BySeverity,
			"effectiveness_distribution": report.ByEffectiveness,
			"suggestions":                report.Suggestions,
		},
		ProjectID:       sess.ProjectID,
		SessionID:       report.SessionID,
		Confidence:      confidence,
		PatternStrength: report.Rate,
		IsActive:        true,
	}
	patternID, err = store.PutPattern(ctx, pattern)
	if err != nil {
		return "", err
	}

	status := types.HealthHealthy
	if report.Rate >= 0.5 {
		status = types.HealthDegraded
	}
	_, err = store.PutHealth(ctx, &types.HealthLog{
		Component: types.ComponentSemanticClassifier,
		Status:    status,
		Metrics: map[string]any{
			"session_id":        report.SessionID,
			"redirection_count": report.RedirectionCount,
			"redirection_rate":  report.Rate,
		},
	})
	if err != nil {
		logger.Warn("failed to write analyzer health log", zap.Error(err))
	}
	return patternID, nil
}
