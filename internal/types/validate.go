package types

import (
	"fmt"
	"unicode/utf8"
)

// MaxTitleLength bounds item titles.
const MaxTitleLength = 500

// DefaultSemanticMapping is the knowledge_type → compatible semantic_type
// table. The two vocabularies overlap but are not identical; this mapping is
// configuration, and this table is its default.
func DefaultSemanticMapping() map[KnowledgeType]SemanticType {
	return map[KnowledgeType]SemanticType{
		KnowledgeFactual:      SemanticFactual,
		KnowledgeProcedural:   SemanticProcedural,
		KnowledgeContextual:   SemanticContextual,
		KnowledgeRelational:   SemanticRelational,
		KnowledgeExperiential: SemanticExperiential,
		KnowledgeTechnical:    SemanticTechnicalDiscovery,
		KnowledgePatterns:     SemanticPatternRecognition,
		KnowledgeStrategic:    SemanticStrategicInsight,
	}
}

// CompatibleSemanticTypes reports whether a knowledge/semantic type pair is
// consistent under the given mapping. A nil mapping uses the default table.
func CompatibleSemanticTypes(kt KnowledgeType, st SemanticType, mapping map[KnowledgeType]SemanticType) bool {
	if st == "" {
		return true
	}
	if mapping == nil {
		mapping = DefaultSemanticMapping()
	}
	return mapping[kt] == st
}

func unitRange(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0,1], got %v", name, v)
	}
	return nil
}

func percentRange(name string, v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s must be in [0,100], got %v", name, v)
	}
	return nil
}

// Validate checks the project against its invariants.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("invalid project type: %q", p.Type)
	}
	return nil
}

// Validate checks session fields.
func (s *Session) Validate() error {
	if s.ExternalID == "" {
		return fmt.Errorf("session external_id is required")
	}
	if s.ProjectID == "" {
		return fmt.Errorf("session project_id is required")
	}
	if s.SuccessfulCount+s.FailedCount > s.TotalInteractions {
		return fmt.Errorf("session counters inconsistent: successful(%d)+failed(%d) > total(%d)",
			s.SuccessfulCount, s.FailedCount, s.TotalInteractions)
	}
	return nil
}

// Validate checks the item against the data-model invariants. embedDim is the
// configured embedding dimension; an embedding of any other length is
// rejected. A nil embedding is allowed (lexical-only item).
func (k *KnowledgeItem) Validate(embedDim int, mapping map[KnowledgeType]SemanticType) error {
	if k.Title == "" {
		return fmt.Errorf("title is required")
	}
	if utf8.RuneCountInString(k.Title) > MaxTitleLength {
		return fmt.Errorf("title exceeds %d characters", MaxTitleLength)
	}
	if k.Content == "" {
		return fmt.Errorf("content is required")
	}
	if !k.KnowledgeType.Valid() {
		return fmt.Errorf("invalid knowledge_type: %q", k.KnowledgeType)
	}
	if k.SemanticType != "" && !k.SemanticType.Valid() {
		return fmt.Errorf("invalid semantic_type: %q", k.SemanticType)
	}
	if !CompatibleSemanticTypes(k.KnowledgeType, k.SemanticType, mapping) {
		return fmt.Errorf("semantic_type %q is not compatible with knowledge_type %q",
			k.SemanticType, k.KnowledgeType)
	}
	if k.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if err := percentRange("importance", k.Importance); err != nil {
		return err
	}
	if err := percentRange("quality", k.Quality); err != nil {
		return err
	}
	if k.SemanticType != "" {
		if err := unitRange("semantic_confidence", k.SemanticConfidence); err != nil {
			return err
		}
	}
	if k.UsageCount < 0 || k.ValidationCount < 0 || k.ContradictionCount < 0 {
		return fmt.Errorf("counters must be non-negative")
	}
	if len(k.Embedding) != 0 && len(k.Embedding) != embedDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(k.Embedding), embedDim)
	}
	return nil
}

// Validate checks the pattern against the data-model invariants.
func (p *Pattern) Validate(embedDim int) error {
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !p.PatternType.Valid() {
		return fmt.Errorf("invalid pattern_type: %q", p.PatternType)
	}
	if p.Content == nil {
		return fmt.Errorf("pattern content mapping is required")
	}
	if p.ValidationStatus != "" && !p.ValidationStatus.Valid() {
		return fmt.Errorf("invalid validation_status: %q", p.ValidationStatus)
	}
	for name, v := range map[string]float64{
		"confidence":       p.Confidence,
		"success_rate":     p.SuccessRate,
		"pattern_strength": p.PatternStrength,
	} {
		if err := unitRange(name, v); err != nil {
			return err
		}
	}
	if len(p.Embedding) != 0 && len(p.Embedding) != embedDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(p.Embedding), embedDim)
	}
	return nil
}

// Validate checks the relationship against the data-model invariants.
func (r *PatternRelationship) Validate() error {
	if r.SourceID == "" || r.TargetID == "" {
		return fmt.Errorf("source and target pattern ids are required")
	}
	if r.SourceID == r.TargetID {
		return fmt.Errorf("relationship source and target must differ")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid relationship_type: %q", r.Type)
	}
	if err := unitRange("strength", r.Strength); err != nil {
		return err
	}
	return unitRange("confidence", r.Confidence)
}

// Validate checks the insight against the data-model invariants.
func (i *StrategicInsight) Validate(embedDim int) error {
	if i.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !i.InsightType.Valid() {
		return fmt.Errorf("invalid insight_type: %q", i.InsightType)
	}
	if i.Content == nil {
		return fmt.Errorf("insight content mapping is required")
	}
	for _, pt := range i.ApplicableProjectTypes {
		if !pt.Valid() {
			return fmt.Errorf("invalid applicable project type: %q", pt)
		}
	}
	if err := unitRange("confidence", i.Confidence); err != nil {
		return err
	}
	if err := unitRange("effectiveness", i.Effectiveness); err != nil {
		return err
	}
	if len(i.Embedding) != 0 && len(i.Embedding) != embedDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(i.Embedding), embedDim)
	}
	return nil
}

// Validate checks the validation record.
func (v *PatternValidation) Validate() error {
	if v.PatternID == "" {
		return fmt.Errorf("pattern_id is required")
	}
	if !v.Type.Valid() {
		return fmt.Errorf("invalid validation_type: %q", v.Type)
	}
	if v.ValidatedBy != "" && !v.ValidatedBy.Valid() {
		return fmt.Errorf("invalid validated_by: %q", v.ValidatedBy)
	}
	return unitRange("confidence", v.Confidence)
}

// Validate checks the usage record.
func (u *PatternUsage) Validate() error {
	if u.SubjectID == "" {
		return fmt.Errorf("pattern_id is required")
	}
	if u.Outcome != "" && !u.Outcome.Valid() {
		return fmt.Errorf("invalid usage_outcome: %q", u.Outcome)
	}
	if !u.Type.Valid() {
		return fmt.Errorf("invalid usage_type: %q", u.Type)
	}
	return unitRange("effectiveness", u.Effectiveness)
}

// Validate checks the health log entry.
func (h *HealthLog) Validate() error {
	if !h.Component.Valid() {
		return fmt.Errorf("invalid component: %q", h.Component)
	}
	if !h.Status.Valid() {
		return fmt.Errorf("invalid health status: %q", h.Status)
	}
	return nil
}
