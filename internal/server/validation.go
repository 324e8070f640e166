package server

import (
	"unicode/utf8"

	kerrors "knowledge-engine/internal/errors"
)

// Input validation limits. Requests are validated against these before any
// storage access.
const (
	// MaxContentLength bounds knowledge content to 100KB.
	MaxContentLength = 100000

	// MaxTitleLength mirrors the data-model bound on titles.
	MaxTitleLength = 500

	// MaxQueryLength bounds search queries.
	MaxQueryLength = 1000

	// MaxSituationLength bounds declared situations.
	MaxSituationLength = 4000

	// MaxResultsCap is the hard ceiling on requested result counts.
	MaxResultsCap = 100

	// MaxTriggers bounds caller-supplied retrieval triggers.
	MaxTriggers = 50
)

// ValidateStoreKnowledgeRequest checks a store_knowledge request.
func ValidateStoreKnowledgeRequest(req *StoreKnowledgeRequest) error {
	if req.Title == "" {
		return kerrors.Validation("title is required")
	}
	if utf8.RuneCountInString(req.Title) > MaxTitleLength {
		return kerrors.Validation("title exceeds %d characters", MaxTitleLength)
	}
	if req.Content == "" {
		return kerrors.Validation("content is required")
	}
	if len(req.Content) > MaxContentLength {
		return kerrors.Validation("content exceeds %d bytes", MaxContentLength)
	}
	if req.KnowledgeType == "" {
		return kerrors.Validation("knowledge_type is required")
	}
	if req.Importance != nil && (*req.Importance < 0 || *req.Importance > 100) {
		return kerrors.Validation("importance must be in [0,100]")
	}
	if len(req.RetrievalTriggers) > MaxTriggers {
		return kerrors.Validation("at most %d retrieval_triggers allowed", MaxTriggers)
	}
	return nil
}

// ValidateSearchRequest checks a search_similar_knowledge request.
func ValidateSearchRequest(req *SearchRequest) error {
	if req.Query == "" {
		return kerrors.Validation("query must not be empty")
	}
	if len(req.Query) > MaxQueryLength {
		return kerrors.Validation("query exceeds %d bytes", MaxQueryLength)
	}
	if req.MaxResults < 0 || req.MaxResults > MaxResultsCap {
		return kerrors.Validation("max_results must be in [0,%d]", MaxResultsCap)
	}
	return nil
}

// ValidateContextualRequest checks a get_contextual_knowledge request.
func ValidateContextualRequest(req *ContextualRequest) error {
	if req.Situation == "" {
		return kerrors.Validation("situation must not be empty")
	}
	if len(req.Situation) > MaxSituationLength {
		return kerrors.Validation("situation exceeds %d bytes", MaxSituationLength)
	}
	if req.MaxResults < 0 || req.MaxResults > MaxResultsCap {
		return kerrors.Validation("max_results must be in [0,%d]", MaxResultsCap)
	}
	return nil
}

// ValidateRecordValidationRequest checks a record_validation request.
func ValidateRecordValidationRequest(req *RecordValidationRequest) error {
	if req.PatternID == "" {
		return kerrors.Validation("pattern_id is required")
	}
	if req.Type == "" {
		return kerrors.Validation("type is required")
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return kerrors.Validation("confidence must be in [0,1]")
	}
	return nil
}

// clampResults applies the default and the hard ceiling.
func clampResults(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > MaxResultsCap {
		return MaxResultsCap
	}
	return n
}
