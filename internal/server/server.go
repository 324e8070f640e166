// Package server implements the MCP tool surface for the knowledge engine.
//
// The server exposes the session, storage, retrieval, and context-assembly
// tools over stdio. All responses are JSON formatted for consumption by the
// AI client. Input schemas are validated before any storage access, and
// errors carry the stable taxonomy codes from internal/errors.
//
// Available tools:
//   - start_session: open a session in a project and return startup context
//   - end_session: close a session, returning counters and quality
//   - store_knowledge: persist a typed knowledge item with embedding
//   - search_similar_knowledge: hybrid semantic + lexical search
//   - get_contextual_knowledge: warmed context for a declared situation
//   - get_technical_gotchas: technical discoveries for a problem signature
//   - get_session_context: recent items and usage for a session
//   - record_validation: attach validation evidence to a pattern
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"knowledge-engine/internal/assembler"
	"knowledge-engine/internal/cagcache"
	"knowledge-engine/internal/config"
	"knowledge-engine/internal/embeddings"
	kerrors "knowledge-engine/internal/errors"
	"knowledge-engine/internal/patterns"
	"knowledge-engine/internal/retrieval"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

// DefaultProjectName is used when a tool call names no project.
const DefaultProjectName = "general"

// KnowledgeServer coordinates storage, retrieval, warming, and assembly
// behind the MCP tool handlers.
type KnowledgeServer struct {
	store     storage.Store
	gateway   *embeddings.Gateway
	searcher  *retrieval.Searcher
	warmer    *cagcache.Warmer
	assembler *assembler.Assembler
	graph     *patterns.Graph
	cfg       *config.Config
	logger    *zap.Logger
}

// NewKnowledgeServer wires the components together.
func NewKnowledgeServer(
	store storage.Store,
	gateway *embeddings.Gateway,
	searcher *retrieval.Searcher,
	warmer *cagcache.Warmer,
	asm *assembler.Assembler,
	graph *patterns.Graph,
	cfg *config.Config,
	logger *zap.Logger,
) *KnowledgeServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeServer{
		store:     store,
		gateway:   gateway,
		searcher:  searcher,
		warmer:    warmer,
		assembler: asm,
		graph:     graph,
		cfg:       cfg,
		logger:    logger.Named("server"),
	}
}

// RegisterTools registers all tools with the MCP server and records them in
// the tool registry.
func (s *KnowledgeServer) RegisterTools(mcpServer *mcp.Server) {
	tools := []struct {
		name        string
		description string
	}{
		{"start_session", "Open an AI session in a project and return startup knowledge"},
		{"end_session", "Close a session and return counters, duration, and quality"},
		{"store_knowledge", "Persist a typed knowledge item with vector and lexical indexing"},
		{"search_similar_knowledge", "Hybrid semantic and lexical search over stored knowledge"},
		{"get_contextual_knowledge", "Assemble warmed context for a declared situation"},
		{"get_technical_gotchas", "Retrieve technical discoveries matching a problem signature"},
		{"get_session_context", "Recent items and usage records for a session"},
		{"record_validation", "Attach validation evidence to a pattern"},
	}

	mcp.AddTool(mcpServer, &mcp.Tool{Name: "start_session", Description: tools[0].description}, s.handleStartSession)
	mcp.AddTool(mcpServer, &mcp.Tool{Name: "end_session", Description: tools[1].description}, s.handleEndSession)
	mcp.AddTool(mcpServer, &mcp.Tool{Name: "store_knowledge", Description: tools[2].description}, s.handleStoreKnowledge)
	mcp.AddTool(mcpServer, &mcp.Tool{Name: "search_similar_knowledge", Description: tools[3].description}, s.handleSearchSimilar)
	mcp.AddTool(mcpServer, &mcp.Tool{Name: "get_contextual_knowledge", Description: tools[4].description}, s.handleGetContextual)
	mcp.AddTool(mcpServer, &mcp.Tool{Name: "get_technical_gotchas", Description: tools[5].description}, s.handleGetGotchas)
	mcp.AddTool(mcpServer, &mcp.Tool{Name: "get_session_context", Description: tools[6].description}, s.handleGetSessionContext)
	mcp.AddTool(mcpServer, &mcp.Tool{Name: "record_validation", Description: tools[7].description}, s.handleRecordValidation)

	ctx := context.Background()
	for _, t := range tools {
		if err := s.store.PutToolRegistration(ctx, &types.ToolRegistration{
			Name:        t.name,
			Description: t.description,
		}); err != nil {
			s.logger.Warn("failed to record tool registration", zap.String("tool", t.name), zap.Error(err))
		}
	}
}

func (s *KnowledgeServer) toolContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Context.ToolTimeout)
}

// resolveProject finds a project by name, creating the default project on
// first use. Non-default names must already exist.
func (s *KnowledgeServer) resolveProject(ctx context.Context, name string) (*types.Project, error) {
	if name == "" {
		name = DefaultProjectName
	}
	project, err := s.store.GetProjectByName(ctx, name)
	if err == nil {
		return project, nil
	}
	if !kerrors.IsKind(err, kerrors.KindNotFound) {
		return nil, err
	}
	if name != DefaultProjectName {
		return nil, err
	}
	p := &types.Project{
		Name:        DefaultProjectName,
		DisplayName: "General",
		Type:        types.ProjectGeneral,
		Active:      true,
	}
	if _, err := s.store.PutProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ---- start_session ----

type StartSessionRequest struct {
	// ProjectContext is the project name the session runs in.
	ProjectContext  string         `json:"project_context"`
	SessionMetadata map[string]any `json:"session_metadata,omitempty"`
	// ExternalSessionID lets the client supply its own session identifier.
	ExternalSessionID string `json:"external_session_id,omitempty"`
}

type KnowledgeSummary struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	KnowledgeType string  `json:"knowledge_type"`
	SemanticType  string  `json:"semantic_type,omitempty"`
	Importance    float64 `json:"importance"`
}

type PatternSummary struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	PatternType      string  `json:"pattern_type"`
	Confidence       float64 `json:"confidence"`
	ValidationStatus string  `json:"validation_status"`
}

type StartSessionResponse struct {
	SessionID           string             `json:"session_id"`
	ProjectID           string             `json:"project_id"`
	StartupKnowledge    []KnowledgeSummary `json:"startup_knowledge"`
	InteractionPatterns []PatternSummary   `json:"interaction_patterns"`
	ValidationTests     []string           `json:"validation_tests"`
}

func (s *KnowledgeServer) handleStartSession(ctx context.Context, req *mcp.CallToolRequest, input StartSessionRequest) (*mcp.CallToolResult, *StartSessionResponse, error) {
	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	if input.ProjectContext == "" {
		return nil, nil, kerrors.Validation("project_context is required")
	}
	project, err := s.store.GetProjectByName(ctx, input.ProjectContext)
	if err != nil {
		return nil, nil, err
	}

	externalID := input.ExternalSessionID
	if externalID == "" {
		externalID = uuid.NewString()
	}
	sess := &types.Session{
		ExternalID:                    externalID,
		ProjectID:                     project.ID,
		UserContext:                   input.SessionMetadata,
		PatternExtractionEnabled:      true,
		SemanticClassificationEnabled: true,
		ErrorRecoveryEnabled:          true,
	}
	sessionID, err := s.store.PutSession(ctx, sess)
	if err != nil {
		return nil, nil, err
	}

	startup, err := s.store.ListKnowledge(ctx, storage.KnowledgeFilter{
		ProjectID: project.ID,
		OrderBy:   "importance",
		Limit:     10,
	})
	if err != nil {
		return nil, nil, err
	}
	validated, err := s.store.ListPatterns(ctx, storage.PatternFilter{
		ProjectID:        project.ID,
		ValidationStatus: types.StatusValidated,
		Limit:            5,
	})
	if err != nil {
		return nil, nil, err
	}
	pending, err := s.store.ListPatterns(ctx, storage.PatternFilter{
		ProjectID:        project.ID,
		ValidationStatus: types.StatusPending,
		Limit:            5,
	})
	if err != nil {
		return nil, nil, err
	}

	resp := &StartSessionResponse{
		SessionID:       sessionID,
		ProjectID:       project.ID,
		ValidationTests: []string{},
	}
	for _, item := range startup {
		resp.StartupKnowledge = append(resp.StartupKnowledge, KnowledgeSummary{
			ID:            item.ID,
			Title:         item.Title,
			KnowledgeType: string(item.KnowledgeType),
			SemanticType:  string(item.SemanticType),
			Importance:    item.Importance,
		})
	}
	for _, p := range validated {
		resp.InteractionPatterns = append(resp.InteractionPatterns, PatternSummary{
			ID:               p.ID,
			Title:            p.Title,
			PatternType:      string(p.PatternType),
			Confidence:       p.Confidence,
			ValidationStatus: string(p.ValidationStatus),
		})
	}
	for _, p := range pending {
		resp.ValidationTests = append(resp.ValidationTests,
			fmt.Sprintf("verify pattern %s: %s", p.ID, p.Title))
	}

	return &mcp.CallToolResult{Content: toJSONContent(resp)}, resp, nil
}

// ---- end_session ----

type EndSessionRequest struct {
	SessionID string `json:"session_id"`
	// Insights and Breakthroughs are retained as experiential knowledge.
	Insights      []string `json:"insights,omitempty"`
	Breakthroughs []string `json:"breakthroughs,omitempty"`
}

type EndSessionResponse struct {
	SessionID         string  `json:"session_id"`
	TotalInteractions int     `json:"total_interactions"`
	Successful        int     `json:"successful_interactions"`
	Failed            int     `json:"failed_interactions"`
	DurationSeconds   int64   `json:"duration_seconds"`
	QualityScore      float64 `json:"quality_score"`
	KnowledgeRetained int     `json:"knowledge_retained"`
}

func (s *KnowledgeServer) handleEndSession(ctx context.Context, req *mcp.CallToolRequest, input EndSessionRequest) (*mcp.CallToolResult, *EndSessionResponse, error) {
	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	if input.SessionID == "" {
		return nil, nil, kerrors.Validation("session_id is required")
	}
	sess, err := s.store.GetSession(ctx, input.SessionID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	sess.EndedAt = &now
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, nil, err
	}

	retained := 0
	storeText := func(texts []string, importance float64) {
		for _, text := range texts {
			if text == "" {
				continue
			}
			title := text
			if len(title) > types.MaxTitleLength {
				title = title[:types.MaxTitleLength]
			}
			item := &types.KnowledgeItem{
				KnowledgeType: types.KnowledgeExperiential,
				SemanticType:  types.SemanticExperiential,
				Title:         title,
				Content:       text,
				Category:      "session_learning",
				ProjectID:     sess.ProjectID,
				SessionID:     sess.ID,
				Importance:    importance,
				Quality:       50,
			}
			if vec, degraded := s.gateway.Embed(ctx, text); !degraded {
				item.Embedding = vec
				item.ProviderVersion = s.gateway.ProviderVersion()
			}
			if _, err := s.store.PutKnowledge(ctx, item); err != nil {
				s.logger.Warn("failed to retain session learning", zap.Error(err))
				continue
			}
			retained++
		}
	}
	storeText(input.Insights, 60)
	storeText(input.Breakthroughs, 85)

	quality := 1.0
	if sess.TotalInteractions > 0 {
		quality = float64(sess.SuccessfulCount) / float64(sess.TotalInteractions)
	}

	resp := &EndSessionResponse{
		SessionID:         sess.ID,
		TotalInteractions: sess.TotalInteractions,
		Successful:        sess.SuccessfulCount,
		Failed:            sess.FailedCount,
		DurationSeconds:   int64(now.Sub(sess.StartedAt).Seconds()),
		QualityScore:      quality,
		KnowledgeRetained: retained,
	}
	return &mcp.CallToolResult{Content: toJSONContent(resp)}, resp, nil
}

// ---- store_knowledge ----

type StoreKnowledgeRequest struct {
	KnowledgeType     string         `json:"knowledge_type"`
	Category          string         `json:"category,omitempty"`
	Title             string         `json:"title"`
	Content           string         `json:"content"`
	ContextData       map[string]any `json:"context_data,omitempty"`
	Importance        *float64       `json:"importance,omitempty"`
	RetrievalTriggers []string       `json:"retrieval_triggers,omitempty"`
	SemanticType      string         `json:"semantic_type,omitempty"`
	Project           string         `json:"project,omitempty"`
	SessionID         string         `json:"session_id,omitempty"`
	Supersedes        []string       `json:"supersedes,omitempty"`
}

type StoreKnowledgeResponse struct {
	KnowledgeID string `json:"knowledge_id"`
	// Degraded is set when the embedding provider was unavailable and the
	// item was stored for lexical retrieval only.
	Degraded bool `json:"degraded,omitempty"`
}

func (s *KnowledgeServer) handleStoreKnowledge(ctx context.Context, req *mcp.CallToolRequest, input StoreKnowledgeRequest) (*mcp.CallToolResult, *StoreKnowledgeResponse, error) {
	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	if err := ValidateStoreKnowledgeRequest(&input); err != nil {
		return nil, nil, err
	}
	project, err := s.resolveProject(ctx, input.Project)
	if err != nil {
		return nil, nil, err
	}

	importance := 50.0
	if input.Importance != nil {
		importance = *input.Importance
	}

	item := &types.KnowledgeItem{
		KnowledgeType:     types.KnowledgeType(input.KnowledgeType),
		SemanticType:      types.SemanticType(input.SemanticType),
		Title:             input.Title,
		Content:           input.Content,
		Category:          input.Category,
		ProjectID:         project.ID,
		SessionID:         input.SessionID,
		Importance:        importance,
		Quality:           50,
		RetrievalTriggers: input.RetrievalTriggers,
		Supersedes:        input.Supersedes,
	}
	if item.SemanticType != "" {
		item.SemanticConfidence = 1.0
		item.ClassificationMethod = "caller_declared"
	}
	if len(input.ContextData) > 0 {
		// Context keys become retrieval triggers so situational search can
		// reach them; the context values are not stored.
		for k := range input.ContextData {
			item.RetrievalTriggers = append(item.RetrievalTriggers, k)
		}
	}

	vec, degraded := s.gateway.Embed(ctx, input.Title+"\n"+input.Content)
	if !degraded && !embeddings.IsZeroVector(vec) {
		item.Embedding = vec
		item.ProviderVersion = s.gateway.ProviderVersion()
	}

	id, err := s.store.PutKnowledge(ctx, item)
	if err != nil {
		return nil, nil, err
	}

	resp := &StoreKnowledgeResponse{KnowledgeID: id, Degraded: degraded}
	return &mcp.CallToolResult{Content: toJSONContent(resp)}, resp, nil
}

// ---- search_similar_knowledge ----

type SearchRequest struct {
	Query         string `json:"query"`
	KnowledgeType string `json:"knowledge_type,omitempty"`
	Project       string `json:"project,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	// IncludeInactive returns superseded items too.
	IncludeInactive bool `json:"include_inactive,omitempty"`
}

type SearchHit struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
	Active     bool    `json:"active"`
}

type SearchResponse struct {
	Results  []SearchHit `json:"results"`
	Degraded bool        `json:"degraded,omitempty"`
}

func (s *KnowledgeServer) handleSearchSimilar(ctx context.Context, req *mcp.CallToolRequest, input SearchRequest) (*mcp.CallToolResult, *SearchResponse, error) {
	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	if err := ValidateSearchRequest(&input); err != nil {
		return nil, nil, err
	}

	filter := storage.KnowledgeFilter{
		KnowledgeType:   types.KnowledgeType(input.KnowledgeType),
		IncludeInactive: input.IncludeInactive,
	}
	if input.Project != "" {
		project, err := s.store.GetProjectByName(ctx, input.Project)
		if err != nil {
			return nil, nil, err
		}
		filter.ProjectID = project.ID
	}

	result, err := s.searcher.Search(ctx, input.Query, filter, clampResults(input.MaxResults, 10))
	if err != nil {
		return nil, nil, err
	}

	resp := &SearchResponse{Degraded: result.Degraded, Results: []SearchHit{}}
	for _, r := range result.Results {
		resp.Results = append(resp.Results, SearchHit{
			ID:         r.Item.ID,
			Title:      r.Item.Title,
			Content:    r.Item.Content,
			Score:      r.FinalScore,
			Similarity: r.Similarity,
			Active:     r.Item.IsActive,
		})
	}
	return &mcp.CallToolResult{Content: toJSONContent(resp)}, resp, nil
}

// ---- get_contextual_knowledge ----

type ContextualRequest struct {
	Situation  string `json:"situation"`
	Project    string `json:"project,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

type ContextualResponse struct {
	WarmID   string                  `json:"warm_id"`
	CacheHit bool                    `json:"cache_hit"`
	Items    []assembler.ContextItem `json:"items"`
	Degraded bool                    `json:"degraded,omitempty"`
}

func (s *KnowledgeServer) handleGetContextual(ctx context.Context, req *mcp.CallToolRequest, input ContextualRequest) (*mcp.CallToolResult, *ContextualResponse, error) {
	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	if err := ValidateContextualRequest(&input); err != nil {
		return nil, nil, err
	}
	maxResults := clampResults(input.MaxResults, s.cfg.Context.MaxItems)

	// With a session, the full assembly pipeline runs: warmed + live merge,
	// budget packing, usage recording.
	if input.SessionID != "" {
		payload, err := s.assembler.Assemble(ctx, input.SessionID, input.Situation, assembler.Options{
			MaxItems: &maxResults,
		})
		if err != nil {
			return nil, nil, err
		}
		resp := &ContextualResponse{
			WarmID:   payload.WarmID,
			CacheHit: payload.Metrics.CacheHit,
			Items:    payload.Items,
			Degraded: payload.Degraded,
		}
		return &mcp.CallToolResult{Content: toJSONContent(resp)}, resp, nil
	}

	project, err := s.resolveProject(ctx, input.Project)
	if err != nil {
		return nil, nil, err
	}
	packet, hit, err := s.warmer.Warm(ctx, project, input.Situation, maxResults, s.cfg.Context.TokenBudget)
	if err != nil {
		return nil, nil, err
	}

	resp := &ContextualResponse{WarmID: packet.WarmID, CacheHit: hit, Degraded: packet.Degraded, Items: []assembler.ContextItem{}}
	for _, e := range packet.Entries {
		if len(resp.Items) >= maxResults {
			break
		}
		resp.Items = append(resp.Items, assembler.ContextItem{
			ItemID:    e.ItemID,
			Title:     e.Item.Title,
			Content:   e.Item.Content,
			Tier:      e.Tier,
			Score:     e.Score,
			TokensEst: e.TokensEst,
			Source:    assembler.SourceWarmed,
		})
	}
	return &mcp.CallToolResult{Content: toJSONContent(resp)}, resp, nil
}

// ---- get_technical_gotchas ----

type GotchasRequest struct {
	ProblemSignature string `json:"problem_signature"`
	Project          string `json:"project,omitempty"`
	MaxResults       int    `json:"max_results,omitempty"`
}

func (s *KnowledgeServer) handleGetGotchas(ctx context.Context, req *mcp.CallToolRequest, input GotchasRequest) (*mcp.CallToolResult, *SearchResponse, error) {
	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	if input.ProblemSignature == "" {
		return nil, nil, kerrors.Validation("problem_signature must not be empty")
	}
	filter := storage.KnowledgeFilter{SemanticType: types.SemanticTechnicalDiscovery}
	if input.Project != "" {
		project, err := s.store.GetProjectByName(ctx, input.Project)
		if err != nil {
			return nil, nil, err
		}
		filter.ProjectID = project.ID
	}

	result, err := s.searcher.Search(ctx, input.ProblemSignature, filter, clampResults(input.MaxResults, 10))
	if err != nil {
		return nil, nil, err
	}
	resp := &SearchResponse{Degraded: result.Degraded, Results: []SearchHit{}}
	for _, r := range result.Results {
		resp.Results = append(resp.Results, SearchHit{
			ID:         r.Item.ID,
			Title:      r.Item.Title,
			Content:    r.Item.Content,
			Score:      r.FinalScore,
			Similarity: r.Similarity,
			Active:     r.Item.IsActive,
		})
	}
	return &mcp.CallToolResult{Content: toJSONContent(resp)}, resp, nil
}

// ---- get_session_context ----

type SessionContextRequest struct {
	SessionID  string `json:"session_id"`
	MaxResults int    `json:"max_results,omitempty"`
}

type SessionContextResponse struct {
	SessionID   string                `json:"session_id"`
	ProjectID   string                `json:"project_id"`
	Interactions int                  `json:"total_interactions"`
	RecentItems []KnowledgeSummary    `json:"recent_items"`
	Usage       []*types.PatternUsage `json:"usage"`
}

func (s *KnowledgeServer) handleGetSessionContext(ctx context.Context, req *mcp.CallToolRequest, input SessionContextRequest) (*mcp.CallToolResult, *SessionContextResponse, error) {
	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	if input.SessionID == "" {
		return nil, nil, kerrors.Validation("session_id is required")
	}
	sess, err := s.store.GetSession(ctx, input.SessionID)
	if err != nil {
		return nil, nil, err
	}

	limit := clampResults(input.MaxResults, 20)
	usage, err := s.store.ListUsageBySession(ctx, sess.ID, limit)
	if err != nil {
		return nil, nil, err
	}

	resp := &SessionContextResponse{
		SessionID:    sess.ID,
		ProjectID:    sess.ProjectID,
		Interactions: sess.TotalInteractions,
		RecentItems:  []KnowledgeSummary{},
		Usage:        usage,
	}
	seen := map[string]bool{}
	for _, u := range usage {
		if seen[u.SubjectID] {
			continue
		}
		seen[u.SubjectID] = true
		item, err := s.store.GetKnowledge(ctx, u.SubjectID)
		if err != nil {
			continue // pattern- or insight-sourced usage rows
		}
		resp.RecentItems = append(resp.RecentItems, KnowledgeSummary{
			ID:            item.ID,
			Title:         item.Title,
			KnowledgeType: string(item.KnowledgeType),
			SemanticType:  string(item.SemanticType),
			Importance:    item.Importance,
		})
	}
	return &mcp.CallToolResult{Content: toJSONContent(resp)}, resp, nil
}

// ---- record_validation ----

type RecordValidationRequest struct {
	PatternID  string         `json:"pattern_id"`
	Type       string         `json:"type"`
	Result     bool           `json:"result"`
	Evidence   map[string]any `json:"evidence,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
}

type RecordValidationResponse struct {
	ValidationID string `json:"validation_id"`
}

func (s *KnowledgeServer) handleRecordValidation(ctx context.Context, req *mcp.CallToolRequest, input RecordValidationRequest) (*mcp.CallToolResult, *RecordValidationResponse, error) {
	ctx, cancel := s.toolContext(ctx)
	defer cancel()

	if err := ValidateRecordValidationRequest(&input); err != nil {
		return nil, nil, err
	}

	confidence := 0.5
	if input.Confidence != nil {
		confidence = *input.Confidence
	}
	v := &types.PatternValidation{
		PatternID:   input.PatternID,
		Type:        types.ValidationType(input.Type),
		Result:      input.Result,
		Evidence:    input.Evidence,
		Confidence:  confidence,
		SessionID:   input.SessionID,
		ValidatedBy: types.ValidatorUser,
	}
	id, err := s.store.PutValidation(ctx, v)
	if err != nil {
		return nil, nil, err
	}

	resp := &RecordValidationResponse{ValidationID: id}
	return &mcp.CallToolResult{Content: toJSONContent(resp)}, resp, nil
}
