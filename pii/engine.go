package pii

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	detectors "github.com/hannes/deepsearch/pii/detectors"
)

// SearchRequest is the inbound contract from the API layer.
type SearchRequest struct {
	Text                string           `json:"text"`
	Languages           []string         `json:"languages"`
	PreviousDetections  []detectors.Span `json:"previous_detections,omitempty"`
	ConfidenceThreshold float64          `json:"confidence_threshold"`
	AnalysisMode        AnalysisMode     `json:"analysis_mode"`
}

// SearchResponse carries the validated entities and per-request aggregates.
type SearchResponse struct {
	Items                 []RefinedEntity   `json:"items"`
	Summary               SummaryStats      `json:"summary"`
	ProcessingTimeSeconds float64           `json:"processing_time_seconds"`
	ModelInfo             map[string]string `json:"model_info"`
}

// ValidateEntityRequest asks for a context verdict on a single entity.
type ValidateEntityRequest struct {
	Text       string         `json:"text"`
	Entity     detectors.Span `json:"entity"`
	WindowSize int            `json:"window_size,omitempty"`
}

// FalsePositiveCheckRequest asks whether a detected entity is a false
// positive.
type FalsePositiveCheckRequest struct {
	Text   string         `json:"text"`
	Entity detectors.Span `json:"entity"`
}

// FalsePositiveCheckResponse is the structured verdict of the false-positive
// prompt.
type FalsePositiveCheckResponse struct {
	IsFalsePositive bool    `json:"is_false_positive"`
	Confidence      float64 `json:"confidence"`
	Explanation     string  `json:"explanation"`
}

// HealthStatus aggregates backend reachability into one service state.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, error
	Ready    bool            `json:"ready"`
	Backends map[string]bool `json:"backends"`
}

// EngineOptions is the explicit configuration injected at construction.
type EngineOptions struct {
	MaxTextLength      int
	DefaultThreshold   float64
	MinConfidenceFloor float64
	DetectorTimeout    time.Duration
	ContextWindow      int
}

// DefaultEngineOptions returns the standard tuning.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		MaxTextLength:      50000,
		DefaultThreshold:   0.7,
		MinConfidenceFloor: 0.4,
		DetectorTimeout:    30 * time.Second,
		ContextWindow:      300,
	}
}

// EngineDeps are the collaborators wired in by the caller.
type EngineDeps struct {
	Detectors    []detectors.Detector
	Analysis     *AnalysisStage
	LLMBackend   *LLMAnalysisBackend
	Store        DetectionLogDB
	HealthChecks map[string]func(context.Context) bool
	ModelInfo    map[string]string
}

// Engine is the cascaded detection pipeline: detectors fan out per language,
// overlapping spans are merged, survivors are re-validated against their
// context and fused into a final verdict.
type Engine struct {
	opts  EngineOptions
	deps  EngineDeps
	stats *Statistics

	mu    sync.RWMutex
	ready bool
}

// NewEngine constructs the engine; Initialize must be called before use.
func NewEngine(opts EngineOptions, deps EngineDeps) *Engine {
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = 50000
	}
	if opts.DefaultThreshold <= 0 {
		opts.DefaultThreshold = 0.7
	}
	if opts.MinConfidenceFloor <= 0 {
		opts.MinConfidenceFloor = 0.4
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 300
	}
	return &Engine{
		opts:  opts,
		deps:  deps,
		stats: NewStatistics(),
	}
}

// Initialize marks the engine ready and reports the wired components. An
// empty detector set is allowed; detection then degrades to empty results.
func (e *Engine) Initialize(ctx context.Context) error {
	names := make([]string, 0, len(e.deps.Detectors))
	for _, d := range e.deps.Detectors {
		names = append(names, d.GetName())
	}
	log.Printf("[Engine] Initializing with %d detectors: %v", len(names), names)

	for name, check := range e.deps.HealthChecks {
		if check(ctx) {
			log.Printf("[Engine] Backend %s reachable", name)
		} else {
			log.Printf("[Engine] Warning: backend %s unreachable at startup", name)
		}
	}

	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) isReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Stats returns a snapshot of the request counters.
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// Health aggregates readiness and backend reachability. An uninitialized
// engine reports error; a ready engine with no reachable backend is
// degraded.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Ready:    e.isReady(),
		Backends: make(map[string]bool, len(e.deps.HealthChecks)),
	}

	anyReachable := len(e.deps.HealthChecks) == 0
	for name, check := range e.deps.HealthChecks {
		ok := check(ctx)
		status.Backends[name] = ok
		if ok {
			anyReachable = true
		}
	}

	switch {
	case !status.Ready:
		status.Status = "error"
	case anyReachable:
		status.Status = "healthy"
	default:
		status.Status = "degraded"
	}
	return status
}

// ModelInfo names the wired backends for response metadata.
func (e *Engine) ModelInfo() map[string]string {
	info := make(map[string]string, len(e.deps.ModelInfo))
	for k, v := range e.deps.ModelInfo {
		info[k] = v
	}
	return info
}

func (e *Engine) validateRequest(req SearchRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	if len(req.Text) > e.opts.MaxTextLength {
		return fmt.Errorf("%w: %d > %d", ErrTextTooLong, len(req.Text), e.opts.MaxTextLength)
	}
	if len(req.Languages) == 0 {
		return ErrNoLanguages
	}
	if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 1 {
		return ErrInvalidThreshold
	}
	return nil
}

func (e *Engine) threshold(req SearchRequest) float64 {
	if req.ConfidenceThreshold == 0 {
		return e.opts.DefaultThreshold
	}
	return req.ConfidenceThreshold
}

func (e *Engine) mode(req SearchRequest) AnalysisMode {
	switch req.AnalysisMode {
	case ModeFast, ModeStandard, ModeThorough:
		return req.AnalysisMode
	default:
		return ModeStandard
	}
}

// Search runs the full pipeline: cascade per language, merge, context
// analysis, fusion, summary.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if !e.isReady() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()

	if err := e.validateRequest(req); err != nil {
		e.stats.RecordRequest(false, time.Since(start).Seconds(), 0)
		return nil, err
	}

	var allSpans []detectors.Span
	for _, language := range req.Languages {
		result := RunCascade(ctx, req.Text, language, e.deps.Detectors, e.opts.DetectorTimeout)
		allSpans = append(allSpans, result.AllSpans...)
	}

	return e.finishRequest(ctx, req, allSpans, start)
}

// Revalidate re-runs analysis and fusion over previously detected spans
// without running the detection cascade again.
func (e *Engine) Revalidate(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if !e.isReady() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()

	if err := e.validateRequest(req); err != nil {
		e.stats.RecordRequest(false, time.Since(start).Seconds(), 0)
		return nil, err
	}
	if len(req.PreviousDetections) == 0 {
		e.stats.RecordRequest(false, time.Since(start).Seconds(), 0)
		return nil, ErrNoPreviousDetections
	}

	spans := make([]detectors.Span, len(req.PreviousDetections))
	copy(spans, req.PreviousDetections)
	for i := range spans {
		if len(spans[i].Sources) == 0 {
			spans[i].Sources = []string{"previous_detection"}
		}
	}

	return e.finishRequest(ctx, req, spans, start)
}

func (e *Engine) finishRequest(ctx context.Context, req SearchRequest, spans []detectors.Span, start time.Time) (*SearchResponse, error) {
	merged := MergeSpans(spans)
	entities := e.refineEntities(ctx, req.Text, merged, e.threshold(req), e.mode(req))

	validated := make([]RefinedEntity, 0, len(entities))
	rejected := 0
	for _, entity := range entities {
		if entity.IsValidated {
			validated = append(validated, entity)
		} else {
			rejected++
		}
	}

	response := &SearchResponse{
		Items:                 validated,
		Summary:               BuildSummary(entities),
		ProcessingTimeSeconds: time.Since(start).Seconds(),
		ModelInfo:             e.ModelInfo(),
	}

	e.stats.RecordRequest(true, response.ProcessingTimeSeconds, rejected)
	e.logDetection(ctx, req, entities, response)
	return response, nil
}

// refineEntities runs context analysis and fusion per merged span. A failure
// while processing one entity is contained: the entity is dropped, siblings
// continue.
func (e *Engine) refineEntities(ctx context.Context, text string, spans []detectors.Span, threshold float64, mode AnalysisMode) []RefinedEntity {
	entities := make([]RefinedEntity, 0, len(spans))
	for _, span := range spans {
		entity, ok := e.refineOne(ctx, text, span, threshold, mode)
		if !ok {
			continue
		}
		entities = append(entities, entity)
	}
	return entities
}

func (e *Engine) refineOne(ctx context.Context, text string, span detectors.Span, threshold float64, mode AnalysisMode) (entity RefinedEntity, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Engine] Analysis of entity at [%d:%d] failed: %v", span.Start, span.End, r)
			ok = false
		}
	}()

	var analysis ContextAnalysisResult
	var refined float64
	if mode == ModeFast || e.deps.Analysis == nil {
		// Fast mode skips the reasoning backends and trusts detection.
		analysis = ContextAnalysisResult{
			IsGenuinePII: true,
			Confidence:   span.Probability,
			Reason:       "Detection probability adopted without context analysis",
			RiskLevel:    RiskForType(span.Type, span.Probability),
		}
		refined = span.Probability
	} else {
		analysis = e.deps.Analysis.Analyze(ctx, text, span, mode)
		refined = RefineProbability(span.Probability, analysis)
	}

	span.ConfidenceTier = detectors.TierFor(refined)
	entity = RefinedEntity{
		ID:                  uuid.NewString(),
		Span:                span,
		OriginalProbability: span.Probability,
		RefinedProbability:  refined,
		IsValidated: analysis.IsGenuinePII &&
			refined >= threshold &&
			analysis.Confidence >= e.opts.MinConfidenceFloor,
		Analysis: analysis,
	}
	return entity, true
}

// ValidateEntity runs the context analysis stage for a single entity.
func (e *Engine) ValidateEntity(ctx context.Context, req ValidateEntityRequest) (*ContextAnalysisResult, error) {
	if !e.isReady() {
		return nil, ErrEngineNotReady
	}
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	if e.deps.Analysis == nil {
		result := ConservativeDefault()
		return &result, nil
	}

	stage := e.deps.Analysis
	if req.WindowSize > 0 {
		stage = NewAnalysisStage(e.deps.Analysis.backends, req.WindowSize, e.deps.Analysis.timeout)
	}
	result := stage.Analyze(ctx, req.Text, req.Entity, ModeStandard)
	return &result, nil
}

// CheckFalsePositive runs the false-positive prompt for a single entity.
func (e *Engine) CheckFalsePositive(ctx context.Context, req FalsePositiveCheckRequest) (*FalsePositiveCheckResponse, error) {
	if !e.isReady() {
		return nil, ErrEngineNotReady
	}
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	if e.deps.LLMBackend == nil {
		return nil, fmt.Errorf("no llm backend configured")
	}

	window := ExtractWindow(req.Text, req.Entity.Start, req.Entity.End, e.opts.ContextWindow)
	return e.deps.LLMBackend.CheckFalsePositive(ctx, window, req.Entity)
}

// RecentDetections returns a page of audit log entries plus the total count.
// Without a configured store the log is reported as empty.
func (e *Engine) RecentDetections(ctx context.Context, limit, offset int) ([]map[string]interface{}, int, error) {
	if !e.isReady() {
		return nil, 0, ErrEngineNotReady
	}
	if e.deps.Store == nil {
		return []map[string]interface{}{}, 0, nil
	}

	logs, err := e.deps.Store.GetRecentLogs(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch detection logs: %w", err)
	}
	total, err := e.deps.Store.GetLogsCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count detection logs: %w", err)
	}
	if logs == nil {
		logs = []map[string]interface{}{}
	}
	return logs, total, nil
}

func (e *Engine) logDetection(ctx context.Context, req SearchRequest, entities []RefinedEntity, response *SearchResponse) {
	if e.deps.Store == nil {
		return
	}

	hash := sha256.Sum256([]byte(req.Text))
	language := ""
	if len(req.Languages) > 0 {
		language = req.Languages[0]
	}

	record := DetectionRecord{
		TextHash:       hex.EncodeToString(hash[:]),
		Language:       language,
		EntityCount:    len(entities),
		ValidatedCount: len(response.Items),
		DurationMs:     int64(response.ProcessingTimeSeconds * 1000),
		Entities:       response.Items,
	}
	if err := e.deps.Store.LogDetection(ctx, record); err != nil {
		log.Printf("[Engine] Failed to log detection: %v", err)
	}
}

// Close releases detectors and the store.
func (e *Engine) Close() error {
	var firstErr error
	for _, d := range e.deps.Detectors {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.deps.Store != nil {
		if err := e.deps.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
