package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/accident-check/internal/detection"
	"github.com/example/accident-check/internal/logging"
	"github.com/example/accident-check/internal/metrics"
	"github.com/example/accident-check/internal/stats"
)

var (
	// ErrEmptyImage is returned when the upload carries no bytes.
	ErrEmptyImage = errors.New("empty image")
	// ErrResultNotFound is returned when a decision is neither cached nor retained.
	ErrResultNotFound = errors.New("result not found")
)

// DefaultResultTTL bounds how long decisions stay retrievable from the cache.
const DefaultResultTTL = 5 * time.Minute

// DecisionHistory is the bounded decision buffer the use case writes to.
type DecisionHistory interface {
	Append(decision detection.Decision)
	Snapshot() []detection.Decision
	Clear()
	Find(id string) (detection.Decision, bool)
}

// DetectionUseCase runs the classify, decide, record flow.
type DetectionUseCase struct {
	classifier      detection.Classifier
	engine          *detection.Engine
	history         DecisionHistory
	cache           Cache
	metrics         *metrics.Metrics
	logger          *zap.Logger
	retry           retryPolicy
	resultTTL       time.Duration
	classifyTimeout time.Duration
}

// Option customizes a DetectionUseCase.
type Option func(*DetectionUseCase)

// WithResultTTL sets how long cached decisions live.
func WithResultTTL(ttl time.Duration) Option {
	return func(uc *DetectionUseCase) { uc.resultTTL = ttl }
}

// WithClassifyTimeout bounds each classifier call. Zero disables the bound.
func WithClassifyTimeout(timeout time.Duration) Option {
	return func(uc *DetectionUseCase) { uc.classifyTimeout = timeout }
}

type cachedDecision struct {
	ID             string             `json:"id"`
	PredictedClass string             `json:"predicted_class"`
	Confidence     float64            `json:"confidence"`
	IsAccident     bool               `json:"is_accident"`
	Probabilities  map[string]float64 `json:"all_probabilities"`
	Timestamp      time.Time          `json:"timestamp"`
	SourceLabel    string             `json:"source_label"`
	LatencyNanos   int64              `json:"latency_ns"`
}

// NewDetectionUseCase constructs a new use case instance. A nil cache
// disables result caching.
func NewDetectionUseCase(classifier detection.Classifier, engine *detection.Engine, history DecisionHistory, cache Cache, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *DetectionUseCase {
	if cache == nil {
		cache = NoopCache{}
	}
	uc := &DetectionUseCase{
		classifier: classifier,
		engine:     engine,
		history:    history,
		cache:      cache,
		metrics:    m,
		logger:     logger.Named("detection_usecase"),
		retry:      defaultRetryPolicy(),
		resultTTL:  DefaultResultTTL,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Detect classifies one image and records the resulting decision. Classifier
// and distribution errors are returned wrapped in a logging.OperationError
// that still unwraps to the typed cause; history is untouched on failure.
func (uc *DetectionUseCase) Detect(ctx context.Context, imageBytes []byte, sourceLabel string) (detection.Decision, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.detect", requestID)

	if len(imageBytes) == 0 {
		return detection.Decision{}, logging.NewOperationError("usecase.detect", requestID, ErrEmptyImage)
	}

	classifyCtx := ctx
	if uc.classifyTimeout > 0 {
		var cancel context.CancelFunc
		classifyCtx, cancel = context.WithTimeout(ctx, uc.classifyTimeout)
		defer cancel()
	}

	result, err := uc.classifier.Classify(classifyCtx, imageBytes)
	if err != nil {
		uc.metrics.ObserveError(classifyErrorKind(err))
		wrapped := logging.NewOperationError("usecase.classify", requestID, err)
		opLogger.Error("classification failed", zap.Error(wrapped), zap.String("source", sourceLabel))
		return detection.Decision{}, wrapped
	}

	decision, err := uc.engine.Decide(result.Probabilities, sourceLabel, result.Latency)
	if err != nil {
		uc.metrics.ObserveError(metrics.KindInvalidDistribution)
		wrapped := logging.NewOperationError("usecase.decide", requestID, err)
		opLogger.Error("classifier returned an invalid distribution", zap.Error(wrapped), zap.Any("distribution", result.Probabilities))
		return detection.Decision{}, wrapped
	}

	uc.history.Append(decision)
	uc.metrics.ObserveDecision(decision)

	if err := uc.cacheDecision(ctx, requestID, decision); err != nil {
		opLogger.Warn("failed to cache decision", zap.Error(err), zap.String("decision_id", decision.ID))
	}

	opLogger.Info("image classified",
		zap.String("decision_id", decision.ID),
		zap.String("source", sourceLabel),
		zap.String("predicted_class", string(decision.PredictedClass)),
		zap.Float64("confidence", decision.Confidence),
		zap.Bool("is_accident", decision.IsAccident),
		zap.Duration("latency", decision.Latency),
	)
	return decision, nil
}

// History returns the retained decisions, oldest first.
func (uc *DetectionUseCase) History(ctx context.Context) []detection.Decision {
	return uc.history.Snapshot()
}

// Stats summarizes the retained decisions.
func (uc *DetectionUseCase) Stats(ctx context.Context) stats.Stats {
	return stats.Summarize(uc.history.Snapshot())
}

// ClearHistory drops every retained decision. Cached results expire on their own.
func (uc *DetectionUseCase) ClearHistory(ctx context.Context) {
	uc.history.Clear()
	uc.logger.Info("history cleared")
}

// GetResult looks a decision up in the cache, then in the retained history.
func (uc *DetectionUseCase) GetResult(ctx context.Context, id string) (detection.Decision, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", id)

	cached, err := uc.cacheGet(ctx, id, cacheKey(id))
	switch {
	case err == nil:
		var payload cachedDecision
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
			break
		}
		return payload.decision(), nil
	case !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	if decision, ok := uc.history.Find(id); ok {
		return decision, nil
	}
	return detection.Decision{}, ErrResultNotFound
}

func (uc *DetectionUseCase) cacheDecision(ctx context.Context, requestID string, d detection.Decision) error {
	probabilities := make(map[string]float64, len(d.Probabilities))
	for label, p := range d.Probabilities {
		probabilities[string(label)] = p
	}
	serialized, err := json.Marshal(cachedDecision{
		ID:             d.ID,
		PredictedClass: string(d.PredictedClass),
		Confidence:     d.Confidence,
		IsAccident:     d.IsAccident,
		Probabilities:  probabilities,
		Timestamp:      d.Timestamp,
		SourceLabel:    d.SourceLabel,
		LatencyNanos:   int64(d.Latency),
	})
	if err != nil {
		return logging.NewOperationError("cache.encode.result", requestID, err)
	}

	opLogger := logging.WithOperation(uc.logger, "cache.set.result", requestID)
	err = uc.retry.run(ctx, opLogger, func() error {
		return uc.cache.Set(ctx, cacheKey(d.ID), string(serialized), uc.resultTTL)
	})
	return logging.NewOperationError("cache.set.result", requestID, err)
}

func (uc *DetectionUseCase) cacheGet(ctx context.Context, requestID, key string) (string, error) {
	var value string
	opLogger := logging.WithOperation(uc.logger, "cache.get.result", requestID)
	err := uc.retry.run(ctx, opLogger, func() error {
		var err error
		value, err = uc.cache.Get(ctx, key)
		return err
	})
	if err != nil {
		return "", logging.NewOperationError("cache.get.result", requestID, err)
	}
	return value, nil
}

func (p cachedDecision) decision() detection.Decision {
	dist := make(detection.Distribution, len(p.Probabilities))
	for label, prob := range p.Probabilities {
		dist[detection.Label(label)] = prob
	}
	return detection.Decision{
		ID:             p.ID,
		PredictedClass: detection.Label(p.PredictedClass),
		Confidence:     p.Confidence,
		IsAccident:     p.IsAccident,
		Probabilities:  dist,
		Timestamp:      p.Timestamp,
		SourceLabel:    p.SourceLabel,
		Latency:        time.Duration(p.LatencyNanos),
	}
}

func cacheKey(id string) string {
	return fmt.Sprintf("decision:%s", id)
}

func classifyErrorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.KindClassifierTimeout
	case errors.Is(err, detection.ErrUnreadableImage):
		return metrics.KindUnreadableImage
	default:
		return metrics.KindClassification
	}
}
