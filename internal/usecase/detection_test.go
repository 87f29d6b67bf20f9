package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/accident-check/internal/classifier"
	"github.com/example/accident-check/internal/detection"
	"github.com/example/accident-check/internal/history"
	"github.com/example/accident-check/internal/logging"
	"github.com/example/accident-check/internal/metrics"
)

type stubCache struct {
	mu        sync.Mutex
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	getKeys   []string
	values    map[string]string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		if err != nil {
			return err
		}
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getKeys = append(s.getKeys, key)
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(s.getValues) > 0 {
		value := s.getValues[0]
		s.getValues = s.getValues[1:]
		return value, nil
	}
	if value, ok := s.values[key]; ok {
		return value, nil
	}
	return "", redis.Nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

type fixture struct {
	uc    *DetectionUseCase
	store *history.Store
}

func newFixture(t *testing.T, c detection.Classifier, cache Cache) fixture {
	t.Helper()
	engine, err := detection.NewEngine(detection.DefaultLabelSet(), "accident", detection.DefaultThreshold)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	store := history.New(history.DefaultCapacity)
	uc := NewDetectionUseCase(c, engine, store, cache, metrics.New(store.Len), zap.NewNop())
	uc.retry.initialBackoff = time.Millisecond
	uc.retry.maxBackoff = 2 * time.Millisecond
	return fixture{uc: uc, store: store}
}

func accidentClassifier() *classifier.StaticClassifier {
	return &classifier.StaticClassifier{
		Probabilities: detection.Distribution{"accident": 0.82, "no_accident": 0.18},
		Latency:       100 * time.Millisecond,
	}
}

func TestDetectRecordsDecision(t *testing.T) {
	cache := &stubCache{}
	f := newFixture(t, accidentClassifier(), cache)

	decision, err := f.uc.Detect(context.Background(), []byte("image"), "crash.jpg")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if decision.PredictedClass != detection.LabelAccident || !decision.IsAccident || decision.Confidence != 0.82 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if decision.SourceLabel != "crash.jpg" || decision.Latency != 100*time.Millisecond {
		t.Fatalf("unexpected source fields: %+v", decision)
	}

	snapshot := f.store.Snapshot()
	if len(snapshot) != 1 || snapshot[0].ID != decision.ID {
		t.Fatalf("expected decision in history, got %+v", snapshot)
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != "decision:"+decision.ID {
		t.Fatalf("expected decision to be cached, got keys %v", cache.setKeys)
	}
}

func TestDetectRejectsEmptyImage(t *testing.T) {
	f := newFixture(t, accidentClassifier(), &stubCache{})

	_, err := f.uc.Detect(context.Background(), nil, "empty.jpg")
	if !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
	if len(f.store.Snapshot()) != 0 {
		t.Fatal("history must not change on rejected input")
	}
}

func TestDetectPropagatesClassificationError(t *testing.T) {
	f := newFixture(t, &classifier.StaticClassifier{Err: detection.ErrBackendUnavailable}, &stubCache{})

	_, err := f.uc.Detect(context.Background(), []byte("image"), "a.jpg")
	var classErr *detection.ClassificationError
	if !errors.As(err, &classErr) {
		t.Fatalf("expected ClassificationError, got %T: %v", err, err)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.classify" {
		t.Fatalf("expected usecase.classify OperationError, got %v", err)
	}
	if len(f.store.Snapshot()) != 0 {
		t.Fatal("history must not change when classification fails")
	}
}

func TestDetectRejectsInvalidDistribution(t *testing.T) {
	c := &classifier.StaticClassifier{Probabilities: detection.Distribution{"accident": 0.25, "no_accident": 0.25}}
	cache := &stubCache{}
	f := newFixture(t, c, cache)

	_, err := f.uc.Detect(context.Background(), []byte("image"), "a.jpg")
	var invalid *detection.InvalidDistributionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidDistributionError, got %v", err)
	}
	if len(f.store.Snapshot()) != 0 {
		t.Fatal("history must not change for an invalid distribution")
	}
	if len(cache.setKeys) != 0 {
		t.Fatal("nothing should be cached for an invalid distribution")
	}
}

func TestDetectAppliesClassifyTimeout(t *testing.T) {
	mock, err := classifier.NewMockClassifier(detection.DefaultLabelSet(), "accident", time.Minute, 1)
	if err != nil {
		t.Fatalf("failed to build mock: %v", err)
	}
	f := newFixture(t, mock, &stubCache{})
	WithClassifyTimeout(10 * time.Millisecond)(f.uc)

	_, err = f.uc.Detect(context.Background(), []byte("image"), "slow.jpg")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDetectRetriesTransientCacheErrors(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	f := newFixture(t, accidentClassifier(), cache)

	decision, err := f.uc.Detect(context.Background(), []byte("image"), "a.jpg")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) != 2 {
		t.Fatalf("expected 2 cache set calls (retry + result), got %d", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
	if _, ok := cache.values["decision:"+decision.ID]; !ok {
		t.Fatal("expected decision to be cached after retry")
	}
}

func TestDetectSurvivesCacheFailure(t *testing.T) {
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	f := newFixture(t, accidentClassifier(), cache)

	if _, err := f.uc.Detect(context.Background(), []byte("image"), "a.jpg"); err != nil {
		t.Fatalf("cache failures must not fail detection, got %v", err)
	}
	if len(cache.setKeys) != 1 {
		t.Fatalf("non-transient errors must not be retried, got %d calls", len(cache.setKeys))
	}
	if len(f.store.Snapshot()) != 1 {
		t.Fatal("decision must still be recorded")
	}
}

func TestGetResultPrefersCache(t *testing.T) {
	cache := &stubCache{}
	f := newFixture(t, accidentClassifier(), cache)

	decision, err := f.uc.Detect(context.Background(), []byte("image"), "a.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.uc.ClearHistory(context.Background())

	got, err := f.uc.GetResult(context.Background(), decision.ID)
	if err != nil {
		t.Fatalf("expected cached result, got error: %v", err)
	}
	if got.ID != decision.ID || got.Confidence != decision.Confidence || got.Probabilities["accident"] != 0.82 {
		t.Fatalf("cached decision mismatch: %+v vs %+v", got, decision)
	}
	if !got.Timestamp.Equal(decision.Timestamp) || got.Latency != decision.Latency {
		t.Fatalf("cached timing mismatch: %+v vs %+v", got, decision)
	}
}

func TestGetResultFallsBackToHistoryWhenCacheMiss(t *testing.T) {
	f := newFixture(t, accidentClassifier(), nil)

	decision, err := f.uc.Detect(context.Background(), []byte("image"), "a.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := f.uc.GetResult(context.Background(), decision.ID)
	if err != nil {
		t.Fatalf("expected history fallback, got error: %v", err)
	}
	if got.ID != decision.ID {
		t.Fatalf("expected %s, got %s", decision.ID, got.ID)
	}

	if _, err := f.uc.GetResult(context.Background(), "missing"); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}
}

func TestGetResultIgnoresCorruptCacheEntry(t *testing.T) {
	cache := &stubCache{getValues: []string{"{not json"}}
	f := newFixture(t, accidentClassifier(), cache)

	if _, err := f.uc.GetResult(context.Background(), "abc"); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}
}

func TestStatsAndClearHistory(t *testing.T) {
	f := newFixture(t, accidentClassifier(), &stubCache{})
	for i := 0; i < 3; i++ {
		if _, err := f.uc.Detect(context.Background(), []byte("image"), fmt.Sprintf("%d.jpg", i)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	s := f.uc.Stats(context.Background())
	if s.Total != 3 || s.Accidents != 3 || s.AccidentRate != 100 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if got := len(f.uc.History(context.Background())); got != 3 {
		t.Fatalf("expected 3 history entries, got %d", got)
	}

	f.uc.ClearHistory(context.Background())
	if s := f.uc.Stats(context.Background()); s.Total != 0 || s.AverageConfidence != 0 || s.AccidentRate != 0 {
		t.Fatalf("expected zero stats after clear, got %+v", s)
	}
}

func TestDetectConcurrentRequestsRespectCapacity(t *testing.T) {
	f := newFixture(t, accidentClassifier(), &stubCache{})

	var wg sync.WaitGroup
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.uc.Detect(context.Background(), []byte("image"), fmt.Sprintf("%d.jpg", i)); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(f.uc.History(context.Background())); got != history.DefaultCapacity {
		t.Fatalf("expected %d entries, got %d", history.DefaultCapacity, got)
	}
}
