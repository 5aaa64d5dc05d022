package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/priyanshukr01/EcoSap/internal/detection"
	"github.com/priyanshukr01/EcoSap/internal/logging"
	"github.com/priyanshukr01/EcoSap/internal/repository"
)

type stubBalances struct {
	mu             sync.Mutex
	balances       map[uint]int64
	incrementCalls int
	getCalls       int
	incrementErr   error
}

func newStubBalances(initial map[uint]int64) *stubBalances {
	return &stubBalances{balances: initial}
}

func (s *stubBalances) GetCredits(ctx context.Context, id uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	balance, ok := s.balances[id]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	return balance, nil
}

func (s *stubBalances) IncrementCredits(ctx context.Context, id uint, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrementCalls++
	if s.incrementErr != nil {
		return 0, s.incrementErr
	}
	balance, ok := s.balances[id]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	balance += delta
	s.balances[id] = balance
	return balance, nil
}

type stubAwards struct {
	mu    sync.Mutex
	saved []*repository.AwardLog
	found *repository.AwardLog
}

func (s *stubAwards) Save(ctx context.Context, log *repository.AwardLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, log)
	return nil
}

func (s *stubAwards) FindByRequestIDAndUser(ctx context.Context, requestID string, userID uint) (*repository.AwardLog, error) {
	if s.found != nil {
		return s.found, nil
	}
	return nil, repository.ErrAwardNotFound
}

func (s *stubAwards) ListByUser(ctx context.Context, userID uint, limit int) ([]*repository.AwardLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, nil
}

type stubCache struct {
	mu      sync.Mutex
	setErrs []error
	getErr  error
	getVal  string
	setKeys []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	return s.getVal, s.getErr
}

type stubDetector struct {
	mu     sync.Mutex
	result *detection.Result
	err    error
	calls  int
}

func (s *stubDetector) Detect(ctx context.Context, image []byte, mediaType, filename string, gsd float64) (*detection.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestUseCase(balances *stubBalances, awards *stubAwards, cache *stubCache, detector *stubDetector) *AwardUseCase {
	uc := NewAwardUseCase(balances, awards, cache, detector, nil, nil, zap.NewNop())
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond
	return uc
}

func validRequest() AwardRequest {
	return AwardRequest{
		Image:     []byte("fake-image"),
		MediaType: "image/jpeg",
		Filename:  "plot.jpg",
		GSD:       0.45,
	}
}

func TestAwardGrantsCreditsAndReturnsStoreBalance(t *testing.T) {
	balances := newStubBalances(map[uint]int64{7: 100})
	detector := &stubDetector{result: &detection.Result{
		Success:             true,
		TotalTrees:          3,
		TotalAreaM2:         75,
		AverageAreaM2:       25,
		TotalCircumferenceM: 30,
	}}
	awards := &stubAwards{}
	uc := newTestUseCase(balances, awards, &stubCache{}, detector)

	outcome, err := uc.Award(context.Background(), 7, validRequest())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	// area=75 -> base 570, gsd=0.45 -> x1.5 -> 855 credits.
	if outcome.CreditsAdded != 855 {
		t.Errorf("CreditsAdded = %d, want 855", outcome.CreditsAdded)
	}
	if !outcome.Succeeded {
		t.Error("expected Succeeded=true")
	}
	if outcome.AreaM2 != 75 {
		t.Errorf("AreaM2 = %v, want 75", outcome.AreaM2)
	}
	if outcome.TotalCredits != 955 {
		t.Errorf("TotalCredits = %d, want 955 (store balance, not an in-memory sum)", outcome.TotalCredits)
	}
	if outcome.TreeDetails == nil || outcome.TreeDetails.TotalTrees != 3 {
		t.Errorf("tree details not echoed: %+v", outcome.TreeDetails)
	}
	if balances.incrementCalls != 1 {
		t.Errorf("increment calls = %d, want 1", balances.incrementCalls)
	}
	if len(awards.saved) != 1 || !awards.saved[0].Succeeded {
		t.Errorf("expected one successful award log, got %+v", awards.saved)
	}
}

func TestAwardNoDetectionSuccessSkipsBalanceMutation(t *testing.T) {
	balances := newStubBalances(map[uint]int64{7: 100})
	detector := &stubDetector{result: &detection.Result{
		Success: false,
		Message: "No trees detected",
	}}
	uc := newTestUseCase(balances, &stubAwards{}, &stubCache{}, detector)

	outcome, err := uc.Award(context.Background(), 7, validRequest())
	if err != nil {
		t.Fatalf("no-area result must not be a pipeline error, got %v", err)
	}
	if outcome.Succeeded {
		t.Error("expected Succeeded=false")
	}
	if outcome.CreditsAdded != 0 || outcome.AreaM2 != 0 {
		t.Errorf("no credits expected, got %+v", outcome)
	}
	if outcome.TotalCredits != 100 {
		t.Errorf("TotalCredits = %d, want unchanged 100", outcome.TotalCredits)
	}
	if outcome.Message != "No trees detected" {
		t.Errorf("message = %q, want the detection message", outcome.Message)
	}
	if balances.incrementCalls != 0 {
		t.Fatalf("increment calls = %d, want 0", balances.incrementCalls)
	}
}

func TestAwardNonPositiveAreaSkipsBalanceMutation(t *testing.T) {
	balances := newStubBalances(map[uint]int64{7: 40})
	detector := &stubDetector{result: &detection.Result{
		Success:     true,
		TotalAreaM2: 0,
	}}
	uc := newTestUseCase(balances, &stubAwards{}, &stubCache{}, detector)

	outcome, err := uc.Award(context.Background(), 7, validRequest())
	if err != nil {
		t.Fatalf("expected non-error outcome, got %v", err)
	}
	if outcome.Succeeded || outcome.CreditsAdded != 0 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if balances.incrementCalls != 0 {
		t.Fatalf("increment calls = %d, want 0", balances.incrementCalls)
	}
}

func TestAwardDetectionFailureShortCircuits(t *testing.T) {
	kinds := []detection.Kind{
		detection.KindServiceUnavailable,
		detection.KindTimeout,
		detection.KindRemoteError,
		detection.KindMalformedResponse,
	}
	for _, kind := range kinds {
		balances := newStubBalances(map[uint]int64{7: 100})
		detector := &stubDetector{err: detection.NewError(kind, "boom", nil)}
		uc := newTestUseCase(balances, &stubAwards{}, &stubCache{}, detector)

		_, err := uc.Award(context.Background(), 7, validRequest())
		if err == nil {
			t.Fatalf("%s: expected error", kind)
		}
		if got := detection.KindOf(err); got != kind {
			t.Errorf("kind = %s, want %s", got, kind)
		}
		if balances.incrementCalls != 0 || balances.getCalls != 0 {
			t.Errorf("%s: balance store touched (inc=%d get=%d)", kind, balances.incrementCalls, balances.getCalls)
		}
	}
}

func TestAwardValidatesBeforeDetection(t *testing.T) {
	cases := []struct {
		name string
		req  AwardRequest
	}{
		{"empty image", AwardRequest{GSD: 1.0}},
		{"zero gsd", AwardRequest{Image: []byte("img")}},
		{"negative gsd", AwardRequest{Image: []byte("img"), GSD: -1}},
	}
	for _, tc := range cases {
		balances := newStubBalances(map[uint]int64{7: 100})
		detector := &stubDetector{result: &detection.Result{Success: true, TotalAreaM2: 10}}
		uc := newTestUseCase(balances, &stubAwards{}, &stubCache{}, detector)

		_, err := uc.Award(context.Background(), 7, tc.req)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if kind := detection.KindOf(err); kind != detection.KindInvalidInput {
			t.Errorf("%s: kind = %s, want invalid_input", tc.name, kind)
		}
		if detector.calls != 0 {
			t.Errorf("%s: detector called on invalid input", tc.name)
		}
		if balances.incrementCalls != 0 {
			t.Errorf("%s: balance mutated on invalid input", tc.name)
		}
	}
}

func TestAwardUserVanishedBeforeCrediting(t *testing.T) {
	balances := newStubBalances(map[uint]int64{})
	detector := &stubDetector{result: &detection.Result{Success: true, TotalAreaM2: 20}}
	uc := newTestUseCase(balances, &stubAwards{}, &stubCache{}, detector)

	_, err := uc.Award(context.Background(), 404, validRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound in chain, got %v", err)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "usecase.increment_credits" {
		t.Errorf("operation = %s", opErr.Operation)
	}
}

func TestAwardProcessingFlagFailureAbortsBeforeDetection(t *testing.T) {
	balances := newStubBalances(map[uint]int64{7: 100})
	detector := &stubDetector{result: &detection.Result{Success: true, TotalAreaM2: 20}}
	cache := &stubCache{setErrs: []error{errors.New("redis down"), errors.New("redis down"), errors.New("redis down")}}
	uc := newTestUseCase(balances, &stubAwards{}, cache, detector)

	_, err := uc.Award(context.Background(), 7, validRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "cache.set.processing" {
		t.Errorf("operation = %s", opErr.Operation)
	}
	if detector.calls != 0 || balances.incrementCalls != 0 {
		t.Error("pipeline must stop before detection when the processing flag cannot be set")
	}
}

func TestAwardConcurrentIncrementsSum(t *testing.T) {
	const workers = 20
	balances := newStubBalances(map[uint]int64{7: 1000})
	detector := &stubDetector{result: &detection.Result{Success: true, TotalAreaM2: 5}}
	uc := newTestUseCase(balances, &stubAwards{}, &stubCache{}, detector)

	// area=5, gsd=0.45 -> 50 * 1.5 = 75 credits per award.
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.Award(context.Background(), 7, validRequest())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent award failed: %v", err)
		}
	}

	want := int64(1000 + workers*75)
	if got := balances.balances[7]; got != want {
		t.Fatalf("final balance = %d, want %d", got, want)
	}
}

func TestGetAwardFallsBackToRepositoryOnCacheMiss(t *testing.T) {
	awards := &stubAwards{found: &repository.AwardLog{
		RequestID:    "req-1",
		UserID:       7,
		Succeeded:    true,
		AreaM2:       12.5,
		CreditsAdded: 125,
		TotalCredits: 625,
		Message:      "from-db",
	}}
	cache := &stubCache{getErr: redis.Nil}
	uc := newTestUseCase(newStubBalances(nil), awards, cache, &stubDetector{})

	outcome, err := uc.GetAward(context.Background(), 7, "req-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if outcome.Message != "from-db" || outcome.CreditsAdded != 125 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
}

func TestGetAwardUsesCachedOutcome(t *testing.T) {
	cached := `{"request_id":"req-2","success":true,"area":10,"creditsAdded":150,"totalCredits":300,"message":"cached"}`
	cache := &stubCache{getVal: cached}
	uc := newTestUseCase(newStubBalances(nil), &stubAwards{}, cache, &stubDetector{})

	outcome, err := uc.GetAward(context.Background(), 7, "req-2")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if outcome.Message != "cached" || outcome.TotalCredits != 300 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
}
