package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/priyanshukr01/EcoSap/internal/detection"
	"github.com/priyanshukr01/EcoSap/internal/logging"
	"github.com/priyanshukr01/EcoSap/internal/repository"
	"github.com/priyanshukr01/EcoSap/internal/scoring"
	"github.com/priyanshukr01/EcoSap/internal/storage"
)

// BalanceStore defines the balance operations needed by the award flow. The
// increment must be atomic: the post-increment balance comes from the same
// statement that applies the delta.
type BalanceStore interface {
	GetCredits(ctx context.Context, id uint) (int64, error)
	IncrementCredits(ctx context.Context, id uint, delta int64) (int64, error)
}

// AwardLogStore defines the award history operations needed by the flow.
type AwardLogStore interface {
	Save(ctx context.Context, log *repository.AwardLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID string, userID uint) (*repository.AwardLog, error)
	ListByUser(ctx context.Context, userID uint, limit int) ([]*repository.AwardLog, error)
}

// AwardRequest carries one credit-award attempt. The optional factor fields
// are forwarded into scoring when supplied by the caller; the pipeline never
// derives them itself.
type AwardRequest struct {
	Image     []byte
	MediaType string
	Filename  string
	GSD       float64

	VegetationDensity  *float64
	PreviousArea       *float64
	TreeSpecies        string
	LocationMultiplier *float64
}

// TreeSummary echoes detection details back to the caller.
type TreeSummary struct {
	TotalTrees         int              `json:"totalTrees"`
	TotalArea          float64          `json:"totalArea"`
	AverageArea        float64          `json:"averageArea"`
	TotalCircumference float64          `json:"totalCircumference"`
	GSDUsed            float64          `json:"gsdUsed"`
	Trees              []detection.Tree `json:"trees"`
}

// AwardOutcome is the terminal artifact of one award attempt. TotalCredits
// is the authoritative post-increment balance from the store, never a value
// computed in memory.
type AwardOutcome struct {
	RequestID    string       `json:"request_id"`
	Succeeded    bool         `json:"success"`
	AreaM2       float64      `json:"area"`
	CreditsAdded int          `json:"creditsAdded"`
	TotalCredits int64        `json:"totalCredits"`
	Message      string       `json:"message"`
	TreeDetails  *TreeSummary `json:"treeDetails,omitempty"`
}

// AwardUseCase orchestrates detection, scoring, and the atomic balance
// mutation for sapling credit awards.
type AwardUseCase struct {
	balances BalanceStore
	awards   AwardLogStore
	cache    Cache
	detector detection.Client
	images   storage.ImageStore
	metrics  *Metrics
	logger   *zap.Logger

	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAwardUseCase constructs a new use case instance. images and metrics may
// be nil; archiving and instrumentation are then skipped.
func NewAwardUseCase(balances BalanceStore, awards AwardLogStore, cache Cache, detector detection.Client, images storage.ImageStore, metrics *Metrics, logger *zap.Logger) *AwardUseCase {
	return &AwardUseCase{
		balances:       balances,
		awards:         awards,
		cache:          cache,
		detector:       detector,
		images:         images,
		metrics:        metrics,
		logger:         logger.Named("award_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Award runs the full pipeline for one request: validate, detect, score,
// credit. A balance changes if and only if detection succeeded with positive
// area and the atomic increment itself succeeded; every failure path exits
// before the mutation.
func (uc *AwardUseCase) Award(ctx context.Context, userID uint, req AwardRequest) (*AwardOutcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.award", requestID)

	if len(req.Image) == 0 {
		uc.metrics.observeResult("invalid_input")
		return nil, detection.NewError(detection.KindInvalidInput, "image required", nil)
	}
	if req.GSD <= 0 || math.IsInf(req.GSD, 0) || math.IsNaN(req.GSD) {
		uc.metrics.observeResult("invalid_input")
		return nil, detection.NewError(detection.KindInvalidInput, "gsd must be positive", nil)
	}

	cacheKey := fmt.Sprintf("award:%s", requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	detectStart := time.Now()
	result, err := uc.detector.Detect(ctx, req.Image, req.MediaType, req.Filename, req.GSD)
	uc.metrics.observeDetection(time.Since(detectStart).Seconds())
	if err != nil {
		uc.metrics.observeResult(string(detection.KindOf(err)))
		wrapped := logging.NewOperationError("usecase.detect_area", requestID, err)
		opLogger.Error("area detection failed", zap.Error(wrapped))
		return nil, wrapped
	}

	if !result.Success || result.TotalAreaM2 <= 0 {
		return uc.completeWithoutCredit(ctx, userID, requestID, req, result, opLogger)
	}

	area := result.TotalAreaM2
	gsd := req.GSD
	creditsToAdd := scoring.Score(scoring.Factors{
		Area:               area,
		GSD:                &gsd,
		VegetationDensity:  req.VegetationDensity,
		PreviousArea:       req.PreviousArea,
		TreeSpecies:        req.TreeSpecies,
		LocationMultiplier: req.LocationMultiplier,
	})

	newBalance, err := uc.balances.IncrementCredits(ctx, userID, int64(creditsToAdd))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			uc.metrics.observeResult("not_found")
		} else {
			uc.metrics.observeResult("store_error")
		}
		wrapped := logging.NewOperationError("usecase.increment_credits", requestID, err)
		opLogger.Error("failed to credit balance", zap.Error(wrapped))
		return nil, wrapped
	}

	outcome := &AwardOutcome{
		RequestID:    requestID,
		Succeeded:    true,
		AreaM2:       area,
		CreditsAdded: creditsToAdd,
		TotalCredits: newBalance,
		Message:      fmt.Sprintf("Successfully added %d credits based on area %.2f m²", creditsToAdd, area),
		TreeDetails: &TreeSummary{
			TotalTrees:         result.TotalTrees,
			TotalArea:          result.TotalAreaM2,
			AverageArea:        result.AverageAreaM2,
			TotalCircumference: result.TotalCircumferenceM,
			GSDUsed:            req.GSD,
			Trees:              result.Trees,
		},
	}

	// The increment is the point of no return: everything after it is
	// best-effort bookkeeping and must not turn an applied award into an
	// error response.
	imageKey := uc.archiveImage(ctx, userID, requestID, req, opLogger)
	uc.recordAward(ctx, userID, requestID, req.GSD, imageKey, outcome, opLogger)
	uc.cacheOutcome(ctx, requestID, cacheKey, outcome, opLogger)

	uc.metrics.observeResult("awarded")
	uc.metrics.observeCredits(creditsToAdd)
	opLogger.Info("credits awarded",
		zap.Uint("user_id", userID),
		zap.Float64("area_m2", area),
		zap.Int("credits_added", creditsToAdd),
		zap.Int64("total_credits", newBalance))

	return outcome, nil
}

// completeWithoutCredit handles the "no creditable area" branch: a valid
// detection round that found nothing. The balance is reported unchanged and
// no increment is attempted.
func (uc *AwardUseCase) completeWithoutCredit(ctx context.Context, userID uint, requestID string, req AwardRequest, result *detection.Result, opLogger *zap.Logger) (*AwardOutcome, error) {
	balance, err := uc.balances.GetCredits(ctx, userID)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.read_balance", requestID, err)
		opLogger.Error("failed to read balance", zap.Error(wrapped))
		return nil, wrapped
	}

	message := result.Message
	if message == "" {
		message = "No tree area detected in the image"
	}

	outcome := &AwardOutcome{
		RequestID:    requestID,
		Succeeded:    false,
		AreaM2:       0,
		CreditsAdded: 0,
		TotalCredits: balance,
		Message:      message,
	}

	uc.recordAward(ctx, userID, requestID, req.GSD, "", outcome, opLogger)
	uc.cacheOutcome(ctx, requestID, fmt.Sprintf("award:%s", requestID), outcome, opLogger)
	uc.metrics.observeResult("no_area")
	return outcome, nil
}

// archiveImage stores the original upload for auditability. Failures degrade
// to a warning.
func (uc *AwardUseCase) archiveImage(ctx context.Context, userID uint, requestID string, req AwardRequest, opLogger *zap.Logger) string {
	if uc.images == nil {
		return ""
	}
	key := fmt.Sprintf("awards/%d/%s%s", userID, requestID, extensionFor(req.MediaType))
	if err := uc.images.SaveImage(ctx, key, req.Image, req.MediaType); err != nil {
		opLogger.Warn("failed to archive award image", zap.String("key", key), zap.Error(err))
		return ""
	}
	return key
}

func (uc *AwardUseCase) recordAward(ctx context.Context, userID uint, requestID string, gsd float64, imageKey string, outcome *AwardOutcome, opLogger *zap.Logger) {
	log := &repository.AwardLog{
		RequestID:    requestID,
		UserID:       userID,
		Succeeded:    outcome.Succeeded,
		AreaM2:       outcome.AreaM2,
		CreditsAdded: outcome.CreditsAdded,
		TotalCredits: outcome.TotalCredits,
		GSD:          gsd,
		Message:      outcome.Message,
		ImageKey:     imageKey,
		CreatedAt:    time.Now().UTC(),
	}
	if outcome.TreeDetails != nil {
		log.TotalTrees = outcome.TreeDetails.TotalTrees
		log.AverageAreaM2 = outcome.TreeDetails.AverageArea
		log.TotalCircumferenceM = outcome.TreeDetails.TotalCircumference
	}
	if err := uc.awards.Save(ctx, log); err != nil {
		opLogger.Warn("failed to persist award log", zap.Error(err))
	}
}

func (uc *AwardUseCase) cacheOutcome(ctx context.Context, requestID, cacheKey string, outcome *AwardOutcome, opLogger *zap.Logger) {
	serialized, err := json.Marshal(outcome)
	if err != nil {
		opLogger.Warn("failed to serialize award outcome", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.outcome", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Warn("failed to cache award outcome", zap.Error(err))
	}
}

// GetAward retrieves a cached award outcome or loads it from persistence.
func (uc *AwardUseCase) GetAward(ctx context.Context, userID uint, requestID string) (*AwardOutcome, error) {
	cacheKey := fmt.Sprintf("award:%s", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.outcome", cacheKey); err == nil {
		var outcome AwardOutcome
		if err := json.Unmarshal([]byte(cached), &outcome); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_award", requestID).Warn("failed to decode cached outcome", zap.Error(err))
		} else if outcome.RequestID == requestID {
			return &outcome, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_award", requestID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.awards.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}
	return &AwardOutcome{
		RequestID:    log.RequestID,
		Succeeded:    log.Succeeded,
		AreaM2:       log.AreaM2,
		CreditsAdded: log.CreditsAdded,
		TotalCredits: log.TotalCredits,
		Message:      log.Message,
	}, nil
}

// History returns the user's recent award outcomes, newest first.
func (uc *AwardUseCase) History(ctx context.Context, userID uint, limit int) ([]*repository.AwardLog, error) {
	return uc.awards.ListByUser(ctx, userID, limit)
}

func (uc *AwardUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AwardUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
