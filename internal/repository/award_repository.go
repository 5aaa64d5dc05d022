package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrAwardNotFound is returned when no award log matches a lookup.
var ErrAwardNotFound = errors.New("award not found")

// AwardLog records the terminal outcome of one credit-award request.
type AwardLog struct {
	ID                  uint      `gorm:"primaryKey"`
	RequestID           string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID              uint      `gorm:"column:user_id;index"`
	Succeeded           bool      `gorm:"column:succeeded"`
	AreaM2              float64   `gorm:"column:area_m2"`
	CreditsAdded        int       `gorm:"column:credits_added"`
	TotalCredits        int64     `gorm:"column:total_credits"`
	GSD                 float64   `gorm:"column:gsd"`
	TotalTrees          int       `gorm:"column:total_trees"`
	AverageAreaM2       float64   `gorm:"column:average_area_m2"`
	TotalCircumferenceM float64   `gorm:"column:total_circumference_m"`
	Message             string    `gorm:"column:message;type:text"`
	ImageKey            string    `gorm:"column:image_key;size:255"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AwardLog) TableName() string {
	return "award_logs"
}

// AwardRepository provides persistence APIs for award logs.
type AwardRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAwardRepository creates a new repository instance.
func NewAwardRepository(db *gorm.DB, logger *zap.Logger) *AwardRepository {
	return &AwardRepository{db: db, logger: logger.Named("award_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *AwardRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AwardLog{})
}

// Save persists an award log entry.
func (r *AwardRepository) Save(ctx context.Context, log *AwardLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// FindByRequestIDAndUser retrieves an award log matching the request and owner.
func (r *AwardRepository) FindByRequestIDAndUser(ctx context.Context, requestID string, userID uint) (*AwardLog, error) {
	var log AwardLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAwardNotFound
		}
		return nil, err
	}
	return &log, nil
}

// ListByUser returns a user's award history, newest first.
func (r *AwardRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]*AwardLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var logs []*AwardLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
