package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/priyanshukr01/EcoSap/internal/logging"
)

// ErrUserNotFound is returned when an operation targets a user id that no
// longer exists.
var ErrUserNotFound = errors.New("user not found")

// User is a registered planter with a mutable eco-credit balance.
type User struct {
	ID           uint      `gorm:"primaryKey"`
	Username     string    `gorm:"column:username;size:128"`
	Email        string    `gorm:"column:email;uniqueIndex;size:255"`
	PasswordHash string    `gorm:"column:password_hash;size:128"`
	Phone        string    `gorm:"column:phone;size:16"`
	Address      string    `gorm:"column:address;size:255"`
	Latitude     float64   `gorm:"column:latitude"`
	Longitude    float64   `gorm:"column:longitude"`
	AadharNumber string    `gorm:"column:aadhar_number;uniqueIndex;size:12"`
	Signature    string    `gorm:"column:signature;type:text"`
	Ecocredits   int64     `gorm:"column:ecocredits;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// UserRepository provides persistence APIs for user accounts and balances.
type UserRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewUserRepository creates a new repository instance.
func NewUserRepository(db *gorm.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:             db,
		logger:         logger.Named("user_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *UserRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&User{})
}

// Create persists a new user account.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// FindByEmail retrieves the user owning the given email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByID retrieves a user by primary key. Lookups are idempotent, so
// transient failures are retried.
func (r *UserRepository) FindByID(ctx context.Context, id uint) (*User, error) {
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user", "", func() error {
		return r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Save persists profile updates made to an already-loaded user.
func (r *UserRepository) Save(ctx context.Context, user *User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// Delete removes a user account.
func (r *UserRepository) Delete(ctx context.Context, id uint) error {
	tx := r.db.WithContext(ctx).Delete(&User{}, "id = ?", id)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetCredits reads a user's current balance without mutating it.
func (r *UserRepository) GetCredits(ctx context.Context, id uint) (int64, error) {
	var credits int64
	err := r.executeWithRetry(ctx, "repository.get_credits", "", func() error {
		return r.db.WithContext(ctx).Model(&User{}).
			Where("id = ?", id).
			Select("ecocredits").
			Take(&credits).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return credits, nil
}

// IncrementCredits atomically adds delta to a user's balance and returns the
// post-increment value from the same statement. Concurrent increments for
// the same user never lose an update: the read-modify-write happens inside
// a single UPDATE ... RETURNING.
func (r *UserRepository) IncrementCredits(ctx context.Context, id uint, delta int64) (int64, error) {
	var user User
	tx := r.db.WithContext(ctx).Model(&user).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "ecocredits"}}}).
		Where("id = ?", id).
		UpdateColumn("ecocredits", gorm.Expr("ecocredits + ?", delta))
	if tx.Error != nil {
		return 0, tx.Error
	}
	if tx.RowsAffected == 0 {
		return 0, ErrUserNotFound
	}
	return user.Ecocredits, nil
}

// executeWithRetry runs fn, retrying transient failures with exponential
// backoff. Non-transient failures and exhausted attempts come back wrapped
// as an OperationError.
func (r *UserRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
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
