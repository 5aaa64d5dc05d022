package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/priyanshukr01/EcoSap/internal/auth"
	"github.com/priyanshukr01/EcoSap/internal/repository"
)

// ErrEmailTaken is returned when a signup reuses an existing email.
var ErrEmailTaken = errors.New("user already exists")

// ErrInvalidCredentials is returned when login fails, without revealing
// whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

// UserStore defines the account operations needed by this use case.
type UserStore interface {
	Create(ctx context.Context, user *repository.User) error
	FindByEmail(ctx context.Context, email string) (*repository.User, error)
	FindByID(ctx context.Context, id uint) (*repository.User, error)
	Save(ctx context.Context, user *repository.User) error
	Delete(ctx context.Context, id uint) error
}

// SignupInput is a validated registration request.
type SignupInput struct {
	Username     string
	Email        string
	Password     string
	Phone        string
	Address      string
	Latitude     float64
	Longitude    float64
	AadharNumber string
	Signature    string
}

// ProfileUpdate carries the allowlisted mutable profile fields. Nil means
// "leave unchanged".
type ProfileUpdate struct {
	Username  *string
	Phone     *string
	Address   *string
	Latitude  *float64
	Longitude *float64
	Signature *string
}

// AccountUseCase covers registration, login, and profile management.
type AccountUseCase struct {
	users       UserStore
	jwtSecret   string
	jwtAudience string
	logger      *zap.Logger
}

// NewAccountUseCase constructs a new use case instance.
func NewAccountUseCase(users UserStore, jwtSecret, jwtAudience string, logger *zap.Logger) *AccountUseCase {
	return &AccountUseCase{
		users:       users,
		jwtSecret:   jwtSecret,
		jwtAudience: jwtAudience,
		logger:      logger.Named("account_usecase"),
	}
}

// Signup registers a new user with a zero starting balance.
func (uc *AccountUseCase) Signup(ctx context.Context, input SignupInput) (*repository.User, error) {
	if _, err := uc.users.FindByEmail(ctx, input.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := &repository.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		Phone:        input.Phone,
		Address:      input.Address,
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
		AadharNumber: input.AadharNumber,
		Signature:    input.Signature,
		Ecocredits:   0,
	}
	if err := uc.users.Create(ctx, user); err != nil {
		return nil, err
	}

	uc.logger.Info("user registered", zap.Uint("user_id", user.ID))
	return user, nil
}

// Login verifies credentials and issues a bearer token.
func (uc *AccountUseCase) Login(ctx context.Context, email, password string) (string, error) {
	user, err := uc.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		return "", ErrInvalidCredentials
	}

	return auth.IssueToken(uc.jwtSecret, user.ID, uc.jwtAudience)
}

// GetProfile loads the current user including the live balance.
func (uc *AccountUseCase) GetProfile(ctx context.Context, userID uint) (*repository.User, error) {
	return uc.users.FindByID(ctx, userID)
}

// UpdateProfile applies allowlisted field changes.
func (uc *AccountUseCase) UpdateProfile(ctx context.Context, userID uint, update ProfileUpdate) (*repository.User, error) {
	user, err := uc.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.Username != nil {
		user.Username = *update.Username
	}
	if update.Phone != nil {
		user.Phone = *update.Phone
	}
	if update.Address != nil {
		user.Address = *update.Address
	}
	if update.Latitude != nil {
		user.Latitude = *update.Latitude
	}
	if update.Longitude != nil {
		user.Longitude = *update.Longitude
	}
	if update.Signature != nil {
		user.Signature = *update.Signature
	}

	if err := uc.users.Save(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteAccount removes the user entirely.
func (uc *AccountUseCase) DeleteAccount(ctx context.Context, userID uint) error {
	return uc.users.Delete(ctx, userID)
}
