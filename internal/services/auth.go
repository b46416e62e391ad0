package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"task-market/internal/models"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const TokenIssuer = "taskmarket"

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid account or secret")
	ErrInvalidToken       = errors.New("invalid token")
)

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type AuthService interface {
	Register(ctx context.Context, account models.AccountID, secret string) (*models.Account, error)
	Login(ctx context.Context, account models.AccountID, secret string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, account models.AccountID) error
}

// Tokens signs and verifies HS256 access tokens whose subject is the
// account id.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

func (t *Tokens) Issue(account models.AccountID) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(t.ttl)

	id, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}

	claims := jwt.RegisteredClaims{
		ID:        id.String(),
		Subject:   string(account),
		Issuer:    TokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify returns the account a valid token was issued to.
func (t *Tokens) Verify(token string) (models.AccountID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return models.AccountID(claims.Subject), nil
}

type AuthServiceImpl struct {
	db         *gorm.DB
	tokens     *Tokens
	bcryptCost int
	refreshTTL time.Duration
}

func NewAuthService(db *gorm.DB, tokens *Tokens, bcryptCost int, refreshTTL time.Duration) *AuthServiceImpl {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &AuthServiceImpl{db: db, tokens: tokens, bcryptCost: bcryptCost, refreshTTL: refreshTTL}
}

var _ AuthService = &AuthServiceImpl{}

func (s *AuthServiceImpl) Register(ctx context.Context, account models.AccountID, secret string) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	acct := &models.Account{ID: account, SecretHash: string(hash)}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Account{}).Where("id = ?", account).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAccountExists
		}
		return tx.Create(acct).Error
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

func (s *AuthServiceImpl) Login(ctx context.Context, account models.AccountID, secret string) (*TokenPair, error) {
	var acct models.Account
	if err := s.db.WithContext(ctx).Where("id = ?", account).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !VerifySecret(acct.SecretHash, secret) {
		return nil, ErrInvalidCredentials
	}
	return s.issuePair(s.db.WithContext(ctx), acct.ID)
}

// Refresh consumes a refresh token and issues a new pair.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	id, err := uuid.FromString(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var pair *TokenPair
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored models.RefreshToken
		err := tx.Where("id = ? AND expires_at > ?", id, time.Now()).First(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&stored).Error; err != nil {
			return err
		}
		pair, err = s.issuePair(tx, stored.Account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes every refresh token of the account. Access tokens stay
// valid until they expire.
func (s *AuthServiceImpl) Logout(ctx context.Context, account models.AccountID) error {
	return s.db.WithContext(ctx).Where("account = ?", account).Delete(&models.RefreshToken{}).Error
}

func (s *AuthServiceImpl) issuePair(db *gorm.DB, account models.AccountID) (*TokenPair, error) {
	access, expiresAt, err := s.tokens.Issue(account)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	refresh := models.RefreshToken{
		ID:        id,
		Account:   account,
		ExpiresAt: time.Now().Add(s.refreshTTL),
	}
	if err := db.Create(&refresh).Error; err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: id.String(),
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	}, nil
}
