package models

import (
	"time"

	"github.com/gofrs/uuid"
)

// Account is a host-side identity able to obtain access tokens.
type Account struct {
	ID         AccountID `json:"id" gorm:"primaryKey;type:varchar(128)"`
	SecretHash string    `json:"-" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type AccountBalance struct {
	Account  AccountID `json:"account" gorm:"primaryKey;type:varchar(128)"`
	Free     Balance   `json:"free" gorm:"not null"`
	Reserved Balance   `json:"reserved" gorm:"not null"`
}

// RefreshToken is a single-use credential exchanged for a new token pair.
type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	Account   AccountID `gorm:"type:varchar(128);not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}
