package models

import (
	"fmt"
	"time"
)

// User is keyed by either a client-generated session id or a platform user
// id; either may be null but each is unique when present.
type User struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	SessionID      *string   `json:"sessionId,omitempty" gorm:"size:128;uniqueIndex"`
	PlatformUserID *int64    `json:"platformId,omitempty" gorm:"uniqueIndex"`
	Username       *string   `json:"username,omitempty" gorm:"size:64"`
	FirstName      string    `json:"firstName,omitempty" gorm:"size:128"`
	LastName       string    `json:"lastName,omitempty" gorm:"size:128"`
	LanguageCode   string    `json:"languageCode" gorm:"size:16;not null;default:'en'"`
	IsPremium      bool      `json:"isPremium" gorm:"not null;default:false"`
	DisplayName    *string   `json:"displayName,omitempty" gorm:"size:32;index"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	// Relationships
	Results []GameResult `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// PublicName is the name shown on leaderboards.
func (u *User) PublicName() string {
	switch {
	case u.DisplayName != nil && *u.DisplayName != "":
		return *u.DisplayName
	case u.Username != nil && *u.Username != "":
		return *u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return fmt.Sprintf("Player %d", u.ID)
	}
}
