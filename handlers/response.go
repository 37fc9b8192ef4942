package handlers

import (
	"time"

	"fingergun/apperr"
	"fingergun/initdata"
	"fingergun/middleware"
	"fingergun/models"
	"fingergun/services"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, err error) {
	middleware.AbortWithError(c, err)
}

// invalidRequest wraps binder errors; the binder message is kept only as the
// cause since it may echo request fields.
func invalidRequest(err error) error {
	return apperr.Wrap(apperr.CodeInvalidRequest, "request body or query is invalid", err)
}

type IdentityResponse struct {
	PlatformID   int64      `json:"platformId"`
	Username     string     `json:"username,omitempty"`
	FirstName    string     `json:"firstName,omitempty"`
	LastName     string     `json:"lastName,omitempty"`
	LanguageCode string     `json:"languageCode"`
	IsPremium    bool       `json:"isPremium"`
	AuthDate     *time.Time `json:"authDate,omitempty"`
}

func identityResponse(ident *initdata.Identity) *IdentityResponse {
	if ident == nil {
		return nil
	}
	resp := &IdentityResponse{
		PlatformID:   ident.PlatformUserID,
		Username:     ident.Username,
		FirstName:    ident.FirstName,
		LastName:     ident.LastName,
		LanguageCode: ident.LanguageCode,
		IsPremium:    ident.IsPremium,
	}
	if resp.LanguageCode == "" {
		resp.LanguageCode = initdata.DefaultLanguage
	}
	if !ident.AuthDate.IsZero() {
		t := ident.AuthDate
		resp.AuthDate = &t
	}
	return resp
}

type UserResponse struct {
	*models.User
	Name string `json:"name"`
}

func userResponse(u *models.User) UserResponse {
	return UserResponse{User: u, Name: u.PublicName()}
}

// AuthResponse is returned by every login endpoint.
type AuthResponse struct {
	User      UserResponse        `json:"user"`
	Method    services.AuthMethod `json:"method"`
	Identity  *IdentityResponse   `json:"identity,omitempty"`
	Stats     services.UserStats  `json:"stats"`
	Rank      *int                `json:"rank"`
	Token     string              `json:"token,omitempty"`
	ExpiresAt *time.Time          `json:"expiresAt,omitempty"`
}

// PublicUserResponse omits the identity keys, which double as credentials.
type PublicUserResponse struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	DisplayName *string   `json:"displayName,omitempty"`
	Username    *string   `json:"username,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func publicUser(u *models.User) PublicUserResponse {
	return PublicUserResponse{
		ID:          u.ID,
		Name:        u.PublicName(),
		DisplayName: u.DisplayName,
		Username:    u.Username,
		CreatedAt:   u.CreatedAt,
	}
}

type ProfileResponse struct {
	User          PublicUserResponse  `json:"user"`
	Stats         services.UserStats  `json:"stats"`
	RecentResults []models.GameResult `json:"recentResults"`
	Rank          *int                `json:"rank"`
}

func profileResponse(p *services.Profile) ProfileResponse {
	return ProfileResponse{
		User:          publicUser(p.User),
		Stats:         p.Stats,
		RecentResults: p.Recent,
		Rank:          p.Rank,
	}
}
