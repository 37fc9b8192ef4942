package services

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"fingergun/apperr"
	"fingergun/initdata"
	"fingergun/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	minSessionIDLen   = 8
	maxSessionIDLen   = 128
	minDisplayNameLen = 2
	maxDisplayNameLen = 32
)

var ErrUserNotFound = apperr.New(apperr.CodeNotFound, "user not found")

// ValidSessionID accepts opaque client ids made of letters, digits, '-' and '_'.
func ValidSessionID(id string) bool {
	if len(id) < minSessionIDLen || len(id) > maxSessionIDLen {
		return false
	}
	for _, r := range id {
		if r == '-' || r == '_' {
			continue
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// PlatformLogin is a platform identity to reconcile into a user row.
type PlatformLogin struct {
	Identity initdata.Identity
	// HasProfile allows profile fields to overwrite stored values.
	HasProfile bool
	// LinkSessionID, when set, attaches the platform identity to that
	// session's user if neither side is linked yet.
	LinkSessionID string
}

// UserService maps identities to durable user rows.
type UserService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewUserService(db *gorm.DB, log *zap.Logger) *UserService {
	return &UserService{db: db, log: log}
}

// EnsureUser returns the user for a resolved principal, creating it if needed.
func (s *UserService) EnsureUser(ctx context.Context, p *Principal) (*models.User, error) {
	if p == nil {
		return nil, apperr.New(apperr.CodeMissingCredentials, "no credentials supplied")
	}
	if p.UserID != 0 {
		user, err := s.GetByID(ctx, p.UserID)
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperr.New(apperr.CodeAuthenticationFailed, "token user no longer exists")
		}
		return user, err
	}
	switch p.Method {
	case AuthMethodPlatform:
		return s.EnsurePlatformUser(ctx, PlatformLogin{Identity: *p.Platform, HasProfile: p.HasProfile})
	case AuthMethodSession:
		return s.EnsureSessionUser(ctx, p.SessionID)
	default:
		return nil, apperr.New(apperr.CodeMissingCredentials, "no credentials supplied")
	}
}

// FindUser is EnsureUser without the create step.
func (s *UserService) FindUser(ctx context.Context, p *Principal) (*models.User, error) {
	switch {
	case p == nil:
		return nil, ErrUserNotFound
	case p.UserID != 0:
		return s.GetByID(ctx, p.UserID)
	case p.Method == AuthMethodPlatform && p.Platform != nil:
		return s.GetByPlatformID(ctx, p.Platform.PlatformUserID)
	case p.Method == AuthMethodSession:
		return s.GetBySessionID(ctx, p.SessionID)
	default:
		return nil, ErrUserNotFound
	}
}

// EnsurePlatformUser looks the platform id up and upserts on a miss. The
// upsert is idempotent against the unique index, so concurrent first logins
// for the same id converge on one row.
func (s *UserService) EnsurePlatformUser(ctx context.Context, login PlatformLogin) (*models.User, error) {
	ident := login.Identity
	db := s.db.WithContext(ctx)

	user, err := s.GetByPlatformID(ctx, ident.PlatformUserID)
	if err == nil {
		if login.HasProfile {
			s.refreshHandle(ctx, user, ident.Username)
		}
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if login.LinkSessionID != "" {
		linked, err := s.linkPlatform(ctx, login.LinkSessionID, ident)
		if err != nil {
			return nil, err
		}
		if linked != nil {
			return linked, nil
		}
	}

	platformID := ident.PlatformUserID
	candidate := models.User{
		PlatformUserID: &platformID,
		Username:       optionalString(ident.Username),
		FirstName:      ident.FirstName,
		LastName:       ident.LastName,
		LanguageCode:   ident.LanguageCode,
		IsPremium:      ident.IsPremium,
	}
	if candidate.LanguageCode == "" {
		candidate.LanguageCode = initdata.DefaultLanguage
	}

	if err := db.Clauses(platformUpsert(login.HasProfile, ident.Username)).Create(&candidate).Error; err != nil {
		return nil, err
	}

	// re-read: a concurrent request may own the row
	return s.GetByPlatformID(ctx, platformID)
}

// platformUpsert refreshes profile columns on conflict only when they come
// from a verified payload. display_name is never touched.
func platformUpsert(hasProfile bool, username string) clause.OnConflict {
	updates := []string{"updated_at"}
	if hasProfile {
		updates = append(updates, "first_name", "last_name", "language_code", "is_premium")
		if username != "" {
			updates = append(updates, "username")
		}
	}
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform_user_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}
}

// EnsureSessionUser is EnsurePlatformUser for local session ids.
func (s *UserService) EnsureSessionUser(ctx context.Context, sessionID string) (*models.User, error) {
	if !ValidSessionID(sessionID) {
		return nil, apperr.New(apperr.CodeInvalidIdentity, "session id is malformed")
	}

	user, err := s.GetBySessionID(ctx, sessionID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	sid := sessionID
	candidate := models.User{
		SessionID:    &sid,
		LanguageCode: initdata.DefaultLanguage,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
	}).Create(&candidate).Error; err != nil {
		return nil, err
	}

	return s.GetBySessionID(ctx, sessionID)
}

// linkPlatform attaches the platform identity to an unlinked session user.
// It returns nil when there is nothing to link.
func (s *UserService) linkPlatform(ctx context.Context, sessionID string, ident initdata.Identity) (*models.User, error) {
	if !ValidSessionID(sessionID) {
		return nil, apperr.New(apperr.CodeInvalidIdentity, "session id is malformed")
	}

	fields := map[string]interface{}{
		"platform_user_id": ident.PlatformUserID,
		"first_name":       ident.FirstName,
		"last_name":        ident.LastName,
		"is_premium":       ident.IsPremium,
	}
	if ident.Username != "" {
		fields["username"] = ident.Username
	}
	if ident.LanguageCode != "" {
		fields["language_code"] = ident.LanguageCode
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("session_id = ? AND platform_user_id IS NULL", sessionID).
		Updates(fields)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		// lost the race to another request creating this platform user
		return nil, nil
	}
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	s.log.Info("linked platform identity to session user", zap.Int64("platform_id", ident.PlatformUserID))
	return s.GetByPlatformID(ctx, ident.PlatformUserID)
}

// refreshHandle updates a changed handle. Last write wins.
func (s *UserService) refreshHandle(ctx context.Context, user *models.User, handle string) {
	if handle == "" || (user.Username != nil && *user.Username == handle) {
		return
	}
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("username", handle).Error
	if err != nil {
		s.log.Warn("failed to refresh username", zap.Uint("user_id", user.ID), zap.Error(err))
		return
	}
	user.Username = &handle
}

func (s *UserService) GetByID(ctx context.Context, id uint) (*models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *UserService) GetBySessionID(ctx context.Context, sessionID string) (*models.User, error) {
	return s.first(ctx, "session_id = ?", sessionID)
}

func (s *UserService) GetByPlatformID(ctx context.Context, platformID int64) (*models.User, error) {
	return s.first(ctx, "platform_user_id = ?", platformID)
}

func (s *UserService) first(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateDisplayName sets a sanitized display name that no other user holds,
// compared case-insensitively.
func (s *UserService) UpdateDisplayName(ctx context.Context, userID uint, raw string) (*models.User, error) {
	name, ok := SanitizeDisplayName(raw)
	if !ok {
		return nil, apperr.Validation(apperr.ReasonOutOfRange, "displayName", "display name must be 2-32 characters")
	}

	db := s.db.WithContext(ctx)
	var taken int64
	if err := db.Model(&models.User{}).
		Where("LOWER(display_name) = LOWER(?) AND id <> ?", name, userID).
		Count(&taken).Error; err != nil {
		return nil, err
	}
	if taken > 0 {
		return nil, apperr.New(apperr.CodeConflict, "display name is already taken")
	}

	res := db.Model(&models.User{}).Where("id = ?", userID).Update("display_name", name)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}
	return s.GetByID(ctx, userID)
}

// SanitizeDisplayName strips control characters and markup brackets,
// collapses whitespace and checks the length in runes.
func SanitizeDisplayName(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case r == '<' || r == '>':
			return -1
		case unicode.IsControl(r) || unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, raw)
	name := strings.Join(strings.Fields(cleaned), " ")

	n := utf8.RuneCountInString(name)
	if n < minDisplayNameLen || n > maxDisplayNameLen {
		return "", false
	}
	return name, true
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
