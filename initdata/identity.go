package initdata

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultLanguage is used when the payload does not carry a locale.
const DefaultLanguage = "en"

// Identity is the normalized user identity carried by a payload.
type Identity struct {
	PlatformUserID int64
	Username       string
	FirstName      string
	LastName       string
	LanguageCode   string
	IsPremium      bool
	AuthDate       time.Time
}

type payloadUser struct {
	ID           json.Number `json:"id"`
	Username     string      `json:"username"`
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	LanguageCode string      `json:"language_code"`
	IsPremium    bool        `json:"is_premium"`
}

// Parse extracts the identity from raw. It does not check the signature;
// callers decide whether raw is trusted. ok is false when the user id is
// missing or unparsable.
func Parse(raw string) (Identity, bool) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Identity{}, false
	}
	userJSON := values.Get("user")
	if userJSON == "" {
		return Identity{}, false
	}

	dec := json.NewDecoder(strings.NewReader(userJSON))
	dec.UseNumber()
	var u payloadUser
	if err := dec.Decode(&u); err != nil {
		return Identity{}, false
	}
	id, err := strconv.ParseInt(u.ID.String(), 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, false
	}

	ident := Identity{
		PlatformUserID: id,
		Username:       strings.TrimSpace(u.Username),
		FirstName:      strings.TrimSpace(u.FirstName),
		LastName:       strings.TrimSpace(u.LastName),
		LanguageCode:   strings.TrimSpace(u.LanguageCode),
		IsPremium:      u.IsPremium,
	}
	if ident.LanguageCode == "" {
		ident.LanguageCode = DefaultLanguage
	}
	if ts, err := strconv.ParseInt(values.Get("auth_date"), 10, 64); err == nil && ts > 0 {
		ident.AuthDate = time.Unix(ts, 0).UTC()
	}
	return ident, true
}

// Build assembles and signs a payload for ident. Used by dev tooling and tests.
func Build(ident Identity, botToken string) (string, error) {
	u := map[string]any{"id": ident.PlatformUserID}
	if ident.Username != "" {
		u["username"] = ident.Username
	}
	if ident.FirstName != "" {
		u["first_name"] = ident.FirstName
	}
	if ident.LastName != "" {
		u["last_name"] = ident.LastName
	}
	if ident.LanguageCode != "" {
		u["language_code"] = ident.LanguageCode
	}
	if ident.IsPremium {
		u["is_premium"] = true
	}
	userJSON, err := json.Marshal(u)
	if err != nil {
		return "", err
	}

	authDate := ident.AuthDate
	if authDate.IsZero() {
		authDate = time.Now()
	}
	values := url.Values{}
	values.Set("user", string(userJSON))
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	return Sign(values, botToken), nil
}
