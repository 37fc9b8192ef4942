package services

import (
	"time"

	"fingergun/apperr"
	"fingergun/initdata"
)

type AuthMethod string

const (
	AuthMethodPlatform AuthMethod = "platform"
	AuthMethodSession  AuthMethod = "session"
)

// AuthPolicy is derived once from configuration at startup.
type AuthPolicy struct {
	// VerifySignatures is false only in development or with skip_verify
	// outside production.
	VerifySignatures bool
	// AllowSessionAuth enables local session identifiers.
	AllowSessionAuth bool
	// AllowMockPlatform trusts a bare platform id with no signed payload.
	AllowMockPlatform bool
	// MaxAuthAge bounds the age of a verified payload; zero disables the check.
	MaxAuthAge time.Duration
}

// Credentials are whatever the client supplied on a request.
type Credentials struct {
	InitData    string
	BearerToken string
	PlatformID  *int64
	SessionID   string
}

// Principal is the identity attached to a request after resolution.
type Principal struct {
	Method    AuthMethod
	Platform  *initdata.Identity
	SessionID string
	// HasProfile is set when Platform came from a signed payload and its
	// profile fields may overwrite stored ones.
	HasProfile bool
	// UserID is known up front when the principal came from a session token.
	UserID uint
}

// AuthResolver decides which identity scheme applies to a request.
type AuthResolver struct {
	policy   AuthPolicy
	botToken string
	tokens   *TokenService
	now      func() time.Time
}

func NewAuthResolver(policy AuthPolicy, botToken string, tokens *TokenService) *AuthResolver {
	return &AuthResolver{
		policy:   policy,
		botToken: botToken,
		tokens:   tokens,
		now:      time.Now,
	}
}

func (r *AuthResolver) Policy() AuthPolicy {
	return r.policy
}

// Resolve applies, in order: signed payload, bearer token, bare platform id
// (development only), local session id.
func (r *AuthResolver) Resolve(creds Credentials) (*Principal, error) {
	switch {
	case creds.InitData != "":
		return r.resolveSigned(creds)
	case creds.BearerToken != "":
		return r.resolveToken(creds)
	case creds.PlatformID != nil:
		return r.resolveMockPlatform(*creds.PlatformID)
	case creds.SessionID != "":
		return r.resolveSession(creds.SessionID)
	default:
		return nil, apperr.New(apperr.CodeMissingCredentials, "no credentials supplied")
	}
}

// ResolveOptional is Resolve for read-only endpoints: a failure yields a nil
// principal and never rejects the request. The error is returned for logging.
func (r *AuthResolver) ResolveOptional(creds Credentials) (*Principal, error) {
	p, err := r.Resolve(creds)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *AuthResolver) resolveSigned(creds Credentials) (*Principal, error) {
	if r.policy.VerifySignatures {
		if r.botToken == "" {
			return nil, apperr.New(apperr.CodeConfiguration, "server secret not configured")
		}
		if !initdata.Verify(creds.InitData, r.botToken) {
			return nil, apperr.New(apperr.CodeAuthenticationFailed, "invalid signature")
		}
	}

	ident, ok := initdata.Parse(creds.InitData)
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidIdentity, "identity payload is malformed")
	}

	if r.policy.VerifySignatures && r.policy.MaxAuthAge > 0 {
		if ident.AuthDate.IsZero() || r.now().Sub(ident.AuthDate) > r.policy.MaxAuthAge {
			return nil, apperr.New(apperr.CodeAuthenticationFailed, "identity payload expired")
		}
	}
	if creds.PlatformID != nil && *creds.PlatformID != ident.PlatformUserID {
		return nil, apperr.New(apperr.CodeAuthenticationFailed, "platform id does not match signed identity")
	}

	return &Principal{
		Method:     AuthMethodPlatform,
		Platform:   &ident,
		HasProfile: true,
	}, nil
}

func (r *AuthResolver) resolveToken(creds Credentials) (*Principal, error) {
	if r.tokens == nil {
		return nil, apperr.New(apperr.CodeAuthenticationFailed, "session tokens are not enabled")
	}
	claims, err := r.tokens.Parse(creds.BearerToken)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeAuthenticationFailed, "invalid token", err)
	}

	switch claims.Method {
	case AuthMethodPlatform:
		if creds.PlatformID != nil && *creds.PlatformID != claims.PlatformID {
			return nil, apperr.New(apperr.CodeAuthenticationFailed, "platform id does not match token")
		}
		return &Principal{
			Method:   AuthMethodPlatform,
			Platform: &initdata.Identity{PlatformUserID: claims.PlatformID},
			UserID:   userID,
		}, nil
	case AuthMethodSession:
		if !r.policy.AllowSessionAuth {
			return nil, apperr.New(apperr.CodeSessionAuthDisabled, "local-session auth disabled")
		}
		return &Principal{
			Method:    AuthMethodSession,
			SessionID: claims.SessionID,
			UserID:    userID,
		}, nil
	default:
		return nil, apperr.New(apperr.CodeAuthenticationFailed, "invalid token")
	}
}

func (r *AuthResolver) resolveMockPlatform(platformID int64) (*Principal, error) {
	if !r.policy.AllowMockPlatform {
		return nil, apperr.New(apperr.CodeAuthenticationFailed, "signed identity payload required")
	}
	if platformID <= 0 {
		return nil, apperr.New(apperr.CodeInvalidIdentity, "platform id must be positive")
	}
	return &Principal{
		Method:   AuthMethodPlatform,
		Platform: &initdata.Identity{PlatformUserID: platformID},
	}, nil
}

func (r *AuthResolver) resolveSession(sessionID string) (*Principal, error) {
	if !r.policy.AllowSessionAuth {
		return nil, apperr.New(apperr.CodeSessionAuthDisabled, "local-session auth disabled")
	}
	if !ValidSessionID(sessionID) {
		return nil, apperr.New(apperr.CodeInvalidIdentity, "session id is malformed")
	}
	return &Principal{
		Method:    AuthMethodSession,
		SessionID: sessionID,
	}, nil
}
