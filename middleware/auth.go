package middleware

import (
	"strconv"
	"strings"

	"fingergun/apperr"
	"fingergun/monitor"
	"fingergun/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	InitDataHeader  = "X-Init-Data"
	SessionIDHeader = "X-Session-Id"
	principalKey    = "principal"
)

// RequestCredentials collects credentials from headers and the query
// string. Handlers merge body fields on top of these.
func RequestCredentials(c *gin.Context) (services.Credentials, error) {
	creds := services.Credentials{
		InitData:  c.GetHeader(InitDataHeader),
		SessionID: c.GetHeader(SessionIDHeader),
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return creds, apperr.New(apperr.CodeAuthenticationFailed, "malformed authorization header")
		}
		creds.BearerToken = strings.TrimSpace(token)
	}
	if sid := c.Query("sessionId"); sid != "" {
		creds.SessionID = sid
	}
	if raw := c.Query("platformId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return creds, apperr.New(apperr.CodeInvalidRequest, "platformId must be an integer")
		}
		creds.PlatformID = &id
	}
	return creds, nil
}

// Authenticate resolves creds and records the outcome. It is the single
// entry point to the resolver for middleware and handlers alike.
func Authenticate(resolver *services.AuthResolver, mon *monitor.Monitor, creds services.Credentials) (*services.Principal, error) {
	p, err := resolver.Resolve(creds)
	recordAuth(mon, creds, p, err)
	return p, err
}

func recordAuth(mon *monitor.Monitor, creds services.Credentials, p *services.Principal, err error) {
	if err != nil {
		mon.IncAuthOutcome(attemptedMethod(creds), string(apperr.CodeOf(err)))
		return
	}
	mon.IncAuthOutcome(string(p.Method), "ok")
}

func attemptedMethod(creds services.Credentials) string {
	switch {
	case creds.InitData != "":
		return "signed"
	case creds.BearerToken != "":
		return "token"
	case creds.PlatformID != nil:
		return string(services.AuthMethodPlatform)
	case creds.SessionID != "":
		return string(services.AuthMethodSession)
	default:
		return "none"
	}
}

// RequireIdentity rejects requests whose credentials do not resolve.
func RequireIdentity(resolver *services.AuthResolver, mon *monitor.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		creds, err := RequestCredentials(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		p, err := Authenticate(resolver, mon, creds)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// OptionalIdentity attaches a principal when credentials resolve and
// otherwise continues anonymously.
func OptionalIdentity(resolver *services.AuthResolver, mon *monitor.Monitor, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		creds, err := RequestCredentials(c)
		if err == nil {
			var p *services.Principal
			p, err = resolver.ResolveOptional(creds)
			if p != nil {
				c.Set(principalKey, p)
			}
			if apperr.CodeOf(err) != apperr.CodeMissingCredentials {
				recordAuth(mon, creds, p, err)
			}
		}
		if err != nil && apperr.CodeOf(err) != apperr.CodeMissingCredentials {
			log.Debug("optional identity not attached",
				zap.String("request_id", GetRequestID(c)),
				zap.String("code", string(apperr.CodeOf(err))),
			)
		}
		c.Next()
	}
}

// PrincipalFrom returns the principal set by RequireIdentity or
// OptionalIdentity.
func PrincipalFrom(c *gin.Context) (*services.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*services.Principal)
	return p, ok && p != nil
}
