package handlers

import (
	"net/http"

	"fingergun/apperr"
	"fingergun/middleware"
	"fingergun/models"
	"fingergun/monitor"
	"fingergun/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuthHandler struct {
	resolver   *services.AuthResolver
	users      *services.UserService
	scores     *services.ScoreService
	tokens     *services.TokenService
	monitor    *monitor.Monitor
	log        *zap.Logger
	devEnabled bool
}

// NewAuthHandler wires the login endpoints. devEnabled gates POST /auth/dev;
// tokens may be nil to disable token issuing.
func NewAuthHandler(
	resolver *services.AuthResolver,
	users *services.UserService,
	scores *services.ScoreService,
	tokens *services.TokenService,
	mon *monitor.Monitor,
	log *zap.Logger,
	devEnabled bool,
) *AuthHandler {
	return &AuthHandler{
		resolver:   resolver,
		users:      users,
		scores:     scores,
		tokens:     tokens,
		monitor:    mon,
		log:        log,
		devEnabled: devEnabled,
	}
}

type PlatformAuthRequest struct {
	InitData string `json:"initData" binding:"required"`
	// SessionID optionally names a local session to link the identity to.
	SessionID string `json:"sessionId"`
}

type DevAuthRequest struct {
	SessionID  string `json:"sessionId"`
	PlatformID *int64 `json:"platformId"`
}

// Platform logs in with a signed identity payload.
func (h *AuthHandler) Platform(c *gin.Context) {
	var req PlatformAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidRequest(err))
		return
	}

	p, err := middleware.Authenticate(h.resolver, h.monitor, services.Credentials{InitData: req.InitData})
	if err != nil {
		respondError(c, err)
		return
	}

	// a session id is only a credential where session auth is allowed
	link := req.SessionID
	if link != "" && !h.resolver.Policy().AllowSessionAuth {
		h.log.Debug("ignoring session link, session auth disabled")
		link = ""
	}

	user, err := h.users.EnsurePlatformUser(c.Request.Context(), services.PlatformLogin{
		Identity:      *p.Platform,
		HasProfile:    p.HasProfile,
		LinkSessionID: link,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.log.Info("platform login",
		zap.Uint("user_id", user.ID),
		zap.Int64("platform_id", p.Platform.PlatformUserID),
	)
	h.respondAuth(c, user, p)
}

// Dev creates or fetches a development user from a local session id or a
// bare platform id. It does not exist in production.
func (h *AuthHandler) Dev(c *gin.Context) {
	if !h.devEnabled {
		respondError(c, apperr.New(apperr.CodeNotFound, "not found"))
		return
	}

	var req DevAuthRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalidRequest(err))
			return
		}
	}

	if req.SessionID != "" && req.PlatformID != nil {
		respondError(c, apperr.New(apperr.CodeInvalidRequest, "pass either sessionId or platformId, not both"))
		return
	}

	creds := services.Credentials{SessionID: req.SessionID, PlatformID: req.PlatformID}
	if creds.PlatformID == nil && creds.SessionID == "" {
		creds.SessionID = uuid.NewString()
	}

	p, err := middleware.Authenticate(h.resolver, h.monitor, creds)
	if err != nil {
		respondError(c, err)
		return
	}
	user, err := h.users.EnsureUser(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondAuth(c, user, p)
}

// Me returns the caller's user and stats without creating anything.
func (h *AuthHandler) Me(c *gin.Context) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		respondError(c, apperr.New(apperr.CodeMissingCredentials, "no credentials supplied"))
		return
	}
	user, err := h.users.FindUser(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}

	stats, err := h.scores.Stats(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	rank, err := h.scores.Rank(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		User:   userResponse(user),
		Method: p.Method,
		Stats:  stats,
		Rank:   rank,
	})
}

func (h *AuthHandler) respondAuth(c *gin.Context, user *models.User, p *services.Principal) {
	ctx := c.Request.Context()
	stats, err := h.scores.Stats(ctx, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	rank, err := h.scores.Rank(ctx, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := AuthResponse{
		User:   userResponse(user),
		Method: p.Method,
		Stats:  stats,
		Rank:   rank,
	}
	if p.HasProfile {
		resp.Identity = identityResponse(p.Platform)
	}
	if h.tokens != nil {
		token, expiresAt, err := h.tokens.Issue(user, p.Method)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Token = token
		resp.ExpiresAt = &expiresAt
	}
	c.JSON(http.StatusOK, resp)
}
