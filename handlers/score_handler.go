package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"fingergun/apperr"
	"fingergun/middleware"
	"fingergun/models"
	"fingergun/monitor"
	"fingergun/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ScoreHandler struct {
	resolver *services.AuthResolver
	users    *services.UserService
	scores   *services.ScoreService
	monitor  *monitor.Monitor
	log      *zap.Logger
}

func NewScoreHandler(
	resolver *services.AuthResolver,
	users *services.UserService,
	scores *services.ScoreService,
	mon *monitor.Monitor,
	log *zap.Logger,
) *ScoreHandler {
	return &ScoreHandler{
		resolver: resolver,
		users:    users,
		scores:   scores,
		monitor:  mon,
		log:      log,
	}
}

// SubmitScoreRequest carries credentials next to the result. Pointer fields
// make zero a legal value while still requiring the key.
type SubmitScoreRequest struct {
	PlatformID *int64 `json:"platformId"`
	InitData   string `json:"initData"`
	SessionID  string `json:"sessionId"`

	Score      *int   `json:"score" binding:"required"`
	TargetsHit *int   `json:"targetsHit" binding:"required"`
	ShotsFired *int   `json:"shotsFired" binding:"required"`
	MaxCombo   *int   `json:"maxCombo" binding:"required"`
	DurationMs *int   `json:"durationMs" binding:"required"`
	GameMode   string `json:"gameMode"`
}

type SubmitScoreResponse struct {
	Result *models.GameResult `json:"result"`
	Rank   int                `json:"rank"`
	User   PublicUserResponse `json:"user"`
}

type LeaderboardRequest struct {
	Type   string `form:"type"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type Viewer struct {
	UserID uint `json:"userId"`
	Rank   *int `json:"rank"`
}

type LeaderboardResponse struct {
	*services.LeaderboardPage
	Viewer *Viewer `json:"viewer,omitempty"`
}

type UpdateDisplayNameRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
}

// Submit runs a result through auth, reconciliation, validation and storage.
func (h *ScoreHandler) Submit(c *gin.Context) {
	var req SubmitScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.monitor.IncSubmission("invalid_request")
		respondError(c, invalidRequest(err))
		return
	}

	creds, err := middleware.RequestCredentials(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.InitData != "" {
		creds.InitData = req.InitData
	}
	if req.PlatformID != nil {
		creds.PlatformID = req.PlatformID
	}
	if req.SessionID != "" {
		creds.SessionID = req.SessionID
	}

	p, err := middleware.Authenticate(h.resolver, h.monitor, creds)
	if err != nil {
		h.monitor.IncSubmission("unauthenticated")
		respondError(c, err)
		return
	}

	res, err := h.scores.Submit(c.Request.Context(), p, services.GameResultInput{
		Score:      *req.Score,
		TargetsHit: *req.TargetsHit,
		ShotsFired: *req.ShotsFired,
		MaxCombo:   *req.MaxCombo,
		DurationMs: *req.DurationMs,
		GameMode:   req.GameMode,
	})
	if err != nil {
		if e := apperr.From(err); e.Code == apperr.CodeValidationFailed {
			h.monitor.IncSubmission(strings.ToLower(string(e.Reason)))
		} else {
			h.monitor.IncSubmission("error")
		}
		respondError(c, err)
		return
	}

	h.monitor.IncSubmission("accepted")
	c.JSON(http.StatusCreated, SubmitScoreResponse{
		Result: res.Result,
		Rank:   res.Rank,
		User:   publicUser(res.User),
	})
}

// Leaderboard serves a ranking page. An attached principal adds the
// viewer's own rank; it never changes the public entries.
func (h *ScoreHandler) Leaderboard(c *gin.Context) {
	var req LeaderboardRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, invalidRequest(err))
		return
	}
	lbType, err := services.ParseLeaderboardType(req.Type)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	page, err := h.scores.Leaderboard(ctx, services.LeaderboardQuery{
		Type:   lbType,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := LeaderboardResponse{LeaderboardPage: page}
	if p, ok := middleware.PrincipalFrom(c); ok {
		if user, err := h.users.FindUser(ctx, p); err == nil {
			rank, err := h.scores.Rank(ctx, user.ID)
			if err != nil {
				respondError(c, err)
				return
			}
			resp.Viewer = &Viewer{UserID: user.ID, Rank: rank}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ScoreHandler) ProfileBySession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !services.ValidSessionID(sessionID) {
		respondError(c, apperr.New(apperr.CodeInvalidRequest, "session id is malformed"))
		return
	}
	user, err := h.users.GetBySessionID(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondProfile(c, user)
}

func (h *ScoreHandler) ProfileByPlatform(c *gin.Context) {
	platformID, err := strconv.ParseInt(c.Param("platformId"), 10, 64)
	if err != nil || platformID <= 0 {
		respondError(c, apperr.New(apperr.CodeInvalidRequest, "platform id must be a positive integer"))
		return
	}
	user, err := h.users.GetByPlatformID(c.Request.Context(), platformID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondProfile(c, user)
}

func (h *ScoreHandler) respondProfile(c *gin.Context, user *models.User) {
	profile, err := h.scores.Profile(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponse(profile))
}

// UpdateDisplayName sets the display name of the session user in the path.
// The session id goes through the resolver, so the local-session policy
// applies here as well.
func (h *ScoreHandler) UpdateDisplayName(c *gin.Context) {
	var req UpdateDisplayNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidRequest(err))
		return
	}

	ctx := c.Request.Context()
	p, err := middleware.Authenticate(h.resolver, h.monitor, services.Credentials{SessionID: c.Param("sessionId")})
	if err != nil {
		respondError(c, err)
		return
	}
	user, err := h.users.FindUser(ctx, p)
	if err != nil {
		respondError(c, err)
		return
	}

	updated, err := h.users.UpdateDisplayName(ctx, user.ID, req.DisplayName)
	if err != nil {
		respondError(c, err)
		return
	}
	h.log.Info("display name updated", zap.Uint("user_id", updated.ID))
	c.JSON(http.StatusOK, gin.H{"user": publicUser(updated)})
}
