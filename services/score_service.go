package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fingergun/apperr"
	"fingergun/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LeaderboardType string

const (
	LeaderboardScore    LeaderboardType = "score"
	LeaderboardHits     LeaderboardType = "hits"
	LeaderboardAccuracy LeaderboardType = "accuracy"
)

// ParseLeaderboardType defaults to score when raw is empty.
func ParseLeaderboardType(raw string) (LeaderboardType, error) {
	switch LeaderboardType(raw) {
	case "", LeaderboardScore:
		return LeaderboardScore, nil
	case LeaderboardHits:
		return LeaderboardHits, nil
	case LeaderboardAccuracy:
		return LeaderboardAccuracy, nil
	default:
		return "", apperr.New(apperr.CodeInvalidRequest, "type must be one of score, hits, accuracy")
	}
}

// column is the only place a ranking dimension becomes SQL text.
func (t LeaderboardType) column() string {
	switch t {
	case LeaderboardHits:
		return "targets_hit"
	case LeaderboardAccuracy:
		return "accuracy"
	default:
		return "score"
	}
}

type LeaderboardOptions struct {
	DefaultLimit     int
	MaxLimit         int
	MaxOffset        int
	MinAccuracyShots int
	RecentResults    int
}

type LeaderboardQuery struct {
	Type   LeaderboardType
	Limit  int
	Offset int
}

type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	UserID      uint      `json:"userId"`
	DisplayName string    `json:"displayName"`
	Score       int       `json:"score"`
	TargetsHit  int       `json:"targetsHit"`
	ShotsFired  int       `json:"shotsFired"`
	Accuracy    float64   `json:"accuracy"`
	MaxCombo    int       `json:"maxCombo"`
	DurationMs  int       `json:"durationMs"`
	GameMode    string    `json:"gameMode"`
	CreatedAt   time.Time `json:"createdAt"`
}

type LeaderboardPage struct {
	Type    LeaderboardType    `json:"type"`
	Entries []LeaderboardEntry `json:"entries"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
	HasMore bool               `json:"hasMore"`
}

type UserStats struct {
	TotalGames      int64   `json:"totalGames"`
	BestScore       int64   `json:"bestScore"`
	TotalHits       int64   `json:"totalHits"`
	TotalShots      int64   `json:"totalShots"`
	AvgAccuracy     float64 `json:"avgAccuracy"`
	BestCombo       int64   `json:"bestCombo"`
	TotalPlaytimeMs int64   `json:"totalPlaytimeMs"`
}

type Profile struct {
	User   *models.User        `json:"user"`
	Stats  UserStats           `json:"stats"`
	Recent []models.GameResult `json:"recentResults"`
	Rank   *int                `json:"rank"`
}

type SubmitResult struct {
	User   *models.User       `json:"-"`
	Result *models.GameResult `json:"result"`
	Rank   int                `json:"rank"`
}

// ScoreEvent is published after a result is stored.
type ScoreEvent struct {
	UserID      uint   `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	Rank        int    `json:"rank"`
	GameMode    string `json:"gameMode"`
}

type ScoreNotifier interface {
	ScoreSubmitted(event ScoreEvent)
}

type ScoreService struct {
	db        *gorm.DB
	users     *UserService
	validator *ResultValidator
	opts      LeaderboardOptions
	cache     LeaderboardCache
	notifier  ScoreNotifier
	log       *zap.Logger
}

// NewScoreService accepts a nil cache.
func NewScoreService(db *gorm.DB, users *UserService, validator *ResultValidator, opts LeaderboardOptions, cache LeaderboardCache, log *zap.Logger) *ScoreService {
	return &ScoreService{
		db:        db,
		users:     users,
		validator: validator,
		opts:      opts,
		cache:     cache,
		log:       log,
	}
}

func (s *ScoreService) SetNotifier(n ScoreNotifier) {
	s.notifier = n
}

// Submit validates the payload, reconciles the submitting user and stores
// the result. Validation runs first so rejected payloads create no rows.
func (s *ScoreService) Submit(ctx context.Context, p *Principal, in GameResultInput) (*SubmitResult, error) {
	valid, err := s.validator.Validate(in)
	if err != nil {
		e := apperr.From(err)
		s.log.Info("game result rejected",
			zap.String("reason", string(e.Reason)),
			zap.String("field", e.Field),
			zap.Int("score", in.Score),
			zap.Int("targets_hit", in.TargetsHit),
			zap.Int("shots_fired", in.ShotsFired),
			zap.Int("duration_ms", in.DurationMs),
		)
		return nil, err
	}

	user, err := s.users.EnsureUser(ctx, p)
	if err != nil {
		return nil, err
	}

	result := models.GameResult{
		UserID:     user.ID,
		Score:      valid.Score,
		TargetsHit: valid.TargetsHit,
		ShotsFired: valid.ShotsFired,
		Accuracy:   models.ComputeAccuracy(valid.TargetsHit, valid.ShotsFired),
		MaxCombo:   valid.MaxCombo,
		DurationMs: valid.DurationMs,
		GameMode:   valid.GameMode,
	}
	if err := s.db.WithContext(ctx).Create(&result).Error; err != nil {
		return nil, err
	}

	rank, err := s.Rank(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.Warn("failed to invalidate leaderboard cache", zap.Error(err))
		}
	}
	if s.notifier != nil {
		s.notifier.ScoreSubmitted(ScoreEvent{
			UserID:      user.ID,
			DisplayName: user.PublicName(),
			Score:       result.Score,
			Rank:        *rank,
			GameMode:    result.GameMode,
		})
	}

	return &SubmitResult{User: user, Result: &result, Rank: *rank}, nil
}

// ClampPage bounds limit and offset before they reach a query.
func (s *ScoreService) ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		limit = s.opts.MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset > s.opts.MaxOffset {
		offset = s.opts.MaxOffset
	}
	return limit, offset
}

// Leaderboard returns each user's best result on the chosen dimension,
// newest first among ties.
func (s *ScoreService) Leaderboard(ctx context.Context, q LeaderboardQuery) (*LeaderboardPage, error) {
	q.Limit, q.Offset = s.ClampPage(q.Limit, q.Offset)

	var version string
	if s.cache != nil {
		page, v, err := s.cache.Get(ctx, q)
		if err != nil {
			s.log.Warn("leaderboard cache read failed", zap.Error(err))
		} else if page != nil {
			return page, nil
		}
		version = v
	}

	page, err := s.queryLeaderboard(ctx, q)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && version != "" {
		if err := s.cache.Set(ctx, q, version, page); err != nil {
			s.log.Warn("leaderboard cache write failed", zap.Error(err))
		}
	}
	return page, nil
}

func (s *ScoreService) queryLeaderboard(ctx context.Context, q LeaderboardQuery) (*LeaderboardPage, error) {
	minShots := 0
	if q.Type == LeaderboardAccuracy {
		minShots = s.opts.MinAccuracyShots
	}
	column := q.Type.column()

	query := fmt.Sprintf(`
		SELECT ranked.id
		FROM (
			SELECT gr.id, gr.%[1]s AS metric, gr.created_at,
				ROW_NUMBER() OVER (
					PARTITION BY gr.user_id
					ORDER BY gr.%[1]s DESC, gr.created_at DESC, gr.id DESC
				) AS rn
			FROM game_results gr
			WHERE gr.shots_fired >= ?
		) ranked
		WHERE ranked.rn = 1
		ORDER BY ranked.metric DESC, ranked.created_at DESC, ranked.id DESC
		LIMIT ? OFFSET ?
	`, column)

	db := s.db.WithContext(ctx)
	ids, err := scanIDs(db.Raw(query, minShots, q.Limit+1, q.Offset))
	if err != nil {
		return nil, err
	}

	page := &LeaderboardPage{
		Type:    q.Type,
		Entries: []LeaderboardEntry{},
		Limit:   q.Limit,
		Offset:  q.Offset,
	}
	if len(ids) > q.Limit {
		page.HasMore = true
		ids = ids[:q.Limit]
	}
	if len(ids) == 0 {
		return page, nil
	}

	var results []models.GameResult
	if err := db.Where("id IN ?", ids).Find(&results).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]models.GameResult, len(results))
	userIDs := make([]uint, 0, len(results))
	for _, r := range results {
		byID[r.ID] = r
		userIDs = append(userIDs, r.UserID)
	}

	var users []models.User
	if err := db.Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(users))
	for i := range users {
		names[users[i].ID] = users[i].PublicName()
	}

	for i, id := range ids {
		r, ok := byID[id]
		if !ok {
			continue
		}
		page.Entries = append(page.Entries, LeaderboardEntry{
			Rank:        q.Offset + i + 1,
			UserID:      r.UserID,
			DisplayName: names[r.UserID],
			Score:       r.Score,
			TargetsHit:  r.TargetsHit,
			ShotsFired:  r.ShotsFired,
			Accuracy:    r.Accuracy,
			MaxCombo:    r.MaxCombo,
			DurationMs:  r.DurationMs,
			GameMode:    r.GameMode,
			CreatedAt:   r.CreatedAt,
		})
	}
	return page, nil
}

func scanIDs(tx *gorm.DB) ([]uint, error) {
	rows, err := tx.Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint
	for rows.Next() {
		var id uint
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Rank is 1 + the number of other users whose best score beats this
// user's best. It is nil for users without results.
func (s *ScoreService) Rank(ctx context.Context, userID uint) (*int, error) {
	db := s.db.WithContext(ctx)

	var best sql.NullInt64
	if err := db.Model(&models.GameResult{}).
		Select("MAX(score)").
		Where("user_id = ?", userID).
		Row().Scan(&best); err != nil {
		return nil, err
	}
	if !best.Valid {
		return nil, nil
	}

	var ahead int64
	if err := db.Raw(`
		SELECT COUNT(*)
		FROM (
			SELECT user_id, MAX(score) AS best
			FROM game_results
			GROUP BY user_id
		) bests
		WHERE bests.best > ?
	`, best.Int64).Row().Scan(&ahead); err != nil {
		return nil, err
	}

	rank := int(ahead) + 1
	return &rank, nil
}

// Stats aggregates every result of a user.
func (s *ScoreService) Stats(ctx context.Context, userID uint) (UserStats, error) {
	var stats UserStats
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total_games,
			CAST(COALESCE(MAX(score), 0) AS BIGINT) AS best_score,
			CAST(COALESCE(SUM(targets_hit), 0) AS BIGINT) AS total_hits,
			CAST(COALESCE(SUM(shots_fired), 0) AS BIGINT) AS total_shots,
			COALESCE(AVG(CASE WHEN shots_fired > 0 THEN accuracy END), 0) AS avg_accuracy,
			CAST(COALESCE(MAX(max_combo), 0) AS BIGINT) AS best_combo,
			CAST(COALESCE(SUM(duration_ms), 0) AS BIGINT) AS total_playtime_ms
		FROM game_results
		WHERE user_id = ?
	`, userID).Scan(&stats).Error
	return stats, err
}

// Profile returns aggregates, recent results and rank for a user.
func (s *ScoreService) Profile(ctx context.Context, user *models.User) (*Profile, error) {
	stats, err := s.Stats(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	recent := []models.GameResult{}
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", user.ID).
		Order("created_at DESC").Order("id DESC").
		Limit(s.opts.RecentResults).
		Find(&recent).Error; err != nil {
		return nil, err
	}

	rank, err := s.Rank(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &Profile{User: user, Stats: stats, Recent: recent, Rank: rank}, nil
}
