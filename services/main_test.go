package services

import (
	"path/filepath"
	"testing"
	"time"

	"fingergun/models"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testBotToken = "123456:TEST-bot-token"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// one connection serializes writers the way a small pool would under load
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testBounds() Bounds {
	return Bounds{
		MaxScore:               1_000_000,
		MaxTargetsHit:          10_000,
		MaxShotsFired:          50_000,
		MaxCombo:               1_000,
		MinDurationMs:          1_000,
		MaxDurationMs:          3_600_000,
		RateCheckMinDurationMs: 10_000,
		MaxScorePerMinute:      60_000,
		MaxHitsPerMinute:       300,
		GameModes:              []string{"classic", "timed", "endless"},
		DefaultGameMode:        "classic",
	}
}

func testLeaderboardOptions() LeaderboardOptions {
	return LeaderboardOptions{
		DefaultLimit:     10,
		MaxLimit:         100,
		MaxOffset:        10_000,
		MinAccuracyShots: 10,
		RecentResults:    10,
	}
}

func newTestScoreService(t *testing.T, db *gorm.DB, cache LeaderboardCache) (*ScoreService, *UserService) {
	t.Helper()
	log := zaptest.NewLogger(t)
	users := NewUserService(db, log)
	scores := NewScoreService(db, users, NewResultValidator(testBounds()), testLeaderboardOptions(), cache, log)
	return scores, users
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

// createUser inserts a bare session user.
func createUser(t *testing.T, db *gorm.DB, sessionID string) *models.User {
	t.Helper()
	u := &models.User{SessionID: strPtr(sessionID), LanguageCode: "en"}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createResult(t *testing.T, db *gorm.DB, userID uint, score, hits, shots int, at time.Time) *models.GameResult {
	t.Helper()
	r := &models.GameResult{
		UserID:     userID,
		Score:      score,
		TargetsHit: hits,
		ShotsFired: shots,
		Accuracy:   models.ComputeAccuracy(hits, shots),
		MaxCombo:   1,
		DurationMs: 30_000,
		GameMode:   "classic",
		CreatedAt:  at,
	}
	if err := db.Create(r).Error; err != nil {
		t.Fatalf("create result: %v", err)
	}
	return r
}
