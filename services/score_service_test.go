package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fingergun/apperr"
	"fingergun/initdata"
	"fingergun/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// seedUsers creates n users. User i has a best score of (i+1)*100 plus a
// weaker older result, so only the best one may appear on the board.
func seedUsers(t *testing.T, s *ScoreService, n int) []*models.User {
	t.Helper()
	users := make([]*models.User, n)
	for i := 0; i < n; i++ {
		u := createUser(t, s.db, fmt.Sprintf("session-%04d", i))
		createResult(t, s.db, u.ID, 10, 1, 2, baseTime.Add(time.Duration(i)*time.Minute))
		createResult(t, s.db, u.ID, (i+1)*100, 20, 40, baseTime.Add(time.Duration(i)*time.Minute+time.Second))
		users[i] = u
	}
	return users
}

func TestLeaderboardPagination(t *testing.T) {
	db := newTestDB(t)
	s, _ := newTestScoreService(t, db, nil)
	seedUsers(t, s, 25)
	ctx := context.Background()

	page, err := s.Leaderboard(ctx, LeaderboardQuery{Type: LeaderboardScore, Limit: 10, Offset: 0})
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(page.Entries) != 10 || !page.HasMore {
		t.Fatalf("first page: %d entries, hasMore=%v", len(page.Entries), page.HasMore)
	}
	seen := map[uint]bool{}
	for i, e := range page.Entries {
		if e.Rank != i+1 {
			t.Errorf("entry %d rank = %d", i, e.Rank)
		}
		if want := (25 - i) * 100; e.Score != want {
			t.Errorf("entry %d score = %d, want %d", i, e.Score, want)
		}
		if seen[e.UserID] {
			t.Errorf("user %d appears twice", e.UserID)
		}
		seen[e.UserID] = true
	}

	page, err = s.Leaderboard(ctx, LeaderboardQuery{Type: LeaderboardScore, Limit: 10, Offset: 20})
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(page.Entries) != 5 || page.HasMore {
		t.Fatalf("last page: %d entries, hasMore=%v", len(page.Entries), page.HasMore)
	}
	if page.Entries[0].Rank != 21 || page.Entries[4].Score != 100 {
		t.Fatalf("last page entries = %+v", page.Entries)
	}
}

func TestLeaderboardTieBreaksByMostRecent(t *testing.T) {
	db := newTestDB(t)
	s, _ := newTestScoreService(t, db, nil)
	ctx := context.Background()

	older := createUser(t, db, "session-older")
	newer := createUser(t, db, "session-newer")
	createResult(t, db, older.ID, 500, 5, 10, baseTime)
	createResult(t, db, newer.ID, 500, 5, 10, baseTime.Add(time.Hour))

	page, err := s.Leaderboard(ctx, LeaderboardQuery{Type: LeaderboardScore})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 2 || page.Entries[0].UserID != newer.ID {
		t.Fatalf("entries = %+v, want newer user first", page.Entries)
	}

	// a user's own tie also resolves to the most recent result
	r := createResult(t, db, older.ID, 500, 1, 10, baseTime.Add(2*time.Hour))
	page, _ = s.Leaderboard(ctx, LeaderboardQuery{Type: LeaderboardScore})
	if page.Entries[0].UserID != older.ID || page.Entries[0].TargetsHit != r.TargetsHit {
		t.Fatalf("entries = %+v", page.Entries)
	}
}

func TestLeaderboardDimensions(t *testing.T) {
	db := newTestDB(t)
	s, _ := newTestScoreService(t, db, nil)
	ctx := context.Background()

	sniper := createUser(t, db, "session-sniper")
	spray := createUser(t, db, "session-spray0")
	lucky := createUser(t, db, "session-lucky0")
	createResult(t, db, sniper.ID, 300, 18, 20, baseTime)
	createResult(t, db, spray.ID, 900, 60, 200, baseTime)
	// perfect accuracy on too few shots
	createResult(t, db, lucky.ID, 50, 5, 5, baseTime)

	hits, err := s.Leaderboard(ctx, LeaderboardQuery{Type: LeaderboardHits})
	if err != nil {
		t.Fatal(err)
	}
	if hits.Entries[0].UserID != spray.ID || len(hits.Entries) != 3 {
		t.Fatalf("hits board = %+v", hits.Entries)
	}

	acc, err := s.Leaderboard(ctx, LeaderboardQuery{Type: LeaderboardAccuracy})
	if err != nil {
		t.Fatal(err)
	}
	if len(acc.Entries) != 2 {
		t.Fatalf("accuracy board has %d entries, want 2", len(acc.Entries))
	}
	if acc.Entries[0].UserID != sniper.ID || acc.Entries[0].Accuracy != 0.9 {
		t.Fatalf("accuracy board = %+v", acc.Entries)
	}
	for _, e := range acc.Entries {
		if e.UserID == lucky.ID {
			t.Fatal("low-sample result ranked on accuracy board")
		}
	}
}

func TestClampPage(t *testing.T) {
	s, _ := newTestScoreService(t, newTestDB(t), nil)
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 10, 0},
		{-3, -5, 10, 0},
		{25, 40, 25, 40},
		{1000, 0, 100, 0},
		{10, 999_999, 10, 10_000},
	}
	for _, tt := range tests {
		l, o := s.ClampPage(tt.limit, tt.offset)
		if l != tt.wantLimit || o != tt.wantOffset {
			t.Errorf("ClampPage(%d, %d) = %d, %d; want %d, %d", tt.limit, tt.offset, l, o, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestParseLeaderboardType(t *testing.T) {
	for raw, want := range map[string]LeaderboardType{
		"":         LeaderboardScore,
		"score":    LeaderboardScore,
		"hits":     LeaderboardHits,
		"accuracy": LeaderboardAccuracy,
	} {
		got, err := ParseLeaderboardType(raw)
		if err != nil || got != want {
			t.Errorf("ParseLeaderboardType(%q) = %q, %v", raw, got, err)
		}
	}
	_, err := ParseLeaderboardType("score; DROP TABLE users")
	assertCode(t, err, apperr.CodeInvalidRequest)
}

func TestRankAndProfile(t *testing.T) {
	db := newTestDB(t)
	s, _ := newTestScoreService(t, db, nil)
	ctx := context.Background()

	a := createUser(t, db, "session-aaaaa")
	b := createUser(t, db, "session-bbbbb")
	c := createUser(t, db, "session-ccccc")
	idle := createUser(t, db, "session-idle0")

	createResult(t, db, a.ID, 500, 40, 50, baseTime)
	createResult(t, db, a.ID, 200, 10, 0, baseTime.Add(time.Minute))
	createResult(t, db, b.ID, 900, 1, 1, baseTime)
	createResult(t, db, c.ID, 300, 1, 1, baseTime)

	rank, err := s.Rank(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rank == nil || *rank != 2 {
		t.Fatalf("rank of a = %v, want 2", rank)
	}
	rank, _ = s.Rank(ctx, b.ID)
	if rank == nil || *rank != 1 {
		t.Fatalf("rank of b = %v, want 1", rank)
	}
	rank, _ = s.Rank(ctx, idle.ID)
	if rank != nil {
		t.Fatalf("rank of user without results = %d, want nil", *rank)
	}

	profile, err := s.Profile(ctx, a)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	st := profile.Stats
	if st.TotalGames != 2 || st.BestScore != 500 || st.TotalHits != 50 || st.TotalShots != 50 {
		t.Fatalf("stats = %+v", st)
	}
	// the shotless game is excluded from the accuracy average
	if st.AvgAccuracy != 0.8 {
		t.Fatalf("avg accuracy = %v, want 0.8", st.AvgAccuracy)
	}
	if st.BestCombo != 1 || st.TotalPlaytimeMs != 60_000 {
		t.Fatalf("stats = %+v", st)
	}
	if len(profile.Recent) != 2 || profile.Recent[0].Score != 200 {
		t.Fatalf("recent = %+v, want newest first", profile.Recent)
	}
	if profile.Rank == nil || *profile.Rank != 2 {
		t.Fatalf("profile rank = %v", profile.Rank)
	}

	empty, err := s.Profile(ctx, idle)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Stats.TotalGames != 0 || empty.Stats.AvgAccuracy != 0 || len(empty.Recent) != 0 || empty.Rank != nil {
		t.Fatalf("empty profile = %+v", empty)
	}
}

type recordingNotifier struct {
	events []ScoreEvent
}

func (n *recordingNotifier) ScoreSubmitted(e ScoreEvent) {
	n.events = append(n.events, e)
}

type countingCache struct {
	invalidations int
}

func (c *countingCache) Get(context.Context, LeaderboardQuery) (*LeaderboardPage, string, error) {
	return nil, "", nil
}

func (c *countingCache) Set(context.Context, LeaderboardQuery, string, *LeaderboardPage) error {
	return nil
}

func (c *countingCache) Invalidate(context.Context) error {
	c.invalidations++
	return nil
}

func TestSubmit(t *testing.T) {
	db := newTestDB(t)
	cache := &countingCache{}
	s, users := newTestScoreService(t, db, cache)
	notifier := &recordingNotifier{}
	s.SetNotifier(notifier)
	ctx := context.Background()

	p := &Principal{Method: AuthMethodSession, SessionID: "session-submit"}
	res, err := s.Submit(ctx, p, GameResultInput{
		Score: 1200, TargetsHit: 30, ShotsFired: 40, MaxCombo: 6, DurationMs: 45_000,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Rank != 1 || res.Result.ID == 0 || res.Result.GameMode != "classic" {
		t.Fatalf("result = %+v rank = %d", res.Result, res.Rank)
	}
	if res.Result.Accuracy != 0.75 {
		t.Fatalf("accuracy = %v, want 0.75", res.Result.Accuracy)
	}
	if cache.invalidations != 1 {
		t.Fatalf("cache invalidations = %d, want 1", cache.invalidations)
	}
	if len(notifier.events) != 1 || notifier.events[0].Score != 1200 || notifier.events[0].Rank != 1 {
		t.Fatalf("events = %+v", notifier.events)
	}

	u, err := users.GetBySessionID(ctx, "session-submit")
	if err != nil || u.ID != res.User.ID {
		t.Fatalf("stored user = %v, %v", u, err)
	}
}

func TestSubmitRejectedResultCreatesNothing(t *testing.T) {
	db := newTestDB(t)
	cache := &countingCache{}
	s, users := newTestScoreService(t, db, cache)
	ctx := context.Background()

	p := &Principal{Method: AuthMethodSession, SessionID: "session-cheater"}
	_, err := s.Submit(ctx, p, GameResultInput{
		Score: 100, TargetsHit: 15, ShotsFired: 10, MaxCombo: 1, DurationMs: 5_000,
	})
	e := apperr.From(err)
	if e == nil || e.Reason != apperr.ReasonHitsExceedShots {
		t.Fatalf("err = %v, want HITS_EXCEED_SHOTS", err)
	}
	if n := countUsers(t, users); n != 0 {
		t.Fatalf("users = %d, want 0", n)
	}
	if cache.invalidations != 0 {
		t.Fatal("rejected submission invalidated the cache")
	}
}

func TestSubmitConcurrentFirstSubmissions(t *testing.T) {
	db := newTestDB(t)
	s, users := newTestScoreService(t, db, nil)
	ctx := context.Background()

	in := GameResultInput{Score: 400, TargetsHit: 10, ShotsFired: 20, MaxCombo: 3, DurationMs: 30_000}
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.Submit(ctx, &Principal{
				Method:   AuthMethodPlatform,
				Platform: &initdata.Identity{PlatformUserID: 31337},
			}, in)
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
	}

	if n := countUsers(t, users); n != 1 {
		t.Fatalf("users = %d, want 1", n)
	}
	var results int64
	db.Model(&models.GameResult{}).Count(&results)
	if results != 2 {
		t.Fatalf("results = %d, want 2", results)
	}
}

func TestLeaderboardServedFromCacheUntilInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := newTestDB(t)
	cache := NewRedisLeaderboardCache(client, time.Minute)
	s, _ := newTestScoreService(t, db, cache)
	ctx := context.Background()

	u := createUser(t, db, "session-cached")
	createResult(t, db, u.ID, 100, 1, 1, baseTime)

	q := LeaderboardQuery{Type: LeaderboardScore, Limit: 10}
	first, err := s.Leaderboard(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Entries) != 1 {
		t.Fatalf("entries = %d", len(first.Entries))
	}
	if !mr.Exists("leaderboard:v0:score:10:0") {
		t.Fatalf("page not cached, keys = %v", mr.Keys())
	}

	// written behind the service's back, so only visible after invalidation
	other := createUser(t, db, "session-other")
	createResult(t, db, other.ID, 200, 1, 1, baseTime)

	cached, err := s.Leaderboard(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached.Entries) != 1 {
		t.Fatalf("cached page has %d entries, want 1", len(cached.Entries))
	}

	if err := cache.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	fresh, err := s.Leaderboard(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh.Entries) != 2 || fresh.Entries[0].UserID != other.ID {
		t.Fatalf("fresh page = %+v", fresh.Entries)
	}
}

func TestLeaderboardFallsBackWhenCacheIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := newTestDB(t)
	s, _ := newTestScoreService(t, db, NewRedisLeaderboardCache(client, time.Minute))
	u := createUser(t, db, "session-nocache")
	createResult(t, db, u.ID, 100, 1, 1, baseTime)

	mr.Close()

	page, err := s.Leaderboard(context.Background(), LeaderboardQuery{Type: LeaderboardScore})
	if err != nil {
		t.Fatalf("Leaderboard with redis down: %v", err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("entries = %d", len(page.Entries))
	}
}
