package services

import (
	"context"
	"sync"
	"testing"

	"fingergun/apperr"
	"fingergun/initdata"
	"fingergun/models"

	"go.uber.org/zap/zaptest"
)

func countUsers(t *testing.T, s *UserService) int64 {
	t.Helper()
	var n int64
	if err := s.db.Model(&models.User{}).Count(&n).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	return n
}

func TestEnsureSessionUserIsIdempotent(t *testing.T) {
	s := NewUserService(newTestDB(t), zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := s.EnsureSessionUser(ctx, "session-abcdef")
	if err != nil {
		t.Fatalf("EnsureSessionUser: %v", err)
	}
	second, err := s.EnsureSessionUser(ctx, "session-abcdef")
	if err != nil {
		t.Fatalf("EnsureSessionUser again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %d vs %d", first.ID, second.ID)
	}
	if n := countUsers(t, s); n != 1 {
		t.Fatalf("users = %d, want 1", n)
	}
	if first.LanguageCode != initdata.DefaultLanguage || first.PlatformUserID != nil {
		t.Fatalf("user = %+v", first)
	}

	_, err = s.EnsureSessionUser(ctx, "no")
	assertCode(t, err, apperr.CodeInvalidIdentity)
}

func TestEnsurePlatformUserCreatesAndRefreshesHandle(t *testing.T) {
	s := NewUserService(newTestDB(t), zaptest.NewLogger(t))
	ctx := context.Background()

	login := PlatformLogin{
		Identity: initdata.Identity{
			PlatformUserID: 42,
			Username:       "alice",
			FirstName:      "Alice",
			LanguageCode:   "de",
			IsPremium:      true,
		},
		HasProfile: true,
	}
	u, err := s.EnsurePlatformUser(ctx, login)
	if err != nil {
		t.Fatalf("EnsurePlatformUser: %v", err)
	}
	if u.PlatformUserID == nil || *u.PlatformUserID != 42 {
		t.Fatalf("platform id = %v", u.PlatformUserID)
	}
	if u.Username == nil || *u.Username != "alice" || u.LanguageCode != "de" || !u.IsPremium {
		t.Fatalf("user = %+v", u)
	}

	login.Identity.Username = "alice_2"
	again, err := s.EnsurePlatformUser(ctx, login)
	if err != nil {
		t.Fatalf("EnsurePlatformUser again: %v", err)
	}
	if again.ID != u.ID {
		t.Fatalf("second login created a new user")
	}
	stored, err := s.GetByPlatformID(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Username == nil || *stored.Username != "alice_2" {
		t.Fatalf("handle not refreshed: %v", stored.Username)
	}

	// a login without profile data never overwrites the handle
	if _, err := s.EnsurePlatformUser(ctx, PlatformLogin{Identity: initdata.Identity{PlatformUserID: 42}}); err != nil {
		t.Fatal(err)
	}
	stored, _ = s.GetByPlatformID(ctx, 42)
	if stored.Username == nil || *stored.Username != "alice_2" {
		t.Fatalf("handle overwritten by bare login: %v", stored.Username)
	}
}

func TestEnsurePlatformUserConcurrentFirstLogin(t *testing.T) {
	s := NewUserService(newTestDB(t), zaptest.NewLogger(t))
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]uint, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.EnsurePlatformUser(ctx, PlatformLogin{
				Identity:   initdata.Identity{PlatformUserID: 777, Username: "racer"},
				HasProfile: true,
			})
			errs[i] = err
			if u != nil {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got user %d, worker 0 got %d", i, ids[i], ids[0])
		}
	}
	if n := countUsers(t, s); n != 1 {
		t.Fatalf("users = %d, want 1", n)
	}
}

// The race window itself: both callers miss the lookup before either
// inserts. The second upsert must land on the first row.
func TestPlatformUpsertAfterLostRace(t *testing.T) {
	s := NewUserService(newTestDB(t), zaptest.NewLogger(t))
	ctx := context.Background()

	if _, err := s.GetByPlatformID(ctx, 555); err != ErrUserNotFound {
		t.Fatalf("lookup = %v, want ErrUserNotFound", err)
	}
	winner, err := s.EnsurePlatformUser(ctx, PlatformLogin{Identity: initdata.Identity{PlatformUserID: 555}})
	if err != nil {
		t.Fatal(err)
	}

	pid := int64(555)
	loser := models.User{PlatformUserID: &pid, LanguageCode: "en"}
	if err := s.db.Clauses(platformUpsert(false, "")).Create(&loser).Error; err != nil {
		t.Fatalf("conflicting upsert surfaced an error: %v", err)
	}
	canonical, err := s.GetByPlatformID(ctx, 555)
	if err != nil {
		t.Fatal(err)
	}
	if canonical.ID != winner.ID || countUsers(t, s) != 1 {
		t.Fatalf("canonical = %d, winner = %d", canonical.ID, winner.ID)
	}
}

func TestEnsureUserWithTokenPrincipal(t *testing.T) {
	s := NewUserService(newTestDB(t), zaptest.NewLogger(t))
	ctx := context.Background()

	u, err := s.EnsureSessionUser(ctx, "session-abcdef")
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.EnsureUser(ctx, &Principal{Method: AuthMethodSession, SessionID: "session-abcdef", UserID: u.ID})
	if err != nil || got.ID != u.ID {
		t.Fatalf("EnsureUser = %v, %v", got, err)
	}

	_, err = s.EnsureUser(ctx, &Principal{Method: AuthMethodSession, UserID: u.ID + 100})
	assertCode(t, err, apperr.CodeAuthenticationFailed)

	_, err = s.EnsureUser(ctx, nil)
	assertCode(t, err, apperr.CodeMissingCredentials)
}

func TestLinkPlatformToSessionUser(t *testing.T) {
	s := NewUserService(newTestDB(t), zaptest.NewLogger(t))
	ctx := context.Background()

	sessionUser, err := s.EnsureSessionUser(ctx, "session-linkme")
	if err != nil {
		t.Fatal(err)
	}

	linked, err := s.EnsurePlatformUser(ctx, PlatformLogin{
		Identity:      initdata.Identity{PlatformUserID: 900, Username: "bob"},
		HasProfile:    true,
		LinkSessionID: "session-linkme",
	})
	if err != nil {
		t.Fatalf("EnsurePlatformUser: %v", err)
	}
	if linked.ID != sessionUser.ID {
		t.Fatalf("linked into user %d, want session user %d", linked.ID, sessionUser.ID)
	}
	if linked.SessionID == nil || *linked.SessionID != "session-linkme" || linked.PlatformUserID == nil {
		t.Fatalf("linked user = %+v", linked)
	}

	// an already linked session is left alone
	other, err := s.EnsurePlatformUser(ctx, PlatformLogin{
		Identity:      initdata.Identity{PlatformUserID: 901},
		LinkSessionID: "session-linkme",
	})
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == sessionUser.ID {
		t.Fatal("second platform identity linked onto an already linked session")
	}
	if n := countUsers(t, s); n != 2 {
		t.Fatalf("users = %d, want 2", n)
	}
}

func TestFindUserDoesNotCreate(t *testing.T) {
	s := NewUserService(newTestDB(t), zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := s.FindUser(ctx, &Principal{Method: AuthMethodSession, SessionID: "session-nobody"})
	assertCode(t, err, apperr.CodeNotFound)
	_, err = s.FindUser(ctx, &Principal{Method: AuthMethodPlatform, Platform: &initdata.Identity{PlatformUserID: 1}})
	assertCode(t, err, apperr.CodeNotFound)
	if n := countUsers(t, s); n != 0 {
		t.Fatalf("users = %d, want 0", n)
	}
}

func TestUpdateDisplayName(t *testing.T) {
	s := NewUserService(newTestDB(t), zaptest.NewLogger(t))
	ctx := context.Background()

	alice, _ := s.EnsureSessionUser(ctx, "session-alice")
	bob, _ := s.EnsureSessionUser(ctx, "session-bob00")

	u, err := s.UpdateDisplayName(ctx, alice.ID, "  Sharp\tShooter <b> ")
	if err != nil {
		t.Fatalf("UpdateDisplayName: %v", err)
	}
	if u.DisplayName == nil || *u.DisplayName != "Sharp Shooter b" {
		t.Fatalf("display name = %v", u.DisplayName)
	}

	_, err = s.UpdateDisplayName(ctx, bob.ID, "sharp shooter B")
	assertCode(t, err, apperr.CodeConflict)

	// re-saving your own name is not a conflict
	if _, err := s.UpdateDisplayName(ctx, alice.ID, "Sharp Shooter b"); err != nil {
		t.Fatalf("re-save own name: %v", err)
	}

	_, err = s.UpdateDisplayName(ctx, bob.ID, "x")
	assertCode(t, err, apperr.CodeValidationFailed)

	_, err = s.UpdateDisplayName(ctx, 9999, "Nobody Here")
	assertCode(t, err, apperr.CodeNotFound)
}

func TestSanitizeDisplayName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Alice", "Alice", true},
		{"  a  b  ", "a b", true},
		{"<script>", "script", true},
		{"a\u200bb", "ab", true},
		{"a\x00\x07b", "ab", true},
		{"x", "", false},
		{"   ", "", false},
		{"<>", "", false},
		{"Сергей Иванов", "Сергей Иванов", true},
		{"abcdefghijklmnopqrstuvwxyzabcdef", "abcdefghijklmnopqrstuvwxyzabcdef", true},
		{"abcdefghijklmnopqrstuvwxyzabcdefg", "", false},
	}
	for _, tt := range tests {
		got, ok := SanitizeDisplayName(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SanitizeDisplayName(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestValidSessionID(t *testing.T) {
	tests := map[string]bool{
		"session-abcdef":                       true,
		"0f8fad5b-d9cb-469f-a165-70867728950e": true,
		"under_score_ok":                       true,
		"short":                                false,
		"has space in it":                      false,
		"ümlaut-session":                       false,
		"semi;colon;id":                        false,
	}
	for id, want := range tests {
		if got := ValidSessionID(id); got != want {
			t.Errorf("ValidSessionID(%q) = %v, want %v", id, got, want)
		}
	}
}
