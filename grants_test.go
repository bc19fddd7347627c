package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/oauth"
	"github.com/MrEthical07/goIdentity/permission"
)

func TestPasswordGrantIssuesSession(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := WithDeviceName(WithClientIP(context.Background(), "203.0.113.7"), "Firefox on Linux")
	userID := te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)

	grant, err := te.IssueTokensForPasswordGrant(ctx, "Alice@Example.com ", "correct-horse")
	if err != nil {
		t.Fatalf("password grant failed: %v", err)
	}
	if grant.TokenType != "bearer" || grant.ExpiresIn != int64(time.Hour/time.Second) {
		t.Fatalf("unexpected grant shape: %+v", grant)
	}
	if !strings.Contains(grant.Scope, permission.PermWriteUser) {
		t.Fatalf("verified user should hold %s, got %q", permission.PermWriteUser, grant.Scope)
	}

	res, err := te.ValidateAccess(ctx, grant.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if res.UserID != userID {
		t.Fatalf("expected subject %s, got %s", userID, res.UserID)
	}

	sessions, err := te.ListSessions(ctx, userID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].IP == nil || *sessions[0].IP != "203.0.113.7" {
		t.Fatalf("expected ip metadata, got %+v", sessions[0].IP)
	}
	if sessions[0].DeviceName == nil || *sessions[0].DeviceName != "Firefox on Linux" {
		t.Fatalf("expected device metadata, got %+v", sessions[0].DeviceName)
	}
}

func TestPasswordGrantDoesNotRevealUnknownEmail(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)

	_, errUnknown := te.IssueTokensForPasswordGrant(ctx, "nobody@example.com", "correct-horse")
	_, errWrong := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "wrong-horse")

	if !errors.Is(errUnknown, ErrUnauthenticated) || !errors.Is(errWrong, ErrUnauthenticated) {
		t.Fatalf("expected both to be unauthenticated, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("error text differs: %q vs %q", errUnknown, errWrong)
	}
	if got := te.MetricsSnapshot().Counters[MetricPasswordGrantFailure]; got != 2 {
		t.Fatalf("expected 2 failures counted, got %d", got)
	}
}

func TestPasswordGrantRefusesAccountsPendingReset(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	userID := te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)
	te.store.mu.Lock()
	te.store.users[userID].resetPassword = true
	te.store.mu.Unlock()

	if _, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// A wrong password never learns about the reset flag.
	if _, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "wrong-horse"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected flagged account with wrong password to look like any miss, got %v", err)
	}
}

func TestPasswordGrantThrottlesByEmail(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Security.MaxLoginAttempts = 2 })
	ctx := context.Background()
	te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)

	// The window allows MaxLoginAttempts failures before the next one trips it.
	for i := 0; i < 3; i++ {
		if _, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "nope-nope"); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("attempt %d: expected ErrUnauthenticated, got %v", i, err)
		}
	}
	if _, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if StatusCode(ErrRateLimited) != 429 {
		t.Fatal("rate limit should map to 429")
	}

	te.mr.FastForward(16 * time.Minute)
	if _, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("expected login after cooldown, got %v", err)
	}
}

func TestPasswordGrantStoreOutageIsInternal(t *testing.T) {
	te := newTestEngine(t, nil)
	te.store.failNext = errors.New("dial tcp: connection refused")

	_, err := te.IssueTokensForPasswordGrant(context.Background(), "alice@example.com", "correct-horse")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if strings.Contains(err.Error(), "refused") {
		t.Fatalf("internal error leaked cause: %q", err)
	}
}

func TestRefreshGrantRotates(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	userID := te.seedUser(t, "alice", "alice@example.com", "correct-horse", false)

	first, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("password grant failed: %v", err)
	}
	if strings.Contains(first.Scope, permission.PermWriteUser) {
		t.Fatalf("unverified user should not hold %s", permission.PermWriteUser)
	}

	// Verification lands between issue and refresh; the rotated token sees it.
	te.store.setVerified("alice@example.com", true)

	second, err := te.IssueTokensForRefreshGrant(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken || second.AccessToken == first.AccessToken {
		t.Fatal("expected both tokens to change on rotation")
	}
	if !strings.Contains(second.Scope, permission.PermWriteUser) {
		t.Fatalf("expected refreshed scope to include %s, got %q", permission.PermWriteUser, second.Scope)
	}

	a, _ := te.ValidateAccess(ctx, first.AccessToken)
	b, _ := te.ValidateAccess(ctx, second.AccessToken)
	if a.SessionID == "" || a.SessionID != b.SessionID {
		t.Fatalf("rotation must keep the session id: %q vs %q", a.SessionID, b.SessionID)
	}

	sessions, err := te.ListSessions(ctx, userID)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected 1 session after rotation, got %d (%v)", len(sessions), err)
	}
}

func TestRefreshGrantReuseRevokesSession(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)

	first, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("password grant failed: %v", err)
	}
	second, err := te.IssueTokensForRefreshGrant(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if _, err := te.IssueTokensForRefreshGrant(ctx, first.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected stale token to be rejected, got %v", err)
	}
	if _, err := te.IssueTokensForRefreshGrant(ctx, second.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected session to be revoked after reuse, got %v", err)
	}
	if _, err := te.ValidateAccess(ctx, second.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected access token of revoked session to fail, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("expected 1 reuse detection, got %d", got)
	}
}

func TestRefreshGrantConcurrentRotationHasOneWinner(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)

	grant, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("password grant failed: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := te.IssueTokensForRefreshGrant(ctx, grant.RefreshToken); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success > 1 {
		t.Fatalf("expected at most one rotation to win, got %d", success)
	}
}

func TestRefreshGrantRejectsAccessToken(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)

	grant, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("password grant failed: %v", err)
	}
	if _, err := te.IssueTokensForRefreshGrant(ctx, grant.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected access token to be refused as refresh token, got %v", err)
	}
}

func TestRefreshGrantSeparatesMalformedFromForged(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)

	_, err := te.IssueTokensForRefreshGrant(ctx, "not-a-jwt")
	var v *ValidationError
	if !errors.As(err, &v) || v.Fields["refresh_token"][0] != "parse" {
		t.Fatalf("expected refresh_token parse error, got %v", err)
	}
	if StatusCode(err) != 422 {
		t.Fatalf("expected 422 for malformed token, got %d", StatusCode(err))
	}

	grant, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("password grant failed: %v", err)
	}
	forged := grant.RefreshToken[:len(grant.RefreshToken)-2] + "xx"
	if _, err := te.IssueTokensForRefreshGrant(ctx, forged); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected bad signature to be unauthenticated, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricRefreshFailure]; got != 2 {
		t.Fatalf("expected 2 refresh failures, got %d", got)
	}
}

func TestRefreshGrantExpiresWithSession(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)

	grant, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("password grant failed: %v", err)
	}

	te.mr.FastForward(31 * 24 * time.Hour)
	if _, err := te.IssueTokensForRefreshGrant(ctx, grant.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected expired session to be unauthenticated, got %v", err)
	}
}

func githubStub(id, email string, verified bool) *stubProvider {
	bio := "hello"
	return &stubProvider{
		name: oauth.GitHub,
		identity: oauth.Identity{
			ProviderUserID: id,
			Email:          email,
			Verified:       verified,
			Bio:            &bio,
		},
	}
}

func TestAssertionGrantCreatesFederatedAccount(t *testing.T) {
	gh := githubStub("gh-42", "Octo@Example.com", true)
	te := newTestEngine(t, nil, gh)
	ctx := context.Background()

	grant, err := te.IssueTokensForAssertionGrant(ctx, oauth.GitHub, "ok")
	if err != nil {
		t.Fatalf("assertion grant failed: %v", err)
	}
	res, err := te.ValidateAccess(ctx, grant.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}

	u := te.store.user(res.UserID)
	if !u.resetPassword {
		t.Fatal("federated account must require password setup")
	}
	if !strings.HasPrefix(u.hash, "$argon2id$") {
		t.Fatalf("expected placeholder argon2id hash, got %q", u.hash)
	}
	if u.image != oauth.DefaultAvatar(res.UserID) {
		t.Fatalf("expected generated avatar, got %q", u.image)
	}
	if !res.Scope.Has(permission.PermWriteUser) {
		t.Fatal("provider-verified email should grant member scope")
	}

	// The placeholder password can never be used to log in, and the answer
	// matches an unknown email.
	_, federated := te.IssueTokensForPasswordGrant(ctx, "octo@example.com", "anything-at-all")
	_, unknown := te.IssueTokensForPasswordGrant(ctx, "nobody@example.com", "anything-at-all")
	if !errors.Is(federated, ErrUnauthenticated) || StatusCode(federated) != StatusCode(unknown) {
		t.Fatalf("federated account must be indistinguishable from unknown email, got %v vs %v", federated, unknown)
	}
}

func TestAssertionGrantIsIdempotent(t *testing.T) {
	gh := githubStub("gh-42", "octo@example.com", true)
	te := newTestEngine(t, nil, gh)
	ctx := context.Background()

	a, err := te.IssueTokensForAssertionGrant(ctx, oauth.GitHub, "ok")
	if err != nil {
		t.Fatalf("first grant failed: %v", err)
	}
	b, err := te.IssueTokensForAssertionGrant(ctx, oauth.GitHub, "ok")
	if err != nil {
		t.Fatalf("second grant failed: %v", err)
	}

	ra, _ := te.ValidateAccess(ctx, a.AccessToken)
	rb, _ := te.ValidateAccess(ctx, b.AccessToken)
	if ra.UserID != rb.UserID {
		t.Fatalf("expected same user, got %s and %s", ra.UserID, rb.UserID)
	}
	if ra.SessionID == rb.SessionID {
		t.Fatal("each grant should open its own session")
	}
	if n := len(te.store.users); n != 1 {
		t.Fatalf("expected one user row, got %d", n)
	}
}

func TestAssertionGrantLinksExistingEmail(t *testing.T) {
	gh := githubStub("gh-7", "alice@example.com", true)
	te := newTestEngine(t, nil, gh)
	ctx := context.Background()
	userID := te.seedUser(t, "alice", "alice@example.com", "correct-horse", false)

	grant, err := te.IssueTokensForAssertionGrant(ctx, oauth.GitHub, "ok")
	if err != nil {
		t.Fatalf("assertion grant failed: %v", err)
	}
	res, _ := te.ValidateAccess(ctx, grant.AccessToken)
	if res.UserID != userID {
		t.Fatalf("expected existing user %s, got %s", userID, res.UserID)
	}
	if u := te.store.user(userID); u.resetPassword {
		t.Fatal("linking must not flag an existing password account")
	}
	if _, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("password login must keep working after linking: %v", err)
	}
}

func TestAssertionGrantErrors(t *testing.T) {
	noEmail := &stubProvider{name: oauth.Discord}
	gh := githubStub("gh-1", "x@example.com", true)
	te := newTestEngine(t, nil, gh, noEmail)
	ctx := context.Background()

	_, err := te.IssueTokensForAssertionGrant(ctx, "gitlab", "ok")
	var v *ValidationError
	if !errors.As(err, &v) || len(v.Fields["provider"]) == 0 {
		t.Fatalf("expected provider validation error, got %v", err)
	}

	_, err = te.IssueTokensForAssertionGrant(ctx, oauth.Discord, "ok")
	if !errors.As(err, &v) || v.Fields["email"][0] != "missing" {
		t.Fatalf("expected email missing validation error, got %v", err)
	}

	_, err = te.IssueTokensForAssertionGrant(ctx, oauth.GitHub, "bad-code")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if strings.Contains(err.Error(), "bad_verification_code") {
		t.Fatalf("upstream detail leaked: %q", err)
	}

	gh.err = fmt.Errorf("%w: context deadline exceeded", oauth.ErrUpstream)
	if _, err := te.IssueTokensForAssertionGrant(ctx, oauth.GitHub, "ok"); StatusCode(err) != 502 {
		t.Fatalf("expected 502 for provider timeout, got %d (%v)", StatusCode(err), err)
	}
	if got := te.MetricsSnapshot().Counters[MetricUpstreamFailure]; got != 2 {
		t.Fatalf("expected 2 upstream failures, got %d", got)
	}
}

func TestAssertionGrantRollbackLeavesNoSession(t *testing.T) {
	gh := githubStub("gh-9", "nine@example.com", true)
	te := newTestEngine(t, nil, gh)
	ctx := context.Background()
	te.store.failNext = errors.New("deadlock detected")

	if _, err := te.IssueTokensForAssertionGrant(ctx, oauth.GitHub, "ok"); !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if n := len(te.mr.Keys()); n != 0 {
		t.Fatalf("expected no redis state after failed reconcile, got %v", te.mr.Keys())
	}
}
