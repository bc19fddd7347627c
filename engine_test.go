package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/mail"
	"github.com/MrEthical07/goIdentity/oauth"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = testSecret
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.PoolSize = 2
	cfg.Metrics.Enabled = true
	return cfg
}

type testEngine struct {
	*Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	store  *fakeStore
	mailer *captureMailer
}

func newTestEngine(t testing.TB, mutate func(*Config), providers ...oauth.Provider) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := newFakeStore()
	mailer := &captureMailer{}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithProviders(providers...).
		WithMailer(mailer).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, mr: mr, rdb: rdb, store: store, mailer: mailer}
}

// seedUser registers username/email/password through the engine so the
// stored hash is real.
func (te *testEngine) seedUser(t testing.TB, username, email, pw string, verified bool) string {
	t.Helper()

	userID, err := te.Register(context.Background(), RegisterRequest{Username: username, Email: email, Password: pw})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", username, err)
	}
	if verified {
		te.store.setVerified(email, true)
	}
	return userID
}

/*
====================================
FAKE IDENTITY STORE
====================================
*/

type fakeUser struct {
	id            string
	username      string
	hash          string
	resetPassword bool
	roles         []string
	bio           *string
	image         string
}

type fakeEmail struct {
	userID    string
	primary   bool
	verified  bool
	confirmAt time.Time
}

type fakeStore struct {
	mu     sync.Mutex
	seq    int
	users  map[string]*fakeUser
	emails map[string]*fakeEmail
	links  map[string]string

	// failNext makes the next call return an opaque driver error.
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  map[string]*fakeUser{},
		emails: map[string]*fakeEmail{},
		links:  map[string]string{},
	}
}

func (s *fakeStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *fakeStore) setVerified(email string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[email].verified = v
}

func (s *fakeStore) user(id string) fakeUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *fakeStore) Grants(_ context.Context, userID string) (permission.Grants, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return permission.Grants{}, err
	}
	u, ok := s.users[userID]
	if !ok {
		return permission.Grants{}, ErrNotFound
	}
	g := permission.Grants{Roles: append([]string(nil), u.roles...)}
	for _, e := range s.emails {
		if e.userID == userID && e.primary {
			g.Verified = e.verified
		}
	}
	return g, nil
}

func (s *fakeStore) CredentialsByEmail(_ context.Context, email string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return Credentials{}, err
	}
	e, ok := s.emails[email]
	if !ok || !e.primary {
		return Credentials{}, ErrNotFound
	}
	u := s.users[e.userID]
	return Credentials{UserID: u.id, PasswordHash: u.hash, ResetPassword: u.resetPassword}, nil
}

func (s *fakeStore) PasswordHash(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return "", ErrNotFound
	}
	return u.hash, nil
}

func (s *fakeStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.hash = hash
	u.resetPassword = false
	return nil
}

func (s *fakeStore) CreateAccount(_ context.Context, acct NewAccount) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.username == acct.Username {
			return "", &ConflictError{Field: "username"}
		}
	}
	if _, ok := s.emails[acct.Email]; ok {
		return "", &ConflictError{Field: "email"}
	}
	id := s.newUser(acct.Username, acct.PasswordHash, false)
	s.users[id].image = acct.Image
	s.emails[acct.Email] = &fakeEmail{userID: id, primary: true}
	return id, nil
}

func (s *fakeStore) newUser(username, hash string, reset bool) string {
	s.seq++
	id := fmt.Sprintf("u-%d", s.seq)
	s.users[id] = &fakeUser{id: id, username: username, hash: hash, resetPassword: reset}
	return id
}

func (s *fakeStore) LookupEmail(_ context.Context, email string) (EmailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[email]
	if !ok {
		return EmailRecord{}, ErrNotFound
	}
	return EmailRecord{UserID: e.userID, Verified: e.verified}, nil
}

func (s *fakeStore) PrimaryEmail(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, e := range s.emails {
		if e.userID == userID && e.primary {
			return addr, nil
		}
	}
	return "", ErrNotFound
}

func (s *fakeStore) MarkEmailVerified(_ context.Context, userID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[email]
	if !ok || e.userID != userID {
		return ErrNotFound
	}
	e.verified = true
	e.confirmAt = time.Time{}
	return nil
}

func (s *fakeStore) MarkConfirmationSent(_ context.Context, userID, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[email]
	if !ok || e.userID != userID {
		return ErrNotFound
	}
	e.confirmAt = at
	return nil
}

func (s *fakeStore) Reconcile(ctx context.Context, in ReconcileInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return "", err
	}

	id := in.Identity
	linkKey := id.Provider + ":" + id.ProviderUserID
	if userID, ok := s.links[linkKey]; ok {
		return userID, nil
	}

	var userID string
	if e, ok := s.emails[id.Email]; ok {
		userID = e.userID
		e.verified = true
	} else {
		hash, err := in.PlaceholderHash(ctx)
		if err != nil {
			return "", err
		}
		userID = s.newUser(id.ProviderUserID+"-"+id.Provider, hash, true)
		s.emails[id.Email] = &fakeEmail{userID: userID, primary: true, verified: id.Verified}
	}
	s.links[linkKey] = userID

	u := s.users[userID]
	if u.bio == nil {
		u.bio = id.Bio
	}
	if u.image == "" {
		u.image = oauth.DefaultAvatar(userID)
		if id.Image != nil {
			u.image = *id.Image
		}
	}
	return userID, nil
}

/*
====================================
MAIL / PROVIDER STUBS
====================================
*/

type sentMail struct {
	To  string
	Msg mail.Message
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) Send(_ context.Context, to string, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Msg: msg})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("expected a mail to be sent")
	}
	return m.sent[len(m.sent)-1]
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// stubProvider answers every exchange for code "ok" with identity.
type stubProvider struct {
	name     string
	identity oauth.Identity
	err      error
	calls    int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) ExchangeCode(_ context.Context, code string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	if code != "ok" {
		return "", fmt.Errorf("%w: bad_verification_code", oauth.ErrUpstream)
	}
	return "provider-token", nil
}

func (p *stubProvider) FetchProfile(context.Context, string) (oauth.Identity, error) {
	return p.identity, nil
}

func (p *stubProvider) ResolveEmail(context.Context, string, *oauth.Identity) error {
	return nil
}

/*
====================================
BUILDER
====================================
*/

func TestBuildRequiresDependencies(t *testing.T) {
	_, rdb := newTestRedis(t)

	if _, err := New().WithConfig(testConfig()).WithIdentityStore(newFakeStore()).Build(); err == nil {
		t.Fatal("expected missing redis to fail")
	}
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected missing identity store to fail")
	}

	cfg := testConfig()
	cfg.JWT.Secret = "short"
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithIdentityStore(newFakeStore()).Build(); err == nil {
		t.Fatal("expected short secret to fail")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithIdentityStore(newFakeStore())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer e.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuildRegistersConfiguredProviders(t *testing.T) {
	_, rdb := newTestRedis(t)

	cfg := testConfig()
	cfg.OAuth.GitHub = OAuthProviderConfig{
		ClientID:     "gh-id",
		ClientSecret: "gh-secret",
		TokenURL:     "https://github.example/login/oauth/access_token",
		APIBaseURL:   "https://api.github.example",
	}
	e, err := New().WithConfig(cfg).WithRedis(rdb).WithIdentityStore(newFakeStore()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer e.Close()

	names := e.Providers()
	if len(names) != 1 || names[0] != oauth.GitHub {
		t.Fatalf("expected only github, got %v", names)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := map[error]int{
		nil:                          200,
		ErrUnauthenticated:           401,
		ErrForbidden:                 403,
		ErrNotFound:                  404,
		Invalid("email", "invalid"):  422,
		&ConflictError{"username"}:   422,
		ErrRateLimited:               429,
		upstreamErr(errors.New("x")): 502,
		internalErr(errors.New("y")): 500,
	}
	for err, want := range cases {
		if got := StatusCode(err); got != want {
			t.Fatalf("StatusCode(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestOpaqueErrorsHideCause(t *testing.T) {
	err := upstreamErr(errors.New("github said: secret detail"))
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("upstream error leaked cause: %q", err.Error())
	}
	if !errors.Is(err, ErrUpstream) {
		t.Fatal("expected ErrUpstream classification")
	}
	if got := Describe(err)["error"][0]; got != ErrUpstream.Error() {
		t.Fatalf("unexpected public message %q", got)
	}
	if Cause(err).Error() != "github said: secret detail" {
		t.Fatal("expected cause to be retained for logging")
	}
}
