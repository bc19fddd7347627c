// Package memory is an in-process goIdentity.IdentityStore for tests,
// examples and local development. Nothing survives a restart.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/oauth"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/google/uuid"
)

type user struct {
	id            string
	username      string
	hash          string
	resetPassword bool
	roles         []string
	bio           *string
	image         string
}

type email struct {
	userID      string
	primary     bool
	verified    bool
	confirmedAt time.Time
}

// Store keeps users, emails and social links in maps guarded by one mutex.
type Store struct {
	mu     sync.Mutex
	users  map[string]*user
	emails map[string]*email
	links  map[string]string
}

func New() *Store {
	return &Store{
		users:  map[string]*user{},
		emails: map[string]*email{},
		links:  map[string]string{},
	}
}

var _ goIdentity.IdentityStore = (*Store)(nil)

// GrantRole adds role to userID.
func (s *Store) GrantRole(_ context.Context, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return goIdentity.ErrNotFound
	}
	for _, r := range u.roles {
		if r == role {
			return nil
		}
	}
	u.roles = append(u.roles, role)
	return nil
}

func (s *Store) Grants(_ context.Context, userID string) (permission.Grants, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return permission.Grants{}, goIdentity.ErrNotFound
	}
	g := permission.Grants{Roles: append([]string(nil), u.roles...)}
	if e := s.primaryLocked(userID); e != nil {
		g.Verified = e.verified
	}
	return g, nil
}

func (s *Store) CredentialsByEmail(_ context.Context, addr string) (goIdentity.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[addr]
	if !ok || !e.primary {
		return goIdentity.Credentials{}, goIdentity.ErrNotFound
	}
	u := s.users[e.userID]
	return goIdentity.Credentials{UserID: u.id, PasswordHash: u.hash, ResetPassword: u.resetPassword}, nil
}

func (s *Store) PasswordHash(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return "", goIdentity.ErrNotFound
	}
	return u.hash, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return goIdentity.ErrNotFound
	}
	u.hash = hash
	u.resetPassword = false
	return nil
}

func (s *Store) CreateAccount(_ context.Context, acct goIdentity.NewAccount) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.username == acct.Username {
			return "", &goIdentity.ConflictError{Field: "username"}
		}
	}
	if _, ok := s.emails[acct.Email]; ok {
		return "", &goIdentity.ConflictError{Field: "email"}
	}
	u := s.insertLocked(acct.Username, acct.PasswordHash, false)
	u.image = acct.Image
	s.emails[acct.Email] = &email{userID: u.id, primary: true}
	return u.id, nil
}

func (s *Store) LookupEmail(_ context.Context, addr string) (goIdentity.EmailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[addr]
	if !ok {
		return goIdentity.EmailRecord{}, goIdentity.ErrNotFound
	}
	return goIdentity.EmailRecord{UserID: e.userID, Verified: e.verified}, nil
}

func (s *Store) PrimaryEmail(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, e := range s.emails {
		if e.userID == userID && e.primary {
			return addr, nil
		}
	}
	return "", goIdentity.ErrNotFound
}

func (s *Store) MarkEmailVerified(_ context.Context, userID, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[addr]
	if !ok || e.userID != userID {
		return goIdentity.ErrNotFound
	}
	e.verified = true
	e.confirmedAt = time.Time{}
	return nil
}

func (s *Store) MarkConfirmationSent(_ context.Context, userID, addr string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[addr]
	if !ok || e.userID != userID {
		return goIdentity.ErrNotFound
	}
	e.confirmedAt = at
	return nil
}

// Reconcile follows the Postgres steps: find the user by link, then by email
// owner, else create a placeholder account; upsert the email; link with the
// first link winning; backfill bio and image where unset. A user found by link
// never takes over an address owned by someone else. PlaceholderHash runs only
// when a user is about to be created.
func (s *Store) Reconcile(ctx context.Context, in goIdentity.ReconcileInput) (string, error) {
	id := in.Identity
	addr := strings.TrimSpace(id.Email)
	if addr == "" {
		return "", goIdentity.Invalid("email", "missing")
	}
	if id.Provider == "" || id.ProviderUserID == "" {
		return "", goIdentity.Invalid("provider", "missing")
	}
	link := id.Provider + "\x00" + id.ProviderUserID

	var placeholder string
	for {
		s.mu.Lock()
		u, linked := s.resolveLocked(link, addr)
		if u == nil && placeholder == "" {
			// Hash outside the lock, then resolve again.
			s.mu.Unlock()
			h, err := in.PlaceholderHash(ctx)
			if err != nil {
				return "", err
			}
			placeholder = h
			continue
		}
		defer s.mu.Unlock()

		if u == nil {
			u = s.insertLocked(uuid.NewString(), placeholder, true)
		}
		if e, ok := s.emails[addr]; ok {
			if e.userID == u.id {
				e.verified = true
				e.confirmedAt = time.Time{}
			}
		} else {
			s.emails[addr] = &email{
				userID:   u.id,
				primary:  s.primaryLocked(u.id) == nil,
				verified: id.Verified,
			}
		}
		if !linked {
			s.links[link] = u.id
		}

		if u.bio == nil {
			u.bio = id.Bio
		}
		if u.image == "" {
			u.image = oauth.DefaultAvatar(u.id)
			if id.Image != nil {
				u.image = *id.Image
			}
		}
		return u.id, nil
	}
}

// resolveLocked returns the linked user, else the email owner, else nil.
func (s *Store) resolveLocked(link, addr string) (*user, bool) {
	if userID, ok := s.links[link]; ok {
		return s.users[userID], true
	}
	if e, ok := s.emails[addr]; ok {
		return s.users[e.userID], false
	}
	return nil, false
}

func (s *Store) insertLocked(username, hash string, reset bool) *user {
	u := &user{id: uuid.NewString(), username: username, hash: hash, resetPassword: reset}
	s.users[u.id] = u
	return u
}

func (s *Store) primaryLocked(userID string) *email {
	for _, e := range s.emails {
		if e.userID == userID && e.primary {
			return e
		}
	}
	return nil
}
