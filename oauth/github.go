package oauth

import (
	"context"
	"net/http"
	"strconv"
)

const githubAPIVersion = "2022-11-28"

// GitHubProvider federates GitHub accounts.
type GitHubProvider struct {
	c *client
}

// NewGitHub validates cfg and returns a GitHub adapter. APIBaseURL is
// normally https://api.github.com.
func NewGitHub(cfg Config) (*GitHubProvider, error) {
	if err := cfg.validate(GitHub); err != nil {
		return nil, err
	}
	return &GitHubProvider{c: newClient(cfg)}, nil
}

func (p *GitHubProvider) Name() string { return GitHub }

func (p *GitHubProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	return p.c.exchange(ctx, code)
}

type githubUser struct {
	ID        int64   `json:"id"`
	Email     *string `json:"email"`
	Bio       *string `json:"bio"`
	AvatarURL *string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	Primary  bool   `json:"primary"`
}

func (p *GitHubProvider) header() http.Header {
	h := http.Header{}
	h.Set("X-GitHub-Api-Version", githubAPIVersion)
	return h
}

// FetchProfile reads GET /user. A public profile email is trusted as verified.
func (p *GitHubProvider) FetchProfile(ctx context.Context, accessToken string) (Identity, error) {
	var u githubUser
	if err := p.c.getJSON(ctx, accessToken, "/user", p.header(), &u); err != nil {
		return Identity{}, err
	}

	id := Identity{
		Provider:       GitHub,
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		Bio:            nonEmpty(u.Bio),
		Image:          nonEmpty(u.AvatarURL),
	}
	if u.Email != nil && *u.Email != "" {
		id.Email = *u.Email
		id.Verified = true
	}
	return id, nil
}

// ResolveEmail lists /user/emails and picks the primary address, falling back
// to the first one. An empty list leaves the identity unverified and without
// an email.
func (p *GitHubProvider) ResolveEmail(ctx context.Context, accessToken string, id *Identity) error {
	var emails []githubEmail
	if err := p.c.getJSON(ctx, accessToken, "/user/emails", p.header(), &emails); err != nil {
		return err
	}
	if len(emails) == 0 {
		id.Verified = false
		return nil
	}

	for _, e := range emails {
		if e.Primary {
			id.Email = e.Email
			id.Verified = e.Verified
			return nil
		}
	}
	id.Email = emails[0].Email
	id.Verified = emails[0].Verified
	return nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
