package oauth

import (
	"context"
)

const discordCDN = "https://cdn.discordapp.com/avatars/"

// DiscordProvider federates Discord accounts.
type DiscordProvider struct {
	c *client
}

// NewDiscord validates cfg and returns a Discord adapter. APIBaseURL is
// normally https://discord.com/api.
func NewDiscord(cfg Config) (*DiscordProvider, error) {
	if err := cfg.validate(Discord); err != nil {
		return nil, err
	}
	return &DiscordProvider{c: newClient(cfg)}, nil
}

func (p *DiscordProvider) Name() string { return Discord }

func (p *DiscordProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	return p.c.exchange(ctx, code)
}

type discordUser struct {
	ID       string  `json:"id"`
	Email    *string `json:"email"`
	Verified *bool   `json:"verified"`
	Avatar   *string `json:"avatar"`
}

// FetchProfile reads GET /users/@me. The avatar hash is expanded to a CDN URL.
func (p *DiscordProvider) FetchProfile(ctx context.Context, accessToken string) (Identity, error) {
	var u discordUser
	if err := p.c.getJSON(ctx, accessToken, "/users/@me", nil, &u); err != nil {
		return Identity{}, err
	}

	id := Identity{
		Provider:       Discord,
		ProviderUserID: u.ID,
		Verified:       u.Verified != nil && *u.Verified,
	}
	if u.Email != nil {
		id.Email = *u.Email
	}
	if u.Avatar != nil && *u.Avatar != "" {
		img := discordCDN + u.ID + "/" + *u.Avatar
		id.Image = &img
	}
	return id, nil
}

// ResolveEmail is a no-op: Discord has no secondary email listing.
func (p *DiscordProvider) ResolveEmail(context.Context, string, *Identity) error {
	return nil
}
