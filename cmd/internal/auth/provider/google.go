package provider

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"passage/cmd/identity"
)

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// googleProvider logs users in through Google OAuth.
type googleProvider struct {
	oauth       *oauth2.Config
	userinfoURL string
}

// NewGoogle builds the Google provider.
func NewGoogle(cfg Config) (IdentityProvider, error) {
	if err := cfg.validate("google"); err != nil {
		return nil, err
	}
	return &googleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userinfoURL: googleUserinfoURL,
	}, nil
}

func (p *googleProvider) Name() string { return "google" }

func (p *googleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *googleProvider) Identity(ctx context.Context, code string) (identity.NormalizedIdentity, error) {
	tok, err := exchange(ctx, p.oauth, code)
	if err != nil {
		return identity.NormalizedIdentity{}, err
	}

	var profile struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := fetchJSON(ctx, p.oauth, tok, p.userinfoURL, &profile); err != nil {
		return identity.NormalizedIdentity{}, err
	}
	if strings.TrimSpace(profile.Email) == "" {
		return identity.NormalizedIdentity{}, ErrEmailMissing
	}

	return identity.NormalizedIdentity{
		Provider:   p.Name(),
		ProviderID: profile.ID,
		Email:      optional(profile.Email),
		Name:       optional(profile.Name),
		AvatarURL:  optional(profile.Picture),
	}, nil
}
