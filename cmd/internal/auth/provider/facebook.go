package provider

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"passage/cmd/identity"
)

const facebookProfileURL = "https://graph.facebook.com/me?fields=id,name,email,picture.type(large)"

// facebookProvider logs users in through Facebook OAuth. Facebook accounts
// registered by phone number have no email; those logins fail with
// ErrEmailMissing.
type facebookProvider struct {
	oauth      *oauth2.Config
	profileURL string
}

// NewFacebook builds the Facebook provider.
func NewFacebook(cfg Config) (IdentityProvider, error) {
	if err := cfg.validate("facebook"); err != nil {
		return nil, err
	}
	return &facebookProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoints.Facebook,
			Scopes:       []string{"email", "public_profile"},
		},
		profileURL: facebookProfileURL,
	}, nil
}

func (p *facebookProvider) Name() string { return "facebook" }

func (p *facebookProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

func (p *facebookProvider) Identity(ctx context.Context, code string) (identity.NormalizedIdentity, error) {
	tok, err := exchange(ctx, p.oauth, code)
	if err != nil {
		return identity.NormalizedIdentity{}, err
	}

	var profile struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := fetchJSON(ctx, p.oauth, tok, p.profileURL, &profile); err != nil {
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
		AvatarURL:  optional(profile.Picture.Data.URL),
	}, nil
}
