package provider

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"passage/cmd/identity"
)

const (
	githubUserURL   = "https://api.github.com/user"
	githubEmailsURL = "https://api.github.com/user/emails"
)

// githubProvider logs users in through GitHub OAuth. GitHub hides the email
// on /user when the user marks it private, so the provider falls back to
// /user/emails and picks the primary verified address.
type githubProvider struct {
	oauth     *oauth2.Config
	userURL   string
	emailsURL string
}

// NewGitHub builds the GitHub provider.
func NewGitHub(cfg Config) (IdentityProvider, error) {
	if err := cfg.validate("github"); err != nil {
		return nil, err
	}
	return &githubProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoints.GitHub,
			Scopes:       []string{"read:user", "user:email"},
		},
		userURL:   githubUserURL,
		emailsURL: githubEmailsURL,
	}, nil
}

func (p *githubProvider) Name() string { return "github" }

func (p *githubProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

func (p *githubProvider) Identity(ctx context.Context, code string) (identity.NormalizedIdentity, error) {
	tok, err := exchange(ctx, p.oauth, code)
	if err != nil {
		return identity.NormalizedIdentity{}, err
	}

	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := fetchJSON(ctx, p.oauth, tok, p.userURL, &profile); err != nil {
		return identity.NormalizedIdentity{}, err
	}

	email := strings.TrimSpace(profile.Email)
	if email == "" {
		email, err = p.primaryEmail(ctx, tok)
		if err != nil {
			return identity.NormalizedIdentity{}, err
		}
	}
	if email == "" {
		return identity.NormalizedIdentity{}, ErrEmailMissing
	}

	name := profile.Name
	if strings.TrimSpace(name) == "" {
		name = profile.Login
	}

	return identity.NormalizedIdentity{
		Provider:   p.Name(),
		ProviderID: strconv.FormatInt(profile.ID, 10),
		Email:      optional(email),
		Name:       optional(name),
		AvatarURL:  optional(profile.AvatarURL),
	}, nil
}

func (p *githubProvider) primaryEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := fetchJSON(ctx, p.oauth, tok, p.emailsURL, &emails); err != nil {
		return "", err
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}
