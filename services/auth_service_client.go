// services/auth_service_client.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNoDelegatedToken means the user never connected GitHub through the identity provider.
var ErrNoDelegatedToken = errors.New("no delegated github token")

// TokenSource yields a user's delegated GitHub OAuth token.
type TokenSource interface {
	GitHubToken(ctx context.Context, userID string) (string, error)
}

// IdentityUser is the identity provider's user object, as returned by the backend API
// and carried in user.* webhook payloads.
type IdentityUser struct {
	ID                    string            `json:"id"`
	FirstName             *string           `json:"first_name"`
	LastName              *string           `json:"last_name"`
	Username              *string           `json:"username"`
	ImageURL              string            `json:"image_url"`
	PrimaryEmailAddressID *string           `json:"primary_email_address_id"`
	EmailAddresses        []IdentityEmail   `json:"email_addresses"`
	ExternalAccounts      []IdentityAccount `json:"external_accounts"`
	UpdatedAt             int64             `json:"updated_at"`
}

type IdentityEmail struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type IdentityAccount struct {
	Provider string `json:"provider"`
	Username string `json:"username"`
}

func (u IdentityUser) PrimaryEmail() string {
	for _, e := range u.EmailAddresses {
		if u.PrimaryEmailAddressID != nil && e.ID == *u.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

// GitHubLogin returns the linked GitHub account login, if any.
func (u IdentityUser) GitHubLogin() string {
	for _, a := range u.ExternalAccounts {
		if (a.Provider == "oauth_github" || a.Provider == "github") && a.Username != "" {
			return a.Username
		}
	}
	return ""
}

// AuthServiceClient calls the identity provider's backend API with the secret key.
type AuthServiceClient struct {
	client *resty.Client
}

func NewAuthServiceClient(baseURL, secretKey string, timeout time.Duration) *AuthServiceClient {
	return &AuthServiceClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(secretKey).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

type oauthToken struct {
	Token string `json:"token"`
}

// GitHubToken fetches the user's GitHub OAuth token held by the identity provider.
func (c *AuthServiceClient) GitHubToken(ctx context.Context, userID string) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("user_id", userID).
		Get("/v1/users/{user_id}/oauth_access_tokens/oauth_github")
	if err != nil {
		return "", fmt.Errorf("identity provider request failed: %w", err)
	}
	if resp.StatusCode() == 404 {
		return "", ErrNoDelegatedToken
	}
	if resp.IsError() {
		return "", fmt.Errorf("identity provider returned %d: %s", resp.StatusCode(), truncate(resp.String(), 256))
	}

	tokens, err := decodeTokens(resp.Body())
	if err != nil {
		return "", fmt.Errorf("failed to decode oauth tokens: %w", err)
	}
	for _, t := range tokens {
		if t.Token != "" {
			return t.Token, nil
		}
	}
	return "", ErrNoDelegatedToken
}

// the endpoint returns a bare array, or {data: [...]} when paginated
func decodeTokens(body []byte) ([]oauthToken, error) {
	var list []oauthToken
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var page struct {
		Data []oauthToken `json:"data"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// ListUsers returns one page of users, most recently updated first.
func (c *AuthServiceClient) ListUsers(ctx context.Context, limit, offset int) ([]IdentityUser, error) {
	var users []IdentityUser
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"limit":    fmt.Sprint(limit),
			"offset":   fmt.Sprint(offset),
			"order_by": "-updated_at",
		}).
		SetResult(&users).
		Get("/v1/users")
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("identity provider returned %d: %s", resp.StatusCode(), truncate(resp.String(), 256))
	}
	return users, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
