package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func identity(id, login string) IdentityUser {
	u := IdentityUser{
		ID:                    id,
		FirstName:             strPtr("Mona"),
		LastName:              strPtr("Lisa"),
		Username:              strPtr("mona"),
		ImageURL:              "https://img.example.com/mona.png",
		PrimaryEmailAddressID: strPtr("em_2"),
		EmailAddresses: []IdentityEmail{
			{ID: "em_1", EmailAddress: "old@example.com"},
			{ID: "em_2", EmailAddress: "mona@example.com"},
		},
	}
	if login != "" {
		u.ExternalAccounts = []IdentityAccount{{Provider: "oauth_github", Username: login}}
	}
	return u
}

func TestUpsertIdentityKeepsPayoutAddress(t *testing.T) {
	db := newTestDB(t)
	s := NewUserService(db)
	ctx := context.Background()

	user, err := s.UpsertIdentity(ctx, identity("user_1", "monalisa"))
	require.NoError(t, err)
	assert.Equal(t, "mona@example.com", user.Email)

	_, err = s.SetPayoutAddress(ctx, "user_1", contributorAddress)
	require.NoError(t, err)

	updated := identity("user_1", "monalisa-renamed")
	updated.FirstName = strPtr("Mona L.")
	_, err = s.UpsertIdentity(ctx, updated)
	require.NoError(t, err)

	got, err := s.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Mona L.", got.FirstName)
	require.NotNil(t, got.GitHubUsername)
	assert.Equal(t, "monalisa-renamed", *got.GitHubUsername)
	assert.Equal(t, contributorAddress, got.PayoutAddress)
}

func TestUpsertIdentityRequiresID(t *testing.T) {
	s := NewUserService(newTestDB(t))

	_, err := s.UpsertIdentity(context.Background(), IdentityUser{})
	requireAPIError(t, err, 400, "validation_failed")
}

func TestSetPayoutAddress(t *testing.T) {
	s := NewUserService(newTestDB(t))
	ctx := context.Background()

	user, err := s.SetPayoutAddress(ctx, "user_new", "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
	require.NoError(t, err)
	assert.Equal(t, contributorAddress, user.PayoutAddress)

	for _, bad := range []string{"", "3c44cdddb6a900fa2b585dd299e03d12fa4293bc", "0x1234", "0xZZ44cdddb6a900fa2b585dd299e03d12fa4293bc"} {
		_, err := s.SetPayoutAddress(ctx, "user_new", bad)
		requireAPIError(t, err, 400, "validation_failed")
	}
}

func TestResolvePayout(t *testing.T) {
	db := newTestDB(t)
	s := NewUserService(db)
	ctx := context.Background()
	seedUser(t, db, "user_a", "Alice", contributorAddress)
	seedUser(t, db, "user_b", "bob", "")

	addr, fallback, err := s.ResolvePayout(ctx, "alice", fallbackAddress)
	require.NoError(t, err)
	assert.Equal(t, contributorAddress, addr)
	assert.False(t, fallback)

	addr, fallback, err = s.ResolvePayout(ctx, "bob", fallbackAddress)
	require.NoError(t, err)
	assert.Equal(t, fallbackAddress, addr)
	assert.True(t, fallback)

	addr, fallback, err = s.ResolvePayout(ctx, "nobody", fallbackAddress)
	require.NoError(t, err)
	assert.Equal(t, fallbackAddress, addr)
	assert.True(t, fallback)
}

func TestFindByGitHubLoginPrefersExactMatch(t *testing.T) {
	db := newTestDB(t)
	s := NewUserService(db)
	seedUser(t, db, "user_upper", "Octo", "")
	seedUser(t, db, "user_lower", "octo", "")

	user, err := s.FindByGitHubLogin(context.Background(), "octo")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "user_lower", user.ID)

	user, err = s.FindByGitHubLogin(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestIdentityUserHelpers(t *testing.T) {
	u := identity("user_1", "monalisa")
	assert.Equal(t, "mona@example.com", u.PrimaryEmail())
	assert.Equal(t, "monalisa", u.GitHubLogin())

	u.PrimaryEmailAddressID = nil
	assert.Equal(t, "old@example.com", u.PrimaryEmail())

	assert.Empty(t, IdentityUser{}.PrimaryEmail())
	assert.Empty(t, IdentityUser{ExternalAccounts: []IdentityAccount{{Provider: "oauth_google", Username: "x"}}}.GitHubLogin())
}
