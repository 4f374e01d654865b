package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signingKey = []byte("identity-webhook-signing-key")

func signingSecret() string {
	return "whsec_" + base64.StdEncoding.EncodeToString(signingKey)
}

func sign(id string, ts time.Time, body []byte) SignedHeaders {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(id + "." + stamp + "."))
	mac.Write(body)
	return SignedHeaders{
		ID:        id,
		Timestamp: stamp,
		Signature: "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
}

func TestVerifySignedWebhook(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"type":"user.created"}`)
	good := sign("msg_1", now, body)

	assert.NoError(t, VerifySignedWebhook(signingSecret(), good, body, now))

	rotated := good
	rotated.Signature = "v1,bm90LXRoZS1zaWduYXR1cmU= " + good.Signature
	assert.NoError(t, VerifySignedWebhook(signingSecret(), rotated, body, now), "any listed signature may match")

	assert.ErrorIs(t, VerifySignedWebhook(signingSecret(), good, []byte(`{"type":"user.deleted"}`), now), ErrSignatureMismatch)

	wrongVersion := good
	wrongVersion.Signature = "v2," + good.Signature[3:]
	assert.ErrorIs(t, VerifySignedWebhook(signingSecret(), wrongVersion, body, now), ErrSignatureMismatch)

	assert.ErrorIs(t, VerifySignedWebhook(signingSecret(), SignedHeaders{ID: "msg_1"}, body, now), ErrMissingSignatureHeaders)

	assert.ErrorIs(t, VerifySignedWebhook(signingSecret(), good, body, now.Add(6*time.Minute)), ErrSignatureExpired)
	assert.ErrorIs(t, VerifySignedWebhook(signingSecret(), good, body, now.Add(-6*time.Minute)), ErrSignatureExpired)
}

func newIdentitySync(t *testing.T, now time.Time) (*IdentitySyncService, *UserService) {
	users := NewUserService(newTestDB(t))
	s := NewIdentitySyncService(users, signingSecret())
	s.now = func() time.Time { return now }
	return s, users
}

func TestHandleEventUpsertsUser(t *testing.T) {
	now := time.Now()
	s, users := newIdentitySync(t, now)

	body, err := json.Marshal(map[string]interface{}{
		"type": "user.created",
		"data": identity("user_9", "octocat"),
	})
	require.NoError(t, err)

	eventType, err := s.HandleEvent(context.Background(), sign("msg_9", now, body), body)
	require.NoError(t, err)
	assert.Equal(t, "user.created", eventType)

	got, err := users.Get(context.Background(), "user_9")
	require.NoError(t, err)
	require.NotNil(t, got.GitHubUsername)
	assert.Equal(t, "octocat", *got.GitHubUsername)
}

func TestHandleEventRejectsBadSignature(t *testing.T) {
	now := time.Now()
	s, users := newIdentitySync(t, now)
	body := []byte(`{"type":"user.created","data":{"id":"user_9"}}`)

	headers := sign("msg_9", now, body)
	headers.Signature = "v1,AAAA"
	_, err := s.HandleEvent(context.Background(), headers, body)
	requireAPIError(t, err, 400, "invalid_signature")

	_, err = users.Get(context.Background(), "user_9")
	requireAPIError(t, err, 404, "not_found")
}

func TestHandleEventIgnoresOtherTypes(t *testing.T) {
	now := time.Now()
	s, _ := newIdentitySync(t, now)
	body := []byte(`{"type":"session.created","data":{"id":"sess_1"}}`)

	eventType, err := s.HandleEvent(context.Background(), sign("msg_1", now, body), body)
	require.NoError(t, err)
	assert.Equal(t, "session.created", eventType)
}

func TestHandleEventRejectsMissingType(t *testing.T) {
	now := time.Now()
	s, _ := newIdentitySync(t, now)
	body := []byte(`{"data":{}}`)

	_, err := s.HandleEvent(context.Background(), sign("msg_1", now, body), body)
	requireAPIError(t, err, 400, "validation_failed")
}

func TestSyncPageCountsFailures(t *testing.T) {
	s, users := newIdentitySync(t, time.Now())

	upserted, failed := s.SyncPage(context.Background(), []IdentityUser{
		identity("user_1", "one"),
		{},
		identity("user_2", ""),
	})
	assert.Equal(t, 2, upserted)
	assert.Equal(t, 1, failed)

	_, err := users.Get(context.Background(), "user_2")
	assert.NoError(t, err)
}
