package qr

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-groupbuy/internal/models"
)

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestInvitePayload_RoundTrip(t *testing.T) {
	generator := NewInviteGenerator("test-secret")

	invite := models.GroupInvite{
		GroupID:   "group-1",
		ProductID: "prod-rice",
		InvitedBy: "user-1",
		ExpiresAt: time.Now().Add(time.Hour).Round(time.Second),
	}

	encrypted, err := encryptAES(mustMarshal(t, invite), generator.secret)
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "group-1", "payload must be opaque")

	decoded, err := generator.DecodeInvite(encrypted)
	require.NoError(t, err)
	assert.Equal(t, invite.GroupID, decoded.GroupID)
	assert.Equal(t, invite.InvitedBy, decoded.InvitedBy)
	assert.True(t, invite.ExpiresAt.Equal(decoded.ExpiresAt))
}

func TestDecodeInvite_WrongSecretFails(t *testing.T) {
	generator := NewInviteGenerator("secret-a")
	other := NewInviteGenerator("secret-b")

	invite := models.GroupInvite{GroupID: "group-1"}
	encrypted, err := encryptAES(mustMarshal(t, invite), generator.secret)
	require.NoError(t, err)

	// Decryption with the wrong key yields garbage that fails to parse.
	_, err = other.DecodeInvite(encrypted)
	assert.Error(t, err)
}

func TestDecodeInvite_MalformedPayload(t *testing.T) {
	generator := NewInviteGenerator("test-secret")

	_, err := generator.DecodeInvite("not-base64!!!")
	assert.Error(t, err)

	_, err = generator.DecodeInvite("dG9vc2hvcnQ=")
	assert.Error(t, err)
}

func TestGenerateInviteQR_ProducesPNG(t *testing.T) {
	generator := NewInviteGenerator("test-secret")

	png, err := generator.GenerateInviteQR(models.GroupInvite{
		GroupID:   "group-1",
		ProductID: "prod-rice",
		InvitedBy: "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NotEmpty(t, png)

	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}
