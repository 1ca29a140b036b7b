package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/bintocher/mgc-audits-backend/pkg/domainerrors"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("test-signing-key", "mgc-audits")
	userID := uuid.New()

	raw, err := svc.GenerateAccessToken(userID, false, true, []string{"auditor"}, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(raw)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.False(t, claims.IsSuperuser)
	assert.True(t, claims.IsStaff)
	assert.Equal(t, []string{"auditor"}, claims.RoleIDs)
}

func TestValidateExpiredToken(t *testing.T) {
	svc := NewService("test-signing-key", "mgc-audits")

	raw, err := svc.GenerateAccessToken(uuid.New(), false, false, nil, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(raw)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateWrongKey(t *testing.T) {
	svc := NewService("test-signing-key", "mgc-audits")
	other := NewService("another-key", "mgc-audits")

	raw, err := svc.GenerateAccessToken(uuid.New(), false, false, nil, time.Hour)
	require.NoError(t, err)

	_, err = other.ValidateToken(raw)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func TestValidateGarbage(t *testing.T) {
	svc := NewService("test-signing-key", "mgc-audits")

	_, err := svc.ValidateToken("not.a.token")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}
