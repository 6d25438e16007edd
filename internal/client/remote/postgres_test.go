package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inspectra/internal/common"
)

func tokenStore(ttl time.Duration) *Postgres {
	return &Postgres{tokenSecret: []byte("unit-secret"), tokenTTL: ttl}
}

func TestMintToken_ClaimsRoundTrip(t *testing.T) {
	p := tokenStore(time.Hour)

	token, err := p.mintToken("acc-1", true)
	require.NoError(t, err)

	claims, err := p.parseToken(token)
	require.NoError(t, err)
	require.Equal(t, "acc-1", claims.Subject)
	require.True(t, claims.Admin)
}

func TestParseToken_RejectsExpired(t *testing.T) {
	p := tokenStore(-time.Minute)

	token, err := p.mintToken("acc-1", false)
	require.NoError(t, err)

	_, err = p.parseToken(token)
	require.Error(t, err)
}

func TestParseToken_RejectsForeignSignature(t *testing.T) {
	token, err := tokenStore(time.Hour).mintToken("acc-1", false)
	require.NoError(t, err)

	other := &Postgres{tokenSecret: []byte("some-other-secret"), tokenTTL: time.Hour}
	_, err = other.parseToken(token)
	require.Error(t, err)
}

func TestAuthorize_RequiresLiveToken(t *testing.T) {
	p := tokenStore(time.Hour)
	require.ErrorIs(t, p.authorize(), common.ErrorUnauthorized)

	token, err := p.mintToken("acc-1", false)
	require.NoError(t, err)
	p.accessToken = token
	require.NoError(t, p.authorize())

	require.NoError(t, p.SignOut(context.Background()))
	require.ErrorIs(t, p.authorize(), common.ErrorUnauthorized)
}

func TestAuthorize_RejectsExpiredSession(t *testing.T) {
	p := tokenStore(-time.Minute)

	token, err := p.mintToken("acc-1", false)
	require.NoError(t, err)
	p.accessToken = token

	require.ErrorIs(t, p.authorize(), common.ErrorUnauthorized)
}
