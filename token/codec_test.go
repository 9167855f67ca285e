package token_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-compta-client/token"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func testPayload() token.Payload {
	return token.Payload{
		AgentID:              3,
		CabinetID:            4,
		SocieteID:            12,
		Username:             "fatima",
		SocieteRaisonSociale: "Atlas Négoce SARL",
		Exp:                  "2026-10-17T18:00:00.123456",
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	payloads := []token.Payload{
		testPayload(),
		{AgentID: 1, CabinetID: 1, SocieteID: 1},
		{AgentID: 9, CabinetID: 2, SocieteID: 77, Username: "a", SocieteRaisonSociale: "ééé ☕"},
	}
	for _, p := range payloads {
		raw, err := token.Encode(p)
		require.NoError(t, err)

		decoded, err := token.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, p, *decoded)
	}
}

func TestDecode_MissingPadding(t *testing.T) {
	// Try several usernames so that every padding remainder is exercised.
	for _, name := range []string{"a", "ab", "abc", "abcd"} {
		p := testPayload()
		p.Username = name
		raw, err := token.Encode(p)
		require.NoError(t, err)

		unpadded := strings.TrimRight(raw, "=")
		decoded, err := token.Decode(unpadded)
		require.NoError(t, err, "username %q", name)
		require.Equal(t, p, *decoded)
	}
}

func TestDecode_StandardAlphabet(t *testing.T) {
	body := `{"agent_id":1,"cabinet_id":2,"societe_id":3,"username":"x??>"}`
	raw := base64.StdEncoding.EncodeToString([]byte(body))

	decoded, err := token.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, int64(3), decoded.SocieteID)
	require.Equal(t, "x??>", decoded.Username)
}

func TestDecode_Failures(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "empty", raw: "", wantErr: token.ErrMalformedToken},
		{name: "whitespace", raw: "   ", wantErr: token.ErrMalformedToken},
		{name: "not base64", raw: "!!!not-base64!!!", wantErr: token.ErrMalformedToken},
		{name: "bad length", raw: "abcde", wantErr: token.ErrMalformedToken},
		{name: "not json", raw: enc("hello world"), wantErr: token.ErrMalformedToken},
		{name: "json array", raw: enc(`[1,2,3]`), wantErr: token.ErrMalformedToken},
		{name: "json null", raw: enc(`null`), wantErr: token.ErrMalformedToken},
		{name: "truncated json", raw: enc(`{"societe_id": 4`), wantErr: token.ErrMalformedToken},
		{name: "wrong type", raw: enc(`{"societe_id": "four"}`), wantErr: token.ErrMalformedToken},
		{name: "no societe", raw: enc(`{"agent_id":1,"cabinet_id":2,"username":"x"}`), wantErr: token.ErrMissingTenantScope},
		{name: "null societe", raw: enc(`{"agent_id":1,"societe_id":null}`), wantErr: token.ErrMissingTenantScope},
		{name: "zero societe", raw: enc(`{"agent_id":1,"societe_id":0}`), wantErr: token.ErrMissingTenantScope},
		{name: "identity token", raw: enc(`{"agent_id":1,"cabinet_id":2,"is_admin":false}`), wantErr: token.ErrMissingTenantScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotPanics(t, func() {
				p, err := token.Decode(tt.raw)
				require.Nil(t, p)
				require.Error(t, err)
				require.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			})
		})
	}
}

func TestDecode_JWTForm(t *testing.T) {
	exp := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"agent_id":               5,
		"cabinet_id":             4,
		"societe_id":             21,
		"username":               "wissal",
		"societe_raison_sociale": "Sahara Services",
		"exp":                    exp.Unix(),
	}).SignedString([]byte("any-key"))
	require.NoError(t, err)

	decoded, err := token.Decode(signed)
	require.NoError(t, err)
	require.Equal(t, int64(21), decoded.SocieteID)
	require.Equal(t, "wissal", decoded.Username)

	at, ok := decoded.ExpiresAt()
	require.True(t, ok)
	require.True(t, exp.Equal(at))

	t.Run("broken jwt", func(t *testing.T) {
		_, err := token.Decode("aaa.bbb.ccc")
		require.True(t, errors.Is(err, token.ErrMalformedToken))
	})
}

func TestPayload_Expired(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		exp     string
		expired bool
	}{
		{name: "no expiry", exp: "", expired: false},
		{name: "future naive", exp: "2026-10-17T20:00:00.000001", expired: false},
		{name: "past naive", exp: "2026-10-17T04:00:00", expired: true},
		{name: "past with zone", exp: "2026-10-17T13:00:00+02:00", expired: true},
		{name: "unparseable", exp: "tomorrow", expired: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPayload()
			p.Exp = tt.exp
			require.Equal(t, tt.expired, p.Expired(now))
		})
	}
}

func TestDecodeIdentity(t *testing.T) {
	raw, err := token.EncodeIdentity(token.IdentityClaims{AgentID: 8, CabinetID: 4, Username: "wissal", IsAdmin: true})
	require.NoError(t, err)

	claims, err := token.DecodeIdentity(strings.TrimRight(raw, "="))
	require.NoError(t, err)
	require.True(t, claims.IsAdmin)
	require.Equal(t, int64(8), claims.AgentID)

	_, err = token.DecodeIdentity("%%%")
	require.True(t, errors.Is(err, token.ErrMalformedToken))
}
