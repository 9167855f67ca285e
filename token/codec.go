package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var (
	// ErrMalformedToken is returned when the token content is not decodable structured data.
	ErrMalformedToken = errors.New("malformed token")
	// ErrMissingTenantScope is returned when a context token carries no societe_id.
	ErrMissingTenantScope = errors.New("token has no tenant scope")
)

// Payload is the tenant context carried by a session token.
//
// The token is not signed in a way the client can check: treat the payload as a
// display hint. The backend re-validates the tenant scope on every call.
type Payload struct {
	AgentID              int64  `json:"agent_id"`
	CabinetID            int64  `json:"cabinet_id"`
	SocieteID            int64  `json:"societe_id"`
	Username             string `json:"username"`
	SocieteRaisonSociale string `json:"societe_raison_sociale"`
	Exp                  string `json:"exp,omitempty"`
}

// IdentityClaims are the claims of the identity (access) token issued at login.
type IdentityClaims struct {
	AgentID   int64  `json:"agent_id"`
	CabinetID int64  `json:"cabinet_id"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	Exp       string `json:"exp,omitempty"`
}

// ExpiresAt returns the parsed expiry of the payload, if it has one.
func (p Payload) ExpiresAt() (time.Time, bool) {
	return parseExpiry(p.Exp)
}

// Expired reports whether the payload expiry is before now. Payloads without
// an expiry never expire client side.
func (p Payload) Expired(now time.Time) bool {
	exp, ok := p.ExpiresAt()
	return ok && exp.Before(now)
}

// ExpiresAt returns the parsed expiry of the identity claims, if any.
func (c IdentityClaims) ExpiresAt() (time.Time, bool) {
	return parseExpiry(c.Exp)
}

// Decode reads a tenant context token. It accepts the backend's compact
// base64(JSON) form, with or without padding, and the three segment JWT form.
// Signatures are never verified here.
func Decode(rawToken string) (*Payload, error) {
	var raw struct {
		AgentID              int64  `json:"agent_id"`
		CabinetID            int64  `json:"cabinet_id"`
		SocieteID            *int64 `json:"societe_id"`
		Username             string `json:"username"`
		SocieteRaisonSociale string `json:"societe_raison_sociale"`
		Exp                  expiry `json:"exp"`
	}
	if err := decodeInto(rawToken, &raw); err != nil {
		return nil, err
	}
	if raw.SocieteID == nil || *raw.SocieteID == 0 {
		return nil, ErrMissingTenantScope
	}
	return &Payload{
		AgentID:              raw.AgentID,
		CabinetID:            raw.CabinetID,
		SocieteID:            *raw.SocieteID,
		Username:             raw.Username,
		SocieteRaisonSociale: raw.SocieteRaisonSociale,
		Exp:                  string(raw.Exp),
	}, nil
}

// DecodeIdentity reads the claims of an identity token. Unlike Decode it does
// not require a tenant scope.
func DecodeIdentity(rawToken string) (*IdentityClaims, error) {
	var raw struct {
		AgentID   int64  `json:"agent_id"`
		CabinetID int64  `json:"cabinet_id"`
		Username  string `json:"username"`
		IsAdmin   bool   `json:"is_admin"`
		Exp       expiry `json:"exp"`
	}
	if err := decodeInto(rawToken, &raw); err != nil {
		return nil, err
	}
	return &IdentityClaims{
		AgentID:   raw.AgentID,
		CabinetID: raw.CabinetID,
		Username:  raw.Username,
		IsAdmin:   raw.IsAdmin,
		Exp:       string(raw.Exp),
	}, nil
}

// Encode produces the backend's compact form: padded base64url of the JSON payload.
func Encode(p Payload) (string, error) {
	return encode(p)
}

// EncodeIdentity produces an identity token in the backend's compact form.
func EncodeIdentity(c IdentityClaims) (string, error) {
	return encode(c)
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "token.encode marshal")
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func decodeInto(rawToken string, out any) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return errors.Wrap(ErrMalformedToken, "empty token")
	}

	var body []byte
	if strings.Count(rawToken, ".") == 2 {
		b, err := jwtSegment(rawToken)
		if err != nil {
			return err
		}
		body = b
	} else {
		b, err := decodeSegment(rawToken)
		if err != nil {
			return err
		}
		body = b
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.Wrap(ErrMalformedToken, "payload is not a JSON object")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(ErrMalformedToken, err.Error())
	}
	return nil
}

// jwtSegment extracts the claims of a JWT without checking its signature.
func jwtSegment(rawToken string) ([]byte, error) {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, errors.Wrap(ErrMalformedToken, err.Error())
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedToken, err.Error())
	}
	return b, nil
}

// decodeSegment restores missing padding and decodes either base64 alphabet.
func decodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	if rem := len(seg) % 4; rem != 0 {
		if rem == 1 {
			return nil, errors.Wrap(ErrMalformedToken, "invalid base64 length")
		}
		seg += strings.Repeat("=", 4-rem)
	}
	if b, err := base64.URLEncoding.DecodeString(seg); err == nil {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(seg)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedToken, err.Error())
	}
	return b, nil
}

// expiry accepts the backend's ISO-8601 string and the numeric JWT exp claim.
type expiry string

func (e *expiry) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*e = expiry(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*e = expiry(time.Unix(int64(n), 0).UTC().Format(time.RFC3339))
	return nil
}

var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseExpiry(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
