package idtoken

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// Claims is the verified content of an ID token. Well-known claims are
// typed fields; everything else is carried in Extra unchanged.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// AuthTime is when the user authenticated. Zero if the token has no
	// auth_time claim.
	AuthTime time.Time

	// UID is the user_id claim, or Subject when user_id is absent.
	UID string

	// Firebase is the "firebase" claim: sign-in provider, identities and
	// tenant. Nil if absent.
	Firebase map[string]any

	// Extra holds every claim not listed above, such as email or custom
	// claims set by the application. Never nil.
	Extra map[string]any
}

// knownClaims are lifted into typed fields and left out of Extra.
var knownClaims = map[string]struct{}{
	"iss": {}, "aud": {}, "sub": {}, "iat": {}, "exp": {},
	"auth_time": {}, "user_id": {}, "firebase": {},
}

// decodeClaims converts verified map claims into Claims. Claims with the
// wrong JSON type and a missing exp or iat are IDT_001.
func decodeClaims(mc jwt.MapClaims) (*Claims, error) {
	iss, err := mc.GetIssuer()
	if err != nil {
		return nil, malformedClaim("iss", err)
	}
	sub, err := mc.GetSubject()
	if err != nil {
		return nil, malformedClaim("sub", err)
	}
	aud, err := mc.GetAudience()
	if err != nil {
		return nil, malformedClaim("aud", err)
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, malformedClaim("exp", err)
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, malformedClaim("iat", err)
	}
	authTime, err := numericDate(mc, "auth_time")
	if err != nil {
		return nil, malformedClaim("auth_time", err)
	}

	c := &Claims{
		Subject:   sub,
		Issuer:    iss,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
		AuthTime:  authTime,
		UID:       sub,
		Extra:     make(map[string]any),
	}
	// Firebase issues a single audience. A list is joined so that it
	// never equals a project id.
	c.Audience = strings.Join(aud, ",")

	if v, ok := mc["user_id"]; ok {
		uid, isString := v.(string)
		if !isString {
			return nil, malformedClaim("user_id", nil)
		}
		if uid != "" {
			c.UID = uid
		}
	}
	if v, ok := mc["firebase"]; ok && v != nil {
		fb, isMap := v.(map[string]any)
		if !isMap {
			return nil, malformedClaim("firebase", nil)
		}
		c.Firebase = fb
	}
	for k, v := range mc {
		if _, known := knownClaims[k]; !known {
			c.Extra[k] = v
		}
	}
	return c, nil
}

// numericDate reads an optional NumericDate claim. A missing claim is
// the zero time.
func numericDate(mc jwt.MapClaims, name string) (time.Time, error) {
	v, ok := mc[name]
	if !ok || v == nil {
		return time.Time{}, nil
	}
	var seconds float64
	switch n := v.(type) {
	case float64:
		seconds = n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, err
		}
		seconds = f
	default:
		return time.Time{}, jwt.ErrInvalidType
	}
	return time.Unix(int64(seconds), 0), nil
}

func malformedClaim(name string, cause error) error {
	if cause == nil {
		return sserr.Newf(sserr.CodeTokenMalformed, "idtoken: %s claim is missing or has the wrong type", name).
			WithDetail("claim", name)
	}
	return sserr.Wrapf(cause, sserr.CodeTokenMalformed, "idtoken: %s claim is missing or has the wrong type", name).
		WithDetail("claim", name)
}
