package keys

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// parsedKey is one usable key from a document, before set-level
// timestamps are attached.
type parsedKey struct {
	key       crypto.PublicKey
	notBefore time.Time
	notAfter  time.Time
}

// parseDocument decodes body as either a JWKS document or a kid to PEM
// object. Entries that fail to parse are reported in skipped and left
// out; the caller decides whether an empty result is an error.
func parseDocument(body []byte) (keys map[string]parsedKey, skipped map[string]error, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("key set is not a JSON object: %w", err)
	}

	keys = make(map[string]parsedKey, len(raw))
	skipped = make(map[string]error)

	if set, ok := raw["keys"]; ok {
		var members []json.RawMessage
		if err := json.Unmarshal(set, &members); err != nil {
			return nil, nil, fmt.Errorf("JWKS keys member is not an array: %w", err)
		}
		for _, member := range members {
			kid, pk, err := parseJWK(member)
			switch {
			case kid == "":
				continue
			case err != nil:
				skipped[kid] = err
			default:
				keys[kid] = pk
			}
		}
		return keys, skipped, nil
	}

	for kid, value := range raw {
		var text string
		if err := json.Unmarshal(value, &text); err != nil {
			skipped[kid] = fmt.Errorf("value is not a string: %w", err)
			continue
		}
		pk, err := parsePEM(text)
		if err != nil {
			skipped[kid] = err
			continue
		}
		keys[kid] = pk
	}
	return keys, skipped, nil
}

// parseJWK decodes one JWKS member. Members are decoded one at a time so
// that a single bad key does not reject the whole set. kid is empty when
// the member has none, in which case it cannot be looked up and is
// dropped.
func parseJWK(member json.RawMessage) (kid string, pk parsedKey, err error) {
	var head struct {
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(member, &head); err != nil || head.Kid == "" {
		return "", parsedKey{}, nil
	}

	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(member); err != nil {
		return head.Kid, parsedKey{}, fmt.Errorf("invalid JWK: %w", err)
	}
	if jwk.Use != "" && jwk.Use != "sig" {
		return head.Kid, parsedKey{}, fmt.Errorf("key use %q is not sig", jwk.Use)
	}
	pub, ok := jwk.Key.(*rsa.PublicKey)
	if !ok {
		return head.Kid, parsedKey{}, fmt.Errorf("key is %T, not an RSA public key", jwk.Key)
	}
	return head.Kid, parsedKey{key: pub}, nil
}

// parsePEM accepts a CERTIFICATE, PUBLIC KEY or RSA PUBLIC KEY block
// holding an RSA key. Certificates contribute their validity window.
func parsePEM(text string) (parsedKey, error) {
	block, _ := pem.Decode([]byte(text))
	if block == nil {
		return parsedKey{}, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return parsedKey{}, fmt.Errorf("invalid certificate: %w", err)
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return parsedKey{}, fmt.Errorf("certificate key is %T, not RSA", cert.PublicKey)
		}
		return parsedKey{key: pub, notBefore: cert.NotBefore, notAfter: cert.NotAfter}, nil

	case "PUBLIC KEY", "RSA PUBLIC KEY":
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(text))
		if err != nil {
			return parsedKey{}, fmt.Errorf("invalid %s: %w", block.Type, err)
		}
		return parsedKey{key: pub}, nil

	default:
		return parsedKey{}, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}
