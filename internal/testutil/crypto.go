package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-fireauth/internal/testutil/fixtures"
)

var sharedKey = sync.OnceValues(func() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
})

// RSAKey returns a 2048-bit RSA key shared by every test in the process.
// Use [NewRSAKey] when a test needs a key nobody else holds.
func RSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := sharedKey()
	require.NoError(t, err, "failed to generate shared RSA key")
	return key
}

// NewRSAKey generates a fresh 2048-bit RSA key.
func NewRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")
	return key
}

// PKCS8PEM encodes key as a "PRIVATE KEY" PEM block, the form used in
// service-account documents.
func PKCS8PEM(t testing.TB, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err, "failed to marshal PKCS#8 key")
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

// PKCS1PEM encodes key as an "RSA PRIVATE KEY" PEM block.
func PKCS1PEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// PKCS1PublicKeyPEM encodes pub as an "RSA PUBLIC KEY" block.
func PKCS1PublicKeyPEM(pub *rsa.PublicKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(pub),
	}))
}

// PublicKeyPEM encodes the public half of key as a PKIX "PUBLIC KEY" block.
func PublicKeyPEM(t testing.TB, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err, "failed to marshal public key")
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// CertificatePEM returns a self-signed certificate for key valid in
// [notBefore, notAfter], PEM-encoded the way the key-set endpoint serves
// it.
func CertificatePEM(t testing.TB, key *rsa.PrivateKey, notBefore, notAfter time.Time) string {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err, "failed to create certificate")
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// LongLivedCertificatePEM returns a certificate valid from a day ago to a
// year from now.
func LongLivedCertificatePEM(t testing.TB, key *rsa.PrivateKey) string {
	t.Helper()
	now := time.Now()
	return CertificatePEM(t, key, now.Add(-24*time.Hour), now.Add(365*24*time.Hour))
}

// ServiceAccountJSON builds a service-account document for key using the
// fixture identity. mutate, if non-nil, may edit or delete fields before
// encoding.
func ServiceAccountJSON(t testing.TB, key *rsa.PrivateKey, tokenURI string, mutate func(doc map[string]any)) []byte {
	t.Helper()
	doc := map[string]any{
		"type":           "service_account",
		"project_id":     fixtures.ProjectID,
		"private_key_id": fixtures.PrivateKeyID,
		"private_key":    PKCS8PEM(t, key),
		"client_email":   fixtures.ClientEmail,
		"client_id":      fixtures.ClientID,
		"token_uri":      tokenURI,
	}
	if mutate != nil {
		mutate(doc)
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err, "failed to marshal service account document")
	return data
}

// IDTokenClaims returns a claim set that passes verification for
// projectID at now.
func IDTokenClaims(projectID string, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":       fixtures.IssuerPrefix + projectID,
		"aud":       projectID,
		"sub":       fixtures.UserID,
		"user_id":   fixtures.UserID,
		"iat":       now.Add(-time.Minute).Unix(),
		"auth_time": now.Add(-2 * time.Minute).Unix(),
		"exp":       now.Add(time.Hour).Unix(),
		"email":     fixtures.UserEmail,
		"firebase": map[string]any{
			"sign_in_provider": "password",
		},
	}
}

// SignIDToken signs claims with key using RS256 and sets the kid header
// when kid is non-empty.
func SignIDToken(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign ID token")
	return signed
}
