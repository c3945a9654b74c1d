// Package credentials parses and holds a service-account credential: the
// issuer identity, RSA private key, key id, token endpoint and project id
// used to mint access tokens.
//
// A [ServiceAccount] is immutable after construction and safe to share
// across goroutines. Construction fails with a CRED_xxx error when a
// required field is missing or the private key cannot be decoded, so a
// bad credential is reported at startup rather than at first use.
//
//	sa, err := credentials.LoadFile("/etc/fireauth/service-account.json")
//	if err != nil {
//	    return err
//	}
//	slog.Info("loaded credential", "credential", sa)
package credentials

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

const (
	// TypeServiceAccount is the only accepted value of the document's
	// "type" field.
	TypeServiceAccount = "service_account"

	// DefaultTokenURI is used when the document omits token_uri.
	DefaultTokenURI = "https://oauth2.googleapis.com/token"

	// maxDocumentSize bounds how much Load reads from its reader.
	maxDocumentSize = 1 << 20
)

// document is the JSON shape of a service-account key file.
type document struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   Secret `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	TokenURI     string `json:"token_uri"`
}

// ServiceAccount is a parsed service-account credential.
type ServiceAccount struct {
	projectID   string
	clientEmail string
	clientID    string
	keyID       string
	tokenURI    string
	privateKey  *rsa.PrivateKey
}

// Parse decodes a service-account JSON document.
//
// client_email, private_key and project_id are required. type, when
// present, must be "service_account". private_key must be a PKCS#1 or
// PKCS#8 PEM-encoded RSA key. token_uri defaults to [DefaultTokenURI].
func Parse(data []byte) (*ServiceAccount, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeCredentialParse,
			"credentials: service account document is not valid JSON")
	}

	if doc.Type != "" && doc.Type != TypeServiceAccount {
		return nil, sserr.Newf(sserr.CodeCredentialParse,
			"credentials: unsupported credential type %q", doc.Type)
	}
	for _, f := range []struct{ name, value string }{
		{"client_email", doc.ClientEmail},
		{"private_key", doc.PrivateKey.Value()},
		{"project_id", doc.ProjectID},
	} {
		if f.value == "" {
			return nil, sserr.Newf(sserr.CodeCredentialParse,
				"credentials: required field %q is missing", f.name).WithDetail("field", f.name)
		}
	}

	tokenURI := doc.TokenURI
	if tokenURI == "" {
		tokenURI = DefaultTokenURI
	}
	if u, err := url.Parse(tokenURI); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, sserr.Newf(sserr.CodeCredentialParse,
			"credentials: token_uri %q is not an absolute URL", tokenURI)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(doc.PrivateKey.Value()))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeCredentialKey,
			"credentials: private_key is not a PEM-encoded RSA private key")
	}

	return &ServiceAccount{
		projectID:   doc.ProjectID,
		clientEmail: doc.ClientEmail,
		clientID:    doc.ClientID,
		keyID:       doc.PrivateKeyID,
		tokenURI:    tokenURI,
		privateKey:  key,
	}, nil
}

// Load reads a service-account document from r. At most 1 MiB is read.
func Load(r io.Reader) (*ServiceAccount, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeCredentialParse,
			"credentials: failed to read service account document")
	}
	return Parse(data)
}

// LoadFile reads a service-account document from path.
func LoadFile(path string) (*ServiceAccount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeCredentialParse,
			"credentials: failed to open %q", path)
	}
	defer f.Close()
	return Load(f)
}

// ProjectID returns the project the credential belongs to. It is also
// the expected audience of ID tokens issued for that project.
func (s *ServiceAccount) ProjectID() string { return s.projectID }

// ClientEmail returns the issuer identity used as iss and sub of the
// signed assertion.
func (s *ServiceAccount) ClientEmail() string { return s.clientEmail }

// ClientID returns the numeric client id, or "" if the document had none.
func (s *ServiceAccount) ClientID() string { return s.clientID }

// KeyID returns the private key id, emitted as the assertion's kid
// header. It may be empty.
func (s *ServiceAccount) KeyID() string { return s.keyID }

// TokenURI returns the OAuth2 token endpoint. It is also the assertion
// audience.
func (s *ServiceAccount) TokenURI() string { return s.tokenURI }

// PrivateKey returns the decoded signing key. Callers must not modify it.
func (s *ServiceAccount) PrivateKey() *rsa.PrivateKey { return s.privateKey }

// String identifies the credential without exposing key material.
func (s *ServiceAccount) String() string {
	return fmt.Sprintf("ServiceAccount{client_email=%s, project_id=%s, key_id=%s}",
		s.clientEmail, s.projectID, s.keyID)
}

// LogValue implements slog.LogValuer.
func (s *ServiceAccount) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_email", s.clientEmail),
		slog.String("project_id", s.projectID),
		slog.String("key_id", s.keyID),
	)
}
