// Package fixtures holds the identity constants shared by fireauth tests
// so packages agree on project, service account and user values.
package fixtures

// Service-account identity used in generated credential documents.
const (
	ProjectID    = "fireauth-test"
	ClientEmail  = "firebase-adminsdk@fireauth-test.iam.gserviceaccount.com"
	ClientID     = "109876543210987654321"
	PrivateKeyID = "sa-key-1"
)

// ID token values.
const (
	// IssuerPrefix is prepended to the project id to form the expected iss.
	IssuerPrefix = "https://securetoken.google.com/"

	// KeyID is the kid of the primary signing key in stub key sets.
	KeyID = "idt-key-1"

	// RotatedKeyID is the kid a rotated key set introduces.
	RotatedKeyID = "idt-key-2"

	UserID    = "uid-7f3a9c"
	UserEmail = "ada@example.com"

	// OtherProjectID is used for wrong-audience cases.
	OtherProjectID = "someone-else"
)

// AccessToken is the token string stub token endpoints hand out.
const AccessToken = "ya29.test-access-token"
