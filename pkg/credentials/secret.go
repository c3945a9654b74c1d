package credentials

// Secret holds sensitive text such as a PEM private key or a raw
// credential document. It redacts itself when formatted, logged, or
// marshaled so it cannot leak through %v, slog attributes, or JSON.
// Call [Secret.Value] for the raw content.
type Secret string

const redacted = "[REDACTED]"

// String implements fmt.Stringer.
func (s Secret) String() string {
	return redacted
}

// GoString implements fmt.GoStringer so %#v is redacted too.
func (s Secret) GoString() string {
	return redacted
}

// Value returns the unredacted content.
func (s Secret) Value() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler. JSON and YAML encoders
// emit the redacted form.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, keeping decoding
// symmetric with MarshalText for config files.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
