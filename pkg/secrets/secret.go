package secrets

// Secret is a string that redacts itself in String, GoString and
// MarshalText. Use [Secret.Value] only where the raw bytes are needed.
type Secret string

const redacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return redacted }

// GoString returns the redacted placeholder for %#v.
func (s Secret) GoString() string { return redacted }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// MarshalText returns the redacted placeholder, so JSON and YAML encoders
// never emit the raw secret.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Bytes returns the raw secret as a byte slice, the form HMAC keys take.
func (s Secret) Bytes() []byte { return []byte(s) }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return s == "" }
