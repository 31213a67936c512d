package types

const redacted = "***REDACTED***"

// SecretString holds a credential (database URL, API token) that must never
// reach logs or JSON output. fmt and encoding/json both see the placeholder;
// Unmask returns the raw value.
type SecretString string

func (s SecretString) String() string { return redacted }

// GoString covers the %#v verb.
func (s SecretString) GoString() string { return redacted }

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the plaintext. Call it only at the point of use.
func (s SecretString) Unmask() string { return string(s) }
