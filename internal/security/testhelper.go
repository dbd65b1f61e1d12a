package security

import "time"

// NewTestTokenProvider returns a TokenProvider with a fresh P-256 key, issuer "test-issuer" and
// audience "test-audience". For tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	key, err := GenerateEphemeralKey()
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(key, key.Public(), "test-issuer", "test-audience", 15*time.Minute, 24*time.Hour), nil
}
