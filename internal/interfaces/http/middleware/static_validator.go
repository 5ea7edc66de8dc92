package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/turtacn/paperd/pkg/errors"
)

// StaticAPIKeyValidator validates API keys against a fixed set loaded
// from configuration.  Keys are compared in constant time; the stored
// KeyID is a digest prefix so logs and rate-limit keys never carry the
// secret itself.
type StaticAPIKeyValidator struct {
	keys map[string]*APIKeyInfo
}

// NewStaticAPIKeyValidator builds a validator over the configured keys.
func NewStaticAPIKeyValidator(keys []string) *StaticAPIKeyValidator {
	v := &StaticAPIKeyValidator{keys: make(map[string]*APIKeyInfo, len(keys))}
	for _, key := range keys {
		if key == "" {
			continue
		}
		digest := sha256.Sum256([]byte(key))
		v.keys[key] = &APIKeyInfo{
			KeyID: "key-" + hex.EncodeToString(digest[:4]),
		}
	}
	return v
}

// ValidateAPIKey implements APIKeyValidator.
func (v *StaticAPIKeyValidator) ValidateAPIKey(key string) (*APIKeyInfo, error) {
	for candidate, info := range v.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return info, nil
		}
	}
	return nil, errors.New(errors.ErrCodeUnauthorized, "unknown API key")
}

// KeyCount reports how many keys are configured, for startup logging.
func (v *StaticAPIKeyValidator) KeyCount() int {
	return len(v.keys)
}

var _ APIKeyValidator = (*StaticAPIKeyValidator)(nil)

// String keeps the secret set out of accidental %v formatting.
func (v *StaticAPIKeyValidator) String() string {
	return fmt.Sprintf("StaticAPIKeyValidator(%d keys)", len(v.keys))
}
