package mid

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// KeySet is an immutable set of accepted API keys. Rotation replaces the
// whole value via Reload instead of mutating a shared set, so in-flight
// requests always see a consistent view.
type KeySet struct {
	keys map[string]struct{}
}

// NewKeySet builds a key set. An empty key list yields a set that accepts
// everything, for local development.
func NewKeySet(keys []string) KeySet {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			m[k] = struct{}{}
		}
	}
	return KeySet{keys: m}
}

// Reload returns a new KeySet with the given keys. The receiver is
// untouched.
func (s KeySet) Reload(keys []string) KeySet {
	return NewKeySet(keys)
}

// Open reports whether auth is disabled (no keys configured).
func (s KeySet) Open() bool { return len(s.keys) == 0 }

// Allows checks a presented key in constant time per candidate.
func (s KeySet) Allows(key string) bool {
	if s.Open() {
		return true
	}
	for k := range s.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// APIKey returns middleware that rejects requests lacking a valid
// X-API-Key header (or Bearer token).
func APIKey(keys KeySet) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keys.Allows(presentedKey(r)) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func presentedKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
