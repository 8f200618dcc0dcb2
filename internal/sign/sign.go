// Package sign produces MEXC-compatible request signatures: an
// HMAC-SHA256 hex digest over the canonical query string.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// Ordering selects how parameters are serialized before signing. MEXC
// endpoint families differ: most v3 endpoints sign the sorted query
// string, a few sign parameters in the order they were appended.
type Ordering int

const (
	// SortedKeys serializes parameters sorted by key.
	SortedKeys Ordering = iota
	// CallOrder serializes parameters in the order they were added.
	CallOrder
)

// Param is a single request parameter. Values are pre-formatted
// strings; numeric parameters must already be rendered.
type Param struct {
	Key   string
	Value string
}

// Credentials holds the API key pair for authenticated calls.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// ErrMissingCredentials is returned when either half of the key pair is absent.
var ErrMissingCredentials = errors.New("api key and secret key are required")

// NewCredentials validates and returns the key pair.
func NewCredentials(apiKey, secretKey string) (*Credentials, error) {
	if apiKey == "" || secretKey == "" {
		return nil, ErrMissingCredentials
	}
	return &Credentials{APIKey: apiKey, SecretKey: secretKey}, nil
}

// Sign returns the hex HMAC-SHA256 digest of the canonical query
// string built from params under the given ordering. Pure function; it
// never mutates params.
func (c *Credentials) Sign(params []Param, ordering Ordering) string {
	return Signature(params, c.SecretKey, ordering)
}

// Signature signs params with an explicit secret. Exposed for tests
// and for callers that hold only the secret.
func Signature(params []Param, secret string, ordering Ordering) string {
	query := CanonicalQuery(params, ordering)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// CanonicalQuery serializes params as k=v pairs joined by '&'. Values
// are not URL-escaped; the exchange signs the raw string.
func CanonicalQuery(params []Param, ordering Ordering) string {
	ps := params
	if ordering == SortedKeys {
		ps = make([]Param, len(params))
		copy(ps, params)
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].Key < ps[j].Key })
	}

	var sb strings.Builder
	for i, p := range ps {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(p.Key)
		sb.WriteByte('=')
		sb.WriteString(p.Value)
	}
	return sb.String()
}
