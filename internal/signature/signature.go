package signature

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Keys excluded from the canonical string per the gateway protocol.
const (
	SignKey     = "sign"
	SignTypeKey = "sign_type"
)

// Codec signs and verifies flat string-keyed parameter maps with a shared
// secret. The gateway protocol uses MD5; the hash constructor is injectable
// so a stronger hash can be substituted without touching callers.
type Codec struct {
	secret  string
	newHash func() hash.Hash
}

// NewCodec creates a codec using the protocol default MD5 hash.
func NewCodec(secret string) *Codec {
	return NewCodecWithHash(secret, md5.New)
}

// NewCodecWithHash creates a codec with a custom hash constructor.
func NewCodecWithHash(secret string, newHash func() hash.Hash) *Codec {
	return &Codec{secret: secret, newHash: newHash}
}

// Sign computes the lowercase-hex signature over the canonical form of
// params: drop sign/sign_type and empty values, sort keys by byte value,
// join as k=v&... and append the raw secret with no delimiter.
func (c *Codec) Sign(params map[string]string) string {
	h := c.newHash()
	h.Write([]byte(Canonicalize(params) + c.secret))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the signature and compares it against the supplied
// sign field in constant time. Missing or empty sign never verifies.
func (c *Codec) Verify(params map[string]string) bool {
	supplied := params[SignKey]
	if supplied == "" {
		return false
	}
	expected := c.Sign(params)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(supplied)), []byte(expected)) == 1
}

// Canonicalize builds the sorted k=v&... string the signature covers.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == SignKey || k == SignTypeKey || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	return sb.String()
}

// NormalizeAmount renders a numeric string in canonical decimal form
// ("9.9", never "9.90"). Gateways disagree on trailing zeros, and a signed
// "9.90" does not verify against a stored "9.9". Non-numeric input is
// returned unchanged.
func NormalizeAmount(s string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return d.String()
}
