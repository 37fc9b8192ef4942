// Package initdata verifies and parses the signed identity payload the chat
// platform hands to web apps it launches.
//
// The payload is a URL-encoded set of key/value pairs. One reserved key,
// "hash", carries the hex HMAC-SHA256 of the remaining pairs: the pairs are
// sorted by key and joined as "key=value" lines, and the HMAC key is itself
// HMAC-SHA256("WebAppData", botToken).
package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const (
	// HashKey is the reserved field holding the signature.
	HashKey = "hash"

	// secretDomain separates payload signing keys from other uses of the bot token.
	secretDomain = "WebAppData"
)

// Verify reports whether raw carries a valid signature for botToken.
// Every malformed input yields false.
func Verify(raw, botToken string) bool {
	if raw == "" || botToken == "" {
		return false
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return false
	}
	hashes, ok := values[HashKey]
	if !ok || len(hashes) != 1 || hashes[0] == "" {
		return false
	}
	provided := hashes[0]
	if len(provided) != hex.EncodedLen(sha256.Size) {
		return false
	}
	check, ok := dataCheckString(values)
	if !ok {
		return false
	}
	// compared as text: the signature is lowercase hex, any other spelling fails
	expected := hex.EncodeToString(signature(check, botToken))
	return hmac.Equal([]byte(expected), []byte(provided))
}

// Sign returns values encoded with a valid hash for botToken. Any existing
// hash field is replaced.
func Sign(values url.Values, botToken string) string {
	signed := url.Values{}
	for k, v := range values {
		if k == HashKey || len(v) == 0 {
			continue
		}
		signed.Set(k, v[0])
	}
	check, _ := dataCheckString(signed)
	signed.Set(HashKey, hex.EncodeToString(signature(check, botToken)))
	return signed.Encode()
}

func dataCheckString(values url.Values) (string, bool) {
	keys := make([]string, 0, len(values))
	for k, v := range values {
		if k == HashKey {
			continue
		}
		// a repeated key has no single canonical value
		if len(v) != 1 {
			return "", false
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values[k][0])
	}
	return strings.Join(lines, "\n"), true
}

func signature(check, botToken string) []byte {
	// the constant is the HMAC key and the bot token the message, not the reverse
	secret := hmac.New(sha256.New, []byte(secretDomain))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(check))
	return mac.Sum(nil)
}
