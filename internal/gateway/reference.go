package gateway

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	orderPrefixLength   = 16
	disambiguatorLength = 6
	base36              = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewReference derives a gateway reference from the order id plus a random suffix,
// so a retried order never reuses a reference. The result is at most maxLen long.
func NewReference(orderID string, maxLen int) (string, error) {
	prefix := strings.ReplaceAll(orderID, "-", "")
	if len(prefix) > orderPrefixLength {
		prefix = prefix[:orderPrefixLength]
	}

	suffix, err := randomBase36(disambiguatorLength)
	if err != nil {
		return "", err
	}

	if maxLen > 0 {
		room := maxLen - len(suffix) - 1
		if room < 1 {
			return suffix[:min(len(suffix), maxLen)], nil
		}
		if len(prefix) > room {
			prefix = prefix[:room]
		}
	}
	return prefix + "-" + suffix, nil
}

func randomBase36(n int) (string, error) {
	var b strings.Builder
	alphabet := big.NewInt(int64(len(base36)))
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", err
		}
		b.WriteByte(base36[v.Int64()])
	}
	return b.String(), nil
}
