package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const sentinelAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	sentinelMinLen = 10
	sentinelMaxLen = 20
)

// NextSentinel produces a fresh opaque per-request integrity token for
// generation-class calls: an alphanumeric string of 10 to 20 characters.
// The value carries no meaning beyond satisfying the remote service's
// anti-abuse header requirement and is never reused.
func NextSentinel() (string, error) {
	span, err := rand.Int(rand.Reader, big.NewInt(sentinelMaxLen-sentinelMinLen+1))
	if err != nil {
		return "", fmt.Errorf("sentinel length: %w", err)
	}
	length := sentinelMinLen + int(span.Int64())

	buf := make([]byte, length)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(sentinelAlphabet))))
		if err != nil {
			return "", fmt.Errorf("sentinel charset: %w", err)
		}
		buf[i] = sentinelAlphabet[idx.Int64()]
	}

	return string(buf), nil
}
