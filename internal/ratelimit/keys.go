package ratelimit

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

const redisKeyPrefix = "healthgate:rl:"

// KeyFunc turns (namespace, identity) into the key used in the shared store.
type KeyFunc func(namespace, identity string) string

func PlainKey(namespace, identity string) string {
	return redisKeyPrefix + namespace + ":" + identity
}

// HashedKey keeps identities (e-mails, IPs) out of the shared cache.
func HashedKey(namespace, identity string) string {
	sum := blake2b.Sum256([]byte(identity))
	return redisKeyPrefix + namespace + ":" + hex.EncodeToString(sum[:16])
}
