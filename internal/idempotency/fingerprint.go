package idempotency

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// payloadDomainKey separates request fingerprints from any other BLAKE3 use.
// ASCII domain name, zero-padded to the 32 bytes keyed mode requires.
var payloadDomainKey = [32]byte{
	'b', 'o', 'o', 'k', 'i', 'n', 'g', '.', 'i', 'd', 'e', 'm', 'p', 'o', 't', 'e',
	'n', 'c', 'y', '.', 'p', 'a', 'y', 'l', 'o', 'a', 'd', 0, 0, 0, 0, 0,
}

// Fingerprint hashes the JSON encoding of payload. Struct field order is fixed
// and map keys are sorted by encoding/json, so equal payloads hash equally.
func Fingerprint(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	hasher, err := blake3.NewKeyed(payloadDomainKey[:])
	if err != nil {
		return "", fmt.Errorf("init hasher: %w", err)
	}
	_, _ = hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
