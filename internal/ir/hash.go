package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainFilter prefixes filter keys. The version suffix allows a future
// algorithm migration.
const DomainFilter = "liveview/filter/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FilterKey computes the sharing key of a canonical filter descriptor.
func FilterKey(canonical []byte) string {
	return hashWithDomain(DomainFilter, canonical)
}
