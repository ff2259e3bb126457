package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainPayload separates payload digests from any other hash nbkernel may
// compute. The version suffix allows the algorithm to change later.
const DomainPayload = "nbkernel/payload/v1"

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadDigest returns the content digest stored next to every event.
// It lets replay and audit tooling detect payload corruption.
func PayloadDigest(name EventName, payload IRObject) (string, error) {
	canonical, err := MarshalCanonical(IRObject{
		"name":    IRString(name),
		"payload": payload,
	})
	if err != nil {
		return "", fmt.Errorf("payload digest: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}
