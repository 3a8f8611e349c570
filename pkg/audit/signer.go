package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Signer produces the optional per-record signature. Without a signer the
// chain still detects tampering; the signature additionally proves authorship
// against an attacker with local write access.
type Signer interface {
	Sign(chainHash string) string
	Verify(chainHash, signature string) bool
}

// HMACSigner signs chain hashes with HMAC-SHA256.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner creates a signer from a raw key.
func NewHMACSigner(key []byte) *HMACSigner {
	return &HMACSigner{key: key}
}

// DeriveSigner derives a ledger-specific signing key from a master secret
// using HKDF-SHA256, so the master secret never signs anything directly.
func DeriveSigner(masterSecret []byte, ledgerID string) (*HMACSigner, error) {
	r := hkdf.New(sha256.New, masterSecret, nil, []byte("warden/audit/"+ledgerID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &HMACSigner{key: key}, nil
}

func (s *HMACSigner) Sign(chainHash string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(chainHash))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *HMACSigner) Verify(chainHash, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(chainHash))
	return hmac.Equal(mac.Sum(nil), want)
}
