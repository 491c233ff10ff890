package attestation

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/in-toto/in-toto-golang/in_toto"

	"github.com/r3e-network/rebuildverify/internal/compress"
)

// Attestation wraps an in-toto link metadata envelope: signed metadata plus
// a list of signatures. It is intentionally thin over in_toto.Metablock so
// callers can add signatures without losing ones already present.
type Attestation struct {
	block in_toto.Metablock
}

// Parse decodes an in-toto link metadata JSON envelope. It fails on
// malformed JSON, per spec.
func Parse(b []byte) (*Attestation, error) {
	var block in_toto.Metablock
	if err := json.Unmarshal(b, &block); err != nil {
		return nil, fmt.Errorf("parse in-toto envelope: %w", err)
	}
	return &Attestation{block: block}, nil
}

// Sign appends a new signature over the envelope's signed metadata using
// kp's private key, preserving every signature already present. Signing
// twice with the same key is harmless: Verify only checks threshold count
// of distinct authorized keys, not the total signature count.
func (a *Attestation) Sign(kp *KeyPair) error {
	if kp == nil || kp.Private == nil {
		return fmt.Errorf("signing requires a private key")
	}
	if err := a.block.Sign(kp.toInTotoKey()); err != nil {
		return fmt.Errorf("sign attestation: %w", err)
	}
	return nil
}

// HasSignatureFrom reports whether the envelope already carries a signature
// with the given keyid, used to decide whether transparent signing on a GET
// actually added anything new.
func (a *Attestation) HasSignatureFrom(pub ed25519.PublicKey) bool {
	id := keyID(pub)
	for _, sig := range a.block.Signatures {
		if sig.KeyID == id {
			return true
		}
	}
	return false
}

// Verify passes iff at least threshold signatures from distinct keys in
// authorizedKeys validate against the envelope's signed metadata.
func (a *Attestation) Verify(threshold int, authorizedKeys []ed25519.PublicKey) bool {
	if threshold <= 0 {
		return true
	}
	valid := 0
	for _, pub := range authorizedKeys {
		kp := &KeyPair{Public: pub}
		if a.block.VerifySignature(kp.toInTotoKey()) == nil {
			valid++
		}
	}
	return valid >= threshold
}

// ToCompressedBytes JSON-serializes the envelope and hands it to the
// compression codec.
func (a *Attestation) ToCompressedBytes(ctx context.Context) ([]byte, error) {
	raw, err := json.Marshal(a.block)
	if err != nil {
		return nil, fmt.Errorf("marshal attestation: %w", err)
	}
	return compress.Compress(ctx, raw)
}
