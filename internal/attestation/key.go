// Package attestation parses, verifies, and signs in-toto link metadata
// (build provenance envelopes) using the coordinator's long-term Ed25519
// key, and hands compressed blobs off to internal/compress.
package attestation

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/in-toto/in-toto-golang/in_toto"
)

// KeyPair is the coordinator's long-term signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// LoadOrGenerateKey reads the Ed25519 private key at path, generating and
// persisting (mode 0o640) a new one on first boot if the file is absent.
func LoadOrGenerateKey(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return keyPairFromSeed(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	seed := priv.Seed()
	if err := os.WriteFile(path, seed, 0o640); err != nil {
		return nil, fmt.Errorf("persist signing key %s: %w", path, err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

func keyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key file has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{Public: pub, Private: priv}, nil
}

// PubkeyToPEM renders the public key as a PEM block for /meta/public-keys.
func PubkeyToPEM(pub ed25519.PublicKey) string {
	block := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pub,
	}
	return string(pem.EncodeToMemory(block))
}

// keyID derives the in-toto keyid: the hex-encoded key bytes, matching the
// convention in_toto.Key expects for an ed25519 SSLib-format key.
func keyID(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// toInTotoKey converts an Ed25519 key pair into the securesystemslib JSON
// key shape in_toto.Metablock.Sign/VerifySignature operate on.
func (kp *KeyPair) toInTotoKey() in_toto.Key {
	key := in_toto.Key{
		KeyIDHashAlgorithms: []string{"sha256", "sha512"},
		KeyType:             "ed25519",
		Scheme:              "ed25519",
		KeyVal: in_toto.KeyVal{
			Public: hex.EncodeToString(kp.Public),
		},
	}
	if kp.Private != nil {
		key.KeyVal.Private = hex.EncodeToString(kp.Private.Seed())
	}
	key.KeyID = keyID(kp.Public)
	return key
}

// PublicKeyFromPEM parses a PEM-encoded Ed25519 public key for /meta/public-keys.
func PublicKeyFromPEM(pemBytes []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("decode PEM block")
	}
	if len(block.Bytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("unexpected public key size %d", len(block.Bytes))
	}
	return ed25519.PublicKey(block.Bytes), nil
}
