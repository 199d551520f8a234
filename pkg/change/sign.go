package change

import (
	"crypto/ed25519"
	"fmt"
)

// Sign attaches an Ed25519 signature over the content hash. Signing
// after the fact never changes the hash, since signature material
// lives outside the hashed region.
func (c *Change) Sign(key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("change: bad private key size %d", len(key))
	}
	h := c.Hash()
	c.PublicKey = append([]byte(nil), key.Public().(ed25519.PublicKey)...)
	c.Signature = ed25519.Sign(key, h[:])
	return nil
}

// VerifySignature checks the attached signature against the attached
// public key. Changes without signatures verify trivially.
func (c *Change) VerifySignature() error {
	if len(c.Signature) == 0 {
		return nil
	}
	if len(c.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key size %d", ErrBadSignature, len(c.PublicKey))
	}
	h := c.Hash()
	if !ed25519.Verify(ed25519.PublicKey(c.PublicKey), h[:], c.Signature) {
		return ErrBadSignature
	}
	return nil
}
