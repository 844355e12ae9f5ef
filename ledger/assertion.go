package ledger

import "crypto/ed25519"

// SignedAssertion is the on-chain form of an issuance or revocation: a
// credential fingerprint and the issuer's signature over it.
type SignedAssertion struct {
	Fingerprint Hash `json:"fingerprint"`
	Signature   Hash `json:"signature"`
}

// Sign fingerprints c and signs the fingerprint with key. key must be a
// valid Ed25519 private key; Sign panics on a key of the wrong length, as
// ed25519.Sign does.
func Sign(c Credential, key ed25519.PrivateKey, revocation bool) SignedAssertion {
	fp := c.Fingerprint(revocation)
	var sig Hash
	copy(sig[:], ed25519.Sign(key, fp[:]))
	return SignedAssertion{Fingerprint: fp, Signature: sig}
}

// Verify reports whether the signature over the fingerprint checks out under
// key. A malformed key is a failed check, not an error.
func (a SignedAssertion) Verify(key ed25519.PublicKey) bool {
	return verify(key, a.Fingerprint, a.Signature)
}

func verify(key ed25519.PublicKey, msg, sig Hash) bool {
	if len(key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(key, msg[:], sig[:])
}

func (a SignedAssertion) digest(d *digest) {
	d.field(a.Fingerprint[:])
	d.field(a.Signature[:])
}
