package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrIntegrity = errors.New("ledger: chain integrity check failed")

// IntegrityError reports the first block that fails an integrity audit.
type IntegrityError struct {
	Index  int
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("block %d: %s", e.Index, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// Blockchain is an append-only sequence of finalized blocks. It carries no
// lock; callers serialize mutation.
type Blockchain struct {
	blocks []*Block
}

func NewBlockchain() *Blockchain {
	return &Blockchain{}
}

// RestoreBlockchain rebuilds a chain from persisted blocks, oldest first.
// Nothing is verified; call Verify to audit the result.
func RestoreBlockchain(blocks []*Block) (*Blockchain, error) {
	for i, b := range blocks {
		if b == nil {
			return nil, fmt.Errorf("chain[%d]: %w", i, ErrNilBlock)
		}
	}
	return &Blockchain{blocks: append([]*Block(nil), blocks...)}, nil
}

// AddBlock links b to the current tail, finalizes it with key and appends it.
// This is the only way a block enters a chain.
func (c *Blockchain) AddBlock(b *Block, key ed25519.PrivateKey) error {
	if b == nil {
		return ErrNilBlock
	}
	if b.finalized {
		return ErrBlockFinalized
	}
	if len(key) != ed25519.PrivateKeySize {
		return ErrSignerMismatch
	}
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok || !bytes.Equal(pub, b.creator.VerificationKey) {
		return ErrSignerMismatch
	}
	b.finalize(c.TailHash(), key)
	c.blocks = append(c.blocks, b)
	return nil
}

// TailHash is the hash the next block will link to.
func (c *Blockchain) TailHash() Hash {
	if len(c.blocks) == 0 {
		return ZeroHash
	}
	return c.blocks[len(c.blocks)-1].hash
}

func (c *Blockchain) Len() int {
	return len(c.blocks)
}

// Block returns the block at index i, oldest first.
func (c *Blockchain) Block(i int) (*Block, bool) {
	if i < 0 || i >= len(c.blocks) {
		return nil, false
	}
	return c.blocks[i], true
}

func (c *Blockchain) Blocks() []*Block {
	return append([]*Block(nil), c.blocks...)
}

// CheckCredential reports whether cred is currently valid: some block holds
// an issuance signed by the credential's issuer and no block holds a
// revocation signed by that issuer. A verified revocation anywhere wins,
// including one that precedes or shares a block with the issuance.
func (c *Blockchain) CheckCredential(cred Credential) bool {
	issuance := cred.Fingerprint(false)
	revocation := cred.Fingerprint(true)
	key := cred.Issuer.VerificationKey

	found := false
	for _, b := range c.blocks {
		issued, revoked := b.MatchAssertion(issuance, revocation, key)
		if revoked {
			return false
		}
		found = found || issued
	}
	return found
}

// Verify audits the whole chain: every block must be finalized, link to its
// predecessor, hash to its recorded hash and carry a valid creator
// signature.
func (c *Blockchain) Verify() error {
	prev := ZeroHash
	for i, b := range c.blocks {
		switch {
		case !b.finalized:
			return &IntegrityError{Index: i, Reason: "block is not finalized"}
		case b.previousHash != prev:
			return &IntegrityError{Index: i, Reason: "previous_hash does not match predecessor"}
		case b.ComputeHash() != b.hash:
			return &IntegrityError{Index: i, Reason: "hash does not match block content"}
		case !b.VerifySignature():
			return &IntegrityError{Index: i, Reason: "signature does not verify under creator key"}
		}
		prev = b.hash
	}
	return nil
}

type chainJSON struct {
	Chain []*Block `json:"chain"`
}

func (c *Blockchain) MarshalJSON() ([]byte, error) {
	blocks := c.blocks
	if blocks == nil {
		blocks = []*Block{}
	}
	return json.Marshal(chainJSON{Chain: blocks})
}

func (c *Blockchain) UnmarshalJSON(data []byte) error {
	var raw chainJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	restored, err := RestoreBlockchain(raw.Chain)
	if err != nil {
		return err
	}
	*c = *restored
	return nil
}
