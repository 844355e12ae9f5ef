package ledger

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrBlockFinalized = errors.New("ledger: block is already finalized")
	ErrNilBlock       = errors.New("ledger: nil block")
	ErrSignerMismatch = errors.New("ledger: signing key does not belong to block creator")
)

var now = func() time.Time { return time.Now().UTC() }

// Block collects issuance and revocation assertions. A block is open until
// it is appended to a Blockchain, which links and signs it; after that it
// cannot change.
type Block struct {
	timestamp    time.Time
	issuances    []SignedAssertion
	revocations  []SignedAssertion
	previousHash Hash
	creator      Issuer
	hash         Hash
	signature    Hash
	finalized    bool
}

// NewBlock opens an empty block created by creator. The timestamp is a
// placeholder until the block is finalized.
func NewBlock(creator Issuer) *Block {
	return &Block{
		timestamp: now(),
		creator:   creator,
	}
}

// AddAssertion appends a to the revocation list if revocation is set and to
// the issuance list otherwise. Signatures are not checked here.
func (b *Block) AddAssertion(a SignedAssertion, revocation bool) error {
	if b.finalized {
		return ErrBlockFinalized
	}
	if revocation {
		b.revocations = append(b.revocations, a)
	} else {
		b.issuances = append(b.issuances, a)
	}
	return nil
}

func (b *Block) finalize(previous Hash, key ed25519.PrivateKey) {
	b.timestamp = now()
	b.previousHash = previous
	b.hash = b.ComputeHash()
	copy(b.signature[:], ed25519.Sign(key, b.hash[:]))
	b.finalized = true
}

// ComputeHash derives the block hash from the current block content. For a
// finalized block that has not been tampered with it equals Hash().
func (b *Block) ComputeHash() Hash {
	d := newDigest()
	d.str(b.timestamp.UTC().Format(time.RFC3339Nano))
	for _, a := range b.issuances {
		a.digest(d)
	}
	for _, a := range b.revocations {
		a.digest(d)
	}
	d.field(b.previousHash[:])
	b.creator.digest(d)
	return d.sum()
}

// VerifySignature checks the block signature against the creator's key.
func (b *Block) VerifySignature() bool {
	return verify(b.creator.VerificationKey, b.hash, b.signature)
}

// MatchAssertion looks for an issuance entry with fingerprint issuance and a
// revocation entry with fingerprint revocation, each signed under key. The two
// results are independent.
func (b *Block) MatchAssertion(issuance, revocation Hash, key ed25519.PublicKey) (issued, revoked bool) {
	return matchAny(b.issuances, issuance, key), matchAny(b.revocations, revocation, key)
}

func matchAny(list []SignedAssertion, fp Hash, key ed25519.PublicKey) bool {
	for _, a := range list {
		if a.Fingerprint == fp && a.Verify(key) {
			return true
		}
	}
	return false
}

func (b *Block) Timestamp() time.Time { return b.timestamp }
func (b *Block) PreviousHash() Hash   { return b.previousHash }
func (b *Block) Creator() Issuer      { return b.creator }
func (b *Block) Hash() Hash           { return b.hash }
func (b *Block) Signature() Hash      { return b.signature }
func (b *Block) Finalized() bool      { return b.finalized }

func (b *Block) Issuances() []SignedAssertion {
	return append([]SignedAssertion(nil), b.issuances...)
}

func (b *Block) Revocations() []SignedAssertion {
	return append([]SignedAssertion(nil), b.revocations...)
}

type blockJSON struct {
	Timestamp    time.Time         `json:"timestamp"`
	Issuances    []SignedAssertion `json:"issuances"`
	Revocations  []SignedAssertion `json:"revocations"`
	PreviousHash Hash              `json:"previous_hash"`
	Creator      Issuer            `json:"creator"`
	Hash         Hash              `json:"hash"`
	Signature    Hash              `json:"signature"`
}

func (b *Block) MarshalJSON() ([]byte, error) {
	issuances := b.issuances
	if issuances == nil {
		issuances = []SignedAssertion{}
	}
	revocations := b.revocations
	if revocations == nil {
		revocations = []SignedAssertion{}
	}
	return json.Marshal(blockJSON{
		Timestamp:    b.timestamp,
		Issuances:    issuances,
		Revocations:  revocations,
		PreviousHash: b.previousHash,
		Creator:      b.creator,
		Hash:         b.hash,
		Signature:    b.signature,
	})
}

// UnmarshalJSON restores a block. A block with a non-zero hash is treated as
// finalized. Content is not verified on load; use Blockchain.Verify.
// Decoding into a block that is already finalized fails with
// ErrBlockFinalized.
func (b *Block) UnmarshalJSON(data []byte) error {
	if b.finalized {
		return ErrBlockFinalized
	}
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Block{
		timestamp:    raw.Timestamp,
		issuances:    raw.Issuances,
		revocations:  raw.Revocations,
		previousHash: raw.PreviousHash,
		creator:      raw.Creator,
		hash:         raw.Hash,
		signature:    raw.Signature,
		finalized:    !raw.Hash.IsZero(),
	}
	return nil
}
