package store

import (
	"errors"
	"fmt"

	"credledger/ledger"
)

var ErrIndexOutOfRange = errors.New("store: index out of range")

// CredentialRecord keeps a plaintext credential next to its issuance and
// revocation assertions, both signed when the credential was created.
type CredentialRecord struct {
	Credential ledger.Credential      `json:"credential"`
	Issuance   ledger.SignedAssertion `json:"issuance"`
	Revocation ledger.SignedAssertion `json:"revocation"`
}

// Registry is the local, off-chain catalogue that commands select from by
// index.
type Registry struct {
	Issuers     []ledger.Issuer    `json:"issuers"`
	Subjects    []ledger.Subject   `json:"subjects"`
	Credentials []CredentialRecord `json:"credentials"`
}

func NewRegistry() *Registry {
	return &Registry{
		Issuers:     []ledger.Issuer{},
		Subjects:    []ledger.Subject{},
		Credentials: []CredentialRecord{},
	}
}

func (r *Registry) Issuer(i int) (ledger.Issuer, error) {
	if i < 0 || i >= len(r.Issuers) {
		return ledger.Issuer{}, fmt.Errorf("%w: no issuer %d", ErrIndexOutOfRange, i)
	}
	return r.Issuers[i], nil
}

func (r *Registry) Subject(i int) (ledger.Subject, error) {
	if i < 0 || i >= len(r.Subjects) {
		return ledger.Subject{}, fmt.Errorf("%w: no subject %d", ErrIndexOutOfRange, i)
	}
	return r.Subjects[i], nil
}

func (r *Registry) Credential(i int) (CredentialRecord, error) {
	if i < 0 || i >= len(r.Credentials) {
		return CredentialRecord{}, fmt.Errorf("%w: no credential %d", ErrIndexOutOfRange, i)
	}
	return r.Credentials[i], nil
}
