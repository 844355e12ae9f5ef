// Package store persists the ledger, the open block and the registry of
// issuers, subjects and credentials. Two backends exist: flat JSON files and
// an embedded Badger database.
package store

import (
	"errors"
	"fmt"

	"credledger/ledger"
)

var (
	ErrNotInitialized  = errors.New("store: ledger is not initialized")
	ErrNoOpenBlock     = errors.New("store: no open block")
	ErrOpenBlockExists = errors.New("store: a block is already open")
	ErrChainRewrite    = errors.New("store: chain may only be extended")
	ErrUnknownBackend  = errors.New("store: unknown backend")
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Store is the persistence boundary of the ledger tooling. The ledger core
// never calls it; commands load state, hand it to the core and save it back.
type Store interface {
	// Init creates an empty chain and registry, discarding any open block.
	Init() error
	LoadChain() (*ledger.Blockchain, error)
	// SaveChain persists chain. The stored chain must be a prefix of it.
	SaveChain(chain *ledger.Blockchain) error
	LoadOpenBlock() (*ledger.Block, error)
	SaveOpenBlock(block *ledger.Block) error
	ClearOpenBlock() error
	LoadRegistry() (*Registry, error)
	SaveRegistry(reg *Registry) error
	Close() error
}

// Open returns the store for backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(dir)
	case BackendBadger:
		return NewBadgerStore(dir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// checkAppendOnly verifies that next extends stored without altering any
// block that is already persisted.
func checkAppendOnly(stored []ledger.Hash, next *ledger.Blockchain) error {
	if next.Len() < len(stored) {
		return fmt.Errorf("%w: stored %d blocks, got %d", ErrChainRewrite, len(stored), next.Len())
	}
	for i, h := range stored {
		b, _ := next.Block(i)
		if b.Hash() != h {
			return fmt.Errorf("%w: block %d differs from stored copy", ErrChainRewrite, i)
		}
	}
	for i := len(stored); i < next.Len(); i++ {
		b, _ := next.Block(i)
		if !b.Finalized() {
			return fmt.Errorf("%w: block %d is not finalized", ErrChainRewrite, i)
		}
	}
	return nil
}

func blockHashes(chain *ledger.Blockchain) []ledger.Hash {
	out := make([]ledger.Hash, 0, chain.Len())
	for _, b := range chain.Blocks() {
		out = append(out, b.Hash())
	}
	return out
}
