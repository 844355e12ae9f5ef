package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"credledger/ledger"
)

const (
	keyBlockPrefix = "block/"
	keyOpenBlock   = "open-block"
	keyRegistry    = "registry"
	keyInitialized = "meta/initialized"
)

// BadgerStore keeps every finalized block under its own key, so extending
// the chain only writes the new blocks.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		dir = "./data"
	}
	opts := badger.DefaultOptions(filepath.Join(dir, "badger"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Init() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("reset badger: %w", err)
	}
	payload, err := json.Marshal(NewRegistry())
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(keyRegistry), payload); err != nil {
			return err
		}
		return txn.Set([]byte(keyInitialized), []byte{1})
	})
}

func (s *BadgerStore) LoadChain() (*ledger.Blockchain, error) {
	var blocks []*ledger.Block
	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireInitialized(txn); err != nil {
			return err
		}
		var err error
		blocks, err = readBlocks(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	return ledger.RestoreBlockchain(blocks)
}

func (s *BadgerStore) SaveChain(chain *ledger.Blockchain) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := requireInitialized(txn); err != nil {
			return err
		}
		stored, err := readBlocks(txn)
		if err != nil {
			return err
		}
		hashes := make([]ledger.Hash, 0, len(stored))
		for _, b := range stored {
			hashes = append(hashes, b.Hash())
		}
		if err := checkAppendOnly(hashes, chain); err != nil {
			return err
		}
		for i := len(stored); i < chain.Len(); i++ {
			b, _ := chain.Block(i)
			payload, err := json.Marshal(b)
			if err != nil {
				return fmt.Errorf("encode block %d: %w", i, err)
			}
			if err := txn.Set(blockKey(i), payload); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) LoadOpenBlock() (*ledger.Block, error) {
	var block ledger.Block
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyOpenBlock))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoOpenBlock
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &block)
		})
	})
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (s *BadgerStore) SaveOpenBlock(block *ledger.Block) error {
	if block.Finalized() {
		return ledger.ErrBlockFinalized
	}
	payload, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("encode open block: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyOpenBlock), payload)
	})
}

func (s *BadgerStore) ClearOpenBlock() error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyOpenBlock))
	})
}

func (s *BadgerStore) LoadRegistry() (*Registry, error) {
	reg := NewRegistry()
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyRegistry))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotInitialized
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, reg)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return reg, nil
}

func (s *BadgerStore) SaveRegistry(reg *Registry) error {
	payload, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyRegistry), payload)
	})
}

func requireInitialized(txn *badger.Txn) error {
	_, err := txn.Get([]byte(keyInitialized))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotInitialized
	}
	return err
}

func readBlocks(txn *badger.Txn) ([]*ledger.Block, error) {
	blocks := make([]*ledger.Block, 0, 16)
	prefix := []byte(keyBlockPrefix)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var b ledger.Block
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &b)
		}); err != nil {
			return nil, fmt.Errorf("decode %s: %w", item.Key(), err)
		}
		blocks = append(blocks, &b)
	}
	return blocks, nil
}

func blockKey(i int) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyBlockPrefix, i))
}
