package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"credledger/ledger"
)

const (
	chainFile     = "blockchain.json"
	openBlockFile = "block.json"
	registryFile  = "registry.json"
)

// FileStore keeps each artifact in its own JSON file under dir. Writes go to
// a temporary file that is renamed over the target.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Init() error {
	if err := writeJSON(s.path(chainFile), ledger.NewBlockchain()); err != nil {
		return err
	}
	if err := s.ClearOpenBlock(); err != nil {
		return err
	}
	return writeJSON(s.path(registryFile), NewRegistry())
}

func (s *FileStore) LoadChain() (*ledger.Blockchain, error) {
	chain := ledger.NewBlockchain()
	if err := readJSON(s.path(chainFile), chain); err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	return chain, nil
}

func (s *FileStore) SaveChain(chain *ledger.Blockchain) error {
	stored, err := s.LoadChain()
	if err != nil {
		return err
	}
	if err := checkAppendOnly(blockHashes(stored), chain); err != nil {
		return err
	}
	return writeJSON(s.path(chainFile), chain)
}

func (s *FileStore) LoadOpenBlock() (*ledger.Block, error) {
	payload, err := os.ReadFile(s.path(openBlockFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoOpenBlock
	}
	if err != nil {
		return nil, fmt.Errorf("read open block: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return nil, ErrNoOpenBlock
	}
	var block ledger.Block
	if err := json.Unmarshal(payload, &block); err != nil {
		return nil, fmt.Errorf("parse open block: %w", err)
	}
	return &block, nil
}

func (s *FileStore) SaveOpenBlock(block *ledger.Block) error {
	if block.Finalized() {
		return ledger.ErrBlockFinalized
	}
	return writeJSON(s.path(openBlockFile), block)
}

func (s *FileStore) ClearOpenBlock() error {
	return writeFile(s.path(openBlockFile), []byte("null\n"))
}

func (s *FileStore) LoadRegistry() (*Registry, error) {
	reg := NewRegistry()
	if err := readJSON(s.path(registryFile), reg); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return reg, nil
}

func (s *FileStore) SaveRegistry(reg *Registry) error {
	return writeJSON(s.path(registryFile), reg)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func readJSON(path string, v any) error {
	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotInitialized
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}

func writeJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, append(payload, '\n'))
}

func writeFile(path string, payload []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o600); err != nil {
		return fmt.Errorf("write temp %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
