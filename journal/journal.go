// Package journal records ledger operations in an append-only JSONL file.
// Each entry carries the hash of its predecessor, so edits to past entries
// are detectable with Verify.
package journal

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded operation.
//   - PrevHash: hash of the previous entry, "" for the first.
//   - Hash:     SHA-256 over the JSON of this entry without the Hash field.
type Entry struct {
	EntryID      string    `json:"entry_id"`
	TimestampUTC time.Time `json:"timestamp_utc"`

	Actor     string `json:"actor"`
	Operation string `json:"operation"`
	Target    string `json:"target,omitempty"`
	Detail    string `json:"detail,omitempty"`

	PrevHash string `json:"prev_hash,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// Journal appends to a single file.
type Journal struct {
	path  string
	actor string
}

func New(path, actor string) *Journal {
	return &Journal{path: path, actor: actor}
}

func (j *Journal) Path() string { return j.path }

// Record appends an operation entry.
func (j *Journal) Record(operation, target, detail string) (Entry, error) {
	ev := Entry{
		EntryID:      uuid.NewString(),
		TimestampUTC: time.Now().UTC(),
		Actor:        j.actor,
		Operation:    operation,
		Target:       target,
		Detail:       detail,
	}
	if err := appendWithHash(j.path, &ev); err != nil {
		return Entry{}, err
	}
	return ev, nil
}

// appendWithHash populates PrevHash + Hash and appends the JSON line.
func appendWithHash(path string, ev *Entry) error {
	prevHash, err := lastHash(path)
	if err != nil {
		return fmt.Errorf("get last hash: %w", err)
	}
	ev.PrevHash = prevHash

	hash, err := entryHash(*ev)
	if err != nil {
		return err
	}
	ev.Hash = hash

	final, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(final, '\n')); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

func entryHash(ev Entry) (string, error) {
	ev.Hash = ""
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal entry without hash: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// lastHash returns the Hash of the last non-empty line in the file,
// or "" if the file does not exist or has no entries.
func lastHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lastLine string
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if lastLine == "" {
		return "", nil
	}

	var ev Entry
	if err := json.Unmarshal([]byte(lastLine), &ev); err != nil {
		return "", fmt.Errorf("parse last journal line: %w", err)
	}
	return ev.Hash, nil
}

// Verify replays the file and checks that every entry links to its
// predecessor and hashes to its recorded hash. It returns the number of
// entries read. A missing file is an empty journal.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var (
		prevHash string
		index    int
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		index++

		var ev Entry
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return index, fmt.Errorf("line %d: invalid json: %w", index, err)
		}
		if ev.PrevHash != prevHash {
			return index, fmt.Errorf("line %d: prev_hash mismatch: have %q want %q", index, ev.PrevHash, prevHash)
		}
		expected, err := entryHash(ev)
		if err != nil {
			return index, fmt.Errorf("line %d: %w", index, err)
		}
		if ev.Hash != expected {
			return index, fmt.Errorf("line %d: hash mismatch: have %q want %q", index, ev.Hash, expected)
		}
		prevHash = ev.Hash
	}
	if err := scanner.Err(); err != nil {
		return index, err
	}
	return index, nil
}
