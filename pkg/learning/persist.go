package learning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PhraseStore is the durable backend contract: a phrase table keyed by
// normalized phrase plus an append-only log of snapshots keyed by version.
// No other component persists state.
type PhraseStore interface {
	// SavePhrase upserts one phrase record.
	SavePhrase(ctx context.Context, p *Phrase) error

	// LoadPhrases returns the full phrase table.
	LoadPhrases(ctx context.Context) ([]*Phrase, error)

	// AppendSnapshot appends a snapshot to the log.
	AppendSnapshot(ctx context.Context, sn *Snapshot) error

	// LoadSnapshots returns the snapshot log in any order.
	LoadSnapshots(ctx context.Context) ([]*Snapshot, error)

	Close() error
}

// FileStore persists the phrase table as a JSON document and the snapshot
// log as an append-only JSONL file next to it.
type FileStore struct {
	mu           sync.Mutex
	phrasePath   string
	snapshotPath string
	snapshotFile *os.File
}

// NewFileStore creates or opens a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty state directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	snapshotPath := filepath.Join(dir, "snapshots.jsonl")
	f, err := os.OpenFile(snapshotPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot log: %w", err)
	}
	return &FileStore{
		phrasePath:   filepath.Join(dir, "phrases.json"),
		snapshotPath: snapshotPath,
		snapshotFile: f,
	}, nil
}

// SavePhrase implements PhraseStore. The whole table file is rewritten; the
// table is small (thousands of records) and the write happens off the
// decision path.
func (fs *FileStore) SavePhrase(ctx context.Context, p *Phrase) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	table, err := fs.readTable()
	if err != nil {
		return err
	}
	table[p.Text] = p

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}
	tmp := fs.phrasePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, fs.phrasePath)
}

func (fs *FileStore) readTable() (map[string]*Phrase, error) {
	data, err := os.ReadFile(fs.phrasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Phrase), nil
		}
		return nil, err
	}
	table := make(map[string]*Phrase)
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("corrupt phrase table %s: %w", fs.phrasePath, err)
	}
	return table, nil
}

// LoadPhrases implements PhraseStore.
func (fs *FileStore) LoadPhrases(ctx context.Context) ([]*Phrase, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	table, err := fs.readTable()
	if err != nil {
		return nil, err
	}
	out := make([]*Phrase, 0, len(table))
	for _, p := range table {
		out = append(out, p)
	}
	return out, nil
}

// AppendSnapshot implements PhraseStore.
func (fs *FileStore) AppendSnapshot(ctx context.Context, sn *Snapshot) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, err := json.Marshal(sn)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := fs.snapshotFile.Write(data); err != nil {
		return err
	}
	return fs.snapshotFile.Sync()
}

// LoadSnapshots implements PhraseStore.
func (fs *FileStore) LoadSnapshots(ctx context.Context) ([]*Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Snapshot
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var sn Snapshot
		if err := json.Unmarshal(line, &sn); err != nil {
			// A torn trailing line from a crash is tolerable; a corrupt
			// middle entry is not silently skipped.
			return nil, fmt.Errorf("corrupt snapshot log %s: %w", fs.snapshotPath, err)
		}
		out = append(out, &sn)
	}
	return out, nil
}

// Close closes the snapshot log.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.snapshotFile == nil {
		return nil
	}
	err := fs.snapshotFile.Close()
	fs.snapshotFile = nil
	return err
}
