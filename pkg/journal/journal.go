// Package journal provides an append-only, fsync-on-write JSON journal.
// The ledger's audit trail is journaled through it so committed entries
// survive a crash and can be replayed at startup.
package journal

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
)

// FileModeData is rw-r--r--, the mode journal files are created with.
const FileModeData fs.FileMode = 0644

// Journal wraps a single append-only file. Writes are serialized and synced
// to disk before returning.
type Journal struct {
	file *os.File
	mu   sync.Mutex
}

// Open opens or creates the journal file at path.
func Open(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeData)
	if err != nil {
		return nil, err
	}
	return &Journal{file: file}, nil
}

// Append encodes v as one JSON line and flushes it to disk.
func (j *Journal) Append(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := json.NewEncoder(j.file).Encode(v); err != nil {
		return err
	}
	return j.file.Sync()
}

// ReadAll streams every entry to callback from the start of the file, so the
// whole journal never has to sit in memory at once.
func (j *Journal) ReadAll(callback func(raw []byte) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(j.file)
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := callback(raw); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	return j.file.Close()
}
