package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// journalEntry is one line of the write-ahead log.
type journalEntry struct {
	Seq  uint64          `json:"seq"`
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// journal is an append-only JSON-line log. Every append is flushed to disk
// before it returns; an entry that was acknowledged survives a crash.
type journal struct {
	f    *os.File
	path string
	seq  uint64
}

// openJournal opens (or creates) the journal at path for appending.
// lastSeq seeds the sequence counter, normally the last replayed entry.
func openJournal(path string, lastSeq uint64) (*journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &journal{f: f, path: path, seq: lastSeq}, nil
}

// append writes one entry and fsyncs before returning.
func (j *journal) append(op string, data json.RawMessage) error {
	j.seq++
	line, err := json.Marshal(journalEntry{Seq: j.seq, Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// reset truncates the journal after a successful snapshot.
func (j *journal) reset() error {
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate journal: %w", err)
	}
	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind journal: %w", err)
	}
	return j.f.Sync()
}

// close releases the journal file.
func (j *journal) close() error {
	return j.f.Close()
}

// replayJournal feeds every entry of the journal at path to apply, in order.
// A torn final line (crash mid-write) is tolerated and ignored; any earlier
// decode failure aborts the replay. Returns the last applied sequence.
func replayJournal(path string, apply func(journalEntry) error) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	defer f.Close()

	var lastSeq uint64
	var tornErr error
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if tornErr != nil {
			// A corrupt line followed by more entries is real corruption,
			// not a crash-torn tail.
			return lastSeq, tornErr
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			tornErr = fmt.Errorf("corrupt journal entry after seq %d: %w", lastSeq, err)
			continue
		}
		if err := apply(entry); err != nil {
			return lastSeq, fmt.Errorf("failed to replay journal entry %d: %w", entry.Seq, err)
		}
		lastSeq = entry.Seq
	}
	if err := scanner.Err(); err != nil {
		return lastSeq, fmt.Errorf("failed to read journal: %w", err)
	}
	return lastSeq, nil
}
