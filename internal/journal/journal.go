// ABOUTME: Append-only NDJSON session journal with migrate-on-open and
// ABOUTME: BuildContext() reconstruction. The wire shape is a
// ABOUTME: {"type":"session",...} header line, then {"type":"message",...}
// ABOUTME: lines carrying core.Message payloads, one JSON object per line.

package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wyvernlab/agentcore-go/internal/core"
	"github.com/wyvernlab/agentcore-go/internal/obslog"
)

const (
	scannerInitialBuf = 64 * 1024
	scannerMaxBuf     = 10 * 1024 * 1024
)

var scannerBufPool = sync.Pool{New: func() any { return make([]byte, 0, scannerInitialBuf) }}

var validSessionID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// RecordType identifies the kind of a journal line.
type RecordType string

const (
	RecordSession    RecordType = "session"
	RecordMessage    RecordType = "message"
	RecordCompaction RecordType = "compaction"
)

// CurrentVersion is the version stamped on newly-written headers.
// Migrate-on-open upgrades older files to this version; migration is
// upward only.
const CurrentVersion = 2

// Record is the envelope for every NDJSON line. The header line carries
// Version/CWD (plus Model/System so BuildContext can restore the system
// prompt); message lines carry the Message payload with an entry id and
// an optional parent entry id.
type Record struct {
	Type    RecordType `json:"type"`
	ID      string     `json:"id"`
	Version int        `json:"version,omitempty"`

	// session header
	CWD    string `json:"cwd,omitempty"`
	Model  string `json:"model,omitempty"`
	System string `json:"system,omitempty"`

	// message
	ParentID *string       `json:"parentId,omitempty"`
	Message  *core.Message `json:"message,omitempty"`

	// compaction (meta line, skipped by BuildContext)
	Compaction *CompactionData `json:"compaction,omitempty"`

	Timestamp int64 `json:"timestamp"`
}

// SessionStartData is the header record's payload.
type SessionStartData struct {
	ID     string `json:"id"`
	CWD    string `json:"cwd,omitempty"`
	Model  string `json:"model,omitempty"`
	System string `json:"system,omitempty"`
}

// CompactionData records what a compaction pass folded away.
type CompactionData struct {
	Summary          string   `json:"summary"`
	FirstKeptEntryID string   `json:"first_kept_entry_id"`
	TokensBefore     int      `json:"tokens_before"`
	FilesRead        []string `json:"files_read,omitempty"`
	FilesWritten     []string `json:"files_written,omitempty"`
}

// Journal appends records to one session's NDJSON file.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	lastID string // most recently appended entry id, the next entry's parent
}

// Open opens (creating if absent) the journal file for sessionID under
// dir. An existing file missing entry ids or at an older header version
// is migrated: read fully, backfilled, and atomically rewritten via a
// temp-file-plus-rename before appends resume.
func Open(dir, sessionID string, sessionStart SessionStartData) (*Journal, error) {
	if !validSessionID.MatchString(sessionID) {
		return nil, fmt.Errorf("invalid session id %q: must match [a-zA-Z0-9_-]+", sessionID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")

	if _, err := os.Stat(path); err == nil {
		if err := migrate(path); err != nil {
			return nil, fmt.Errorf("migrating session %s: %w", sessionID, err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening session file: %w", err)
		}
		records, err := readAll(path)
		if err != nil {
			f.Close()
			return nil, err
		}
		lastID := ""
		if len(records) > 0 {
			lastID = records[len(records)-1].ID
		}
		return &Journal{file: f, path: path, lastID: lastID}, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating session file: %w", err)
	}
	if sessionStart.ID == "" {
		sessionStart.ID = sessionID
	}
	j := &Journal{file: f, path: path}
	header := Record{
		Type:      RecordSession,
		ID:        sessionStart.ID,
		Version:   CurrentVersion,
		CWD:       sessionStart.CWD,
		Model:     sessionStart.Model,
		System:    sessionStart.System,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := j.appendRecord(header); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) appendRecord(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling journal record: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("writing journal record: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("syncing journal record: %w", err)
	}
	j.lastID = rec.ID
	return nil
}

// AppendMessage journals one conversational message as a message line,
// fsyncing before returning so a crash never loses an acknowledged
// write. Entry ids chain via parentId to the previous entry.
func (j *Journal) AppendMessage(msg core.Message) error {
	j.mu.Lock()
	var parent *string
	if j.lastID != "" {
		p := j.lastID
		parent = &p
	}
	j.mu.Unlock()

	m := msg
	return j.appendRecord(Record{
		Type:      RecordMessage,
		ID:        uuid.NewString(),
		ParentID:  parent,
		Message:   &m,
		Timestamp: time.Now().UnixMilli(),
	})
}

// AppendCompaction records a compaction pass as a meta line.
func (j *Journal) AppendCompaction(data CompactionData) error {
	return j.appendRecord(Record{
		Type:       RecordCompaction,
		ID:         uuid.NewString(),
		Compaction: &data,
		Timestamp:  time.Now().UnixMilli(),
	})
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// BuildContext reconstructs a core.Context (system prompt + message
// order) from this journal's file, the authoritative source of truth
// for crash recovery. Header and meta lines are filtered out; message
// order follows file order.
func (j *Journal) BuildContext() (*core.Context, error) {
	records, err := readAll(j.path)
	if err != nil {
		return nil, err
	}
	return buildContext(records), nil
}

func buildContext(records []Record) *core.Context {
	ctx := &core.Context{}
	for _, rec := range records {
		switch rec.Type {
		case RecordSession:
			ctx.System = rec.System
		case RecordMessage:
			if rec.Message != nil {
				ctx.Messages = append(ctx.Messages, *rec.Message)
			}
		}
	}
	return ctx
}

func readAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal file: %w", err)
	}
	defer f.Close()

	buf := scannerBufPool.Get().([]byte)
	defer scannerBufPool.Put(buf) //nolint:staticcheck // buf is reused by value via Get/Put, not captured
	scanner := bufio.NewScanner(f)
	scanner.Buffer(buf[:0], scannerMaxBuf)

	var records []Record
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines rather than fail the whole read
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scanning journal file: %w", err)
	}
	return records, nil
}

// migrate backfills missing entry ids with fresh opaque ids and bumps
// the header to CurrentVersion if anything on disk predates it.
// Migrating an already-current file is a no-op; the rewrite goes to a
// temp file in the same directory, then renames over the original so a
// crash mid-migration never leaves a partially-written journal.
func migrate(path string) error {
	records, err := readAll(path)
	if err != nil {
		return err
	}

	needsMigration := false
	for i, rec := range records {
		if rec.Type == RecordSession && rec.Version < CurrentVersion {
			needsMigration = true
			records[i].Version = CurrentVersion
		}
		if rec.ID == "" {
			needsMigration = true
			records[i].ID = uuid.NewString()
		}
	}
	if !needsMigration {
		return nil
	}
	obslog.Info("migrating session journal", "path", path, "target_version", CurrentVersion)

	tmpPath := path + ".migrate.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating migration temp file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("marshaling migrated record: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("writing migrated record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flushing migrated file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing migrated file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing migrated file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// ListSessions scans dir for *.jsonl files and returns each one's
// session header, skipping files that fail to parse.
func ListSessions(dir string) ([]SessionStartData, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sessions dir: %w", err)
	}
	var out []SessionStartData
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		records, err := readAll(filepath.Join(dir, entry.Name()))
		if err != nil || len(records) == 0 || records[0].Type != RecordSession {
			continue
		}
		h := records[0]
		out = append(out, SessionStartData{ID: h.ID, CWD: h.CWD, Model: h.Model, System: h.System})
	}
	return out, nil
}
