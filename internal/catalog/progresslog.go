package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FaceSummary is the per-face payload recorded in the progress log.
type FaceSummary struct {
	FaceID        string `json:"face_id"`
	PersonID      string `json:"person_id"`
	ThumbnailPath string `json:"thumbnail_path"`
}

// ProgressEntry is the data payload of one progress-log line.
type ProgressEntry struct {
	ProcessedAt string        `json:"processed_at"`
	Thumbnail   string        `json:"thumbnail"`
	Faces       []FaceSummary `json:"faces"`
}

type progressLine struct {
	Key  string        `json:"key"`
	Data ProgressEntry `json:"data"`
}

// ProgressLog is the append-only newline-delimited JSON record of which
// import-relative paths have been ingested. It is the authoritative
// resume state; the catalogue is secondary. The scheduler is the only
// writer.
type ProgressLog struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewProgressLog creates a progress log handle for the given file path.
// The file and its directory are created lazily on first append.
func NewProgressLog(path string) *ProgressLog {
	return &ProgressLog{path: path}
}

// Path returns the backing file path.
func (l *ProgressLog) Path() string { return l.path }

// Load reads the log into a map keyed by relative path. Lines that do
// not parse (including a partial final line after a crash) are ignored.
// A missing file yields an empty map.
func (l *ProgressLog) Load() (map[string]ProgressEntry, error) {
	entries := make(map[string]ProgressEntry)

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("opening progress log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry progressLine
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // tolerate truncation and garbage
		}
		if entry.Key == "" {
			continue
		}
		entries[entry.Key] = entry.Data
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading progress log: %w", err)
	}
	return entries, nil
}

// Append writes one record and syncs it to disk.
func (l *ProgressLog) Append(key string, data ProgressEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		if dir := filepath.Dir(l.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating progress log directory: %w", err)
			}
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening progress log for append: %w", err)
		}
		l.f = f
	}

	line, err := json.Marshal(progressLine{Key: key, Data: data})
	if err != nil {
		return fmt.Errorf("marshaling progress entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("appending progress entry: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *ProgressLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("closing progress log: %w", err)
	}
	return nil
}
