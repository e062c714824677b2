package history

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulsecoach/pulse-coach-app/internal/session"
)

// Record is one archived session.
type Record struct {
	ID         string          `json:"id"`
	Summary    session.Summary `json:"summary"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Repository stores completed-session records as one JSON file each under
// a directory. Deliberately file-based: the archive is small, append-only
// and read by humans as often as by code.
type Repository struct {
	dir    string
	logger *log.Logger
}

func NewRepository(logger *log.Logger, dir string) *Repository {
	if logger == nil {
		panic("history.Repository: logger cannot be nil")
	}
	if dir == "" {
		panic("history.Repository: dir cannot be empty")
	}
	return &Repository{dir: dir, logger: logger}
}

// Save archives a summary and returns the stored record.
func (r *Repository) Save(s session.Summary) (Record, error) {
	rec := Record{
		ID:         uuid.NewString(),
		Summary:    s,
		RecordedAt: time.Now(),
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("history: mkdir %s: %w", r.dir, err)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("history: marshal record: %w", err)
	}
	path := filepath.Join(r.dir, rec.ID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return Record{}, fmt.Errorf("history: write %s: %w", path, err)
	}
	r.logger.Printf("History: archived session %q as %s", s.PlanName, rec.ID)
	return rec, nil
}

// Load reads one record by ID.
func (r *Repository) Load(id string) (Record, error) {
	path := filepath.Join(r.dir, id+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("history: read %s: %w", path, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("history: parse %s: %w", path, err)
	}
	return rec, nil
}

// List returns all records, newest first. Unreadable files are skipped
// with a log line rather than failing the whole listing.
func (r *Repository) List() ([]Record, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: read dir %s: %w", r.dir, err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := r.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			r.logger.Printf("History: skipping %s: %v", entry.Name(), err)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].RecordedAt.After(records[j].RecordedAt)
	})
	return records, nil
}
