package plan

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Store loads training plans from structured files in a directory.
// Supported extensions are whatever viper can read (json, yaml, toml).
// Every plan is validated on load; a malformed file fails the load rather
// than being partially accepted.
type Store struct {
	dir    string
	logger *log.Logger
}

func NewStore(logger *log.Logger, dir string) *Store {
	if logger == nil {
		panic("plan.Store: logger cannot be nil")
	}
	return &Store{dir: dir, logger: logger}
}

// LoadAll reads every plan file in the store directory, sorted by file
// name. A missing directory is not an error; it just means no custom
// plans exist yet.
func (s *Store) LoadAll() ([]TrainingPlan, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Printf("PlanStore: directory %s does not exist, no custom plans", s.dir)
			return nil, nil
		}
		return nil, fmt.Errorf("plan store: reading %s: %w", s.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml", ".toml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	plans := make([]TrainingPlan, 0, len(names))
	for _, name := range names {
		p, err := s.LoadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	s.logger.Printf("PlanStore: loaded %d plan(s) from %s", len(plans), s.dir)
	return plans, nil
}

// LoadFile reads and validates a single plan file.
func (s *Store) LoadFile(path string) (TrainingPlan, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return TrainingPlan{}, fmt.Errorf("plan file %s: %w", path, err)
	}

	var p TrainingPlan
	if err := v.Unmarshal(&p); err != nil {
		return TrainingPlan{}, fmt.Errorf("plan file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return TrainingPlan{}, fmt.Errorf("plan file %s: %w", path, err)
	}
	return p, nil
}
