package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists one JSON document per user id under a directory.
// Suitable for the single-user companion deployment; multi-user server
// deployments should use the postgres sub-package instead.
//
// Writes go through a temp file and rename, so a crash mid-save never leaves
// a truncated profile on disk. Same-id writes are serialized by a keyed
// mutex; distinct ids write concurrently.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir, creating the directory if
// needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("profile: create dir %q: %w", dir, err)
	}
	return &FileStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// record is the on-disk JSON shape. Durations are stored as seconds so the
// files stay human-readable and hand-editable.
type record struct {
	UserID            string  `json:"user_id"`
	AvgWithinPause    float64 `json:"avg_within_pause_s"`
	AvgBetweenPause   float64 `json:"avg_between_pause_s"`
	AvgThinkingPause  float64 `json:"avg_thinking_pause_s"`
	WordsPerMinute    float64 `json:"words_per_minute"`
	SilenceThreshold  float64 `json:"silence_threshold_s"`
	ThinkingThreshold float64 `json:"thinking_threshold_s"`
	MaxSilence        float64 `json:"max_silence_s"`
	IsCalibrated      bool    `json:"is_calibrated"`
	TotalWordsSpoken  int     `json:"total_words_spoken"`
	LastUpdated       string  `json:"last_updated,omitempty"`
}

// Load implements Store. A missing file yields a default uncalibrated
// profile; a corrupt file is an error so the caller can decide whether to
// overwrite it.
func (s *FileStore) Load(_ context.Context, userID string) (*Profile, error) {
	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return NewDefault(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: read %q: %w", userID, err)
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("profile: parse %q: %w", userID, err)
	}

	p := &Profile{
		UserID:            userID,
		AvgWithinPause:    secs(r.AvgWithinPause),
		AvgBetweenPause:   secs(r.AvgBetweenPause),
		AvgThinkingPause:  secs(r.AvgThinkingPause),
		WordsPerMinute:    r.WordsPerMinute,
		SilenceThreshold:  secs(r.SilenceThreshold),
		ThinkingThreshold: secs(r.ThinkingThreshold),
		MaxSilence:        secs(r.MaxSilence),
		IsCalibrated:      r.IsCalibrated,
		TotalWordsSpoken:  r.TotalWordsSpoken,
	}
	if r.LastUpdated != "" {
		if ts, err := time.Parse(time.RFC3339Nano, r.LastUpdated); err == nil {
			p.LastUpdated = ts
		}
	}
	p.Normalize()
	return p, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, p *Profile) error {
	lock := s.lockFor(p.UserID)
	lock.Lock()
	defer lock.Unlock()

	r := record{
		UserID:            p.UserID,
		AvgWithinPause:    p.AvgWithinPause.Seconds(),
		AvgBetweenPause:   p.AvgBetweenPause.Seconds(),
		AvgThinkingPause:  p.AvgThinkingPause.Seconds(),
		WordsPerMinute:    p.WordsPerMinute,
		SilenceThreshold:  p.SilenceThreshold.Seconds(),
		ThinkingThreshold: p.ThinkingThreshold.Seconds(),
		MaxSilence:        p.MaxSilence.Seconds(),
		IsCalibrated:      p.IsCalibrated,
		TotalWordsSpoken:  p.TotalWordsSpoken,
	}
	if !p.LastUpdated.IsZero() {
		r.LastUpdated = p.LastUpdated.UTC().Format(time.RFC3339Nano)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: marshal %q: %w", p.UserID, err)
	}
	data = append(data, '\n')

	final := s.path(p.UserID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("profile: write %q: %w", p.UserID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("profile: rename %q: %w", p.UserID, err)
	}
	return nil
}

// path returns the JSON file path for userID. The id is sanitised through
// filepath.Base so a hostile id cannot escape the profile directory.
func (s *FileStore) path(userID string) string {
	return filepath.Join(s.dir, filepath.Base(userID)+".json")
}

// lockFor returns the per-user write mutex, creating it on first use.
func (s *FileStore) lockFor(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Ensure FileStore implements Store at compile time.
var _ Store = (*FileStore)(nil)
