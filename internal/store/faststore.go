package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/scoutlabs/brain/internal/domain"
)

const fastStoreSchemaVersion = 1

// fastRecord is the on-disk envelope for the current generation. The
// document is fully self-contained: it must be reconstructible without
// the archive.
type fastRecord struct {
	SchemaVersion int                `json:"schema_version"`
	State         *domain.BrainState `json:"state"`
}

// FileFastStore keeps the current generation in a single JSON file.
// Writes go to a temp file in the same directory followed by an atomic
// rename, so readers observe either the previous or the new record.
type FileFastStore struct {
	path string
}

func NewFileFastStore(path string) *FileFastStore {
	return &FileFastStore{path: path}
}

func (s *FileFastStore) Path() string { return s.path }

func (s *FileFastStore) Load(ctx context.Context) (*domain.BrainState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read brain file: %w", err)
	}

	var rec fastRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if rec.SchemaVersion != fastStoreSchemaVersion || rec.State == nil {
		return nil, fmt.Errorf("%w: unexpected schema version %d", ErrCorruptState, rec.SchemaVersion)
	}
	if err := rec.State.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return rec.State, nil
}

func (s *FileFastStore) Save(ctx context.Context, state *domain.BrainState) error {
	data, err := json.MarshalIndent(fastRecord{
		SchemaVersion: fastStoreSchemaVersion,
		State:         state,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode brain state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp brain file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp brain file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp brain file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp brain file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace brain file: %w", err)
	}
	return nil
}

// Backup copies the current record file next to itself with a .backup
// suffix. A missing source file is not an error.
func (s *FileFastStore) Backup() error {
	src, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(s.path + ".backup")
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
