package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var _ Repo = (*FileRepo)(nil)

// FileRepo keeps sessions in memory and rewrites them to a JSON file after every mutation.
// Memory is authoritative: a failed write is logged and never fails the mutation.
type FileRepo struct {
	mem         *InMemoryRepo
	path        string
	sealer      *sealer
	minLifetime time.Duration
	nowTime     func() time.Time
	writeMu     sync.Mutex
	readOnly    bool
}

// FileRepoOption defines a function type to modify the FileRepo.
type FileRepoOption func(*FileRepo) error

// WithEncryptionKey seals the file with a key derived from secret.
func WithEncryptionKey(secret string) FileRepoOption {
	return func(r *FileRepo) error {
		if secret == "" {
			return nil
		}
		s, err := newSealer(secret)
		if err != nil {
			return err
		}
		r.sealer = s
		return nil
	}
}

// WithReloadMinLifetime sets how much lifetime a refresh-less session needs to be kept on load.
func WithReloadMinLifetime(d time.Duration) FileRepoOption {
	return func(r *FileRepo) error {
		r.minLifetime = d
		return nil
	}
}

// WithFileNowTime sets the clock used to filter sessions on load (primarily for testing)
func WithFileNowTime(nowFunc func() time.Time) FileRepoOption {
	return func(r *FileRepo) error {
		r.nowTime = nowFunc
		return nil
	}
}

// NewFileRepo creates a disk-backed repository writing to path. Call LoadFromDisk once at start.
func NewFileRepo(path string, options ...FileRepoOption) (*FileRepo, error) {
	if path == "" {
		return nil, fmt.Errorf("[NewFileRepo] path is required")
	}
	r := &FileRepo{
		mem:         NewInMemoryRepo(),
		path:        path,
		minLifetime: 5 * time.Minute,
		nowTime:     time.Now,
	}
	for _, opt := range options {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("[NewFileRepo] %w", err)
		}
	}
	return r, nil
}

// Create implements Repo.
func (r *FileRepo) Create(ctx context.Context, session Session) (string, error) {
	id, err := r.mem.Create(ctx, session)
	if err != nil {
		return "", err
	}
	r.saveLogged()
	return id, nil
}

// Get implements Repo.
func (r *FileRepo) Get(ctx context.Context, sessionID string) (Session, error) {
	return r.mem.Get(ctx, sessionID)
}

// Update implements Repo.
func (r *FileRepo) Update(ctx context.Context, sessionID string, patch Patch) (string, error) {
	id, err := r.mem.Update(ctx, sessionID, patch)
	if err != nil {
		return "", err
	}
	r.saveLogged()
	return id, nil
}

// Delete implements Repo.
func (r *FileRepo) Delete(ctx context.Context, sessionID string) error {
	if err := r.mem.Delete(ctx, sessionID); err != nil {
		return err
	}
	r.saveLogged()
	return nil
}

// LoadFromDisk replaces the in-memory sessions with the file's contents, dropping sessions that
// are neither long-lived enough nor refreshable. A missing file is an empty store. A file that
// cannot be read or decoded is moved aside so the next save does not overwrite it.
func (r *FileRepo) LoadFromDisk() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return r.quarantine(fmt.Errorf("[FileRepo LoadFromDisk] failed to read %s: %w", r.path, err))
	}
	if r.sealer != nil {
		if data, err = r.sealer.open(data); err != nil {
			return r.quarantine(fmt.Errorf("[FileRepo LoadFromDisk] %w", err))
		}
	}

	var stored map[string]Session
	if err := json.Unmarshal(data, &stored); err != nil {
		return r.quarantine(fmt.Errorf("[FileRepo LoadFromDisk] failed to decode %s: %w", r.path, err))
	}

	now := r.nowTime()
	kept := make(map[string]Session, len(stored))
	for id, s := range stored {
		if s.survivesReload(now, r.minLifetime) {
			kept[id] = s
		}
	}
	r.mem.replace(kept)

	log.Info().Int("loaded", len(kept)).Int("dropped", len(stored)-len(kept)).Str("path", r.path).Msg("sessions loaded from disk")
	return nil
}

// quarantine renames the unreadable file to <path>.unreadable-<timestamp> and returns loadErr.
// If the rename fails, saving is disabled so the file is never replaced.
func (r *FileRepo) quarantine(loadErr error) error {
	aside := fmt.Sprintf("%s.unreadable-%s", r.path, r.nowTime().UTC().Format("20060102T150405.000000000Z"))
	if err := os.Rename(r.path, aside); err != nil {
		r.writeMu.Lock()
		r.readOnly = true
		r.writeMu.Unlock()
		log.Err(err).Str("path", r.path).Msg("failed to move unreadable session file aside, persistence disabled")
		return loadErr
	}
	log.Warn().Str("path", r.path).Str("moved_to", aside).Msg("unreadable session file moved aside")
	return fmt.Errorf("%w (file moved to %s)", loadErr, aside)
}

// SaveToDisk rewrites the whole file from the current sessions.
func (r *FileRepo) SaveToDisk() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.readOnly {
		return fmt.Errorf("[FileRepo SaveToDisk] persistence disabled, %s could not be loaded", r.path)
	}

	data, err := json.MarshalIndent(r.mem.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("[FileRepo SaveToDisk] failed to encode sessions: %w", err)
	}
	if r.sealer != nil {
		if data, err = r.sealer.seal(data); err != nil {
			return fmt.Errorf("[FileRepo SaveToDisk] %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("[FileRepo SaveToDisk] failed to create folder: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("[FileRepo SaveToDisk] failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileRepo SaveToDisk] failed to write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[FileRepo SaveToDisk] failed to close: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("[FileRepo SaveToDisk] failed to replace %s: %w", r.path, err)
	}
	return nil
}

// Len returns the number of sessions held in memory.
func (r *FileRepo) Len() int {
	return r.mem.Len()
}

func (r *FileRepo) saveLogged() {
	if err := r.SaveToDisk(); err != nil {
		log.Err(err).Str("path", r.path).Msg("failed to persist sessions, keeping them in memory")
	}
}
