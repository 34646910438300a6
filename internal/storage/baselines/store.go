package baselines

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
)

const auditFileName = "audit.jsonl"

// Audit actions
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// AuditEntry is one line of the baseline audit log
type AuditEntry struct {
	Time   time.Time `json:"time"`
	Key    string    `json:"key"`
	Path   string    `json:"path"`
	RunID  string    `json:"run_id"`
	SHA256 string    `json:"sha256"`
	Action string    `json:"action"`
}

// Store is a filesystem baseline store. Writes are serialised; reads are not.
type Store struct {
	root   string
	logger arbor.ILogger
	mu     sync.Mutex
	now    func() time.Time
}

var _ interfaces.BaselineStore = (*Store)(nil)

// NewStore creates a baseline store rooted at config.Dir
func NewStore(logger arbor.ILogger, config *common.BaselinesConfig) (*Store, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("baselines directory is required")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create baselines directory: %w", err)
	}

	logger.Debug().Str("dir", config.Dir).Msg("Baseline store initialized")

	return &Store{
		root:   config.Dir,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Root returns the store directory
func (s *Store) Root() string {
	return s.root
}

// Path returns the deterministic file path for a key
func (s *Store) Path(key models.Key) string {
	return filepath.Join(append([]string{s.root}, key.PathSegments()...)...)
}

// Get decodes the baseline for key. A missing file yields ErrBaselineNotFound.
func (s *Store) Get(ctx context.Context, key models.Key) (image.Image, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrBaselineNotFound, key)
		}
		return nil, fmt.Errorf("failed to open baseline %s: %w", key, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode baseline %s: %w", key, err)
	}
	return img, nil
}

// Exists reports whether a baseline is stored for key
func (s *Store) Exists(ctx context.Context, key models.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat baseline %s: %w", key, err)
}

// Put writes or overwrites the baseline for key. Only explicit update runs call this.
func (s *Store) Put(ctx context.Context, key models.Key, img image.Image, runID string) error {
	return s.write(ctx, key, img, runID, ActionUpdate)
}

// Create writes the first baseline for key and refuses to overwrite an existing one
func (s *Store) Create(ctx context.Context, key models.Key, img image.Image, runID string) error {
	return s.write(ctx, key, img, runID, ActionCreate)
}

func (s *Store) write(ctx context.Context, key models.Key, img image.Image, runID, action string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if img == nil {
		return fmt.Errorf("no image to store for %s", key)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("baseline write for %s skipped: %w", key, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode baseline %s: %w", key, err)
	}
	sum := sha256.Sum256(buf.Bytes())

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create baseline directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".baseline-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write baseline %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync baseline %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close baseline %s: %w", key, err)
	}

	// Last point at which a cancelled run may still back out
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("baseline write for %s skipped: %w", key, err)
	}

	if action == ActionCreate {
		// Link fails when the target exists, which gives create-only semantics
		if err := os.Link(tmpPath, path); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%w: %s", interfaces.ErrBaselineExists, key)
			}
			return fmt.Errorf("failed to create baseline %s: %w", key, err)
		}
	} else if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace baseline %s: %w", key, err)
	}

	entry := AuditEntry{
		Time:   s.now().UTC(),
		Key:    key.String(),
		Path:   s.relative(path),
		RunID:  runID,
		SHA256: hex.EncodeToString(sum[:]),
		Action: action,
	}
	if err := s.appendAudit(entry); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to append baseline audit entry")
	}

	s.logger.Info().
		Str("key", key.String()).
		Str("action", action).
		Str("run_id", runID).
		Str("path", path).
		Msg("Baseline written")

	return nil
}

func (s *Store) appendAudit(entry AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.root, auditFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// Audit reads the audit log in write order
func (s *Store) Audit() ([]AuditEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.root, auditFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var entries []AuditEntry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("failed to parse audit line: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// List returns the keys of every stored baseline, sorted by path.
// Suite names are recovered as their sanitised path form.
func (s *Store) List(ctx context.Context) ([]models.Key, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".png" || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}
	sort.Strings(paths)

	keys := make([]models.Key, 0, len(paths))
	for _, p := range paths {
		segs := strings.Split(filepath.ToSlash(s.relative(p)), "/")
		if len(segs) < 3 {
			continue
		}
		n := len(segs)
		keys = append(keys, models.Key{
			Variant: segs[0],
			Suite:   strings.Join(segs[1:n-2], "/"),
			Test:    segs[n-2],
			Image:   strings.TrimSuffix(segs[n-1], ".png"),
		})
	}
	return keys, nil
}

func (s *Store) relative(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return rel
}
