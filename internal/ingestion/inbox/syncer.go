// Package inbox turns text files dropped into a directory into ingestion
// requests, either on a schedule or as files appear.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/services"
)

const (
	Source        = "file_watch"
	fileExtension = ".txt"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, in services.IngestInput) (services.EnqueueResult, error)
}

type Config struct {
	WatchPath     string
	ProcessedPath string
}

type Syncer struct {
	log      *logger.Logger
	enqueuer Enqueuer
	cfg      Config
}

func NewSyncer(baseLog *logger.Logger, enqueuer Enqueuer, cfg Config) (*Syncer, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer required")
	}
	if strings.TrimSpace(cfg.WatchPath) == "" || strings.TrimSpace(cfg.ProcessedPath) == "" {
		return nil, fmt.Errorf("inbox watch and processed paths required")
	}
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Syncer{
		log:      baseLog.With("component", "InboxSyncer"),
		enqueuer: enqueuer,
		cfg:      cfg,
	}, nil
}

// EnsurePaths creates the inbox and processed directories.
func (s *Syncer) EnsurePaths() error {
	for _, dir := range []string{s.cfg.WatchPath, s.cfg.ProcessedPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Sync queues every .txt file in the inbox, in name order, and returns how
// many were queued. Files that are not valid UTF-8 stay in place.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	if err := s.EnsurePaths(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(s.cfg.WatchPath)
	if err != nil {
		return 0, fmt.Errorf("read inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isInboxFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var (
		queued int
		errs   []error
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return queued, err
		}
		ok, err := s.ProcessFile(ctx, filepath.Join(s.cfg.WatchPath, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			queued++
		}
	}
	return queued, errors.Join(errs...)
}

// ProcessFile queues a single inbox file and moves it to the processed
// directory. It reports false for files it skips.
func (s *Syncer) ProcessFile(ctx context.Context, path string) (bool, error) {
	name := filepath.Base(path)
	if !isInboxFile(name) {
		s.log.Debug("Ignoring non-text file", "path", path)
		return false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if !utf8.Valid(raw) {
		s.log.Warn("Skipping non-UTF8 file", "path", path)
		return false, nil
	}

	documentID := strings.TrimSuffix(name, filepath.Ext(name))
	res, err := s.enqueuer.Enqueue(ctx, services.IngestInput{
		DocumentID: documentID,
		Source:     Source,
		Text:       string(raw),
		Metadata:   domain.Metadata{"filename": name},
	})
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", name, err)
	}

	dest := filepath.Join(s.cfg.ProcessedPath, name)
	if err := moveFile(path, dest); err != nil {
		return true, fmt.Errorf("move %s: %w", name, err)
	}
	s.log.Info("Queued document from inbox", "document_id", documentID, "path", dest, "task_id", res.TaskID)
	return true, nil
}

func isInboxFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), fileExtension)
}

// moveFile renames src to dst, falling back to copy and remove when the two
// live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
