// Package fileengine executes file-system crawl sessions.
package fileengine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-session-manager/internal/engine"
	"github.com/JakeFAU/crawl-session-manager/internal/metrics"
	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

// Setting keys understood by the file executor.
const (
	SettingEntryPath     = "entryPath"
	SettingMaxDepth      = "maxDepth"
	SettingMaxFileNumber = "maxFileNumber"
)

// Config carries executor defaults.
type Config struct {
	MaxDepth      int
	MaxFileNumber int
	// Root, when set, confines entry paths to this directory.
	Root string
}

// Executor walks a directory tree, checkpointing before every entry.
type Executor struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Executor.
func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if cfg.MaxFileNumber <= 0 {
		cfg.MaxFileNumber = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger.Named("file_executor")}
}

func (e *Executor) resolve(raw string) (string, error) {
	path := filepath.Clean(raw)
	if e.cfg.Root == "" {
		return path, nil
	}
	root := filepath.Clean(e.cfg.Root)
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("setting %q escapes the configured root: %w", SettingEntryPath, session.ErrValidation)
	}
	return path, nil
}

// Execute implements session.Executor.
func (e *Executor) Execute(ctx context.Context, task session.Task, progress session.Progress) error {
	s := engine.Settings(task.Definition.Settings)
	raw, err := s.RequiredString(SettingEntryPath)
	if err != nil {
		return err
	}
	root, err := e.resolve(raw)
	if err != nil {
		return err
	}
	maxDepth, err := s.Int(SettingMaxDepth, e.cfg.MaxDepth)
	if err != nil {
		return err
	}
	maxFiles, err := s.Int(SettingMaxFileNumber, e.cfg.MaxFileNumber)
	if err != nil {
		return err
	}
	if maxFiles == 0 {
		maxFiles = e.cfg.MaxFileNumber
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat entry path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("entry path %s is not a directory: %w", root, session.ErrValidation)
	}

	logger := e.logger.With(zap.String("session", task.Name), zap.String("run_id", task.RunID))
	files := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cpErr := progress.Checkpoint(); cpErr != nil {
			return cpErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("walk canceled: %w", ctxErr)
		}
		if err != nil {
			if path == root {
				return err
			}
			metrics.ObserveFile("error")
			progress.Report(session.Counters{Failed: 1})
			logger.Debug("entry unreadable", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && depth(root, path) > maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if files >= maxFiles {
			return fs.SkipAll
		}
		fi, err := d.Info()
		if err != nil {
			metrics.ObserveFile("error")
			progress.Report(session.Counters{Failed: 1})
			return nil
		}
		files++
		metrics.ObserveFile("ok")
		progress.Report(session.Counters{Items: 1, Bytes: fi.Size()})
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, session.ErrAborted) {
			return walkErr
		}
		return fmt.Errorf("walk %s: %w", root, walkErr)
	}
	logger.Debug("file crawl finished", zap.Int("files", files))
	return nil
}

// depth counts directory levels between root and path.
func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
