// Package file implements the default ledger store: two append-only text
// files, one URL per newline-terminated line.
package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/yt-history-sync/internal/ledger"
)

// Default file names. The processed log keeps the name used by earlier
// releases so existing histories carry over.
const (
	DefaultProcessedFile = "execution_history.log"
	DefaultFailedFile    = "failed_history.log"
)

// Config locates the two ledger files.
type Config struct {
	// Dir is joined with relative file names. Empty means the working directory.
	Dir           string `mapstructure:"dir" yaml:"dir"`
	ProcessedFile string `mapstructure:"processed_file" yaml:"processed_file"`
	FailedFile    string `mapstructure:"failed_file" yaml:"failed_file"`
}

// Store appends outcomes to per-outcome log files.
type Store struct {
	processedPath string
	failedPath    string
	processed     *os.File
	failed        *os.File
	logger        *zap.Logger
}

// New opens (creating if absent) both ledger files for append.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProcessedFile == "" {
		cfg.ProcessedFile = DefaultProcessedFile
	}
	if cfg.FailedFile == "" {
		cfg.FailedFile = DefaultFailedFile
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	s := &Store{
		processedPath: resolve(cfg.Dir, cfg.ProcessedFile),
		failedPath:    resolve(cfg.Dir, cfg.FailedFile),
		logger:        logger,
	}
	if s.processedPath == s.failedPath {
		return nil, fmt.Errorf("processed and failed ledger files must differ (%s)", s.processedPath)
	}
	var err error
	if s.processed, err = openAppend(s.processedPath); err != nil {
		return nil, err
	}
	if s.failed, err = openAppend(s.failedPath); err != nil {
		_ = s.processed.Close()
		return nil, err
	}
	return s, nil
}

// Paths returns the processed and failed file locations.
func (s *Store) Paths() (processed, failed string) {
	return s.processedPath, s.failedPath
}

// Load reads both files. A final line without a newline is the remains of an
// interrupted write; it is truncated away so the next append starts on a
// fresh line.
func (s *Store) Load(_ context.Context) ([]ledger.Entry, error) {
	processed, err := s.loadFile(s.processed, s.processedPath)
	if err != nil {
		return nil, err
	}
	failed, err := s.loadFile(s.failed, s.failedPath)
	if err != nil {
		return nil, err
	}
	entries := make([]ledger.Entry, 0, len(processed)+len(failed))
	for _, url := range processed {
		entries = append(entries, ledger.Entry{URL: url, Outcome: ledger.OutcomeProcessed})
	}
	for _, url := range failed {
		entries = append(entries, ledger.Entry{URL: url, Outcome: ledger.OutcomeFailed})
	}
	return entries, nil
}

// Append writes one line to the outcome's file and syncs it to disk.
func (s *Store) Append(_ context.Context, entry ledger.Entry) error {
	if strings.ContainsAny(entry.URL, "\r\n") {
		return fmt.Errorf("url %q contains a line break", entry.URL)
	}
	f, err := s.fileFor(entry.Outcome)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(entry.URL + "\n"); err != nil {
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	return nil
}

// Close closes both files.
func (s *Store) Close() error {
	return errors.Join(closeFile(s.processed), closeFile(s.failed))
}

func (s *Store) fileFor(outcome ledger.Outcome) (*os.File, error) {
	switch outcome {
	case ledger.OutcomeProcessed:
		return s.processed, nil
	case ledger.OutcomeFailed:
		return s.failed, nil
	default:
		return nil, fmt.Errorf("unknown outcome %q", outcome)
	}
}

func (s *Store) loadFile(f *os.File, path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // configured ledger path
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		cut := bytes.LastIndexByte(data, '\n') + 1
		s.logger.Warn("dropping unterminated ledger line",
			zap.String("path", path),
			zap.ByteString("line", data[cut:]),
		)
		data = data[:cut]
		if err := f.Truncate(int64(cut)); err != nil {
			return nil, fmt.Errorf("repair %s: %w", path, err)
		}
		if err := f.Sync(); err != nil {
			return nil, fmt.Errorf("sync %s: %w", path, err)
		}
	}
	return parseLines(bytes.NewReader(data))
}

func parseLines(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return urls, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // configured ledger path
	if err != nil {
		return nil, fmt.Errorf("open ledger file %s: %w", path, err)
	}
	return f, nil
}

func closeFile(f *os.File) error {
	if f == nil {
		return nil
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.Name(), err)
	}
	return nil
}

func resolve(dir, name string) string {
	if dir == "" || filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(dir, name)
}
