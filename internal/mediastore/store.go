// Package mediastore implements a content-addressed fetch-and-cache for
// media referenced by extracted records. Files are keyed by a hash of the
// source URL, so repeated references to the same URL cost one fetch.
package mediastore

import (
	"context"
	"crypto/md5" //nolint:gosec // content addressing, not authentication
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/telemetry"
)

var knownExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".mp4"}

// Mirror replicates stored media to a secondary backend.
type Mirror interface {
	Save(ctx context.Context, objectName string, data []byte) error
}

// Config controls the store.
type Config struct {
	RootDir      string
	FetchTimeout time.Duration
	DefaultExt   string
	UserAgent    string
}

// Store fetches media URLs into {root}/{md5(url)}{ext}.
type Store struct {
	cfg    Config
	client *http.Client
	mirror Mirror
	logger *zap.Logger
}

// New builds a Store, creating the root directory if needed. mirror may be
// nil.
func New(cfg Config, mirror Mirror, logger *zap.Logger) (*Store, error) {
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("media root dir is required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.DefaultExt == "" {
		cfg.DefaultExt = ".jpg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.RootDir, 0o750); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Store{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		mirror: mirror,
		logger: logger,
	}, nil
}

// Fetch resolves mediaURL to a local path, fetching it at most once. An
// existing file at the content-addressed path short-circuits the download.
func (s *Store) Fetch(ctx context.Context, mediaURL string) (string, error) {
	path := s.LocalPath(mediaURL)
	if _, err := os.Stat(path); err == nil {
		telemetry.ObserveMediaFetch("cached")
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	data, err := s.download(ctx, mediaURL)
	if err != nil {
		telemetry.ObserveMediaFetch("failed")
		return "", err
	}
	if err := writeAtomic(path, data); err != nil {
		telemetry.ObserveMediaFetch("failed")
		return "", err
	}
	telemetry.ObserveMediaFetch("fetched")

	if s.mirror != nil {
		if err := s.mirror.Save(ctx, filepath.Base(path), data); err != nil {
			// The local copy is authoritative; a mirror miss is not fatal.
			s.logger.Warn("media mirror save failed", zap.String("url", mediaURL), zap.Error(err))
		}
	}
	return path, nil
}

// LocalPath returns the content-addressed path for mediaURL without
// touching the network.
func (s *Store) LocalPath(mediaURL string) string {
	sum := md5.Sum([]byte(mediaURL)) //nolint:gosec
	return filepath.Join(s.cfg.RootDir, hex.EncodeToString(sum[:])+s.extension(mediaURL))
}

func (s *Store) download(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w", mediaURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media %s: status %d", mediaURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	return data, nil
}

// extension infers the file extension from the URL path suffix.
func (s *Store) extension(mediaURL string) string {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return s.cfg.DefaultExt
	}
	path := strings.ToLower(u.Path)
	for _, ext := range knownExtensions {
		if strings.Contains(path, ext) {
			return ext
		}
	}
	return s.cfg.DefaultExt
}

// writeAtomic writes through a temp file and renames into place so a
// concurrent reader never sees a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".media-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
