package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
	"github.com/kailas-cloud/ragchat/internal/observability"
)

// Config locates the filesystem areas.
type Config struct {
	InboxDir       string
	DoneDir        string
	MaxUploadBytes int64 // 0 means unlimited
}

// Service moves documents through extract, chunk and upsert, then archives
// them in DoneDir. A file that fails any step is removed from the inbox.
type Service struct {
	store     Store
	extractor Extractor
	splitter  Splitter
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	claimed map[string]struct{} // inbox paths being written or ingested
}

// New creates an ingestion service.
func New(store Store, extractor Extractor, splitter Splitter, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		extractor: extractor,
		splitter:  splitter,
		cfg:       cfg,
		logger:    logger,
		claimed:   make(map[string]struct{}),
	}
}

// EnsureDirs creates the inbox and done directories.
func (s *Service) EnsureDirs() error {
	for _, dir := range []string{s.cfg.InboxDir, s.cfg.DoneDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Supports reports whether name has an extractable extension.
func (s *Service) Supports(name string) bool {
	return s.extractor.Supports(name)
}

// Upload stores r in the inbox under the sanitized name and ingests it.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader) (domain.IngestResult, error) {
	source := SanitizeFilename(name)
	if source == "" {
		return domain.IngestResult{}, fmt.Errorf("file name %q: %w", name, domain.ErrInvalidInput)
	}
	path := filepath.Join(s.cfg.InboxDir, source)
	if !s.claim(path) {
		return domain.IngestResult{}, fmt.Errorf("%s is already being ingested: %w", source, domain.ErrInvalidInput)
	}
	defer s.release(path)

	if err := s.save(path, r); err != nil {
		return domain.IngestResult{Source: source}, err
	}
	return s.ingest(ctx, path, source)
}

// Ingest processes a file already in place. source defaults to the base name.
func (s *Service) Ingest(ctx context.Context, path, source string) (domain.IngestResult, error) {
	if source == "" {
		source = filepath.Base(path)
	}
	if !s.claim(path) {
		return domain.IngestResult{}, fmt.Errorf("%s is already being ingested: %w", source, domain.ErrInvalidInput)
	}
	defer s.release(path)

	if _, err := os.Stat(path); err != nil {
		return domain.IngestResult{Source: source}, fmt.Errorf("stat %s: %w: %w", source, domain.ErrNotFound, err)
	}
	return s.ingest(ctx, path, source)
}

func (s *Service) ingest(ctx context.Context, path, source string) (res domain.IngestResult, err error) {
	ctx, span := observability.StartIngestSpan(ctx, source)
	defer span.End()

	res.Source = source
	status := "ok"
	defer func() {
		metrics.IngestDocumentsTotal.WithLabelValues(status).Inc()
		observability.RecordError(span, err)
	}()

	if err := validSource(source); err != nil {
		status = "error"
		return res, s.discard(path, err)
	}

	text, err := s.extractor.Extract(path)
	if err != nil {
		status = "error"
		if errors.Is(err, domain.ErrUnsupportedFormat) {
			status = "unsupported"
		}
		s.logger.Warn("Extraction failed", zap.String("source", source), zap.Error(err))
		return res, s.discard(path, err)
	}

	chunks := s.splitter.Split(text)
	if strings.TrimSpace(text) == "" || len(chunks) == 0 {
		status = "empty"
		s.logger.Warn("No text extracted, nothing indexed", zap.String("source", source))
		return res, s.discard(path, nil)
	}

	n, err := s.store.Upsert(ctx, chunks, source)
	if err != nil {
		status = "error"
		s.logger.Error("Upsert failed", zap.String("source", source), zap.Error(err))
		return res, s.discard(path, fmt.Errorf("upsert %s: %w", source, err))
	}
	res.ChunksAdded = n
	metrics.IngestChunksTotal.Add(float64(n))

	if err := s.archive(path, source); err != nil {
		status = "error"
		s.logger.Error("Archive failed after indexing",
			zap.String("source", source), zap.Int("chunks", n), zap.Error(err))
		return res, s.discard(path, err)
	}

	s.logger.Info("Document ingested", zap.String("source", source), zap.Int("chunks", n))
	return res, nil
}

// Delete removes a source from the knowledge base and its archived file.
func (s *Service) Delete(ctx context.Context, source string) error {
	if err := validSource(source); err != nil {
		return err
	}
	if err := s.store.DeleteBySource(ctx, source); err != nil {
		return fmt.Errorf("delete %s: %w", source, err)
	}
	if err := removeIfExists(filepath.Join(s.cfg.DoneDir, source)); err != nil {
		return fmt.Errorf("delete archived file: %w", err)
	}
	s.logger.Info("Document deleted", zap.String("source", source))
	return nil
}

// ClearAll empties the knowledge base and the done directory. Both steps
// run even if the first fails.
func (s *Service) ClearAll(ctx context.Context) error {
	var errs []error
	if err := s.store.ClearAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear knowledge base: %w", err))
	}
	if err := os.RemoveAll(s.cfg.DoneDir); err != nil {
		errs = append(errs, fmt.Errorf("clear done dir: %w", err))
	} else if err := os.MkdirAll(s.cfg.DoneDir, 0o755); err != nil {
		errs = append(errs, fmt.Errorf("recreate done dir: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("Knowledge base cleared")
	return nil
}

// Inventory lists the sources and the total chunk count.
func (s *Service) Inventory(ctx context.Context) (sources []string, chunks int, err error) {
	if sources, err = s.store.ListSources(ctx); err != nil {
		return nil, 0, fmt.Errorf("list sources: %w", err)
	}
	if chunks, err = s.store.CountChunks(ctx); err != nil {
		return nil, 0, fmt.Errorf("count chunks: %w", err)
	}
	return sources, chunks, nil
}

func (s *Service) save(path string, r io.Reader) error {
	if err := os.MkdirAll(s.cfg.InboxDir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}

	src := r
	if s.cfg.MaxUploadBytes > 0 {
		src = io.LimitReader(r, s.cfg.MaxUploadBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.cfg.MaxUploadBytes > 0 && n > s.cfg.MaxUploadBytes {
		err = fmt.Errorf("upload exceeds %d bytes: %w", s.cfg.MaxUploadBytes, domain.ErrInvalidInput)
	}
	if err != nil {
		return s.discard(path, fmt.Errorf("save %s: %w", filepath.Base(path), err))
	}
	return nil
}

func (s *Service) archive(path, source string) error {
	if err := os.MkdirAll(s.cfg.DoneDir, 0o755); err != nil {
		return fmt.Errorf("create done dir: %w", err)
	}
	if err := moveFile(path, filepath.Join(s.cfg.DoneDir, source)); err != nil {
		return fmt.Errorf("archive %s: %w", source, err)
	}
	return nil
}

// discard removes path and returns cause joined with any removal failure.
func (s *Service) discard(path string, cause error) error {
	if err := removeIfExists(path); err != nil {
		s.logger.Error("Failed to remove inbox file", zap.String("path", path), zap.Error(err))
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Service) claim(path string) bool {
	path = filepath.Clean(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claimed[path]; ok {
		return false
	}
	s.claimed[path] = struct{}{}
	return true
}

func (s *Service) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, filepath.Clean(path))
}
