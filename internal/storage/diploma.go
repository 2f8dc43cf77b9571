package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedType = errors.New("unsupported diploma file type")
	ErrTooLarge        = errors.New("diploma file exceeds size limit")
	ErrEmptyFile       = errors.New("diploma file is empty")
)

// Разрешенные форматы дипломов
var allowedMimeTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/tiff",
	"image/webp",
	"text/plain",
}

const publicPrefix = "/uploads/diplomas/"

type StoredFile struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	Path         string `json:"path"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
}

type DiplomaStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (*StoredFile, error)
	// Path возвращает путь к сохраненному файлу; имена вне каталога отклоняются
	Path(filename string) (string, error)
	PublicURL(filename string) string
	Delete(filename string) error
}

type localDiplomaStore struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
}

func NewLocalDiplomaStore(dir string, maxBytes int64, logger *zap.Logger) (DiplomaStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &localDiplomaStore{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger,
	}, nil
}

func (s *localDiplomaStore) Save(ctx context.Context, originalName string, r io.Reader) (*StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}

	mtype, err := mimetype.DetectReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	if !mimetype.EqualsAny(mtype.String(), allowedMimeTypes...) {
		s.logger.Warn("rejected diploma upload",
			zap.String("original_name", originalName),
			zap.String("mime_type", mtype.String()))
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
	}

	filename := uuid.New().String() + mtype.Extension()
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store diploma: %w", err)
	}

	s.logger.Info("diploma stored",
		zap.String("filename", filename),
		zap.String("original_name", originalName),
		zap.Int("size", len(data)))

	return &StoredFile{
		Filename:     filename,
		OriginalName: filepath.Base(originalName),
		Path:         path,
		MimeType:     mtype.String(),
		Size:         int64(len(data)),
	}, nil
}

func (s *localDiplomaStore) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid diploma filename %q", filename)
	}
	return filepath.Join(s.dir, filename), nil
}

func (s *localDiplomaStore) PublicURL(filename string) string {
	return publicPrefix + filename
}

func (s *localDiplomaStore) Delete(filename string) error {
	path, err := s.Path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete diploma: %w", err)
	}
	return nil
}
