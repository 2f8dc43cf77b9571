package extraction

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"credential_verifier/internal/model"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Extractor извлекает текст и поля из загруженного документа.
// Ошибок не возвращает: нечитаемый файл дает результат с пустым текстом и заполненным Error.
type Extractor interface {
	Extract(ctx context.Context, path string) *model.ExtractionResult
}

// DurationObserver получает длительность каждого извлечения (метрики)
type DurationObserver interface {
	ObserveExtraction(method string, d time.Duration)
}

type pdfReaderFunc func(path string) (string, map[string]string, error)

type documentExtractor struct {
	ocr      OCR
	timeout  time.Duration
	readPDF  pdfReaderFunc
	observer DurationObserver
	logger   *zap.Logger
}

func NewDocumentExtractor(ocr OCR, timeout time.Duration, observer DurationObserver, logger *zap.Logger) Extractor {
	return &documentExtractor{
		ocr:      ocr,
		timeout:  timeout,
		readPDF:  readPDF,
		observer: observer,
		logger:   logger,
	}
}

type extractOutput struct {
	text     string
	metadata map[string]string
	err      error
}

func (e *documentExtractor) Extract(ctx context.Context, path string) *model.ExtractionResult {
	start := time.Now()
	result := &model.ExtractionResult{Method: model.ExtractionMethodNone}

	hash, err := HashFile(path)
	if err != nil {
		e.logger.Warn("failed to read document", zap.String("path", path), zap.Error(err))
		result.Error = fmt.Sprintf("failed to read document: %v", err)
		return result
	}
	result.DocumentHash = hash

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		result.Error = fmt.Sprintf("failed to detect document type: %v", err)
		return result
	}
	result.MimeType = mt.String()

	var run func(ctx context.Context) extractOutput
	switch {
	case mt.Is("application/pdf"):
		result.Method = model.ExtractionMethodPDF
		run = func(ctx context.Context) extractOutput {
			text, meta, err := e.readPDF(path)
			return extractOutput{text: text, metadata: meta, err: err}
		}
	case strings.HasPrefix(mt.String(), "image/"):
		result.Method = model.ExtractionMethodOCR
		run = func(ctx context.Context) extractOutput {
			if e.ocr == nil {
				return extractOutput{err: fmt.Errorf("ocr engine is not configured")}
			}
			text, err := e.ocr.Recognize(ctx, path)
			return extractOutput{text: text, err: err}
		}
	case mt.Is("text/plain"):
		result.Method = model.ExtractionMethodPlain
		run = func(ctx context.Context) extractOutput {
			data, err := os.ReadFile(path)
			return extractOutput{text: string(data), err: err}
		}
	default:
		result.Error = fmt.Sprintf("unsupported document type %s", mt.String())
		return result
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// Парсер PDF не принимает context, поэтому ждем результат или истечение таймаута
	done := make(chan extractOutput, 1)
	go func() {
		done <- run(ctx)
	}()

	var out extractOutput
	select {
	case out = <-done:
	case <-ctx.Done():
		out = extractOutput{err: fmt.Errorf("extraction aborted: %w", ctx.Err())}
	}

	if e.observer != nil {
		e.observer.ObserveExtraction(result.Method, time.Since(start))
	}

	if out.err != nil {
		e.logger.Warn("document extraction failed",
			zap.String("path", path),
			zap.String("method", result.Method),
			zap.Error(out.err))
		result.Error = out.err.Error()
		return result
	}

	result.Text = strings.TrimSpace(out.text)
	result.Metadata = out.metadata
	result.Fields = ParseFields(result.Text)

	e.logger.Debug("document extracted",
		zap.String("path", path),
		zap.String("method", result.Method),
		zap.Int("text_length", len(result.Text)),
		zap.Int("license_candidates", len(result.Fields.LicenseCandidates)))
	return result
}

// HashFile возвращает sha256 содержимого файла в hex
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var pdfMetadataKeys = []string{"Producer", "Creator", "Author", "CreationDate", "ModDate"}

func readPDF(path string) (text string, metadata map[string]string, err error) {
	// ledongthuc/pdf паникует на части поврежденных файлов
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", nil, fmt.Errorf("failed to extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", nil, fmt.Errorf("failed to read pdf text: %w", err)
	}

	metadata = make(map[string]string)
	info := r.Trailer().Key("Info")
	for _, key := range pdfMetadataKeys {
		if v := info.Key(key).Text(); v != "" {
			metadata[strings.ToLower(key)] = v
		}
	}

	return buf.String(), metadata, nil
}
