package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

type OCR interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// TesseractOCR вызывает бинарник tesseract и читает распознанный текст из stdout
type TesseractOCR struct {
	BinaryPath string
	Languages  string
}

func NewTesseractOCR(binaryPath string) *TesseractOCR {
	if binaryPath == "" {
		binaryPath = "tesseract"
	}
	return &TesseractOCR{BinaryPath: binaryPath, Languages: "eng+fra"}
}

func (o *TesseractOCR) Recognize(ctx context.Context, imagePath string) (string, error) {
	args := []string{imagePath, "stdout"}
	if o.Languages != "" {
		args = append(args, "-l", o.Languages)
	}

	cmd := exec.CommandContext(ctx, o.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.String(), nil
}
