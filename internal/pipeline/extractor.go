package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"netsight-go/pkg/tika"
)

// TextExtractor 从原始字节中提取纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// NewExtractor 配置了 Tika 地址时走 Tika，否则使用本地提取。
func NewExtractor(tikaServerURL string) TextExtractor {
	if tikaServerURL != "" {
		return tika.NewClient(tikaServerURL)
	}
	return localExtractor{}
}

// localExtractor 支持 PDF 和 UTF-8 纯文本（含 Markdown）。
type localExtractor struct{}

func (localExtractor) ExtractText(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/pdf"):
		return extractPDF(data)
	case strings.HasPrefix(mt.String(), "text/") || utf8.Valid(data):
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported content type %s", mt.String())
	}
}

func extractPDF(data []byte) (string, error) {
	pdfReader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text failed: %w", err)
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
