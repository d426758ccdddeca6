// Package pdftext extracts plain text and document info from uploaded PDFs.
package pdftext

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	"notemind/internal/core"
)

// Document is the extraction result for one uploaded file.
type Document struct {
	Text  string            `json:"text"`
	Pages int               `json:"pages"`
	Info  map[string]string `json:"info,omitempty"`
}

// infoKeys are the document information dictionary entries surfaced to the
// caller.
var infoKeys = []string{"Title", "Author", "Subject", "Creator", "Producer"}

// Extract parses a PDF held in memory. Malformed input yields an
// InvalidInput-class error, never a panic: the parser is known to panic on
// some corrupt files, so extraction runs behind a recover.
func Extract(data []byte) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = core.NewInvalidInputError(fmt.Sprintf("failed to parse PDF: %v", r))
		}
	}()

	if len(data) == 0 {
		return nil, core.NewInvalidInputError("empty file")
	}

	reader, parseErr := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if parseErr != nil {
		return nil, core.NewInvalidInputError(fmt.Sprintf("failed to parse PDF: %v", parseErr))
	}

	plain, textErr := reader.GetPlainText()
	if textErr != nil {
		return nil, fmt.Errorf("failed to extract text: %w", textErr)
	}
	var buf bytes.Buffer
	if _, copyErr := io.Copy(&buf, plain); copyErr != nil {
		return nil, fmt.Errorf("failed to read extracted text: %w", copyErr)
	}

	return &Document{
		Text:  buf.String(),
		Pages: reader.NumPage(),
		Info:  documentInfo(reader),
	}, nil
}

// documentInfo pulls the well-known info dictionary fields, skipping absent
// or non-string entries.
func documentInfo(reader *pdf.Reader) map[string]string {
	trailer := reader.Trailer()
	info := trailer.Key("Info")
	if info.IsNull() {
		return nil
	}

	out := make(map[string]string)
	for _, key := range infoKeys {
		v := info.Key(key)
		if v.Kind() == pdf.String {
			if s := v.Text(); s != "" {
				out[key] = s
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
