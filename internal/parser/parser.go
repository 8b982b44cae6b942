package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/pdftrans/internal/document"
)

// Loader converts raw document bytes into ordered page documents.
type Loader interface {
	Load(r io.Reader, filename string) ([]document.Page, error)
}

// FileFormatError reports an upload that is not a usable PDF.
type FileFormatError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *FileFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s is not a valid PDF: %s: %v", e.Filename, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s is not a valid PDF: %s", e.Filename, e.Reason)
}

func (e *FileFormatError) Unwrap() error { return e.Err }

// ExtractionError reports a PDF whose text could not be extracted.
type ExtractionError struct {
	Filename  string
	Encrypted bool
	Err       error
}

func (e *ExtractionError) Error() string {
	if e.Encrypted {
		return fmt.Sprintf("%s is password-protected", e.Filename)
	}
	return fmt.Sprintf("extract text from %s: %v", e.Filename, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ErrNoText is wrapped by ExtractionError when a PDF has no text layer.
var ErrNoText = errors.New("no extractable text (scanned or image-only PDF?)")

var pdfMagic = []byte("%PDF-")

// IsPDFExtension checks the filename extension.
func IsPDFExtension(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".pdf"
}

// HasPDFMagic checks whether data starts with a PDF header. Leading bytes
// before the header are tolerated the way PDF readers tolerate them.
func HasPDFMagic(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, pdfMagic)
}

// CheckUpload validates an upload before it is queued.
func CheckUpload(f document.UploadedFile) error {
	if !IsPDFExtension(f.Filename) {
		return &FileFormatError{Filename: f.Filename, Reason: fmt.Sprintf("unsupported file type %q", filepath.Ext(f.Filename))}
	}
	if len(f.Data) == 0 {
		return &FileFormatError{Filename: f.Filename, Reason: "empty file"}
	}
	if !HasPDFMagic(f.Data) {
		return &FileFormatError{Filename: f.Filename, Reason: "missing %PDF header"}
	}
	return nil
}
