package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/dgallion1/pdftrans/internal/document"
	pdflib "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/text/unicode/norm"
)

func init() {
	// pdfcpu would otherwise create a config directory under the user's home.
	api.DisableConfigDir()
}

// PDFLoader extracts per-page text from PDF files. It tries the Go library
// first, then falls back to pdftotext if enabled and available.
type PDFLoader struct {
	FallbackPdftotext bool
	TempDir           string // Empty means os.TempDir().
}

func (p *PDFLoader) Load(r io.Reader, filename string) ([]document.Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := CheckUpload(document.UploadedFile{Filename: filename, Data: data}); err != nil {
		return nil, err
	}

	// Both libraries work on paths, so the upload goes through a temp file
	// that is removed on every return path.
	tmp, err := os.CreateTemp(p.TempDir, "pdftrans-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	validateErr := validateStructure(tmpPath)
	if validateErr != nil && isPasswordError(validateErr) {
		return nil, &ExtractionError{Filename: filename, Encrypted: true, Err: validateErr}
	}

	texts, err := extractPDFText(tmpPath)
	if errors.Is(err, pdflib.ErrInvalidPassword) {
		return nil, &ExtractionError{Filename: filename, Encrypted: true, Err: err}
	}
	if (err != nil || blank(texts)) && p.FallbackPdftotext {
		if alt, altErr := extractPdftotext(tmpPath); altErr == nil {
			texts, err = alt, nil
		}
	}
	if err != nil {
		if validateErr != nil {
			return nil, &FileFormatError{Filename: filename, Reason: "damaged PDF structure", Err: validateErr}
		}
		return nil, &ExtractionError{Filename: filename, Err: err}
	}

	var pages []document.Page
	for i, text := range texts {
		text = normalizePageText(text)
		if text == "" {
			continue
		}
		pages = append(pages, document.Page{
			Index:  len(pages),
			Number: i + 1,
			Text:   text,
			Source: filename,
		})
	}
	if len(pages) == 0 {
		return nil, &ExtractionError{Filename: filename, Err: ErrNoText}
	}
	return pages, nil
}

func validateStructure(path string) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.ValidateFile(path, conf)
}

func isPasswordError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "password")
}

// extractPDFText returns one string per page, empty for pages without text.
func extractPDFText(path string) (texts []string, err error) {
	// ledongthuc/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			texts, err = nil, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	texts = make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		texts[i-1] = text
	}
	return texts, nil
}

func extractPdftotext(path string) ([]string, error) {
	cmd := exec.Command("pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	pages := strings.Split(string(out), "\f")
	// pdftotext terminates the last page with a form feed too.
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages, nil
}

// normalizePageText composes decomposed characters (Hangul jamo, combining
// accents) that PDF text layers often emit, and trims surrounding space.
func normalizePageText(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}

func blank(texts []string) bool {
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			return false
		}
	}
	return true
}
