// Package pdf rasterizes PDF documents into page images.
package pdf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/pdf2html/internal/domain"
)

const maxFileSize = 100 * 1024 * 1024 // 100MB

var pdfMagic = []byte("%PDF-")

// Validator provides input validation for PDF files
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePDFPath validates that a file path is valid and points to a PDF
func (v *Validator) ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	if info.Size() > maxFileSize {
		return domain.ValidationError(fmt.Sprintf("PDF file is too large (%d MB)", info.Size()/(1024*1024)), nil)
	}

	return nil
}

// ReadPDFFile validates path and returns the file contents.
func (v *Validator) ReadPDFFile(path string) ([]byte, error) {
	if err := v.ValidatePDFPath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("cannot read file: %s", path), err)
	}
	return data, nil
}

// ValidatePDFBytes checks the PDF header signature.
func (v *Validator) ValidatePDFBytes(data []byte) error {
	if len(data) == 0 {
		return domain.ValidationError("PDF data is empty", nil)
	}
	// Some producers emit a few bytes of junk before the header.
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, pdfMagic) {
		return domain.ValidationError("data is not a PDF document", nil)
	}
	return nil
}

// ValidateDPI validates the rasterization resolution
func (v *Validator) ValidateDPI(dpi int) error {
	if dpi < domain.MinDPI || dpi > domain.MaxDPI {
		return domain.ValidationError(fmt.Sprintf("dpi must be between %d and %d, got %d", domain.MinDPI, domain.MaxDPI, dpi), nil)
	}
	return nil
}

// ValidateQuality validates image quality parameter
func (v *Validator) ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return domain.ValidationError(fmt.Sprintf("quality must be between 1 and 100, got %d", quality), nil)
	}
	return nil
}
