package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/observability"
)

// Image formats supported by the Converter.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// ConverterConfig controls how pages are encoded.
type ConverterConfig struct {
	Format      string // png or jpeg
	JPEGQuality int
	MaxPages    int // 0 means unlimited
}

// Converter implements domain.Rasterizer using go-fitz (MuPDF).
type Converter struct {
	cfg       ConverterConfig
	validator *Validator
	logger    *observability.Logger
}

// NewConverter creates a new PDF converter instance
func NewConverter(cfg ConverterConfig, logger *observability.Logger) *Converter {
	if cfg.Format == "" {
		cfg.Format = FormatPNG
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 85
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Converter{
		cfg:       cfg,
		validator: NewValidator(),
		logger:    logger,
	}
}

// Rasterize renders every page of an in-memory PDF at the given DPI.
// The MuPDF document is closed before returning and nothing touches disk.
func (c *Converter) Rasterize(ctx context.Context, data []byte, dpi int) ([]domain.PageImage, error) {
	if err := c.validator.ValidateDPI(dpi); err != nil {
		return nil, err
	}
	if err := c.validator.ValidatePDFBytes(data); err != nil {
		return nil, err
	}
	if err := c.validator.ValidateQuality(c.cfg.JPEGQuality); err != nil {
		return nil, err
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ConversionError("Failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.ValidationError("PDF has no pages", nil)
	}
	if c.cfg.MaxPages > 0 && pageCount > c.cfg.MaxPages {
		return nil, domain.ValidationError(fmt.Sprintf("PDF has %d pages, limit is %d", pageCount, c.cfg.MaxPages), nil)
	}

	images := make([]domain.PageImage, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, domain.CancelledError("rasterization cancelled", ctx.Err())
		default:
		}

		img, err := doc.ImageDPI(pageNum, float64(dpi))
		if err != nil {
			return nil, domain.ConversionError(fmt.Sprintf("Failed to render page %d", pageNum+1), err)
		}

		encoded, mimeType, err := c.encode(img)
		if err != nil {
			return nil, domain.ConversionError(fmt.Sprintf("Failed to encode page %d", pageNum+1), err)
		}

		bounds := img.Bounds()
		images = append(images, domain.PageImage{
			Index:    pageNum,
			Data:     encoded,
			MIMEType: mimeType,
			Width:    bounds.Dx(),
			Height:   bounds.Dy(),
		})
	}

	c.logger.Info().Int("pages", len(images)).Int("dpi", dpi).Str("format", c.cfg.Format).Msg("PDF rasterized")

	return images, nil
}

func (c *Converter) encode(img image.Image) ([]byte, string, error) {
	var buf bytes.Buffer
	switch c.cfg.Format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.cfg.JPEGQuality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	}
}
