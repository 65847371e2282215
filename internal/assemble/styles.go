package assemble

import (
	"strings"

	"github.com/spherical/pdf2html/internal/domain"
)

const baseCSS = `/* Base typography and layout */
body {
    font-family: system-ui, -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    line-height: 1.6;
    color: #333;
    margin: 0;
    padding: 0;
    background-color: #fff;
}

.document {
    width: min(900px, 90vw);
    margin: 24px auto;
    padding: 0 16px;
}

.page-frame {
    margin: 0 0 32px;
    page-break-after: always;
    page-break-inside: avoid;
}

.page-section {
    margin: 1em 0;
    padding: 0.5em 0;
}

h1, h2, h3, h4, h5, h6 {
    margin-top: 1.5em;
    margin-bottom: 0.5em;
    font-weight: 600;
    line-height: 1.3;
}

p {
    margin: 0 0 1em;
}

ul, ol {
    margin: 1em 0;
    padding-left: 2em;
}

table {
    border-collapse: collapse;
    width: 100%;
    margin: 1em 0;
    font-size: 0.9em;
}

th, td {
    border: 1px solid #ddd;
    padding: 8px 12px;
    text-align: left;
    vertical-align: top;
}

th {
    background-color: #f6f6f6;
    font-weight: 600;
}

img {
    max-width: 100%;
    height: auto;
}

figure {
    margin: 1em 0;
    text-align: center;
}

figcaption {
    font-size: 0.9em;
    color: #666;
    font-style: italic;
}

.ocr-uncertain {
    color: #888;
    font-style: italic;
    background-color: #f9f9f9;
    padding: 2px 4px;
    border-radius: 3px;
}

.page-error {
    border: 1px dashed #c0392b;
    background-color: #fdf2f2;
    padding: 16px;
}

.page-error .ocr-uncertain {
    color: #c0392b;
}

@media print {
    .page-frame {
        page-break-after: always;
        margin: 0;
    }

    .document {
        width: 100%;
        margin: 0;
        padding: 0;
    }
}
`

const gridCSS = `
/* Grid layout helpers */
.grid-2col {
    display: grid;
    grid-template-columns: 1fr 1fr;
    gap: 16px;
    align-items: start;
}

.grid-3col {
    display: grid;
    grid-template-columns: 1fr 1fr 1fr;
    gap: 16px;
    align-items: start;
}

@media (max-width: 768px) {
    .grid-2col,
    .grid-3col {
        grid-template-columns: 1fr;
        gap: 8px;
    }
}
`

const columnsCSS = `
/* Multi-column flow helpers */
.columns-2 {
    column-count: 2;
    column-gap: 24px;
    column-fill: balance;
}

.columns-3 {
    column-count: 3;
    column-gap: 24px;
    column-fill: balance;
}

.columns-2 h1, .columns-2 h2, .columns-2 h3,
.columns-3 h1, .columns-3 h2, .columns-3 h3 {
    break-inside: avoid;
}

@media (max-width: 768px) {
    .columns-2,
    .columns-3 {
        column-count: 1;
        column-gap: 0;
    }
}
`

// Stylesheet returns the CSS for a layout mode. Single mode carries the base
// rules only, with no multi-column classes.
func Stylesheet(mode domain.LayoutMode) string {
	var sb strings.Builder
	sb.WriteString(baseCSS)
	switch mode {
	case domain.LayoutGrid:
		sb.WriteString(gridCSS)
	case domain.LayoutColumns:
		sb.WriteString(columnsCSS)
	}
	return sb.String()
}
