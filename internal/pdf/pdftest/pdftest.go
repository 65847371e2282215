// Package pdftest builds small, valid PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
)

// Page is the size of one blank page in points.
type Page struct {
	Width  int
	Height int
}

// Blank returns a PDF with one blank page per entry, with a correct xref
// table so no repair pass is needed when opening it.
func Blank(pages ...Page) []byte {
	if len(pages) == 0 {
		pages = []Page{{Width: 200, Height: 200}}
	}

	var objects []string
	objects = append(objects, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := new(bytes.Buffer)
	for i := range pages {
		if i > 0 {
			kids.WriteByte(' ')
		}
		fmt.Fprintf(kids, "%d 0 R", i+3)
	}
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids.String(), len(pages)))

	for _, p := range pages {
		objects = append(objects, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << >> >>", p.Width, p.Height))
	}

	buf := new(bytes.Buffer)
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return buf.Bytes()
}
