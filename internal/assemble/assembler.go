// Package assemble merges page outcomes into one HTML document.
package assemble

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/spherical/pdf2html/internal/domain"
)

// DefaultTitle is used when no title is supplied.
const DefaultTitle = "Converted Document"

// Assembler restores page order and produces the final document. It is
// purely local computation and holds no state between calls.
type Assembler struct {
	title string
}

// New creates an Assembler that writes title into the document head.
func New(title string) *Assembler {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	return &Assembler{title: title}
}

// Assemble sorts outcomes by page index and emits one frame per page: the
// fragment verbatim for succeeded pages, a failure placeholder otherwise.
// The input slice is not modified.
func (a *Assembler) Assemble(outcomes []domain.PageOutcome, layout domain.LayoutMode) domain.MergedDocument {
	ordered := make([]domain.PageOutcome, len(outcomes))
	copy(ordered, outcomes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	doc := domain.MergedDocument{PageCount: len(ordered)}

	var body strings.Builder
	for _, out := range ordered {
		page := out.Index + 1
		fmt.Fprintf(&body, "<div class=\"page-frame\" data-page=\"%d\">\n", page)

		if out.Succeeded() {
			doc.SucceededCount++
			body.WriteString(out.Fragment)
		} else {
			doc.FailedCount++
			failure := failureOf(out)
			doc.Failures = append(doc.Failures, failure)
			body.WriteString(Placeholder(page, failure.Message))
		}

		body.WriteString("\n</div>\n")
	}

	doc.HTML = a.document(body.String(), layout)
	return doc
}

// Placeholder is the marker emitted in place of a failed page.
func Placeholder(page int, reason string) string {
	return fmt.Sprintf(
		`<section class="page page-error" data-page-error="%d"><p class="ocr-uncertain">[Error processing page %d: %s]</p></section>`,
		page, page, html.EscapeString(reason),
	)
}

func failureOf(out domain.PageOutcome) domain.PageFailure {
	failure := domain.PageFailure{Page: out.Index + 1, Attempts: out.Attempts}
	if out.Err != nil {
		failure.Kind = out.Err.Type
		failure.Message = out.Err.Message
	} else {
		failure.Kind = domain.ErrorTypeConversion
		failure.Message = "unknown error"
	}
	return failure
}

func (a *Assembler) document(body string, layout domain.LayoutMode) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n<head>\n")
	sb.WriteString("<meta charset=\"UTF-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(a.title))
	sb.WriteString("<style>\n")
	sb.WriteString(Stylesheet(layout))
	sb.WriteString("</style>\n</head>\n<body>\n")
	fmt.Fprintf(&sb, "<main class=\"document\" data-layout=\"%s\">\n", html.EscapeString(string(layout)))
	sb.WriteString(body)
	sb.WriteString("</main>\n</body>\n</html>\n")
	return sb.String()
}
