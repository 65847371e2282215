package llm

import (
	"fmt"

	"github.com/spherical/pdf2html/internal/domain"
)

// SystemInstruction is sent with every page request.
const SystemInstruction = `You convert a single rendered document page into semantic HTML.

OUTPUT CONTRACT (CRITICAL):
- Return exactly one <section class="page">...</section> element containing the whole page.
- Do NOT output <html>, <head>, <body>, <!DOCTYPE> or <style> tags.
- Do NOT wrap the answer in markdown code fences.
- Do NOT add commentary before or after the HTML.

CONTENT RULES:
- Preserve reading order, headings (h1-h6), paragraphs, lists and tables.
- Reproduce tables with <table>, <thead>, <tbody>, <th> and <td>.
- Describe figures with <figure> and a short <figcaption>.
- Wrap text you cannot read confidently in <span class="ocr-uncertain">...</span>.
- Do not invent content that is not visible on the page.`

// UserPrompt returns the per-page instruction carrying the layout hint.
func UserPrompt(layout domain.LayoutMode, pageNumber int) string {
	return fmt.Sprintf("This is page %d. Convert it to HTML following the output contract.\n%s", pageNumber, layoutHint(layout))
}

func layoutHint(layout domain.LayoutMode) string {
	switch layout {
	case domain.LayoutColumns:
		return `Layout mode: columns. When the page flows text in several columns, wrap that region in <div class="columns-2"> or <div class="columns-3">.`
	case domain.LayoutSingle:
		return `Layout mode: single. Linearize every multi-column region into one column; do not use grid or column classes.`
	default:
		return `Layout mode: grid. When the page places blocks side by side, wrap them in <div class="grid-2col"> or <div class="grid-3col"> with one child per column.`
	}
}
