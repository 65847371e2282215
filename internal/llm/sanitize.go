package llm

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/spherical/pdf2html/internal/domain"
)

const pageOpenTag = `<section class="page">`

var (
	leadingFence  = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \t]*\r?\n?")
	trailingFence = regexp.MustCompile("\r?\n?```\\s*$")
	doctypeTag    = regexp.MustCompile(`(?is)<!DOCTYPE[^>]*>`)
	headBlock     = regexp.MustCompile(`(?is)<head\b[^>]*>.*?</head\s*>`)
	wrapperTags   = regexp.MustCompile(`(?i)</?(?:html|body)\b[^>]*>`)
)

// voidElements never take an end tag.
var voidElements = map[atom.Atom]bool{
	atom.Area:   true,
	atom.Base:   true,
	atom.Br:     true,
	atom.Col:    true,
	atom.Embed:  true,
	atom.Hr:     true,
	atom.Img:    true,
	atom.Input:  true,
	atom.Link:   true,
	atom.Meta:   true,
	atom.Param:  true,
	atom.Source: true,
	atom.Track:  true,
	atom.Wbr:    true,
}

// ParseCompletion validates one model completion into a page fragment.
// A truncated completion is a response-shape failure.
func ParseCompletion(c *Completion, maxBytes int) (string, error) {
	if c == nil {
		return "", domain.ResponseShapeError("empty model completion", nil)
	}
	if c.FinishReason == "length" {
		return "", domain.ResponseShapeError("model output was truncated (finish_reason=length)", nil)
	}
	return Sanitize(c.Content, maxBytes)
}

// Sanitize turns raw model output into a single <section class="page">
// fragment. It is idempotent: a clean fragment comes back unchanged.
// Output whose tags do not balance is rejected.
func Sanitize(raw string, maxBytes int) (string, error) {
	s := strings.TrimSpace(raw)
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	s = doctypeTag.ReplaceAllString(s, "")
	s = headBlock.ReplaceAllString(s, "")
	s = wrapperTags.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if s == "" {
		return "", domain.ResponseShapeError("model output is empty", nil)
	}

	shape, err := inspect(s)
	if err != nil {
		return "", err
	}
	if !shape.hasElement {
		return "", domain.ResponseShapeError("model output contains no HTML element", nil)
	}

	s = normalizeSection(s, shape)

	if maxBytes > 0 && len(s) > maxBytes {
		return "", domain.ResponseShapeError(fmt.Sprintf("page fragment is %d bytes, limit is %d", len(s), maxBytes), nil)
	}
	return s, nil
}

// fragmentShape is what one tokenizer pass learns about a fragment.
type fragmentShape struct {
	hasElement bool

	// root is set when the whole fragment is a single <section> element.
	root    *html.Token
	rootRaw string
}

// inspect walks the fragment's tags with a stack. Void elements are skipped;
// any end tag that does not close the innermost open element, and any
// element left open, is a response-shape error.
func inspect(s string) (fragmentShape, error) {
	var (
		shape    fragmentShape
		stack    []string
		first    *html.Token
		firstRaw string
		tokens   int
		rootDone bool
		sole     bool
	)

	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return shape, domain.ResponseShapeError("model output could not be tokenized", err)
			}
			break
		}
		tokens++
		sole = false

		switch tt {
		case html.StartTagToken:
			// Raw before Token: Token lower-cases the buffer in place.
			raw := string(z.Raw())
			tok := z.Token()
			if tok.DataAtom != 0 {
				shape.hasElement = true
			}
			if voidElements[tok.DataAtom] {
				continue
			}
			if tokens == 1 && tok.DataAtom == atom.Section {
				first, firstRaw = &tok, raw
			}
			stack = append(stack, tok.Data)

		case html.SelfClosingTagToken:
			if z.Token().DataAtom != 0 {
				shape.hasElement = true
			}

		case html.EndTagToken:
			tok := z.Token()
			if voidElements[tok.DataAtom] {
				continue
			}
			if len(stack) == 0 || stack[len(stack)-1] != tok.Data {
				return shape, domain.ResponseShapeError(fmt.Sprintf("model output has unbalanced markup: unexpected </%s>", tok.Data), nil)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 && first != nil && !rootDone {
				rootDone, sole = true, true
			}
		}
	}

	if len(stack) > 0 {
		return shape, domain.ResponseShapeError(fmt.Sprintf("model output has unbalanced markup: <%s> is never closed", stack[len(stack)-1]), nil)
	}
	if sole {
		shape.root, shape.rootRaw = first, firstRaw
	}
	return shape, nil
}

func normalizeSection(s string, shape fragmentShape) string {
	if shape.root == nil {
		return pageOpenTag + s + "</section>"
	}
	for _, a := range shape.root.Attr {
		if a.Key == "class" && hasClass(a.Val, "page") {
			return s
		}
	}
	return pageSectionTag(shape.root.Attr) + s[len(shape.rootRaw):]
}

// pageSectionTag rebuilds a <section> start tag with "page" first in its
// class list, keeping the other attributes in order.
func pageSectionTag(attrs []html.Attribute) string {
	var b strings.Builder
	b.WriteString("<section")

	hasClassAttr := false
	for _, a := range attrs {
		if a.Key == "class" {
			hasClassAttr = true
			break
		}
	}
	if !hasClassAttr {
		b.WriteString(` class="page"`)
	}

	classDone := false
	for _, a := range attrs {
		val := a.Val
		if a.Key == "class" {
			if classDone {
				continue
			}
			classDone = true
			val = strings.TrimSpace("page " + val)
		}
		fmt.Fprintf(&b, ` %s="%s"`, a.Key, html.EscapeString(val))
	}

	b.WriteString(">")
	return b.String()
}

func hasClass(list, name string) bool {
	for _, c := range strings.Fields(list) {
		if c == name {
			return true
		}
	}
	return false
}
