package variables

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Apply replaces every visible body text node whose trimmed text equals one
// of the sample values with {{key}}. At most one replacement happens per
// node; keys are tried in sorted order.
func Apply(htmlDoc string, sample map[string]any) (string, int, error) {
	root, err := html.Parse(strings.NewReader(htmlDoc))
	if err != nil {
		return "", 0, fmt.Errorf("parse html: %w", err)
	}

	body := findBody(root)
	if body == nil {
		return htmlDoc, 0, nil
	}

	keys := make([]string, 0, len(sample))
	values := make(map[string]string, len(sample))
	for k, v := range sample {
		s, ok := scalarText(v)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		keys = append(keys, k)
		values[k] = strings.TrimSpace(s)
	}
	sort.Strings(keys)

	replaced := 0
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				for _, k := range keys {
					if values[k] == text {
						n.Data = "{{" + k + "}}"
						replaced++
						break
					}
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(body)

	var sb strings.Builder
	if err := html.Render(&sb, root); err != nil {
		return "", 0, fmt.Errorf("render html: %w", err)
	}
	return sb.String(), replaced, nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// scalarText renders a JSON scalar the way it would appear in text.
func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return fmt.Sprintf("%v", t), true
	case bool:
		return fmt.Sprintf("%t", t), true
	default:
		return "", false
	}
}
