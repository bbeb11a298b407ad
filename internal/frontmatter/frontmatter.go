// Package frontmatter separates a leading YAML frontmatter block from a Markdown body.
package frontmatter

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const marker = "---"

// Document is the result of parsing one Markdown file.
type Document struct {
	// Frontmatter is the decoded YAML value. It is never nil: a missing,
	// empty or null block decodes to an empty map.
	Frontmatter any
	// Body is the text after the closing marker, trimmed of surrounding whitespace.
	Body string
}

// Parse scans data line by line. The first marker line ("---") opens a
// frontmatter block and the next marker line closes it; text before the
// opening marker is dropped. Any later marker lines belong to the body and are
// kept verbatim. Without a complete marker pair the whole input is body.
func Parse(data []byte) (*Document, error) {
	text := string(data)

	block, body, ok := split(text)
	if !ok {
		return &Document{Frontmatter: map[string]any{}, Body: strings.TrimSpace(text)}, nil
	}

	fm, err := decode(block)
	if err != nil {
		return nil, err
	}
	return &Document{Frontmatter: fm, Body: strings.TrimSpace(body)}, nil
}

// split returns the raw YAML block and the remaining body. ok is false when
// the text has no marker line or the first one is never closed.
func split(text string) (block, body string, ok bool) {
	lines := strings.SplitAfter(text, "\n")

	open := 0
	for open < len(lines) && !isMarker(lines[open]) {
		open++
	}
	if open == len(lines) {
		return "", "", false
	}

	for i := open + 1; i < len(lines); i++ {
		if isMarker(lines[i]) {
			return strings.Join(lines[open+1:i], ""), strings.Join(lines[i+1:], ""), true
		}
	}
	return "", "", false
}

func decode(block string) (any, error) {
	if strings.TrimSpace(block) == "" {
		return map[string]any{}, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return nil, fmt.Errorf("frontmatter: decode yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return map[string]any{}, nil
	}
	v, err := value(doc.Content[0])
	if err != nil {
		return nil, fmt.Errorf("frontmatter: decode yaml: %w", err)
	}
	if v == nil {
		return map[string]any{}, nil
	}
	return v, nil
}

// value converts a node into plain Go values that encode as JSON: mapping
// keys become strings and timestamps keep their source text.
func value(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return value(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := value(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		var merges []*yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.ShortTag() == "!!merge" {
				merges = append(merges, v)
				continue
			}
			key, err := keyString(k)
			if err != nil {
				return nil, err
			}
			if out[key], err = value(v); err != nil {
				return nil, err
			}
		}
		for _, m := range merges {
			if err := merge(out, m); err != nil {
				return nil, err
			}
		}
		return out, nil
	case yaml.ScalarNode:
		if n.ShortTag() == "!!timestamp" {
			return n.Value, nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, nil
}

// merge applies a "<<" value; explicit keys win over merged ones.
func merge(dst map[string]any, n *yaml.Node) error {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	if n.Kind == yaml.SequenceNode {
		for _, c := range n.Content {
			if err := merge(dst, c); err != nil {
				return err
			}
		}
		return nil
	}
	v, err := value(n)
	if err != nil {
		return err
	}
	src, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("line %d: merge value is not a mapping", n.Line)
	}
	for k, sv := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = sv
		}
	}
	return nil
}

func keyString(k *yaml.Node) (string, error) {
	if k.Kind == yaml.ScalarNode {
		switch k.ShortTag() {
		case "!!str", "!!timestamp":
			return k.Value, nil
		case "!!null":
			return "", nil
		}
	}
	v, err := value(k)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

func isMarker(line string) bool {
	return strings.TrimRight(line, "\r\n") == marker
}
