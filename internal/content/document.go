// Package content models the rich post body and turns it into the plain
// text every platform caption is built from.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Node is either a Text leaf or a Block with children.
type Node interface {
	node()
}

type Text struct {
	Value string
}

type Block struct {
	Kind     string
	Children []Node
}

func (Text) node()  {}
func (Block) node() {}

// Document is the stored post body. A nil Root is an empty body.
type Document struct {
	Root Node
}

// NewDocument builds a doc of one paragraph per argument.
func NewDocument(paragraphs ...string) Document {
	children := make([]Node, 0, len(paragraphs))
	for _, p := range paragraphs {
		children = append(children, Block{Kind: "paragraph", Children: []Node{Text{Value: p}}})
	}
	return Document{Root: Block{Kind: "doc", Children: children}}
}

func (d Document) IsEmpty() bool {
	return strings.TrimSpace(d.PlainText()) == ""
}

// PlainText flattens the document. Inline texts of a block concatenate,
// nested blocks are separated by newlines and the result is trimmed.
func (d Document) PlainText() string {
	if d.Root == nil {
		return ""
	}
	return strings.TrimSpace(flatten(d.Root))
}

func flatten(n Node) string {
	switch v := n.(type) {
	case Text:
		return v.Value
	case Block:
		var (
			parts  []string
			inline strings.Builder
			open   bool
		)
		for _, child := range v.Children {
			switch c := child.(type) {
			case Text:
				inline.WriteString(c.Value)
				open = true
			case Block:
				if open {
					parts = append(parts, inline.String())
					inline.Reset()
					open = false
				}
				parts = append(parts, flatten(c))
			}
		}
		if open {
			parts = append(parts, inline.String())
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// Caption joins a title and a body with a blank line. Either may be empty.
func Caption(title string, body Document) string {
	title = strings.TrimSpace(title)
	text := body.PlainText()
	switch {
	case title == "":
		return text
	case text == "":
		return title
	default:
		return title + "\n\n" + text
	}
}

// Truncate limits s to max runes. Longer strings keep max-1 runes followed
// by an ellipsis.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " \n") + "…"
}

type wireNode struct {
	Type    string            `json:"type,omitempty"`
	Text    *string           `json:"text,omitempty"`
	Content []json.RawMessage `json:"content,omitempty"`
}

// UnmarshalJSON accepts the editor's {type, text, content} tree, a bare
// string, an array of nodes, or null.
func (d *Document) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		d.Root = nil
		return nil
	}
	n, err := decodeNode(data)
	if err != nil {
		return err
	}
	d.Root = n
	return nil
}

func decodeNode(data []byte) (Node, error) {
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return Text{Value: s}, nil
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, err
		}
		children, err := decodeChildren(raws)
		if err != nil {
			return nil, err
		}
		return Block{Kind: "doc", Children: children}, nil
	case '{':
		var w wireNode
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		switch {
		case w.Type == "hardBreak":
			return Text{Value: "\n"}, nil
		case w.Text != nil:
			return Text{Value: *w.Text}, nil
		}
		children, err := decodeChildren(w.Content)
		if err != nil {
			return nil, err
		}
		kind := w.Type
		if kind == "" {
			kind = "doc"
		}
		return Block{Kind: kind, Children: children}, nil
	default:
		return nil, fmt.Errorf("content: unexpected body token %q", data[0])
	}
}

func decodeChildren(raws []json.RawMessage) ([]Node, error) {
	children := make([]Node, 0, len(raws))
	for _, raw := range raws {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		child, err := decodeNode(raw)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.Root == nil {
		return []byte("null"), nil
	}
	return json.Marshal(encodeNode(d.Root))
}

func encodeNode(n Node) any {
	switch v := n.(type) {
	case Text:
		return map[string]any{"type": "text", "text": v.Value}
	case Block:
		content := make([]any, 0, len(v.Children))
		for _, c := range v.Children {
			content = append(content, encodeNode(c))
		}
		return map[string]any{"type": v.Kind, "content": content}
	}
	return nil
}
