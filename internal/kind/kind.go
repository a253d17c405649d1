// Package kind describes the five content kinds that can be mirrored offline
// and the per-kind payload mapping used for titles, validation and size
// estimation.
package kind

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names a mirrored content kind.
type Kind string

const (
	Document   Kind = "document"
	Vocabulary Kind = "vocabulary"
	Note       Kind = "note"
	Highlight  Kind = "highlight"
	Review     Kind = "review"
)

// All lists every supported kind in display order.
var All = []Kind{Document, Vocabulary, Note, Highlight, Review}

// Payload is the kind-specific body of an offline item.
type Payload map[string]any

// Spec maps a kind's payload onto the generic item fields.
type Spec struct {
	Kind Kind
	// TitleField is the payload key used as the item title when none is set.
	TitleField string
	// SizeField, if set, holds a real byte size in the payload.
	SizeField string
	// ContentField, if set, holds text whose byte length is the size.
	ContentField string
	// EstimatedSize is used when neither SizeField nor ContentField yields a size.
	EstimatedSize int64
	// Required payload keys for reconciliation input.
	Required []string
}

var specs = map[Kind]Spec{
	Document: {
		Kind:          Document,
		TitleField:    "title",
		SizeField:     "file_size",
		EstimatedSize: 1 << 20,
		Required:      []string{"title"},
	},
	Vocabulary: {
		Kind:          Vocabulary,
		TitleField:    "word",
		EstimatedSize: 512,
		Required:      []string{"word"},
	},
	Note: {
		Kind:          Note,
		TitleField:    "title",
		ContentField:  "content",
		EstimatedSize: 2 << 10,
	},
	Highlight: {
		Kind:          Highlight,
		TitleField:    "text",
		EstimatedSize: 256,
		Required:      []string{"text"},
	},
	Review: {
		Kind:          Review,
		TitleField:    "item_id",
		EstimatedSize: 128,
	},
}

// Parse converts a string such as "Note" or "notes" into a Kind.
func Parse(s string) (Kind, error) {
	k := Kind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if k == "vocabularie" {
		k = Vocabulary
	}
	if _, ok := specs[k]; !ok {
		return "", fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	_, ok := specs[k]
	return ok
}

func (k Kind) String() string { return string(k) }

// SpecFor returns the mapping for k. ok is false for unknown kinds.
func SpecFor(k Kind) (Spec, bool) {
	s, ok := specs[k]
	return s, ok
}

// Validate checks that p carries every field required for k.
func (s Spec) Validate(p Payload) error {
	for _, f := range s.Required {
		v, ok := p[f]
		if !ok || v == nil {
			return fmt.Errorf("%s payload is missing %q", s.Kind, f)
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			return fmt.Errorf("%s payload field %q is empty", s.Kind, f)
		}
	}
	return nil
}

// Title returns the display title carried in p, if any.
func (s Spec) Title(p Payload) string {
	if s.TitleField == "" {
		return ""
	}
	switch v := p[s.TitleField].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Size estimates the stored byte size of an item with payload p.
func (s Spec) Size(p Payload) int64 {
	if s.SizeField != "" {
		if n, ok := toInt64(p[s.SizeField]); ok && n > 0 {
			return n
		}
	}
	if s.ContentField != "" {
		if str, ok := p[s.ContentField].(string); ok && str != "" {
			return int64(len(str))
		}
	}
	return s.EstimatedSize
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
