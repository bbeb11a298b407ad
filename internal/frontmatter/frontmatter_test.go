package frontmatter

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	doc, err := Parse([]byte("---\nkey: value\n---\nBody text"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{"key": "value"}
	if !reflect.DeepEqual(doc.Frontmatter, want) {
		t.Errorf("frontmatter = %#v, want %#v", doc.Frontmatter, want)
	}
	if doc.Body != "Body text" {
		t.Errorf("body = %q, want %q", doc.Body, "Body text")
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	doc, err := Parse([]byte("\n  # Just a heading\nSome text.\n\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(doc.Frontmatter, map[string]any{}) {
		t.Errorf("frontmatter = %#v, want empty map", doc.Frontmatter)
	}
	if doc.Body != "# Just a heading\nSome text." {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestParse_BodyMarkersPreserved(t *testing.T) {
	input := "---\ntitle: x\n---\nintro\n---\noutro\n---\n"
	doc, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Body != "intro\n---\noutro\n---" {
		t.Errorf("body = %q", doc.Body)
	}
	if !reflect.DeepEqual(doc.Frontmatter, map[string]any{"title": "x"}) {
		t.Errorf("frontmatter = %#v", doc.Frontmatter)
	}
}

func TestParse_InlineDashesAreNotMarkers(t *testing.T) {
	input := "---\na: 1\nb: ----\n---\nsee --- here\n"
	doc, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Body != "see --- here" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestParse_EmptyBlock(t *testing.T) {
	for _, input := range []string{"---\n---\nbody", "---\n\n  \n---\nbody", "---\n~\n---\nbody"} {
		doc, err := Parse([]byte(input))
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", input, err)
		}
		if !reflect.DeepEqual(doc.Frontmatter, map[string]any{}) {
			t.Errorf("%q: frontmatter = %#v, want empty map", input, doc.Frontmatter)
		}
		if doc.Body != "body" {
			t.Errorf("%q: body = %q", input, doc.Body)
		}
	}
}

func TestParse_UnclosedMarker(t *testing.T) {
	input := "---\ntitle: never closed\nbody"
	doc, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(doc.Frontmatter, map[string]any{}) {
		t.Errorf("frontmatter = %#v", doc.Frontmatter)
	}
	if doc.Body != input {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestParse_TextBeforeMarker(t *testing.T) {
	doc, err := Parse([]byte("Intro\n---\nkey: value\n---\nBody\n---\nmore"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(doc.Frontmatter, map[string]any{"key": "value"}) {
		t.Errorf("frontmatter = %#v", doc.Frontmatter)
	}
	if doc.Body != "Body\n---\nmore" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestParse_SingleMarkerAfterText(t *testing.T) {
	input := "Intro\n---\nno closing marker"
	doc, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(doc.Frontmatter, map[string]any{}) {
		t.Errorf("frontmatter = %#v", doc.Frontmatter)
	}
	if doc.Body != input {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestParse_CRLF(t *testing.T) {
	doc, err := Parse([]byte("---\r\nkey: value\r\n---\r\nBody\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(doc.Frontmatter, map[string]any{"key": "value"}) {
		t.Errorf("frontmatter = %#v", doc.Frontmatter)
	}
	if doc.Body != "Body" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestParse_NonMappingFrontmatter(t *testing.T) {
	doc, err := Parse([]byte("---\n- a\n- b\n---\nbody"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []any{"a", "b"}
	if !reflect.DeepEqual(doc.Frontmatter, want) {
		t.Errorf("frontmatter = %#v, want %#v", doc.Frontmatter, want)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("---\nkey: [unclosed\n---\nBody\n"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "frontmatter") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParse_NonStringKeys(t *testing.T) {
	doc, err := Parse([]byte("---\n1: one\n2024: done\ntrue: x\n~: nil\nnested:\n  3.5: half\n  list:\n    - 7: seven\n---\nBody"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{
		"1":    "one",
		"2024": "done",
		"true": "x",
		"":     "nil",
		"nested": map[string]any{
			"3.5":  "half",
			"list": []any{map[string]any{"7": "seven"}},
		},
	}
	if !reflect.DeepEqual(doc.Frontmatter, want) {
		t.Errorf("frontmatter = %#v, want %#v", doc.Frontmatter, want)
	}
	if _, err := json.Marshal(doc.Frontmatter); err != nil {
		t.Errorf("frontmatter should encode as JSON: %v", err)
	}
}

func TestParse_TimestampsStayText(t *testing.T) {
	doc, err := Parse([]byte("---\ndue: 2024-10-01\nat: 2024-10-01T12:30:00Z\nquoted: \"2024-10-02\"\ndates: [2024-01-01]\n---\nBody"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{
		"due":    "2024-10-01",
		"at":     "2024-10-01T12:30:00Z",
		"quoted": "2024-10-02",
		"dates":  []any{"2024-01-01"},
	}
	if !reflect.DeepEqual(doc.Frontmatter, want) {
		t.Errorf("frontmatter = %#v, want %#v", doc.Frontmatter, want)
	}
}

func TestParse_AnchorsAndMerge(t *testing.T) {
	doc, err := Parse([]byte("---\nbase: &b\n  status: open\n  owner: me\ntask:\n  <<: *b\n  status: done\ncopy: *b\n---\nBody"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fm := doc.Frontmatter.(map[string]any)
	task := fm["task"].(map[string]any)
	if task["status"] != "done" || task["owner"] != "me" {
		t.Errorf("task = %#v", task)
	}
	if !reflect.DeepEqual(fm["copy"], map[string]any{"status": "open", "owner": "me"}) {
		t.Errorf("copy = %#v", fm["copy"])
	}
}
