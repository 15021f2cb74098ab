package partjson

import (
	"encoding/json"
	"testing"
)

func TestParseCompleteObject(t *testing.T) {
	t.Parallel()
	out := Parse(`{"a":1,"b":"x"}`)
	if !json.Valid(out) {
		t.Fatalf("expected valid JSON, got %s", out)
	}
}

func TestParseTruncatedMidValue(t *testing.T) {
	t.Parallel()
	out := Parse(`{"file_path":"/a/b.go","cont`)
	if !json.Valid(out) {
		t.Fatalf("expected repaired JSON, got %s", out)
	}
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["file_path"] != "/a/b.go" {
		t.Fatalf("file_path = %v", m["file_path"])
	}
}

func TestParseTruncatedTrailingComma(t *testing.T) {
	t.Parallel()
	out := Parse(`{"a":1,`)
	if !json.Valid(out) {
		t.Fatalf("expected repaired JSON, got %s", out)
	}
}

func TestParseEmptyFragment(t *testing.T) {
	t.Parallel()
	out := Parse("")
	if string(out) != "{}" {
		t.Fatalf("Parse(\"\") = %s, want {}", out)
	}
}

func TestParseNestedArray(t *testing.T) {
	t.Parallel()
	out := Parse(`{"items":[1,2,3`)
	if !json.Valid(out) {
		t.Fatalf("expected repaired JSON, got %s", out)
	}
}
