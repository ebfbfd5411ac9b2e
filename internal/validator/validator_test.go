package validator

import (
	"strings"
	"testing"
)

type sample struct {
	Type  string `json:"type" validate:"required,oneof=a b"`
	Index *int   `json:"index" validate:"omitempty,min=0"`
}

func TestStructTranslatesUsingJSONNames(t *testing.T) {
	fields := Struct(&sample{})
	if len(fields) != 1 {
		t.Fatalf("fields = %v, want one error", fields)
	}
	for k, msg := range fields {
		if !strings.HasSuffix(k, "type") {
			t.Errorf("field key %q should use the json name", k)
		}
		if !strings.Contains(msg, "required") {
			t.Errorf("message %q should mention required", msg)
		}
	}
}

func TestDecode(t *testing.T) {
	var s sample
	if fields := Decode([]byte(`{"type":"a","index":2}`), &s); fields != nil {
		t.Fatalf("valid payload rejected: %v", fields)
	}
	if s.Index == nil || *s.Index != 2 {
		t.Errorf("index not decoded: %+v", s)
	}

	if fields := Decode([]byte(`{"type":"z"}`), &s); fields == nil {
		t.Error("oneof violation accepted")
	}
	if fields := Decode([]byte(`{`), &s); fields["detail"] == "" {
		t.Errorf("syntax error should land in detail, got %v", fields)
	}
}

func TestErrFlattensSorted(t *testing.T) {
	if Err(nil) != nil {
		t.Error("Err(nil) should be nil")
	}
	err := Err(map[string]string{"b": "two", "a": "one"})
	if err == nil || err.Error() != "validation failed: a: one; b: two" {
		t.Errorf("Err = %v", err)
	}
}

func TestVar(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"42", true},
		{"", false},
		{"42; DROP", false},
	}
	for _, tt := range tests {
		if err := Var(tt.value, "required,numeric"); (err == nil) != tt.ok {
			t.Errorf("Var(%q) err = %v, want ok=%v", tt.value, err, tt.ok)
		}
	}
}
