package semver

import (
	"reflect"
	"testing"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantTarget string
		wantRange  string
		wantErr    bool
	}{
		{name: "no version", input: "common.toml", wantTarget: "common.toml"},
		{name: "major only", input: "common.toml@1", wantTarget: "common.toml", wantRange: "1"},
		{name: "exact", input: "common.toml@1.2.0", wantTarget: "common.toml", wantRange: "1.2.0"},
		{name: "caret", input: " lib/x.toml@^1.2.0 ", wantTarget: "lib/x.toml", wantRange: "^1.2.0"},
		{name: "empty range", input: "x.toml@", wantErr: true},
		{name: "empty target", input: "@1", wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRef(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRef(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRef(%q) unexpected error: %v", tt.input, err)
			}
			if got.Target != tt.wantTarget {
				t.Errorf("Target = %q, want %q", got.Target, tt.wantTarget)
			}
			if got.Range != tt.wantRange {
				t.Errorf("Range = %q, want %q", got.Range, tt.wantRange)
			}
		})
	}
}

func TestIsMajorOnly(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"3", true},
		{"10", true},
		{"3.2", false},
		{"^3", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMajorOnly(tt.input); got != tt.want {
			t.Errorf("IsMajorOnly(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestIsExactVersion(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1.2.3", true},
		{"1.2.3-beta.1", true},
		{"1.2.3+build.5", true},
		{"1.2", false},
		{"^1.2.3", false},
	}
	for _, tt := range tests {
		if got := IsExactVersion(tt.input); got != tt.want {
			t.Errorf("IsExactVersion(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSplitPath(t *testing.T) {
	got, err := SplitPath("math.add_two")
	if err != nil {
		t.Fatalf("SplitPath unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"math", "add_two"}) {
		t.Errorf("SplitPath = %v", got)
	}

	for _, bad := range []string{"", "a..b", "1a", "a.b c", "a.$"} {
		if _, err := SplitPath(bad); err == nil {
			t.Errorf("SplitPath(%q) expected error", bad)
		}
	}
}
