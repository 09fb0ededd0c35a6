package semver

import "testing"

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name    string
		version string
		rng     string
		want    bool
		wantErr bool
	}{
		{"empty range", "1.0.0", "", true, false},
		{"major match", "1.4.2", "1", true, false},
		{"major mismatch", "2.0.0", "1", false, false},
		{"caret", "1.4.2", "^1.2.0", true, false},
		{"caret below", "1.1.0", "^1.2.0", false, false},
		{"comparison", "3.0.0", ">=2.0.0 <4.0.0", true, false},
		{"bad version", "1.x", "^1", false, true},
		{"bad range", "1.0.0", "foo", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Satisfies(tt.version, tt.rng)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Satisfies(%q, %q) expected error", tt.version, tt.rng)
				}
				return
			}
			if err != nil {
				t.Fatalf("Satisfies(%q, %q) unexpected error: %v", tt.version, tt.rng, err)
			}
			if got != tt.want {
				t.Errorf("Satisfies(%q, %q) = %v, want %v", tt.version, tt.rng, got, tt.want)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	if err := Require("api", "1.0.0", "^1"); err != nil {
		t.Errorf("Require unexpected error: %v", err)
	}
	if err := Require("api", "1.0.0", "^2"); err == nil {
		t.Error("Require expected mismatch error")
	}
}

func TestNewer(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1.2.0", "1.1.9", true},
		{"1.1.9", "1.2.0", false},
		{"1.0.0", "1.0.0", false},
		{"1.0.0", "garbage", true},
		{"garbage", "1.0.0", false},
	}
	for _, tt := range tests {
		if got := Newer(tt.a, tt.b); got != tt.want {
			t.Errorf("Newer(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
