package version

import "testing"

func TestValuePrefersLinkerVersion(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "v9.9.9"
	if got := Value(); got != "v9.9.9" {
		t.Fatalf("expected linker version, got %s", got)
	}

	Version = ""
	if got := Value(); got == "" {
		t.Fatalf("expected a fallback version")
	}
}
