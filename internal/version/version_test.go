package version

import (
	"strings"
	"testing"
)

func TestCurrent(t *testing.T) {
	build := Current()
	if build.Version == "" {
		t.Error("build version should not be empty")
	}
	if build.Commit == "" {
		t.Error("build commit should not be empty")
	}
	if build.Date == "" {
		t.Error("build date should not be empty")
	}
}

func TestString(t *testing.T) {
	s := String()
	if s == "" {
		t.Fatal("String should not return an empty string")
	}
	for _, field := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, field) {
			t.Errorf("String output should contain %q, got %q", field, s)
		}
	}
}

func TestStringMatchesCurrent(t *testing.T) {
	build := Current()
	s := String()

	if !strings.Contains(s, "version="+build.Version) {
		t.Errorf("String (%q) does not carry build version %q", s, build.Version)
	}
	if !strings.Contains(s, "commit="+build.Commit) {
		t.Errorf("String (%q) does not carry build commit %q", s, build.Commit)
	}
}
