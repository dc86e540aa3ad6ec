package profile

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work", "a", "user_2", "lab-1"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Main", "has space", "a/b", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestPathsNestUnderProfileDir(t *testing.T) {
	dir := Dir("work")
	for _, p := range []string{CachePath("work"), LockPath("work"), LogPath("work")} {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("%q not under %q", p, dir)
		}
	}
}

func TestResolveFlagWins(t *testing.T) {
	if got := Resolve("lab"); got != "lab" {
		t.Errorf("Resolve(lab) = %q", got)
	}
}
