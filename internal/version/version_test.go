package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	v, c, d := Info()
	if v != Version || c != GitCommit || d != BuildDate {
		t.Errorf("Info() = %q %q %q", v, c, d)
	}
}

func TestString(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "1.2.3"

	s := String()
	if !strings.HasPrefix(s, "1.2.3 (commit: ") {
		t.Errorf("String() = %q", s)
	}
}
