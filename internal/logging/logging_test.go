package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLevelParsesValidLevel(t *testing.T) {
	SetLevel("debug")
	if Root().GetLevel() != logrus.DebugLevel {
		t.Fatalf("got %v, want DebugLevel", Root().GetLevel())
	}
	SetLevel("info")
}

func TestSetLevelFallsBackToInfoOnUnparseable(t *testing.T) {
	SetLevel("not-a-level")
	if Root().GetLevel() != logrus.InfoLevel {
		t.Fatalf("got %v, want InfoLevel", Root().GetLevel())
	}
}

func TestForScopesComponentField(t *testing.T) {
	entry := For("overlay")
	if entry.Data["component"] != "overlay" {
		t.Fatalf("got %v, want %q", entry.Data["component"], "overlay")
	}
}
