// Package logging wires up the shared logrus logger used by every core
// subsystem, field-scoped per component the way the teacher scopes its
// logrus calls per file (network, peer management, bootstrap, ...).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.SetOutput(os.Stderr)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	root.SetLevel(logrus.InfoLevel)
}

// SetLevel parses a level name (e.g. "debug", "info", "warn") and applies
// it to the root logger, falling back to Info on an unparseable value.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		root.Warnf("logging: unknown level %q, defaulting to info", level)
		lvl = logrus.InfoLevel
	}
	root.SetLevel(lvl)
}

// For returns a field-scoped logger for the named component, e.g.
// logging.For("overlay").Infof("bootstrap complete").
func For(component string) *logrus.Entry {
	return root.WithField("component", component)
}

// Root returns the underlying logrus logger, for callers (e.g. cmd
// wiring) that need to attach hooks or output files.
func Root() *logrus.Logger { return root }
