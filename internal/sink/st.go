// Package sink writes generated artifacts: as IEC 61131-3 .st files or as a
// single PLCopen TC6 XML project for import into the engineering tool.
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/damischa1/topo2st/internal/emit"
)

// STFiles writes one .st file per artifact under {Dir}/{Folder}/{Name}.st,
// or directly under Dir when Flat is set.
//
// GVLs are wrapped in a CONFIGURATION block as required by trust-LSP
// (IEC 61131-3 Ed.3).
type STFiles struct {
	Dir  string
	Flat bool

	log     logrus.FieldLogger
	written []string
}

// NewSTFiles returns a sink rooted at dir.
func NewSTFiles(dir string, flat bool, log logrus.FieldLogger) *STFiles {
	return &STFiles{Dir: dir, Flat: flat, log: orDiscard(log)}
}

// Put writes one artifact.
func (s *STFiles) Put(a emit.Artifact) error {
	if a.Name == "" {
		return errors.Errorf("%s artifact without a name", a.Kind)
	}
	rel := a.Name + ".st"
	if !s.Flat && a.Folder != "" {
		rel = filepath.Join(filepath.FromSlash(strings.Trim(a.Folder, "/")), rel)
	}
	path := filepath.Join(s.Dir, rel)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create dir for %s", path)
	}
	if err := os.WriteFile(path, []byte(Source(a)), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	s.written = append(s.written, path)
	s.log.WithFields(logrus.Fields{"kind": a.Kind.String(), "path": path}).Debug("artifact written")
	return nil
}

// Close implements generator.Sink.
func (s *STFiles) Close() error { return nil }

// Written returns the paths written so far.
func (s *STFiles) Written() []string {
	out := make([]string, len(s.written))
	copy(out, s.written)
	return out
}

// Source returns the .st file content of an artifact.
func Source(a emit.Artifact) string {
	text := strings.TrimRight(a.Text, "\n")
	if a.Kind != emit.KindGVL {
		return text + "\n"
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(text)), "CONFIGURATION") {
		return strings.TrimSpace(text) + "\n"
	}
	return fmt.Sprintf("// trust-LSP wrapper: the compiler extracts VAR_GLOBAL automatically\nCONFIGURATION %s\n%s\nEND_CONFIGURATION\n",
		a.Name, emit.IndentBlock(text, "    "))
}

func orDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log != nil {
		return log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
