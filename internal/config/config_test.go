package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damischa1/topo2st/internal/generator"
)

const full = `
log:
  level: debug
  format: json
safety:
  marker: F-Module
  longPreambleMarker: "[LP]"
output:
  dir: out
  format: plcopen
  project: Line1
  flat: true
  folders:
    ethercat: Bus/EtherCAT
plugins:
  - name: Drive
    kind: struct
    link: TIID^Plugins^Drive
    inputs:
      - {name: Speed, type: INT}
    outputs:
      - {name: Setpoint, type: INT, link: TIID^Other}
  - name: Gateway
    kind: address
    inputs:
      - {name: I0, type: "ARRAY[0..3] OF BYTE"}
templates:
  EL6695:
    declaration: "{name} : FB_EL6695;"
    mapping: "{gvl}.{name}.nPort := {port};"
`

func TestParseDefaults(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, generator.DefaultOptions(), c.Options())
}

func TestParseFull(t *testing.T) {
	c, err := Parse(strings.NewReader(full))
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, FormatPLCopen, c.Output.Format)
	assert.True(t, c.Output.Flat)
	assert.Equal(t, "Bus/EtherCAT", c.Output.Folders.EtherCAT)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, "IO/Profinet", c.Output.Folders.Profinet)

	opts := c.Options()
	assert.Equal(t, "F-Module", opts.Markers.Safety)
	assert.Equal(t, "[LP]", opts.Markers.LongPreamble)

	cat, err := c.Catalog()
	require.NoError(t, err)
	assert.Equal(t, []string{"Drive", "Gateway"}, cat.PluginNames())

	drive, ok := cat.Plugin("Drive")
	require.True(t, ok)
	assert.Equal(t, generator.PluginStruct, drive.Kind)
	assert.Equal(t, "TIID^Other", drive.Outputs[0].Link)

	gw, ok := cat.Plugin("Gateway")
	require.True(t, ok)
	assert.Equal(t, generator.PluginAddress, gw.Kind)

	tpl, ok := cat.Template("EL6695")
	require.True(t, ok)
	assert.Equal(t, "{name} : FB_EL6695;", tpl.Declaration)
	_, ok = cat.Template("EL1008")
	assert.False(t, ok)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "output:\n  colour: red\n",
		"bad format":       "output:\n  format: zip\n",
		"bad level":        "log:\n  level: loud\n",
		"duplicate plugin": "plugins:\n  - {name: A, kind: none}\n  - {name: A, kind: none}\n",
		"bad kind":         "plugins:\n  - {name: A, kind: bitfield}\n",
		"element type":     "plugins:\n  - name: A\n    kind: address\n    inputs:\n      - {name: I0}\n",
		"empty struct":     "plugins:\n  - {name: A, kind: struct}\n",
		"empty template":   "templates:\n  EL1008:\n    mapping: x\n",
		"not yaml":         "log: [\n",
	}
	for name, doc := range cases {
		_, err := Parse(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadWithPluginDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "plugins"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "topo2st.yaml"), []byte("pluginDir: plugins\nplugins:\n  - {name: Inline, kind: none}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugins", "b.yaml"), []byte("name: B\nkind: address\ninputs:\n  - {name: I0, type: BYTE}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugins", "a.yml"), []byte("name: A\nkind: none\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugins", "notes.txt"), []byte("ignored"), 0o644))

	c, err := Load(filepath.Join(dir, "topo2st.yaml"))
	require.NoError(t, err)
	cat, err := c.Catalog()
	require.NoError(t, err)
	assert.Equal(t, []string{"Inline", "A", "B"}, cat.PluginNames())
}

func TestLoadPluginDirDuplicate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: X\n"), 0o644))
	c := Default()
	c.Plugins = []PluginConfig{{Name: "X"}}
	assert.Error(t, c.LoadPluginDir(dir))

	assert.NoError(t, Default().LoadPluginDir(filepath.Join(dir, "missing")))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	logger.WithField("box", "Term 1").Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"box":"Term 1"`)

	_, err = LogConfig{Level: "info", Format: "xml"}.NewLogger(&buf)
	assert.Error(t, err)
	_, err = LogConfig{Level: "chatty"}.NewLogger(&buf)
	assert.Error(t, err)
}
