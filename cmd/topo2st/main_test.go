package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damischa1/topo2st/internal/config"
)

const topo = `<?xml version="1.0"?>
<TcSmProject>
  <Device Id="1">
    <Name>EtherCAT Master</Name>
    <Box Id="1">
      <Name>Term 1</Name>
      <EtherCAT Desc="EL1008"/>
      <Pdo Name="Channel 1" SyncMan="2">
        <Entry Name="Input" Index="#x6000"><Type>BOOL</Type></Entry>
      </Pdo>
    </Box>
  </Device>
</TcSmProject>
`

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(flags{out: "build", format: "PLCopen", flat: true, logLevel: "DEBUG"})
	require.NoError(t, err)
	assert.Equal(t, "build", cfg.Output.Dir)
	assert.Equal(t, config.FormatPLCopen, cfg.Output.Format)
	assert.True(t, cfg.Output.Flat)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = loadConfig(flags{format: "zip"})
	assert.Error(t, err)
}

func TestPluginNames(t *testing.T) {
	cfg := config.Default()
	cfg.Plugins = []config.PluginConfig{{Name: "A"}, {Name: "B"}}
	cat, err := cfg.Catalog()
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, pluginNames("", cat))
	assert.Equal(t, []string{"B", "C"}, pluginNames(" B, ,C ", cat))
}

func TestRunWritesST(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "topology.xml")
	require.NoError(t, os.WriteFile(in, []byte(topo), 0o644))

	out := filepath.Join(dir, "src")
	require.NoError(t, run(flags{in: in, out: out, logLevel: "error"}))

	raw, err := os.ReadFile(filepath.Join(out, "IO", "EtherCAT", "EtherCAT_Master.st"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "{attribute 'TcLinkTo' := 'TIID^EtherCAT Master^Term 1^Channel 1^Input'}")
}

func TestRunMissingInput(t *testing.T) {
	assert.Error(t, run(flags{in: filepath.Join(t.TempDir(), "none.xml")}))
}
