package generator

import (
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/damischa1/topo2st/internal/decl"
	"github.com/damischa1/topo2st/internal/emit"
	"github.com/damischa1/topo2st/internal/topology"
)

const fixture = `<?xml version="1.0" encoding="ISO-8859-1"?>
<TcSmProject><Project><Io>
  <Device Id="1"><Name>EtherCAT Master</Name>
    <Box Id="1"><Name>Term 1</Name><EtherCAT Desc="EK1100"/></Box>
    <Box Id="3"><Name>Term 2</Name><EtherCAT Desc="EL6695"/>
      <Pdo Name="Status" SyncMan="2"><Entry Name="Value" Index="#x6000"><Type>UINT</Type></Entry></Pdo>
      <Pdo Name="Status" SyncMan="2"><Entry Name="Value" Index="#x6010"><Type>UINT</Type></Entry></Pdo>
      <Pdo Name="Control" SyncMan="3"><Entry Name="S__S Output Value" Index="#x7000"><Type>BIT</Type></Entry></Pdo>
    </Box>
  </Device>
  <Device Id="2"><Name>PN Controller</Name>
    <Box Id="1"><Name>ET200SP</Name>
      <Module><Name>DAP</Name></Module>
      <Module><Name>FDI</Name>
        <SubModule><Name>Head</Name></SubModule>
        <SubModule><Name>FDI PROFIsafe</Name>
          <Vars VarGrpType="1"><Name>Inputs</Name>
            <Var><Name>In</Name><Type>ARRAY[0..5] OF BYTE</Type><BitOffs>0</BitOffs></Var>
          </Vars>
          <Vars VarGrpType="2"><Name>Outputs</Name>
            <Var><Name>Out</Name><Type>ARRAY[0..5] OF BYTE</Type><BitOffs>0</BitOffs></Var>
          </Vars>
        </SubModule>
      </Module>
      <Module><Name>FDQ</Name>
        <SubModule><Name>FDQ PROFIsafe</Name>
          <Vars VarGrpType="1"><Name>Inputs</Name>
            <Var><Name>In</Name><Type>USINT</Type><BitOffs>0</BitOffs></Var>
          </Vars>
          <Vars VarGrpType="2"><Name>Outputs</Name>
            <Var><Name>Out</Name><Type>USINT</Type><BitOffs>0</BitOffs></Var>
          </Vars>
        </SubModule>
      </Module>
    </Box>
  </Device>
</Io></Project></TcSmProject>`

type templateMap map[string]decl.Template

func (m templateMap) Template(desc string) (decl.Template, bool) {
	t, ok := m[desc]
	return t, ok
}

type pluginMap map[string]Plugin

func (m pluginMap) Plugin(name string) (Plugin, bool) {
	p, ok := m[name]
	return p, ok
}

func (m pluginMap) PluginNames() []string {
	var out []string
	for n := range m {
		out = append(out, n)
	}
	return out
}

var templates = templateMap{
	"EL6695": {
		Declaration: "{name} : FB_EL6695;",
		Mapping:     "{gvl}.{name}.nPort := {port};",
	},
}

var plugins = pluginMap{
	"Drive": {
		Name: "Drive",
		Kind: PluginStruct,
		Link: "TIID^Plugins^Drive",
		Inputs: []Element{
			{Name: "Speed", Type: "INT"},
			{Name: "Ready", Type: "BOOL"},
		},
		Outputs: []Element{{Name: "Setpoint", Type: "INT"}},
	},
	"Gateway": {
		Name: "Gateway",
		Kind: PluginAddress,
		Link: "TIID^Plugins^Gateway",
		Inputs: []Element{
			{Name: "I10", Type: "ARRAY[0..3] OF BYTE"},
			{Name: "I10", Type: "BYTE"},
		},
		Outputs: []Element{{Name: "Q0", Type: "WORD", Link: "TIID^Other^Q0"}},
	},
	"Idle": {Name: "Idle", Kind: PluginNone},
}

func parseFixture(t *testing.T) *topology.Tree {
	t.Helper()
	tree, err := topology.ParseBytes([]byte(fixture))
	require.NoError(t, err)
	return tree
}

func artifact(t *testing.T, res *Result, kind emit.Kind, name string) emit.Artifact {
	t.Helper()
	for _, a := range res.Artifacts {
		if a.Kind == kind && a.Name == name {
			return a
		}
	}
	t.Fatalf("no %s artifact %q", kind, name)
	return emit.Artifact{}
}

func TestGenerateEtherCAT(t *testing.T) {
	g := New(nil, templates, DefaultOptions(), nil)
	res := g.Generate(parseFixture(t))

	gvl := artifact(t, res, emit.KindGVL, "EtherCAT_Master")
	assert.Equal(t, "IO/EtherCAT", gvl.Folder)
	assert.Equal(t, "{attribute 'qualified_only'}\n"+
		"VAR_GLOBAL\n"+
		"    {attribute 'TcLinkTo' := 'TIID^EtherCAT Master^Term 2^Status^Value'}\n"+
		"    Term_2_Status_Value AT %I* : UINT;\n"+
		"    {attribute 'TcLinkTo' := 'TIID^EtherCAT Master^Term 2^Status^Value'}\n"+
		"    Term_2_Status_1_Value AT %I* : UINT;\n"+
		"    {attribute 'TcLinkTo' := 'TIID^EtherCAT Master^Term 2^Control^S__S Output Value'}\n"+
		"    Term_2_Control_S_QValue AT %Q* : BOOL;\n"+
		"    Term_2 : FB_EL6695;\n"+
		"END_VAR\n", gvl.Text)

	pou := artifact(t, res, emit.KindPOU, "P_EtherCAT_Master")
	assert.Equal(t, "IO/Mapping", pou.Folder)
	assert.Contains(t, pou.Text, "EtherCAT_Master.Term_2.nPort := 4099;\n")
	assert.Contains(t, pou.Text, "EtherCAT_Master.Term_2();\n")
}

func TestGenerateProfinetSafety(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	g := New(nil, nil, DefaultOptions(), logger)
	res := g.Generate(parseFixture(t))

	require.Len(t, res.Pairings, 2)
	valid, invalid := res.Pairings[0], res.Pairings[1]

	assert.Equal(t, "fb65535x1x2", valid.Name)
	assert.True(t, valid.IsValid())
	assert.Equal(t, 1, valid.HostUserSize)
	assert.Equal(t, 1, valid.DeviceUserSize)
	require.NotNil(t, valid.Host)
	assert.True(t, valid.Host.Safety)

	assert.Equal(t, "fb65535x2x1", invalid.Name)
	assert.False(t, invalid.IsValid())
	require.NotNil(t, invalid.Host)
	assert.False(t, invalid.Host.Safety, "invalid pairing releases its variables")

	gvl := artifact(t, res, emit.KindGVL, "PN_Controller")
	assert.Equal(t, "IO/Profinet", gvl.Folder)
	assert.Contains(t, gvl.Text, "    // FAILSAFE\n    ET200SP_FDI_FDI_PROFIsafe_In AT %I* : ARRAY[0..5] OF BYTE;\n")
	assert.Contains(t, gvl.Text, "    // FAILSAFE\n    ET200SP_FDI_FDI_PROFIsafe_Out AT %Q* : ARRAY[0..5] OF BYTE;\n")
	assert.Contains(t, gvl.Text, "{attribute 'TcLinkTo' := 'TIID^PN Controller^ET200SP^FDQ^FDQ PROFIsafe^Inputs^In'}\n    ET200SP_FDQ_FDQ_PROFIsafe_In AT %I* : USINT;\n")
	assert.Contains(t, gvl.Text, "fb65535x1x2 : FB_SafetyModule := (nPort := 65535, nSlot := 1, nSubSlot := 2, nHostUserSize := 1, nDeviceUserSize := 1);")
	assert.NotContains(t, gvl.Text, "fb65535x2x1")

	pou := artifact(t, res, emit.KindPOU, "P_PN_Controller")
	assert.Contains(t, pou.Text, "PN_Controller.fb65535x1x2.pHostData := ADR(PN_Controller.ET200SP_FDI_FDI_PROFIsafe_In);\n")
	assert.Contains(t, pou.Text, "PN_Controller.fb65535x1x2();\n")

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["module"] == "FDQ PROFIsafe" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestGenerateSafetyTemplateFromCatalog(t *testing.T) {
	tpls := templateMap{"FDI PROFIsafe": {Declaration: "{name} : FB_FDI := (nHost := {hostSize});"}}
	res := New(nil, tpls, DefaultOptions(), nil).Generate(parseFixture(t))
	gvl := artifact(t, res, emit.KindGVL, "PN_Controller")
	assert.Contains(t, gvl.Text, "fb65535x1x2 : FB_FDI := (nHost := 1);")
}

func TestGeneratePlugins(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	g := New(plugins, nil, DefaultOptions(), logger)
	res := g.GeneratePlugins([]string{"Drive", "Gateway", "Idle", "Missing"})

	in := artifact(t, res, emit.KindDUT, "DriveInputs")
	assert.Equal(t, "TYPE DriveInputs :\nSTRUCT\n    Speed : INT;\n    Ready : BOOL;\nEND_STRUCT\nEND_TYPE\n", in.Text)
	assert.Equal(t, "IO/Plugins", in.Folder)
	artifact(t, res, emit.KindDUT, "DriveOutputs")

	drive := artifact(t, res, emit.KindGVL, "Drive")
	assert.Contains(t, drive.Text, "{attribute 'TcLinkTo' := 'TIID^Plugins^Drive^Inputs'}\n    stDriveInputs AT %I* : DriveInputs;\n")
	assert.Contains(t, drive.Text, "stDriveOutputs AT %Q* : DriveOutputs;")

	gw := artifact(t, res, emit.KindGVL, "Gateway")
	assert.Equal(t, "{attribute 'qualified_only'}\n"+
		"VAR_GLOBAL\n"+
		"    {attribute 'TcLinkTo' := 'TIID^Plugins^Gateway^I10[0]'}\n"+
		"    I10 AT %I* : BYTE;\n"+
		"    {attribute 'TcLinkTo' := 'TIID^Plugins^Gateway^I10[1]'}\n"+
		"    I11 AT %I* : BYTE;\n"+
		"    {attribute 'TcLinkTo' := 'TIID^Plugins^Gateway^I10[2]'}\n"+
		"    I12 AT %I* : BYTE;\n"+
		"    {attribute 'TcLinkTo' := 'TIID^Plugins^Gateway^I10[3]'}\n"+
		"    I13 AT %I* : BYTE;\n"+
		"    {attribute 'TcLinkTo' := 'TIID^Other^Q0'}\n"+
		"    Q0 AT %Q* : WORD;\n"+
		"END_VAR\n", gw.Text)

	assert.Equal(t, 1, res.Dropped)
	assert.Len(t, res.Artifacts, 4)

	var unknown bool
	for _, e := range hook.AllEntries() {
		if e.Data["plugin"] == "Missing" && e.Level == logrus.WarnLevel {
			unknown = true
		}
	}
	assert.True(t, unknown)
}

func TestExpandedBytesClaimTheirAddresses(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	overlap := pluginMap{"Bridge": {
		Name: "Bridge",
		Kind: PluginAddress,
		Link: "TIID^Plugins^Bridge",
		Inputs: []Element{
			{Name: "I10", Type: "ARRAY[0..3] OF BYTE"},
			{Name: "I12", Type: "BYTE"},
			{Name: "I14", Type: "BYTE"},
		},
	}}
	res := New(overlap, nil, DefaultOptions(), logger).GeneratePlugins([]string{"Bridge"})

	gvl := artifact(t, res, emit.KindGVL, "Bridge")
	assert.Equal(t, 1, strings.Count(gvl.Text, "I12 AT %I*"))
	assert.Contains(t, gvl.Text, "{attribute 'TcLinkTo' := 'TIID^Plugins^Bridge^I10[2]'}\n    I12 AT %I* : BYTE;\n")
	assert.Contains(t, gvl.Text, "I14 AT %I* : BYTE;")
	assert.NotContains(t, gvl.Text, "Bridge^I12'")
	assert.Equal(t, 1, res.Dropped)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["name"] == "I12" && e.Data["kept"] == "TIID^Plugins^Bridge^I10" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestConcurrentRuns(t *testing.T) {
	g := New(plugins, templates, DefaultOptions(), nil)
	names := []string{"Drive", "Gateway"}
	want := g.Run(parseFixture(t), names)

	results := make([]*Result, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tree, err := topology.ParseBytes([]byte(fixture))
			if err != nil {
				return
			}
			results[i] = g.Run(tree, names)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.NotNil(t, res, i)
		assert.Equal(t, want.Artifacts, res.Artifacts, i)
		assert.Equal(t, want.Dropped, res.Dropped, i)
	}
}

func TestRunNamesUniqueAndDeterministic(t *testing.T) {
	g := New(plugins, templates, DefaultOptions(), nil)
	names := []string{"Drive", "Gateway"}

	first := g.Run(parseFixture(t), names)
	second := g.Run(parseFixture(t), names)
	assert.Equal(t, first.Artifacts, second.Artifacts)

	seen := make(map[string]bool)
	for _, v := range first.Variables {
		assert.False(t, seen[v.Name], v.Name)
		seen[v.Name] = true
	}
}

func TestGenerateEmpty(t *testing.T) {
	tree, err := topology.ParseBytes(nil)
	require.NoError(t, err)
	res := New(nil, nil, DefaultOptions(), nil).Generate(tree)
	assert.Empty(t, res.Artifacts)
	assert.Empty(t, res.Variables)

	assert.Empty(t, New(nil, nil, DefaultOptions(), nil).GeneratePlugins([]string{"x"}).Artifacts)
}

func TestDuplicateGroupNames(t *testing.T) {
	tree, err := topology.ParseBytes([]byte(`<Io>
		<Device><Name>Bus</Name><Box Id="1"><Name>A</Name><Pdo Name="P" SyncMan="2"><Entry Name="E" Index="1"><Type>BOOL</Type></Entry></Pdo></Box></Device>
		<Device><Name>Bus</Name><Box Id="1"><Name>B</Name><Pdo Name="P" SyncMan="2"><Entry Name="E" Index="1"><Type>BOOL</Type></Entry></Pdo></Box></Device>
	</Io>`))
	require.NoError(t, err)
	res := New(nil, nil, DefaultOptions(), nil).Generate(tree)
	artifact(t, res, emit.KindGVL, "Bus")
	artifact(t, res, emit.KindGVL, "Bus_1")
}

func TestParsePluginKind(t *testing.T) {
	for in, want := range map[string]PluginKind{"": PluginNone, "None": PluginNone, "address": PluginAddress, " STRUCT ": PluginStruct} {
		got, err := ParsePluginKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePluginKind("bitfield")
	assert.Error(t, err)
	assert.Equal(t, "struct", PluginStruct.String())
}

type fakeSink struct {
	got      []emit.Artifact
	failOn   map[string]bool
	closeErr error
	closed   bool
}

func (s *fakeSink) Put(a emit.Artifact) error {
	if s.failOn[a.Name] {
		return errors.New("disk full")
	}
	s.got = append(s.got, a)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return s.closeErr
}

func TestPublish(t *testing.T) {
	res := New(plugins, nil, DefaultOptions(), nil).GeneratePlugins([]string{"Drive", "Gateway"})

	sink := &fakeSink{}
	require.NoError(t, Publish(sink, res))
	assert.Len(t, sink.got, len(res.Artifacts))
	assert.True(t, sink.closed)

	sink = &fakeSink{failOn: map[string]bool{"DriveInputs": true, "Gateway": true}, closeErr: errors.New("sync")}
	err := Publish(sink, res)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
	assert.Contains(t, err.Error(), "put DUT DriveInputs: disk full")
	assert.Len(t, sink.got, len(res.Artifacts)-2)
}
