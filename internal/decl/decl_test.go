package decl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damischa1/topo2st/internal/model"
)

func TestExpand(t *testing.T) {
	got := Expand("{attribute 'x'} {name}:{type} {unknown} {name}", Values{"name": "a", "type": "INT"})
	assert.Equal(t, "{attribute 'x'} a:INT {unknown} a", got)

	// Replacement values are not rescanned.
	assert.Equal(t, "{type}", Expand("{name}", Values{"name": "{type}", "type": "INT"}))
}

func TestDeclareLinked(t *testing.T) {
	v := model.Resolve("Term_2_Status_Value", "UINT", "TIID^EtherCAT Master^Term 2^Status^Value", model.DirInput, "EtherCAT Master")
	assert.Equal(t,
		"{attribute 'TcLinkTo' := 'TIID^EtherCAT Master^Term 2^Status^Value'}\n"+
			"Term_2_Status_Value AT %I* : UINT;\n",
		Declare(v))
}

func TestDeclareSafety(t *testing.T) {
	v := model.Resolve("I0", "DWORD", "TIID^PN^Box^In", model.DirInput, "PN")
	v.Safety = true
	out := Declare(v)
	assert.Equal(t, "// FAILSAFE\nI0 AT %I* : DWORD;\n", out)
	assert.NotContains(t, out, "TcLinkTo")
}

func TestDeclareWithoutLink(t *testing.T) {
	v := model.Resolve("Q3", "WORD", "", model.DirOutput, "Plugin")
	assert.Equal(t, "Q3 AT %Q* : WORD;\n", Declare(v))

	v = model.Resolve("counter", "INT", "", model.DirNone, "Plugin")
	assert.Equal(t, "counter : INT;\n", Declare(v))
}

func TestDeclareByteArrayExpansion(t *testing.T) {
	v := model.Resolve("I10", "ARRAY[0..3] OF BYTE", "TIID^Dev^Box^Data", model.DirInput, "Plugin")
	out := Declare(v)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 8)
	for i, name := range []string{"I10", "I11", "I12", "I13"} {
		assert.Equal(t, "{attribute 'TcLinkTo' := 'TIID^Dev^Box^Data["+string(rune('0'+i))+"]'}", lines[2*i])
		assert.Equal(t, name+" AT %I* : BYTE;", lines[2*i+1])
	}
}

func TestDeclareByteArrayNotAddressShaped(t *testing.T) {
	v := model.Resolve("Data", "ARRAY[0..3] OF BYTE", "L", model.DirInput, "Plugin")
	assert.Equal(t, "{attribute 'TcLinkTo' := 'L'}\nData AT %I* : ARRAY[0..3] OF BYTE;\n", Declare(v))
}

func TestNeedsCyclicCall(t *testing.T) {
	assert.True(t, NeedsCyclicCall("fbTerm : FB_EL6695;", "fbTerm"))
	assert.True(t, NeedsCyclicCall("fbIo AT %I* : FB_IoLink;", "fbIo"))
	assert.True(t, NeedsCyclicCall("// c\nfb1 :FB_X := (a := 1);", "fb1"))
	assert.False(t, NeedsCyclicCall("stData : ST_Data;", "stData"))
	assert.False(t, NeedsCyclicCall("fbTerm2 : FB_X;", "fbTerm"))
	assert.False(t, NeedsCyclicCall("anything", ""))
}

func TestInstantiate(t *testing.T) {
	inst := SafetyModule.Instantiate("fb4099x1x2", Values{
		TokGVL: "PN", TokInput: "I0", TokOutput: "Q0",
		TokPort: "4099", TokSlot: "1", TokSubSlot: "2", TokHostSize: "1", TokDeviceSize: "3",
	})
	assert.Equal(t, "fb4099x1x2", inst.InstanceName)
	assert.True(t, inst.NeedsCyclicCall)
	assert.Contains(t, inst.DeclarationText, "fb4099x1x2 : FB_SafetyModule := (nPort := 4099, nSlot := 1, nSubSlot := 2")
	assert.Equal(t, "PN.fb4099x1x2.pHostData := ADR(PN.I0);\nPN.fb4099x1x2.pDeviceData := ADR(PN.Q0);\n", inst.MappingText)

	plain := Template{Declaration: "{name} : ST_{desc};"}.Instantiate("stBox", Values{TokDesc: "EL1008"})
	assert.False(t, plain.NeedsCyclicCall)
	assert.Equal(t, "stBox : ST_EL1008;", plain.DeclarationText)
	assert.Empty(t, plain.MappingText)
}
