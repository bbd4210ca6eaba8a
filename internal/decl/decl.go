// Package decl instantiates the declaration and mapping text templates.
//
// Templates are plain text with {token} placeholders. Unknown tokens are
// left as they are, so pragmas such as {attribute 'qualified_only'} survive
// substitution untouched.
package decl

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/damischa1/topo2st/internal/model"
)

// Tokens understood by the built-in templates.
const (
	TokName       = "name"
	TokType       = "type"
	TokLink       = "link"
	TokDir        = "dir"
	TokGVL        = "gvl"
	TokInput      = "input"
	TokOutput     = "output"
	TokHostSize   = "hostSize"
	TokDeviceSize = "deviceSize"
	TokPort       = "port"
	TokSlot       = "slot"
	TokSubSlot    = "subslot"
	TokBox        = "box"
	TokDesc       = "desc"
)

// Variable declaration templates.
const (
	linkedDecl = "{attribute 'TcLinkTo' := '{link}'}\n{name} AT %{dir}* : {type};\n"
	safetyDecl = "// FAILSAFE\n{name} AT %{dir}* : {type};\n"
	plainDecl  = "{name} AT %{dir}* : {type};\n"
	localDecl  = "{name} : {type};\n"
)

// SafetyModule is the built-in template used for safety pairings the
// template catalog does not know.
var SafetyModule = Template{
	Declaration: "{name} : FB_SafetyModule := (nPort := {port}, nSlot := {slot}, nSubSlot := {subslot}, nHostUserSize := {hostSize}, nDeviceUserSize := {deviceSize});\n",
	Mapping: "{gvl}.{name}.pHostData := ADR({gvl}.{input});\n" +
		"{gvl}.{name}.pDeviceData := ADR({gvl}.{output});\n",
}

var reToken = regexp.MustCompile(`\{(\w+)\}`)

// Values maps token names to their replacement.
type Values map[string]string

// Expand substitutes every known {token} of text in a single pass.
// Replacement text is never rescanned.
func Expand(text string, vals Values) string {
	return reToken.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := vals[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Template is a declaration/mapping template pair for one product.
type Template struct {
	Declaration string `yaml:"declaration" validate:"required"`
	Mapping     string `yaml:"mapping"`
}

// Instance is one instantiated template, ready for emission.
type Instance struct {
	InstanceName    string
	DeclarationText string
	MappingText     string
	NeedsCyclicCall bool
}

// Instantiate fills the template for the instance called name. vals is not
// modified.
func (t Template) Instantiate(name string, vals Values) Instance {
	v := make(Values, len(vals)+1)
	for k, s := range vals {
		v[k] = s
	}
	v[TokName] = name

	d := Expand(t.Declaration, v)
	return Instance{
		InstanceName:    name,
		DeclarationText: d,
		MappingText:     Expand(t.Mapping, v),
		NeedsCyclicCall: NeedsCyclicCall(d, name),
	}
}

// NeedsCyclicCall reports whether text declares name as a function block
// instance (type FB_…), which then has to be called every cycle.
func NeedsCyclicCall(text, name string) bool {
	if name == "" {
		return false
	}
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\s*(?:AT\s+%[IQM][XBWDL]?\*?\s*)?:\s*FB_\w+`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// Declare renders the declaration lines of v. Address-shaped byte arrays
// become one BYTE per element at consecutive addresses, each linked to
// {link}[i].
func Declare(v *model.ResolvedVariable) string {
	if !v.Expands() {
		return declareOne(v.Name, v.Type, v.Link, v.Direction.Letter(), v.Safety)
	}
	var sb strings.Builder
	dir := string(v.Address.Dir)
	for i := 0; i < v.ByteArrayLen; i++ {
		link := ""
		if v.Link != "" {
			link = v.Link + "[" + strconv.Itoa(i) + "]"
		}
		sb.WriteString(declareOne(v.Address.Add(i).String(), "BYTE", link, dir, v.Safety))
	}
	return sb.String()
}

func declareOne(name, typ, link, dir string, safety bool) string {
	tpl := linkedDecl
	switch {
	case dir == "":
		tpl = localDecl
	case safety:
		tpl = safetyDecl
	case link == "":
		tpl = plainDecl
	}
	return Expand(tpl, Values{TokName: name, TokType: typ, TokLink: link, TokDir: dir})
}
