// Package emit assembles declarations into GVL, DUT and program texts.
package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/damischa1/topo2st/internal/decl"
	"github.com/damischa1/topo2st/internal/iec"
	"github.com/damischa1/topo2st/internal/model"
)

// Kind is the object type of an artifact.
type Kind int

const (
	KindGVL Kind = iota
	KindDUT
	KindPOU
)

func (k Kind) String() string {
	switch k {
	case KindDUT:
		return "DUT"
	case KindPOU:
		return "POU"
	default:
		return "GVL"
	}
}

// Artifact is one finished text object, keyed by name and target folder.
type Artifact struct {
	Kind   Kind
	Name   string
	Group  string
	Folder string
	Text   string
}

// Field is one member of a DUT.
type Field struct {
	Name string
	Type string
}

const indent = "    "

// SortVariables returns vars ordered inputs first, then outputs, then the
// rest; by numeric address inside each category with non-address names
// last. Equal keys keep their original order.
func SortVariables(vars []*model.ResolvedVariable) []*model.ResolvedVariable {
	out := make([]*model.ResolvedVariable, len(vars))
	copy(out, vars)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := category(out[i].Name), category(out[j].Name)
		if ci != cj {
			return ci < cj
		}
		ai, oki := iec.ParseAddress(out[i].Name)
		aj, okj := iec.ParseAddress(out[j].Name)
		switch {
		case oki && okj:
			return ai.Offset < aj.Offset
		case oki != okj:
			return oki
		default:
			return false
		}
	})
	return out
}

func category(name string) int {
	switch {
	case strings.HasPrefix(name, "I"):
		return 0
	case strings.HasPrefix(name, "Q"):
		return 1
	default:
		return 2
	}
}

// Declarations returns the sorted declaration lines of vars followed by the
// instance declarations, unindented.
func Declarations(vars []*model.ResolvedVariable, instances []decl.Instance) string {
	var sb strings.Builder
	for _, v := range SortVariables(vars) {
		sb.WriteString(decl.Declare(v))
	}
	for _, in := range instances {
		sb.WriteString(strings.TrimRight(in.DeclarationText, "\n"))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// GVL returns a qualified-only global variable list.
func GVL(vars []*model.ResolvedVariable, instances []decl.Instance) string {
	var sb strings.Builder
	sb.WriteString("{attribute 'qualified_only'}\n")
	sb.WriteString("VAR_GLOBAL\n")
	if body := Declarations(vars, instances); body != "" {
		sb.WriteString(IndentBlock(body, indent))
		sb.WriteByte('\n')
	}
	sb.WriteString("END_VAR\n")
	return sb.String()
}

// DUT returns a STRUCT type declaration.
func DUT(name string, fields []Field) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TYPE %s :\n", name)
	sb.WriteString("STRUCT\n")
	for _, f := range fields {
		fmt.Fprintf(&sb, "%s%s : %s;\n", indent, f.Name, f.Type)
	}
	sb.WriteString("END_STRUCT\n")
	sb.WriteString("END_TYPE\n")
	return sb.String()
}

// Program returns the mapping program of a group: the mapping texts of all
// instances followed by the cyclic calls of those that need one.
func Program(name, gvl string, instances []decl.Instance) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PROGRAM %s\n", name)
	sb.WriteString("VAR\nEND_VAR\n")
	for _, in := range instances {
		if m := strings.TrimRight(in.MappingText, "\n"); m != "" {
			sb.WriteString(m)
			sb.WriteByte('\n')
		}
	}
	for _, in := range instances {
		if in.NeedsCyclicCall {
			fmt.Fprintf(&sb, "%s.%s();\n", gvl, in.InstanceName)
		}
	}
	sb.WriteString("END_PROGRAM\n")
	return sb.String()
}

// HasProgramBody reports whether Program would produce any statement.
func HasProgramBody(instances []decl.Instance) bool {
	for _, in := range instances {
		if in.NeedsCyclicCall || strings.TrimSpace(in.MappingText) != "" {
			return true
		}
	}
	return false
}

// IndentBlock prefixes every non-blank line of s. Trailing newlines are
// dropped.
func IndentBlock(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
