// Package naming turns raw topology names into unique PLC identifiers.
//
// Two uniqueness strategies coexist: PDO group names are renamed with a
// numeric suffix (Scope), while final variable names keep the first writer
// and drop later duplicates (VarSet).
package naming

import (
	"strconv"
	"strings"

	"github.com/damischa1/topo2st/internal/model"
)

// groupMarker separates a vendor structure name from the member name in
// PDO entry names ("StructName__StructName Output Value").
const groupMarker = "__"

// noiseSegments are structural path names that carry no meaning in a symbol.
var noiseSegments = map[string]bool{
	"API":     true,
	"Inputs":  true,
	"Outputs": true,
}

// Scope hands out unique names within one box. A Scope belongs to a single
// generation pass and must not be shared.
type Scope struct {
	used map[string]bool
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{used: make(map[string]bool)}
}

// Claim returns base if unused, otherwise base_1, base_2, ... whichever is
// first free. The returned name is recorded.
func (s *Scope) Claim(base string) string {
	name := base
	for i := 1; s.used[name]; i++ {
		name = base + "_" + strconv.Itoa(i)
	}
	s.used[name] = true
	return name
}

// VarSet is the flat, insertion-ordered set of resolved variables of one pass.
// Uniqueness is kept over declared symbols, so an expanding byte array I10
// of four bytes also owns I11..I13.
type VarSet struct {
	order  []*model.ResolvedVariable
	byName map[string]*model.ResolvedVariable
	owner  map[string]*model.ResolvedVariable
}

// NewVarSet returns an empty set.
func NewVarSet() *VarSet {
	return &VarSet{
		byName: make(map[string]*model.ResolvedVariable),
		owner:  make(map[string]*model.ResolvedVariable),
	}
}

// Add inserts v unless one of its symbols is taken. It returns the variable
// owning the symbol and whether v was the one inserted; on collision the
// first variable stays untouched.
func (s *VarSet) Add(v *model.ResolvedVariable) (*model.ResolvedVariable, bool) {
	syms := v.Symbols()
	for _, sym := range syms {
		if prev, ok := s.owner[sym]; ok {
			return prev, false
		}
	}
	for _, sym := range syms {
		s.owner[sym] = v
	}
	s.byName[v.Name] = v
	s.order = append(s.order, v)
	return v, true
}

// Lookup returns the variable stored under name.
func (s *VarSet) Lookup(name string) (*model.ResolvedVariable, bool) {
	v, ok := s.byName[name]
	return v, ok
}

// Len returns the number of variables.
func (s *VarSet) Len() int { return len(s.order) }

// All returns the variables in insertion order.
func (s *VarSet) All() []*model.ResolvedVariable {
	out := make([]*model.ResolvedVariable, len(s.order))
	copy(out, s.order)
	return out
}

// Group returns the variables of one group in insertion order.
func (s *VarSet) Group(group string) []*model.ResolvedVariable {
	var out []*model.ResolvedVariable
	for _, v := range s.order {
		if v.Group == group {
			out = append(out, v)
		}
	}
	return out
}

// CleanEntryName strips the vendor structure prefix and shortens the verbose
// direction words: "S__S Output Value" becomes "S QValue".
func CleanEntryName(raw string) string {
	name := raw
	if i := strings.LastIndex(name, groupMarker); i >= 0 {
		name = name[i+len(groupMarker):]
	}
	name = strings.ReplaceAll(name, "Output ", "Q")
	name = strings.ReplaceAll(name, "Input ", "I")
	return name
}

// FallbackName joins a structural path into a symbol base, skipping the
// API / Inputs / Outputs levels every Profinet sub-module repeats.
func FallbackName(path []string) string {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		if p == "" || noiseSegments[p] {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "_")
}

// Identifier makes name PLC-legal: characters outside [A-Za-z0-9_] become
// underscores, underscore runs collapse, edges are trimmed and a leading
// digit gets an underscore prefix.
func Identifier(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	lastUnderscore := true
	for _, r := range name {
		ok := r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
		if !ok || r == '_' {
			if !lastUnderscore {
				sb.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}
		sb.WriteRune(r)
		lastUnderscore = false
	}
	out := strings.TrimSuffix(sb.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
