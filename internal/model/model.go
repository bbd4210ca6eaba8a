// Package model holds the variable records that flow through one generation
// pass, from raw topology candidates to resolved, linkable PLC symbols.
package model

import (
	"github.com/damischa1/topo2st/internal/iec"
	"github.com/damischa1/topo2st/internal/topology"
)

// Direction is the process-image side of a variable.
type Direction int

const (
	DirNone Direction = iota
	DirInput
	DirOutput
)

// Letter returns the IEC address letter, "" for DirNone.
func (d Direction) Letter() string {
	switch d {
	case DirInput:
		return "I"
	case DirOutput:
		return "Q"
	default:
		return ""
	}
}

func (d Direction) String() string {
	switch d {
	case DirInput:
		return "input"
	case DirOutput:
		return "output"
	default:
		return "none"
	}
}

// CandidateVariable is a raw record extracted from the topology before any
// naming or layout decision was made.
type CandidateVariable struct {
	RawName      string
	DeclaredType string
	Direction    Direction
	Path         []string // ancestor names, outermost first
	Link         string
	Owner        topology.NodeID // box or sub-module the record came from
}

// ResolvedVariable is a unique, PLC-legal symbol ready for declaration.
type ResolvedVariable struct {
	Name      string
	Type      string
	Link      string
	Direction Direction
	Group     string

	// Address is set when Name itself is address-shaped (I12, Q7).
	Address *iec.Address

	// ByteArrayLen is meaningful only when IsByteArray is set.
	ByteArrayLen int
	IsByteArray  bool

	Safety bool
}

// Expands reports whether the variable is declared as one BYTE per element
// at consecutive addresses.
func (v *ResolvedVariable) Expands() bool {
	return v.Address != nil && v.IsByteArray
}

// Symbols returns every name v declares: the expanded addresses for an
// expanding byte array, otherwise just Name.
func (v *ResolvedVariable) Symbols() []string {
	if !v.Expands() {
		return []string{v.Name}
	}
	out := make([]string, v.ByteArrayLen)
	for i := range out {
		out[i] = v.Address.Add(i).String()
	}
	return out
}

// Resolve builds a ResolvedVariable for an already unique name. The address
// and byte-array facts are derived from name and type.
func Resolve(name, typ, link string, dir Direction, group string) *ResolvedVariable {
	v := &ResolvedVariable{
		Name:      name,
		Type:      iec.NormalizeType(typ),
		Link:      link,
		Direction: dir,
		Group:     group,
	}
	if a, ok := iec.ParseAddress(name); ok {
		v.Address = &a
	}
	v.ByteArrayLen, v.IsByteArray = iec.ByteArrayLen(v.Type)
	return v
}
