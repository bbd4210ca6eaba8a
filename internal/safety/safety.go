// Package safety pairs PROFIsafe sub-modules with the variables that carry
// their safety telegrams and computes the user-data sizes left after the
// protocol framing.
package safety

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/damischa1/topo2st/internal/iec"
	"github.com/damischa1/topo2st/internal/model"
	"github.com/damischa1/topo2st/internal/naming"
)

// Framing overhead of one safety telegram in bytes: status/control byte plus
// the CRC2 (3 bytes with the long preamble, 4 bytes otherwise).
const (
	LongPreambleOverhead     = 4
	ExtendedPreambleOverhead = 5
)

// Default markers looked for in sub-module names.
const (
	DefaultMarker             = "PROFIsafe"
	DefaultLongPreambleMarker = "(LP)"
)

// Protocol is the telegram framing of a safety module.
type Protocol int

const (
	ExtendedPreamble Protocol = iota
	LongPreamble
)

func (p Protocol) String() string {
	if p == LongPreamble {
		return "long-preamble"
	}
	return "extended-preamble"
}

// Overhead returns the framing bytes subtracted from each direction.
func (p Protocol) Overhead() int {
	if p == LongPreamble {
		return LongPreambleOverhead
	}
	return ExtendedPreambleOverhead
}

// Module is what the matcher needs to know about one sub-module.
type Module struct {
	Name    string // raw sub-module name
	BoxName string
	BusName string
	Port    int
	Slot    int
	SubSlot int
}

// Pairing is the result of matching one safety sub-module.
type Pairing struct {
	Port    int
	Slot    int
	SubSlot int

	Name    string // fb{port}x{slot}x{subSlot}
	Module  string
	BoxName string
	BusName string

	InputAddressName  string
	OutputAddressName string
	HostUserSize      int
	DeviceUserSize    int
	Protocol          Protocol

	// Paired is false when the module had no inputs or no outputs and no
	// sizes were computed.
	Paired bool

	// Host and Device are the cross-linked variables, nil when the first
	// input or output name is not in the variable set.
	Host   *model.ResolvedVariable
	Device *model.ResolvedVariable
}

// IsValid reports whether both user-data sizes are non-negative.
func (p *Pairing) IsValid() bool {
	return p.HostUserSize >= 0 && p.DeviceUserSize >= 0
}

// Markers configures how safety modules are recognised.
type Markers struct {
	Safety       string
	LongPreamble string
}

// DefaultMarkers returns the PROFIsafe / (LP) markers.
func DefaultMarkers() Markers {
	return Markers{Safety: DefaultMarker, LongPreamble: DefaultLongPreambleMarker}
}

// Matcher recognises safety sub-modules and builds their pairings.
type Matcher struct {
	markers Markers
	log     logrus.FieldLogger
}

// NewMatcher returns a matcher. Empty markers fall back to the defaults.
func NewMatcher(m Markers, log logrus.FieldLogger) *Matcher {
	def := DefaultMarkers()
	if m.Safety == "" {
		m.Safety = def.Safety
	}
	if m.LongPreamble == "" {
		m.LongPreamble = def.LongPreamble
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Matcher{markers: m, log: log}
}

// IsSafety reports whether a sub-module name carries the safety marker.
func (m *Matcher) IsSafety(name string) bool {
	return strings.Contains(name, m.markers.Safety)
}

// InstanceName returns the function block instance name of a module.
func InstanceName(port, slot, subSlot int) string {
	return fmt.Sprintf("fb%dx%dx%d", port, slot, subSlot)
}

// Match computes the pairing of mod from its input and output variables and
// cross-links the first variable of each direction found in set.
func (m *Matcher) Match(mod Module, inputs, outputs []*model.ResolvedVariable, set *naming.VarSet) Pairing {
	p := Pairing{
		Port:     mod.Port,
		Slot:     mod.Slot,
		SubSlot:  mod.SubSlot,
		Name:     InstanceName(mod.Port, mod.Slot, mod.SubSlot),
		Module:   mod.Name,
		BoxName:  mod.BoxName,
		BusName:  mod.BusName,
		Protocol: ExtendedPreamble,
	}
	if strings.Contains(mod.Name, m.markers.LongPreamble) {
		p.Protocol = LongPreamble
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		m.log.WithField("module", mod.Name).Debug("safety module without inputs or outputs")
		return p
	}

	p.Paired = true
	p.InputAddressName = inputs[0].Name
	p.OutputAddressName = outputs[0].Name
	p.HostUserSize = m.userSize(inputs) - p.Protocol.Overhead()
	p.DeviceUserSize = m.userSize(outputs) - p.Protocol.Overhead()

	if v, ok := set.Lookup(p.InputAddressName); ok {
		v.Safety = true
		p.Host = v
	}
	if v, ok := set.Lookup(p.OutputAddressName); ok {
		v.Safety = true
		p.Device = v
	}
	return p
}

// userSize sums the bit widths of vars and rounds up to whole bytes once,
// so eight BOOL channels make one byte.
func (m *Matcher) userSize(vars []*model.ResolvedVariable) int {
	bits := 0
	for _, v := range vars {
		n, ok := iec.BitSize(v.Type)
		if !ok {
			m.log.WithFields(logrus.Fields{"var": v.Name, "type": v.Type}).Debug("unknown type size, counted as 0")
			continue
		}
		bits += n
	}
	return (bits + 7) / 8
}
