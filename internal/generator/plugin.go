package generator

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/damischa1/topo2st/internal/decl"
	"github.com/damischa1/topo2st/internal/emit"
)

// PluginKind says how a plugin declares its process data.
type PluginKind int

const (
	// PluginNone plugins have no I/O and produce nothing.
	PluginNone PluginKind = iota
	// PluginAddress plugins list address-shaped variables (I0, Q4, ...).
	PluginAddress
	// PluginStruct plugins declare their I/O as two structures.
	PluginStruct
)

func (k PluginKind) String() string {
	switch k {
	case PluginAddress:
		return "address"
	case PluginStruct:
		return "struct"
	default:
		return "none"
	}
}

// ParsePluginKind decodes the textual kind used in configuration files.
func ParsePluginKind(s string) (PluginKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PluginNone, nil
	case "address":
		return PluginAddress, nil
	case "struct":
		return PluginStruct, nil
	}
	return PluginNone, errors.Errorf("unknown plugin kind %q", s)
}

// Element is one variable of a plugin interface.
type Element struct {
	Name string
	Type string
	// Link overrides the default {plugin link}^{name}.
	Link string
}

// Plugin is the declared interface of one logical group.
type Plugin struct {
	Name    string
	Kind    PluginKind
	Link    string
	Inputs  []Element
	Outputs []Element
}

func (p Plugin) elementLink(e Element) string {
	if e.Link != "" {
		return e.Link
	}
	if p.Link == "" {
		return ""
	}
	return p.Link + "^" + e.Name
}

// PluginCatalog looks up plugin interfaces by name.
type PluginCatalog interface {
	Plugin(name string) (Plugin, bool)
	PluginNames() []string
}

// TemplateCatalog looks up declaration templates by product description.
type TemplateCatalog interface {
	Template(desc string) (decl.Template, bool)
}

// Sink receives finished artifacts.
type Sink interface {
	Put(a emit.Artifact) error
	Close() error
}
