package config

import (
	"github.com/pkg/errors"

	"github.com/damischa1/topo2st/internal/decl"
	"github.com/damischa1/topo2st/internal/generator"
)

// Catalog serves plugins and templates to the generator. Plugin kinds are
// decoded once, when the catalog is built.
type Catalog struct {
	order     []string
	plugins   map[string]generator.Plugin
	templates map[string]decl.Template
}

// Catalog builds the plugin and template catalog of c.
func (c *Config) Catalog() (*Catalog, error) {
	cat := &Catalog{
		plugins:   make(map[string]generator.Plugin, len(c.Plugins)),
		templates: make(map[string]decl.Template, len(c.Templates)),
	}
	for _, pc := range c.Plugins {
		kind, err := generator.ParsePluginKind(pc.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "plugin %s", pc.Name)
		}
		if _, dup := cat.plugins[pc.Name]; dup {
			return nil, errors.Errorf("plugin %s defined twice", pc.Name)
		}
		cat.plugins[pc.Name] = generator.Plugin{
			Name:    pc.Name,
			Kind:    kind,
			Link:    pc.Link,
			Inputs:  elements(pc.Inputs),
			Outputs: elements(pc.Outputs),
		}
		cat.order = append(cat.order, pc.Name)
	}
	for desc, t := range c.Templates {
		cat.templates[desc] = t
	}
	return cat, nil
}

func elements(in []ElementConfig) []generator.Element {
	out := make([]generator.Element, 0, len(in))
	for _, e := range in {
		out = append(out, generator.Element{Name: e.Name, Type: e.Type, Link: e.Link})
	}
	return out
}

// Plugin implements generator.PluginCatalog.
func (c *Catalog) Plugin(name string) (generator.Plugin, bool) {
	p, ok := c.plugins[name]
	return p, ok
}

// PluginNames returns the plugin names in configuration order.
func (c *Catalog) PluginNames() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Template implements generator.TemplateCatalog.
func (c *Catalog) Template(desc string) (decl.Template, bool) {
	t, ok := c.templates[desc]
	return t, ok
}
