// Package generator runs one generation pass: it walks the topology and the
// plugin catalog, resolves names, pairs safety modules and emits GVL, DUT
// and program artifacts.
//
// A Generator is immutable and may be shared; every call to Run works on its
// own pass state, so independent inputs can be generated concurrently.
package generator

import (
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/damischa1/topo2st/internal/decl"
	"github.com/damischa1/topo2st/internal/emit"
	"github.com/damischa1/topo2st/internal/model"
	"github.com/damischa1/topo2st/internal/naming"
	"github.com/damischa1/topo2st/internal/safety"
	"github.com/damischa1/topo2st/internal/topology"
	"github.com/damischa1/topo2st/internal/walker"
)

// Folders names the target folder of each artifact family.
type Folders struct {
	EtherCAT string
	Profinet string
	Plugins  string
	Mapping  string
}

// Options configures a Generator.
type Options struct {
	Markers safety.Markers
	Folders Folders
}

// DefaultOptions returns the stock markers and folder layout.
func DefaultOptions() Options {
	return Options{
		Markers: safety.DefaultMarkers(),
		Folders: Folders{
			EtherCAT: "IO/EtherCAT",
			Profinet: "IO/Profinet",
			Plugins:  "IO/Plugins",
			Mapping:  "IO/Mapping",
		},
	}
}

// Generator produces PLC declarations from a topology and a plugin catalog.
type Generator struct {
	plugins   PluginCatalog
	templates TemplateCatalog
	opts      Options
	log       logrus.FieldLogger
}

// New returns a Generator. Both catalogs may be nil.
func New(plugins PluginCatalog, templates TemplateCatalog, opts Options, log logrus.FieldLogger) *Generator {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Generator{plugins: plugins, templates: templates, opts: opts, log: log}
}

// Result is everything one pass produced.
type Result struct {
	Artifacts []emit.Artifact
	Variables []*model.ResolvedVariable
	Pairings  []safety.Pairing
	Instances []decl.Instance
	// Dropped counts variables discarded because a symbol they declare was
	// already taken.
	Dropped int
}

// Generate runs a pass over the topology only.
func (g *Generator) Generate(tree *topology.Tree) *Result {
	return g.Run(tree, nil)
}

// GeneratePlugins runs a pass over the named plugins only.
func (g *Generator) GeneratePlugins(names []string) *Result {
	return g.Run(nil, names)
}

// Run performs one full pass over tree (may be nil) and the named plugins.
// Variable names are unique across the whole pass.
func (g *Generator) Run(tree *topology.Tree, pluginNames []string) *Result {
	p := &pass{
		g:       g,
		vars:    naming.NewVarSet(),
		groups:  naming.NewScope(),
		matcher: safety.NewMatcher(g.opts.Markers, g.log),
		res:     &Result{},
	}
	if tree != nil {
		w := walker.New(tree, g.log)
		for _, dev := range w.Devices() {
			p.device(w, dev)
		}
	}
	for _, name := range pluginNames {
		p.plugin(name)
	}
	p.res.Variables = p.vars.All()

	g.log.WithFields(logrus.Fields{
		"artifacts": len(p.res.Artifacts),
		"variables": len(p.res.Variables),
		"pairings":  len(p.res.Pairings),
		"dropped":   p.res.Dropped,
	}).Info("generation pass finished")
	return p.res
}

// pass holds the state of one Run. It is never shared.
type pass struct {
	g       *Generator
	vars    *naming.VarSet
	groups  *naming.Scope
	matcher *safety.Matcher
	res     *Result
}

func (p *pass) groupName(raw, fallback string) string {
	base := naming.Identifier(raw)
	if base == "" {
		base = fallback
	}
	return p.groups.Claim(base)
}

// add resolves a candidate into the pass. The returned variable is the new
// one even when its name was already taken and it was dropped.
func (p *pass) add(c model.CandidateVariable, group string) *model.ResolvedVariable {
	name := naming.Identifier(c.RawName)
	if name == "" {
		p.g.log.WithField("raw", c.RawName).Debug("candidate without a usable name skipped")
		return nil
	}
	v := model.Resolve(name, c.DeclaredType, c.Link, c.Direction, group)
	if kept, added := p.vars.Add(v); !added {
		p.res.Dropped++
		p.g.log.WithFields(logrus.Fields{
			"name":    name,
			"link":    v.Link,
			"kept":    kept.Link,
			"group":   group,
			"keptIn":  kept.Group,
			"dropped": c.RawName,
		}).Warn("symbol already declared, keeping the first")
	}
	return v
}

// ── topology ──────────────────────────────────────────────────────────────────

func (p *pass) device(w *walker.Walker, dev topology.NodeID) {
	t := w.Tree()
	devName := w.DeviceName(dev)
	group := p.groupName(devName, "Device")
	log := p.g.log.WithField("group", group)

	var instances []decl.Instance
	ethercat := false

	for _, box := range w.Boxes(dev) {
		var cands []model.CandidateVariable
		if w.HasPdos(box) {
			ethercat = true
			cands = w.PdoVariables(box, naming.NewScope())
		} else {
			cands = w.BitOffsVariables(box)
		}

		byOwner := make(map[topology.NodeID][]*model.ResolvedVariable)
		for _, c := range cands {
			if v := p.add(c, group); v != nil {
				byOwner[c.Owner] = append(byOwner[c.Owner], v)
			}
		}

		if inst, ok := p.boxInstance(w, box, group); ok {
			instances = append(instances, inst)
		}

		for _, sub := range w.SubModules(box) {
			name := t.Name(sub)
			if !p.matcher.IsSafety(name) {
				continue
			}
			mod := safety.Module{
				Name:    name,
				BoxName: w.BoxName(box),
				BusName: devName,
				Port:    w.Port(box),
				Slot:    w.Slot(t.Ancestor(sub, "Module")),
				SubSlot: w.SubSlot(sub),
			}
			var in, out []*model.ResolvedVariable
			for _, v := range byOwner[sub] {
				switch v.Direction {
				case model.DirInput:
					in = append(in, v)
				case model.DirOutput:
					out = append(out, v)
				}
			}
			pr := p.matcher.Match(mod, in, out, p.vars)
			p.res.Pairings = append(p.res.Pairings, pr)
			if inst, ok := p.safetyInstance(&pr, group, log); ok {
				instances = append(instances, inst)
			}
		}
	}

	folder := p.g.opts.Folders.Profinet
	if ethercat {
		folder = p.g.opts.Folders.EtherCAT
	}
	p.emitGroup(group, folder, instances)
}

func (p *pass) boxInstance(w *walker.Walker, box topology.NodeID, group string) (decl.Instance, bool) {
	if p.g.templates == nil {
		return decl.Instance{}, false
	}
	desc := w.ProductDesc(box)
	if desc == "" {
		return decl.Instance{}, false
	}
	tpl, ok := p.g.templates.Template(desc)
	if !ok {
		return decl.Instance{}, false
	}
	boxName := w.BoxName(box)
	name := naming.Identifier(boxName)
	if name == "" {
		return decl.Instance{}, false
	}
	inst := tpl.Instantiate(name, decl.Values{
		decl.TokGVL:  group,
		decl.TokBox:  boxName,
		decl.TokDesc: desc,
		decl.TokPort: strconv.Itoa(w.Port(box)),
	})
	p.res.Instances = append(p.res.Instances, inst)
	return inst, true
}

func (p *pass) safetyInstance(pr *safety.Pairing, group string, log logrus.FieldLogger) (decl.Instance, bool) {
	if !pr.Paired {
		return decl.Instance{}, false
	}
	if !pr.IsValid() {
		log.WithFields(logrus.Fields{
			"module":     pr.Module,
			"hostSize":   pr.HostUserSize,
			"deviceSize": pr.DeviceUserSize,
		}).Warn("invalid safety module sizes, module not emitted")
		// Without a safety instance the telegram variables keep their bus link.
		if pr.Host != nil {
			pr.Host.Safety = false
		}
		if pr.Device != nil {
			pr.Device.Safety = false
		}
		return decl.Instance{}, false
	}

	tpl := decl.SafetyModule
	if p.g.templates != nil {
		if t, ok := p.g.templates.Template(pr.Module); ok {
			tpl = t
		}
	}
	inst := tpl.Instantiate(pr.Name, decl.Values{
		decl.TokGVL:        group,
		decl.TokInput:      pr.InputAddressName,
		decl.TokOutput:     pr.OutputAddressName,
		decl.TokHostSize:   strconv.Itoa(pr.HostUserSize),
		decl.TokDeviceSize: strconv.Itoa(pr.DeviceUserSize),
		decl.TokPort:       strconv.Itoa(pr.Port),
		decl.TokSlot:       strconv.Itoa(pr.Slot),
		decl.TokSubSlot:    strconv.Itoa(pr.SubSlot),
		decl.TokBox:        pr.BoxName,
	})
	p.res.Instances = append(p.res.Instances, inst)
	return inst, true
}

// ── plugins ───────────────────────────────────────────────────────────────────

func (p *pass) plugin(name string) {
	log := p.g.log.WithField("plugin", name)
	if p.g.plugins == nil {
		log.Warn("no plugin catalog, plugin skipped")
		return
	}
	pl, ok := p.g.plugins.Plugin(name)
	if !ok {
		log.Warn("unknown plugin skipped")
		return
	}

	switch pl.Kind {
	case PluginNone:
		log.Debug("plugin without I/O skipped")
	case PluginAddress:
		group := p.groupName(pl.Name, "Plugin")
		for _, e := range pl.Inputs {
			p.add(p.element(pl, e, model.DirInput), group)
		}
		for _, e := range pl.Outputs {
			p.add(p.element(pl, e, model.DirOutput), group)
		}
		p.emitGroup(group, p.g.opts.Folders.Plugins, nil)
	case PluginStruct:
		p.structPlugin(pl, log)
	}
}

func (p *pass) element(pl Plugin, e Element, dir model.Direction) model.CandidateVariable {
	return model.CandidateVariable{
		RawName:      e.Name,
		DeclaredType: e.Type,
		Direction:    dir,
		Path:         []string{pl.Name, e.Name},
		Link:         pl.elementLink(e),
		Owner:        topology.None,
	}
}

func (p *pass) structPlugin(pl Plugin, log logrus.FieldLogger) {
	group := p.groupName(pl.Name, "Plugin")
	folder := p.g.opts.Folders.Plugins

	side := func(elems []Element, suffix string, dir model.Direction) {
		if len(elems) == 0 {
			return
		}
		dut := group + suffix
		fields := make([]emit.Field, 0, len(elems))
		for _, e := range elems {
			n := naming.Identifier(e.Name)
			if n == "" {
				log.WithField("element", e.Name).Debug("element without a usable name skipped")
				continue
			}
			fields = append(fields, emit.Field{Name: n, Type: e.Type})
		}
		p.res.Artifacts = append(p.res.Artifacts, emit.Artifact{
			Kind:   emit.KindDUT,
			Name:   dut,
			Group:  group,
			Folder: folder,
			Text:   emit.DUT(dut, fields),
		})
		link := ""
		if pl.Link != "" {
			link = pl.Link + "^" + suffix
		}
		p.add(model.CandidateVariable{
			RawName:      "st" + dut,
			DeclaredType: dut,
			Direction:    dir,
			Link:         link,
			Owner:        topology.None,
		}, group)
	}
	side(pl.Inputs, "Inputs", model.DirInput)
	side(pl.Outputs, "Outputs", model.DirOutput)

	p.emitGroup(group, folder, nil)
}

// ── emission ──────────────────────────────────────────────────────────────────

func (p *pass) emitGroup(group, folder string, instances []decl.Instance) {
	vars := p.vars.Group(group)
	if len(vars) == 0 && len(instances) == 0 {
		return
	}
	p.res.Artifacts = append(p.res.Artifacts, emit.Artifact{
		Kind:   emit.KindGVL,
		Name:   group,
		Group:  group,
		Folder: folder,
		Text:   emit.GVL(vars, instances),
	})
	if emit.HasProgramBody(instances) {
		name := "P_" + group
		p.res.Artifacts = append(p.res.Artifacts, emit.Artifact{
			Kind:   emit.KindPOU,
			Name:   name,
			Group:  group,
			Folder: p.g.opts.Folders.Mapping,
			Text:   emit.Program(name, group, instances),
		})
	}
}

// Publish hands every artifact of res to sink and closes it. A failing
// artifact does not stop the others; all failures are returned together.
func Publish(sink Sink, res *Result) error {
	var err error
	for _, a := range res.Artifacts {
		err = multierr.Append(err, errors.Wrapf(sink.Put(a), "put %s %s", a.Kind, a.Name))
	}
	return multierr.Append(err, errors.Wrap(sink.Close(), "close sink"))
}
