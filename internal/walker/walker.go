// Package walker flattens a topology tree into candidate variables and the
// positional facts (port, slot, sub-slot) the safety matcher needs.
//
// Two shapes of input are understood:
//
//	EtherCAT  Box/…/Pdo[Name,SyncMan]/Entry[Name,Index]/Type
//	Profinet  Box/…/Module/SubModule/Vars[VarGrpType]/Var/{Name,BitOffs,Type}
//
// The walker never fails. Items missing a required attribute or child are
// skipped and reported at debug level.
package walker

import (
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/damischa1/topo2st/internal/model"
	"github.com/damischa1/topo2st/internal/naming"
	"github.com/damischa1/topo2st/internal/topology"
)

const (
	// FirstBoxPort is reserved for the first box under a parent, whatever its Id.
	FirstBoxPort = 65535
	// PortOffset is added to a box Id to form its EtherCAT port number.
	PortOffset = 0x1000

	// LinkRoot prefixes every TwinCAT link path.
	LinkRoot = "TIID"
)

const (
	tagDevice    = "Device"
	tagBox       = "Box"
	tagModule    = "Module"
	tagSubModule = "SubModule"
	tagPdo       = "Pdo"
	tagEntry     = "Entry"
)

// Walker reads one topology tree. It holds no per-pass state and may be
// shared between passes.
type Walker struct {
	tree *topology.Tree
	log  logrus.FieldLogger
}

// New returns a walker over t. A nil logger discards output.
func New(t *topology.Tree, log logrus.FieldLogger) *Walker {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Walker{tree: t, log: log}
}

// Tree returns the walked tree.
func (w *Walker) Tree() *topology.Tree { return w.tree }

// Devices returns the fieldbus devices in document order. A document without
// any Device element is treated as a single device rooted at the document
// element.
func (w *Walker) Devices() []topology.NodeID {
	t := w.tree
	root := t.Root()
	if root == topology.None {
		return nil
	}
	if t.Tag(root) == tagDevice {
		return []topology.NodeID{root}
	}
	devs := t.Descendants(root, t.TagIs(tagDevice), t.TagIs(tagDevice))
	if len(devs) == 0 {
		return []topology.NodeID{root}
	}
	return devs
}

// DeviceName returns the display name of a device, falling back to
// "Device{Id}" and finally to the tag.
func (w *Walker) DeviceName(dev topology.NodeID) string {
	if n := w.tree.Name(dev); n != "" {
		return n
	}
	if id, ok := w.tree.Attr(dev, "Id"); ok {
		return tagDevice + id
	}
	return w.tree.Tag(dev)
}

// Boxes returns every box below dev in document order, nested boxes
// included.
func (w *Walker) Boxes(dev topology.NodeID) []topology.NodeID {
	return w.tree.Descendants(dev, w.tree.TagIs(tagBox), nil)
}

// BoxName returns the box Name, falling back to "Box{Id}".
func (w *Walker) BoxName(box topology.NodeID) string {
	if n := w.tree.Name(box); n != "" {
		return n
	}
	return tagBox + w.tree.AttrOr(box, "Id", "")
}

// ProductDesc returns the product description of an EtherCAT box: the Desc
// attribute of its EtherCAT child, else the box's own Desc or Type.
func (w *Walker) ProductDesc(box topology.NodeID) string {
	t := w.tree
	if ec := t.Child(box, "EtherCAT"); ec != topology.None {
		if d, ok := t.Attr(ec, "Desc"); ok && d != "" {
			return d
		}
	}
	if d, ok := t.Value(box, "Desc"); ok && d != "" {
		return d
	}
	d, _ := t.Value(box, "Type")
	return d
}

// Port returns the port number of a box.
func (w *Walker) Port(box topology.NodeID) int {
	if w.tree.PrecedingSiblings(box, tagBox) == 0 {
		return FirstBoxPort
	}
	id, err := strconv.Atoi(strings.TrimSpace(w.tree.AttrOr(box, "Id", "")))
	if err != nil {
		w.log.WithField("box", w.BoxName(box)).Debug("box without numeric Id, using 0")
		id = 0
	}
	return id + PortOffset
}

// Slot returns the number of Module siblings before module.
func (w *Walker) Slot(module topology.NodeID) int {
	return w.tree.PrecedingSiblings(module, tagModule)
}

// SubSlot returns the 1-based position of sub among its SubModule siblings.
func (w *Walker) SubSlot(sub topology.NodeID) int {
	return 1 + w.tree.PrecedingSiblings(sub, tagSubModule)
}

// boxChain returns the names of box and every enclosing box up to the
// device, outermost first.
func (w *Walker) boxChain(box topology.NodeID) []string {
	var chain []string
	for n := box; n != topology.None && w.tree.Tag(n) != tagDevice; n = w.tree.Parent(n) {
		if w.tree.Tag(n) == tagBox {
			chain = append(chain, w.BoxName(n))
		}
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (w *Walker) deviceOf(n topology.NodeID) topology.NodeID {
	if w.tree.Tag(n) == tagDevice {
		return n
	}
	if d := w.tree.Ancestor(n, tagDevice); d != topology.None {
		return d
	}
	return w.tree.Root()
}

// ownDescendants returns the descendants of box matching match, without
// entering nested boxes.
func (w *Walker) ownDescendants(box topology.NodeID, match func(topology.NodeID) bool) []topology.NodeID {
	isBox := w.tree.TagIs(tagBox)
	return w.tree.Descendants(box, func(n topology.NodeID) bool {
		return !isBox(n) && match(n)
	}, isBox)
}

// HasPdos reports whether box describes its process data as PDOs.
func (w *Walker) HasPdos(box topology.NodeID) bool {
	return len(w.ownDescendants(box, w.tree.TagIs(tagPdo))) > 0
}

// ── EtherCAT PDO mode ────────────────────────────────────────────────────────

// PdoVariables returns one candidate per indexed entry of every input or
// output PDO of box. PDO names are made unique through scope, which must be
// fresh for each box.
func (w *Walker) PdoVariables(box topology.NodeID, scope *naming.Scope) []model.CandidateVariable {
	t := w.tree
	boxName := w.BoxName(box)
	log := w.log.WithField("box", boxName)

	prefix := append([]string{LinkRoot, w.DeviceName(w.deviceOf(box))}, w.boxChain(box)...)

	var out []model.CandidateVariable
	for _, pdo := range w.ownDescendants(box, t.TagIs(tagPdo)) {
		pdoName, _ := t.Value(pdo, "Name")
		sm, ok := t.Attr(pdo, "SyncMan")
		if !ok {
			log.WithField("pdo", pdoName).Debug("pdo without SyncMan skipped")
			continue
		}
		var dir model.Direction
		switch strings.TrimSpace(sm) {
		case "2":
			dir = model.DirInput
		case "3":
			dir = model.DirOutput
		default:
			log.WithFields(logrus.Fields{"pdo": pdoName, "syncman": sm}).Debug("pdo on non-process sync manager skipped")
			continue
		}
		unique := scope.Claim(pdoName)

		for _, entry := range t.ChildrenByTag(pdo, tagEntry) {
			entryName, _ := t.Value(entry, "Name")
			elog := log.WithFields(logrus.Fields{"pdo": pdoName, "entry": entryName})
			if _, ok := t.Attr(entry, "Index"); !ok {
				elog.Debug("entry without Index skipped")
				continue
			}
			typ, ok := t.Value(entry, "Type")
			if !ok || typ == "" || entryName == "" {
				elog.Debug("entry without Name or Type skipped")
				continue
			}
			link := strings.Join(append(append([]string(nil), prefix...), pdoName, entryName), "^")
			out = append(out, model.CandidateVariable{
				RawName:      boxName + "_" + unique + "_" + naming.CleanEntryName(entryName),
				DeclaredType: typ,
				Direction:    dir,
				Path:         append(append([]string(nil), prefix[1:]...), pdoName, entryName),
				Link:         link,
				Owner:        box,
			})
		}
	}
	return out
}

// ── Profinet sub-module mode ─────────────────────────────────────────────────

// SubModules returns the sub-modules of box in document order.
func (w *Walker) SubModules(box topology.NodeID) []topology.NodeID {
	return w.ownDescendants(box, w.tree.TagIs(tagSubModule))
}

// Owner returns the sub-module a variable belongs to, or the box when it
// sits outside any sub-module.
func (w *Walker) Owner(v topology.NodeID, box topology.NodeID) topology.NodeID {
	if sub := w.tree.Ancestor(v, tagSubModule); sub != topology.None {
		if w.tree.Ancestor(sub, tagBox) == box {
			return sub
		}
	}
	return box
}

// BitOffsVariables returns one candidate per element of box carrying a
// BitOffs marker. Direction comes from the nearest VarGrpType (1 input,
// 2 output).
func (w *Walker) BitOffsVariables(box topology.NodeID) []model.CandidateVariable {
	t := w.tree
	log := w.log.WithField("box", w.BoxName(box))

	vars := w.ownDescendants(box, func(n topology.NodeID) bool {
		return t.Has(n, "BitOffs")
	})

	var out []model.CandidateVariable
	for _, v := range vars {
		var dir model.Direction
		grp := t.AncestorWithAttr(v, "VarGrpType")
		switch strings.TrimSpace(t.AttrOr(grp, "VarGrpType", "")) {
		case "1":
			dir = model.DirInput
		case "2":
			dir = model.DirOutput
		default:
			log.WithField("var", t.Name(v)).Debug("var outside an input or output group skipped")
			continue
		}
		typ, ok := t.Value(v, "Type")
		if !ok || typ == "" {
			log.WithField("var", t.Name(v)).Debug("var without Type skipped")
			continue
		}
		path := w.Path(v)
		if len(path) < 2 {
			log.WithField("var", t.Name(v)).Debug("var without a named path skipped")
			continue
		}
		out = append(out, model.CandidateVariable{
			RawName:      naming.FallbackName(path[1:]),
			DeclaredType: typ,
			Direction:    dir,
			Path:         path,
			Link:         LinkRoot + "^" + strings.Join(path, "^"),
			Owner:        w.Owner(v, box),
		})
	}
	return out
}

// Path returns the names of n and its named ancestors, outermost first,
// starting at the topmost Device. Without a Device the path runs to the
// document element.
func (w *Walker) Path(n topology.NodeID) []string {
	t := w.tree
	var names []string
	cut := -1
	for p := n; p != topology.None; p = t.Parent(p) {
		name := t.Name(p)
		if name == "" && t.Tag(p) == tagDevice {
			name = w.DeviceName(p)
		}
		if name == "" {
			continue
		}
		names = append(names, name)
		if t.Tag(p) == tagDevice {
			cut = len(names)
		}
	}
	if cut >= 0 {
		names = names[:cut]
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}
