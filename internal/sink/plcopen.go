package sink

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/damischa1/topo2st/internal/emit"
	"github.com/damischa1/topo2st/internal/iec"
)

// PLCopen collects artifacts and writes them as one PLCopen TC6 XML project
// on Close. Object ids are name-based UUIDs, so regenerating the same
// project yields the same ids.
type PLCopen struct {
	Dir     string
	Project string
	Company string
	// Now stamps the file header; time.Now when nil.
	Now func() time.Time

	log   logrus.FieldLogger
	items []emit.Artifact
	path  string
}

// NewPLCopen returns a sink writing {dir}/{project}.xml.
func NewPLCopen(dir, project string, log logrus.FieldLogger) *PLCopen {
	return &PLCopen{Dir: dir, Project: project, Company: "topo2st", log: orDiscard(log)}
}

// Put queues an artifact.
func (p *PLCopen) Put(a emit.Artifact) error {
	if a.Name == "" {
		return errors.Errorf("%s artifact without a name", a.Kind)
	}
	p.items = append(p.items, a)
	return nil
}

// Path returns the written file, empty before Close.
func (p *PLCopen) Path() string { return p.path }

// Close writes the project file with CRLF line endings, as the engineering
// tools export it.
func (p *PLCopen) Close() error {
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create output dir")
	}
	path := filepath.Join(p.Dir, p.Project+".xml")
	out := bytes.ReplaceAll(buf.Bytes(), []byte("\n"), []byte("\r\n"))
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	p.path = path
	p.log.WithFields(logrus.Fields{"path": path, "objects": len(p.items)}).Info("PLCopen project written")
	return nil
}

// errWriter remembers the first write error so the XML writers can use
// plain Fprintf calls.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(b []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(b)
	e.err = err
	return n, err
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func esc(s string) string { return xmlEscaper.Replace(s) }

func (p *PLCopen) objectID(a emit.Artifact) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("plcopen:"+p.Project+"/"+a.Folder+"/"+a.Name)).String()
}

// ── Project writer ───────────────────────────────────────────────────────────

// Encode writes the whole project document to w with \n line endings.
func (p *PLCopen) Encode(out io.Writer) error {
	w := &errWriter{w: out}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	ts := now().Format("2006-01-02T15:04:05.0000000")

	byKind := make(map[emit.Kind][]emit.Artifact)
	root := newFolder("Application")
	for _, a := range p.items {
		byKind[a.Kind] = append(byKind[a.Kind], a)
		f := root.at(a.Folder)
		f.objects = append(f.objects, projObject{name: a.Name, id: p.objectID(a)})
	}

	fmt.Fprintf(w, "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	fmt.Fprintf(w, "<project xmlns=\"http://www.plcopen.org/xml/tc6_0200\">\n")
	fmt.Fprintf(w, "  <fileHeader companyName=\"%s\" productName=\"TwinCAT PLC Control\" productVersion=\"3.5\" creationDateTime=\"%s\" />\n",
		esc(p.Company), ts)
	fmt.Fprintf(w, "  <contentHeader name=\"%s\" modificationDateTime=\"%s\">\n", esc(p.Project), ts)
	fmt.Fprintf(w, "    <coordinateInfo>\n")
	for _, lang := range []string{"fbd", "ld", "sfc"} {
		fmt.Fprintf(w, "      <%s>\n        <scaling x=\"1\" y=\"1\" />\n      </%s>\n", lang, lang)
	}
	fmt.Fprintf(w, "    </coordinateInfo>\n")
	fmt.Fprintf(w, "  </contentHeader>\n")

	fmt.Fprintf(w, "  <types>\n")
	p.writeSection(w, "dataTypes", byKind[emit.KindDUT], p.writeDataType)
	p.writeSection(w, "pous", byKind[emit.KindPOU], p.writePOU)
	fmt.Fprintf(w, "  </types>\n")
	fmt.Fprintf(w, "  <instances>\n    <configurations />\n  </instances>\n")

	fmt.Fprintf(w, "  <addData>\n")
	for _, a := range byKind[emit.KindGVL] {
		p.writeGlobalVars(w, a)
	}
	fmt.Fprintf(w, "    <data name=\"http://www.3s-software.com/plcopenxml/projectstructure\" handleUnknown=\"discard\">\n")
	fmt.Fprintf(w, "      <ProjectStructure>\n")
	root.write(w, "        ")
	fmt.Fprintf(w, "      </ProjectStructure>\n")
	fmt.Fprintf(w, "    </data>\n")
	fmt.Fprintf(w, "  </addData>\n")
	fmt.Fprintf(w, "</project>\n")

	return errors.Wrap(w.err, "write PLCopen project")
}

func (p *PLCopen) writeSection(w io.Writer, tag string, items []emit.Artifact, write func(io.Writer, emit.Artifact)) {
	if len(items) == 0 {
		fmt.Fprintf(w, "    <%s />\n", tag)
		return
	}
	fmt.Fprintf(w, "    <%s>\n", tag)
	for _, a := range items {
		write(w, a)
	}
	fmt.Fprintf(w, "    </%s>\n", tag)
}

func (p *PLCopen) writeDataType(w io.Writer, a emit.Artifact) {
	fmt.Fprintf(w, "      <dataType name=\"%s\">\n", esc(a.Name))
	fmt.Fprintf(w, "        <baseType>\n")
	fmt.Fprintf(w, "          <struct>\n")
	for _, f := range parseStructFields(a.Text) {
		writeVariable(w, "            ", f)
	}
	fmt.Fprintf(w, "          </struct>\n")
	fmt.Fprintf(w, "        </baseType>\n")
	writeObjectID(w, "        ", p.objectID(a))
	fmt.Fprintf(w, "      </dataType>\n")
}

// writePOU writes a mapping program. Generated programs only declare a VAR
// block.
func (p *PLCopen) writePOU(w io.Writer, a emit.Artifact) {
	decl, body := splitProgram(a.Text)
	fmt.Fprintf(w, "      <pou name=\"%s\" pouType=\"program\">\n", esc(a.Name))
	fmt.Fprintf(w, "        <interface>\n")
	blocks, _ := parseVarBlocks(decl)
	for _, b := range blocks {
		if b.kind != "VAR" || len(b.vars) == 0 {
			continue
		}
		fmt.Fprintf(w, "          <localVars>\n")
		for _, v := range b.vars {
			writeVariable(w, "            ", v)
		}
		fmt.Fprintf(w, "          </localVars>\n")
	}
	fmt.Fprintf(w, "        </interface>\n")
	fmt.Fprintf(w, "        <body>\n")
	fmt.Fprintf(w, "          <ST>\n")
	writeXHTML(w, "            ", body)
	fmt.Fprintf(w, "          </ST>\n")
	fmt.Fprintf(w, "        </body>\n")
	writeObjectID(w, "        ", p.objectID(a))
	fmt.Fprintf(w, "      </pou>\n")
}

func (p *PLCopen) writeGlobalVars(w io.Writer, a emit.Artifact) {
	blocks, attrs := parseVarBlocks(a.Text)
	fmt.Fprintf(w, "    <data name=\"http://www.3s-software.com/plcopenxml/globalvars\" handleUnknown=\"implementation\">\n")
	fmt.Fprintf(w, "      <globalVars name=\"%s\">\n", esc(a.Name))
	for _, b := range blocks {
		if b.kind != "VAR_GLOBAL" {
			continue
		}
		for _, v := range b.vars {
			writeVariable(w, "        ", v)
		}
	}
	fmt.Fprintf(w, "        <addData>\n")
	writeAttributes(w, "          ", attrs)
	fmt.Fprintf(w, "          <data name=\"http://www.3s-software.com/plcopenxml/objectid\" handleUnknown=\"discard\">\n")
	fmt.Fprintf(w, "            <ObjectId>%s</ObjectId>\n", p.objectID(a))
	fmt.Fprintf(w, "          </data>\n")
	fmt.Fprintf(w, "        </addData>\n")
	fmt.Fprintf(w, "      </globalVars>\n")
	fmt.Fprintf(w, "    </data>\n")
}

// ── XML element writers ──────────────────────────────────────────────────────

var reSizedString = regexp.MustCompile(`(?i)^(W?STRING)\s*\(\s*(\d+)\s*\)$`)

// elementary reports whether typ has its own TC6 element. Bus widths such as
// BIT4 are not IEC types and are written as derived.
func elementary(upper string) bool {
	if strings.HasPrefix(upper, "BIT") || upper == "LTIME" {
		return false
	}
	_, ok := iec.BitWidth(upper)
	return ok
}

func writeType(w io.Writer, indent, typ string) {
	typ = strings.TrimSpace(typ)
	upper := strings.ToUpper(typ)
	if upper == "STRING" || upper == "WSTRING" {
		fmt.Fprintf(w, "%s<%s />\n", indent, strings.ToLower(upper))
		return
	}
	if elementary(upper) {
		fmt.Fprintf(w, "%s<%s />\n", indent, upper)
		return
	}
	if m := reSizedString.FindStringSubmatch(typ); m != nil {
		fmt.Fprintf(w, "%s<%s length=\"%s\" />\n", indent, strings.ToLower(m[1]), m[2])
		return
	}
	if lo, hi, elem, ok := iec.ArrayBounds(typ); ok {
		fmt.Fprintf(w, "%s<array>\n", indent)
		fmt.Fprintf(w, "%s  <dimension lower=\"%d\" upper=\"%d\" />\n", indent, lo, hi)
		fmt.Fprintf(w, "%s  <baseType>\n", indent)
		writeType(w, indent+"    ", elem)
		fmt.Fprintf(w, "%s  </baseType>\n", indent)
		fmt.Fprintf(w, "%s</array>\n", indent)
		return
	}
	fmt.Fprintf(w, "%s<derived name=\"%s\" />\n", indent, esc(typ))
}

// writeValue writes an initial value. Parenthesised member lists become a
// structValue.
func writeValue(w io.Writer, indent, val string) {
	members, ok := structInit(val)
	if !ok {
		fmt.Fprintf(w, "%s<simpleValue value=\"%s\" />\n", indent, esc(val))
		return
	}
	fmt.Fprintf(w, "%s<structValue>\n", indent)
	for _, m := range members {
		fmt.Fprintf(w, "%s  <value member=\"%s\">\n", indent, esc(m.name))
		writeValue(w, indent+"    ", m.value)
		fmt.Fprintf(w, "%s  </value>\n", indent)
	}
	fmt.Fprintf(w, "%s</structValue>\n", indent)
}

// hasWritableInit reports whether the initialiser can be expressed in TC6.
// Aggregates that are not member lists are left out.
func hasWritableInit(val string) bool {
	if val == "" {
		return false
	}
	if _, ok := structInit(val); ok {
		return true
	}
	return !strings.HasPrefix(val, "(") && !strings.HasPrefix(val, "[")
}

func writeXHTML(w io.Writer, indent, text string) {
	fmt.Fprintf(w, "%s<xhtml xmlns=\"http://www.w3.org/1999/xhtml\">%s</xhtml>\n", indent, esc(text))
}

func writeVariable(w io.Writer, indent string, v varInfo) {
	if v.address != "" {
		fmt.Fprintf(w, "%s<variable name=\"%s\" address=\"%s\">\n", indent, esc(v.name), esc(v.address))
	} else {
		fmt.Fprintf(w, "%s<variable name=\"%s\">\n", indent, esc(v.name))
	}
	fmt.Fprintf(w, "%s  <type>\n", indent)
	writeType(w, indent+"    ", v.typeName)
	fmt.Fprintf(w, "%s  </type>\n", indent)
	if hasWritableInit(v.initVal) {
		fmt.Fprintf(w, "%s  <initialValue>\n", indent)
		writeValue(w, indent+"    ", v.initVal)
		fmt.Fprintf(w, "%s  </initialValue>\n", indent)
	}
	if len(v.attrs) > 0 {
		fmt.Fprintf(w, "%s  <addData>\n", indent)
		writeAttributes(w, indent+"    ", v.attrs)
		fmt.Fprintf(w, "%s  </addData>\n", indent)
	}
	if v.comment != "" {
		fmt.Fprintf(w, "%s  <documentation>\n", indent)
		writeXHTML(w, indent+"    ", v.comment)
		fmt.Fprintf(w, "%s  </documentation>\n", indent)
	}
	fmt.Fprintf(w, "%s</variable>\n", indent)
}

func writeAttributes(w io.Writer, indent string, attrs []attr) {
	if len(attrs) == 0 {
		return
	}
	fmt.Fprintf(w, "%s<data name=\"http://www.3s-software.com/plcopenxml/attributes\" handleUnknown=\"implementation\">\n", indent)
	fmt.Fprintf(w, "%s  <Attributes>\n", indent)
	for _, a := range attrs {
		fmt.Fprintf(w, "%s    <Attribute Name=\"%s\" Value=\"%s\" />\n", indent, esc(a.name), esc(a.value))
	}
	fmt.Fprintf(w, "%s  </Attributes>\n", indent)
	fmt.Fprintf(w, "%s</data>\n", indent)
}

func writeObjectID(w io.Writer, indent, id string) {
	fmt.Fprintf(w, "%s<addData>\n", indent)
	fmt.Fprintf(w, "%s  <data name=\"http://www.3s-software.com/plcopenxml/objectid\" handleUnknown=\"discard\">\n", indent)
	fmt.Fprintf(w, "%s    <ObjectId>%s</ObjectId>\n", indent, id)
	fmt.Fprintf(w, "%s  </data>\n", indent)
	fmt.Fprintf(w, "%s</addData>\n", indent)
}

// ── ProjectStructure ─────────────────────────────────────────────────────────

type projObject struct {
	name string
	id   string
}

// folder is one node of the project tree the artifacts are filed into.
type folder struct {
	name    string
	sub     map[string]*folder
	objects []projObject
}

func newFolder(name string) *folder {
	return &folder{name: name, sub: make(map[string]*folder)}
}

// at returns the folder for a slash separated path below f, creating it.
func (f *folder) at(path string) *folder {
	cur := f
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		next, ok := cur.sub[part]
		if !ok {
			next = newFolder(part)
			cur.sub[part] = next
		}
		cur = next
	}
	return cur
}

// write emits the sub-folders of f in name order, then its objects in
// insertion order.
func (f *folder) write(w io.Writer, indent string) {
	names := make([]string, 0, len(f.sub))
	for name := range f.sub {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s<Folder Name=\"%s\">\n", indent, esc(name))
		f.sub[name].write(w, indent+"  ")
		fmt.Fprintf(w, "%s</Folder>\n", indent)
	}
	for _, o := range f.objects {
		fmt.Fprintf(w, "%s<Object Name=\"%s\" ObjectId=\"%s\" />\n", indent, esc(o.name), o.id)
	}
}
