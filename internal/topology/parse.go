package topology

import (
	"bytes"
	"encoding/xml"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"
)

// xmlNode is the generic decode target: exports are parsed into this loose
// tree first and flattened into the arena afterwards, so no struct has to
// mirror the vendor schema.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []*xmlNode `xml:",any"`
}

// Parse decodes a topology export. Legacy encodings declared in the XML
// prolog (ISO-8859-1, windows-1252, UTF-16) are honoured. An input without
// any element yields an empty tree.
func Parse(r io.Reader) (*Tree, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var root xmlNode
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return &Tree{}, nil
		}
		return nil, errors.Wrap(err, "decode topology")
	}

	t := &Tree{}
	t.flatten(&root, None)
	return t, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(raw []byte) (*Tree, error) {
	return Parse(bytes.NewReader(raw))
}

// ParseFile reads and parses the export at path.
func ParseFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open topology")
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return t, nil
}

func (t *Tree) flatten(n *xmlNode, parent NodeID) NodeID {
	id := NodeID(len(t.nodes))
	node := Node{
		Tag:    n.XMLName.Local,
		Text:   n.Content,
		Parent: parent,
	}
	for _, a := range n.Attrs {
		node.Attrs = append(node.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
	}
	t.nodes = append(t.nodes, node)

	kids := make([]NodeID, 0, len(n.Children))
	for _, c := range n.Children {
		kids = append(kids, t.flatten(c, id))
	}
	t.nodes[id].Children = kids
	return id
}
