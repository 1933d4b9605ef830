// Package dot renders a composed pipeline as a Graphviz graph.
package dot

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
)

// Model is the view of a pipeline the renderer needs: layer names and
// the layers themselves, in forward order.
type Model interface {
	Names() []string
	Layers() []nn.Layer
}

type nodeInfo struct {
	Name   string
	Kind   string
	Params int
}

const tmplRaw = `<
<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0">
<TR><TD>Layer</TD><TD>{{.Name}}</TD></TR>
<TR><TD>Kind</TD><TD>{{.Kind}}</TD></TR>
<TR><TD>Parameters</TD><TD>{{.Params}}</TD></TR>
</TABLE>
>
`

var tmpl *template.Template

func init() {
	tmpl = template.Must(template.New("layer").Parse(tmplRaw))
}

// Marshal renders the pipeline as a directed graph, one node per layer,
// edges following the forward order.
func Marshal(m Model) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		return "", errors.Wrap(err, "dot")
	}
	g.SetDir(true)

	names, layers := m.Names(), m.Layers()
	if len(names) != len(layers) {
		return "", errors.Errorf("%d names for %d layers", len(names), len(layers))
	}

	var buf bytes.Buffer
	for i, l := range layers {
		var count int
		for _, p := range l.Params() {
			count += p.Shape().TotalSize()
		}
		buf.Reset()
		if err := tmpl.Execute(&buf, nodeInfo{
			Name:   names[i],
			Kind:   fmt.Sprintf("%T", l),
			Params: count,
		}); err != nil {
			return "", errors.Wrapf(err, "dot layer %q", names[i])
		}

		attrs := map[string]string{
			"fontname": "Monaco",
			"shape":    "none",
			"label":    buf.String(),
		}
		if err := g.AddNode("G", fmt.Sprintf("n%d", i), attrs); err != nil {
			return "", errors.Wrapf(err, "dot layer %q", names[i])
		}
		if i > 0 {
			if err := g.AddEdge(fmt.Sprintf("n%d", i-1), fmt.Sprintf("n%d", i), true, nil); err != nil {
				return "", errors.Wrapf(err, "dot edge into %q", names[i])
			}
		}
	}
	return g.String(), nil
}
