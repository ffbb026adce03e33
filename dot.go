package glow

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/awalterschulze/gographviz"
)

type dotStep struct {
	ID       int
	Kind     string
	Channels int
	Params   int
}

// ToDot renders the flow as a graphviz digraph, one node per step in
// forward order. Useful for eyeballing what a composed flow actually looks
// like.
func (f *Flow) ToDot() string {
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		panic(err)
	}
	g.SetDir(true)

	var buf bytes.Buffer
	prev := ""
	for i, step := range f.steps {
		s := &dotStep{
			ID:       i,
			Kind:     kindOf(step),
			Channels: step.Channels(),
			Params:   len(step.Parameters()),
		}
		tmpl.Execute(&buf, s)
		attrs := map[string]string{
			"fontname": "Monaco",
			"shape":    "none",
			"label":    buf.String(),
		}
		name := fmt.Sprintf("step_%d", i)
		g.AddNode("G", name, attrs)
		buf.Reset()

		if prev != "" {
			g.AddEdge(prev, name, true, nil)
		}
		prev = name
	}
	return g.String()
}

func kindOf(step Transform) string {
	if n, ok := step.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", step)
}

const tmplRaw = `<
<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0">
<TR><TD>Step</TD><TD>{{.ID}}</TD></TR>
<TR><TD>Kind</TD><TD>{{.Kind}}</TD></TR>
<TR><TD>Channels</TD><TD>{{.Channels}}</TD></TR>
<TR><TD>Params</TD><TD>{{.Params}}</TD></TR>
</TABLE>
>
`

var tmpl *template.Template

func init() {
	tmpl = template.Must(template.New("step").Parse(tmplRaw))
}
