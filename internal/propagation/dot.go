package propagation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/roach88/meshtrace/internal/fault"
)

// WriteDOT renders the graph in Graphviz DOT. Each wave is a cluster
// subgraph and the hand-off edge points at the first wave's boundary.
func (g *Graph) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "digraph %s {\n", dotID(g.FileID))
	fmt.Fprintf(bw, "\tgraph [compound=true, label=%s];\n", dotID(fmt.Sprintf("%s (sync window %s)", g.FileID, g.Window)))
	fmt.Fprintf(bw, "\tnode [color=lightblue2, style=filled];\n")
	fmt.Fprintf(bw, "\t%s [color=orange];\n", dotID(g.Origin.TabletID))

	for _, c := range g.Clusters {
		fmt.Fprintf(bw, "\n\tsubgraph cluster_%d {\n", c.Index)
		fmt.Fprintf(bw, "\t\tlabel = \"cluster %d\";\n", c.Index)
		fmt.Fprintf(bw, "\t\tcolor=blue;\n")
		for _, n := range c.Members {
			fmt.Fprintf(bw, "\t\t%s;\n", dotID(n.TabletID))
		}
		fmt.Fprintf(bw, "\t}\n")
	}

	if len(g.Edges) > 0 {
		fmt.Fprintln(bw)
	}
	for _, e := range g.Edges {
		fmt.Fprintf(bw, "\t%s -> %s [lhead=cluster_%d];\n", dotID(e.From), dotID(e.To), e.ToCluster)
	}

	fmt.Fprintf(bw, "}\n")
	return bw.Flush()
}

// WriteFile writes the DOT rendering to path on fs. An existing file is
// never overwritten: the call fails with fault.KindConfiguration instead.
func (g *Graph) WriteFile(fs afero.Fs, path string) (err error) {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fault.Newf(fault.KindConfiguration, "propagation", "output file %s already exists", path)
		}
		return fault.Wrap(fault.KindConfiguration, "propagation", "unable to create the output file", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	return g.WriteDOT(f)
}

// dotID quotes s as a DOT identifier. Backslashes are escaped before quotes.
func dotID(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
