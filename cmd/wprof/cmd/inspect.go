package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kusoof/wprof/node"
	"github.com/kusoof/wprof/trace"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Summarize a trace or walk the causes of one node.",
	Long: "`inspect FILE` prints a summary of every page in a trace. " +
		"`inspect FILE --node N` prints the chain of causes of node N.",
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("format", "", "Trace format. Guessed from the extension if empty.")
	inspectCmd.Flags().Uint32("node", 0, "Print the back-trace of this node.")
	inspectCmd.Flags().String("page", "", "Only inspect the page with this uid.")
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]

	formatName, _ := cmd.Flags().GetString("format")

	format, err := formatOf(path, formatName)
	if err != nil {
		return err
	}

	records, err := trace.ReadFile(path, format)
	if err != nil {
		return err
	}

	graphs, err := trace.Rebuild(records)
	if err != nil {
		return err
	}

	uid, _ := cmd.Flags().GetString("page")
	id, _ := cmd.Flags().GetUint32("node")
	w := cmd.OutOrStdout()

	for _, g := range graphs {
		if uid != "" && g.UID != uid {
			continue
		}

		if id == 0 {
			summarize(w, g)
			continue
		}

		if err := printBackTrace(w, g, node.ID(id)); err != nil {
			return err
		}
	}

	return nil
}

func formatOf(path, name string) (trace.Format, error) {
	if name != "" {
		return trace.ParseFormat(name)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case trace.FormatMsgpack.Extension():
		return trace.FormatMsgpack, nil
	case trace.FormatSQLite.Extension(), ".sqlite", ".db":
		return trace.FormatSQLite, nil
	default:
		return trace.FormatJSON, nil
	}
}

var allKinds = []node.Kind{
	node.KindFrame,
	node.KindResource,
	node.KindCachedResource,
	node.KindTag,
	node.KindGeneratedTag,
	node.KindComputation,
	node.KindEvent,
	node.KindPreload,
	node.KindFrameChange,
}

func summarize(w io.Writer, g *trace.Graph) {
	bold := color.New(color.Bold, color.FgCyan)
	gray := color.New(color.FgHiBlack)

	bold.Fprintf(w, "Page %s %s\n", g.UID, g.Info.URL)
	gray.Fprintf(w, "  %.3fs to %.3fs, %d nodes, %d chars parsed\n",
		g.StartTime, g.EndTime, g.Arena.Len(), g.Info.CharsConsumed)

	for _, k := range allKinds {
		if n := len(g.Arena.OfKind(k)); n > 0 {
			fmt.Fprintf(w, "  %-16s %d\n", k, n)
		}
	}

	gaps := 0
	for _, n := range g.Arena.All() {
		if n.Meta().AttributionGap {
			gaps++
		}
	}

	if gaps > 0 {
		color.New(color.FgYellow).Fprintf(w, "  attribution gaps %d\n", gaps)
	}

	if g.Info.Unmatched > 0 {
		color.New(color.FgYellow).Fprintf(w, "  unmatched preloads %d\n", g.Info.Unmatched)
	}
}

func printBackTrace(w io.Writer, g *trace.Graph, id node.ID) error {
	if g.Arena.Get(id) == nil {
		return fmt.Errorf("page %s has no node %d", g.UID, id)
	}

	color.New(color.Bold, color.FgCyan).Fprintf(w, "Page %s %s\n", g.UID, g.Info.URL)

	chain := trace.BackTrace(g.Arena, id)
	for i, cur := range chain {
		n := g.Arena.Get(cur)
		fmt.Fprintf(w, "%s%s %s\n",
			strings.Repeat("  ", i),
			color.GreenString("#%d", cur),
			describe(n))
	}

	last := g.Arena.Meta(chain[len(chain)-1])
	if last.AttributionGap {
		color.New(color.FgYellow).Fprintln(w, "  (attribution gap)")
	}

	return nil
}

func describe(n node.Node) string {
	m := n.Meta()
	at := fmt.Sprintf("@%.3f", m.StartTime)

	switch v := n.(type) {
	case *node.Tag:
		return fmt.Sprintf("%s <%s> %d:%d %s", m.Kind, v.Name, v.Position.Line, v.Position.Column, at)
	case *node.GeneratedTag:
		return fmt.Sprintf("%s <%s> %s", m.Kind, v.Name, at)
	case *node.Event:
		return fmt.Sprintf("%s %s on %s %s", m.Kind, v.Name, v.TargetKind, at)
	case *node.Computation:
		return fmt.Sprintf("%s %s %s", m.Kind, v.ComputationKind, at)
	case *node.Resource:
		return fmt.Sprintf("%s %s %s", m.Kind, v.URL, at)
	case *node.CachedResource:
		return fmt.Sprintf("%s %s %s", m.Kind, v.URL, at)
	case *node.Preload:
		return fmt.Sprintf("%s %s %s", m.Kind, v.URL, at)
	case *node.Frame:
		return fmt.Sprintf("%s %d %s", m.Kind, v.FrameID, at)
	case *node.FrameChange:
		return fmt.Sprintf("%s %d %s %s", m.Kind, v.FrameID, v.URL, at)
	default:
		return fmt.Sprintf("%s %s", m.Kind, at)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
