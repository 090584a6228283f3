package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/freedkr/bc3tree/internal/export"
	"github.com/freedkr/bc3tree/internal/model"
	"github.com/freedkr/bc3tree/internal/navigator"
)

func newTreeCmd(opts *options) *cobra.Command {
	var (
		depth int
		from  string
	)
	cmd := &cobra.Command{
		Use:   "tree <file.bc3>",
		Short: "以缩进形式打印层级树",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFile(args[0]); err != nil {
				return err
			}
			result, procErr := opts.process(cmd.Context(), args[0])
			if result == nil {
				return procErr
			}

			nav := navigator.New(result.Tree())
			out := cmd.OutOrStdout()
			if from != "" {
				start, ok := nav.Find(from)
				if !ok {
					return fmt.Errorf("节点不存在: %s", from)
				}
				printSubtree(out, nav, start, depth)
			} else {
				printTree(out, nav, depth)
			}
			fmt.Fprintf(out, "\n%d 个节点，最大层级 %d，总预算 %s\n",
				result.Tree().TotalNodes, result.Tree().MaxLevel, export.FormatAmount(result.Tree().TotalBudget))
			return procErr
		},
	}
	cmd.Flags().IntVar(&depth, "depth", -1, "最大打印层级，-1 表示不限")
	cmd.Flags().StringVar(&from, "from", "", "从指定编码开始打印子树")
	return cmd
}

func printTree(w io.Writer, nav *navigator.Navigator, depth int) {
	nav.Walk(func(node *model.Node) bool {
		if depth >= 0 && node.Level > depth {
			return false
		}
		writeNodeLine(w, node, node.Level)
		return true
	})
}

// printSubtree 缩进相对于起始节点
func printSubtree(w io.Writer, nav *navigator.Navigator, start *model.Node, depth int) {
	var visit func(node *model.Node, rel int)
	visit = func(node *model.Node, rel int) {
		if depth >= 0 && rel > depth {
			return
		}
		writeNodeLine(w, node, rel)
		for _, child := range nav.Children(node.Code()) {
			visit(child, rel+1)
		}
	}
	visit(start, 0)
}

func writeNodeLine(w io.Writer, node *model.Node, indent int) {
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", indent))
	b.WriteString(node.Code())
	if s := node.Concept.Summary; s != "" {
		b.WriteString("  ")
		b.WriteString(s)
	}
	if u := node.Concept.Unit; u != "" {
		fmt.Fprintf(&b, " (%s)", u)
	}
	if !node.SubtreeAmount.IsZero() {
		fmt.Fprintf(&b, "  [%s]", export.FormatAmount(node.SubtreeAmount))
	}
	if node.MeasurementCount > 0 {
		fmt.Fprintf(&b, "  {%d 测量}", node.MeasurementCount)
	}
	fmt.Fprintln(w, b.String())
}
