package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/freedkr/bc3tree/internal/builder"
	"github.com/freedkr/bc3tree/internal/validator"
)

func newValidateCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate <file.bc3>",
		Short: "构建层级树并校验，存在错误时以非零状态退出",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFile(args[0]); err != nil {
				return err
			}
			result, procErr := opts.process(cmd.Context(), args[0])
			if result == nil {
				return procErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]interface{}{
					"status": result.Status,
					"build":  result.Build.Stats,
					"report": result.Report,
				}); err != nil {
					return err
				}
			} else {
				printBuildStats(out, result.Build.Stats)
				printReport(out, result.Report)
			}

			if procErr != nil {
				return procErr
			}
			if !result.Report.Valid {
				return fmt.Errorf("校验失败: %d 个错误", len(result.Report.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以JSON输出")
	return cmd
}

func printBuildStats(w io.Writer, st *builder.BuildStats) {
	fmt.Fprintln(w, "构建:")
	fmt.Fprintf(w, "  节点 %d，根 %d，最大层级 %d\n", st.Nodes, st.Roots, st.MaxLevel)
	fmt.Fprintf(w, "  显式关系 %d，推断关系 %d，已提交 %d\n", st.ExplicitRelations, st.InferredRelations, st.CommittedRelations)
	fmt.Fprintf(w, "  拒绝: 自引用 %d，成环 %d，冲突 %d\n", st.RejectedSelf, st.RejectedCycle, st.RejectedConflict)
	fmt.Fprintf(w, "  测量: 挂载 %d，未找到 %d，数量不一致 %d\n",
		st.MeasurementsAttached, st.MeasurementsNotFound, st.MeasurementsMismatched)
}

func printReport(w io.Writer, report *validator.Report) {
	state := "通过"
	if !report.Valid {
		state = "失败"
	}
	fmt.Fprintf(w, "\n校验: %s (%d 错误, %d 警告)\n", state, len(report.Errors), len(report.Warnings))
	for _, issue := range report.Errors {
		fmt.Fprintf(w, "  错误 [%s] %s%s\n", issue.Kind, issue.Message, issuePath(issue))
	}
	for _, issue := range report.Warnings {
		fmt.Fprintf(w, "  警告 [%s] %s%s\n", issue.Kind, issue.Message, issuePath(issue))
	}
}

func issuePath(issue validator.Issue) string {
	if len(issue.Path) == 0 {
		return ""
	}
	return " (" + strings.Join(issue.Path, " > ") + ")"
}
