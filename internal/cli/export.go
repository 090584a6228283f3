package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/freedkr/bc3tree/internal/export"
)

func newExportCmd(opts *options) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <file.bc3>",
		Short: "导出层级树为 JSON 或 Excel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format == export.FormatXLSX && (output == "" || output == "-") {
				return fmt.Errorf("xlsx 格式需要通过 -o 指定输出文件")
			}
			if err := checkFile(args[0]); err != nil {
				return err
			}
			result, err := opts.process(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return export.Render(cmd.OutOrStdout(), format, result.Tree(), result.Metadata())
			}

			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("创建输出目录失败: %w", err)
				}
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("创建输出文件失败: %w", err)
			}
			if err := export.Render(f, format, result.Tree(), result.Metadata()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "已导出 %d 个节点到 %s\n", result.Tree().TotalNodes, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", export.FormatJSON, "导出格式: json|xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "输出文件，缺省或 - 表示标准输出")
	return cmd
}
