package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/freedkr/bc3tree/internal/export"
	"github.com/freedkr/bc3tree/internal/importer"
	"github.com/freedkr/bc3tree/internal/model"
	"github.com/freedkr/bc3tree/internal/parser"
)

func newParseCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "parse <file.bc3>",
		Short: "解析文件并输出元数据、记录统计和诊断",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := checkFile(path); err != nil {
				return err
			}

			diag := model.NewDiagnostics(opts.log).WithMaxMessages(opts.cfg.Parser.MaxMessages)
			p := parser.NewBC3Parser(importer.ParserConfig(opts.cfg.Parser))
			result, err := p.ParseFile(cmd.Context(), path, diag)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"metadata":    result.Metadata,
					"stats":       result.Stats,
					"diagnostics": diag.Counts(),
				})
			}
			printParseResult(out, result, diag)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以JSON输出")
	return cmd
}

func printParseResult(w io.Writer, result *model.ParseResult, diag *model.Diagnostics) {
	meta := result.Metadata
	fmt.Fprintf(w, "文件:     %s (%d 字节)\n", meta.FileName, meta.FileSize)
	fmt.Fprintf(w, "编码:     %s\n", meta.Encoding)
	if meta.FormatVersion != "" {
		fmt.Fprintf(w, "格式版本: %s\n", meta.FormatVersion)
	}
	if meta.Generator != "" {
		fmt.Fprintf(w, "生成程序: %s %s\n", meta.Generator, meta.GeneratorVersion)
	}

	fmt.Fprintln(w, "\n记录:")
	for _, kind := range sortedKeys(meta.RecordCounts) {
		fmt.Fprintf(w, "  ~%s  %d\n", kind, meta.RecordCounts[kind])
	}

	st := result.Stats
	fmt.Fprintln(w, "\n统计:")
	fmt.Fprintf(w, "  总记录      %d\n", st.TotalRecords)
	fmt.Fprintf(w, "  已解析      %d\n", st.ParsedRecords)
	fmt.Fprintf(w, "  格式错误    %d\n", st.MalformedRecords)
	fmt.Fprintf(w, "  未知类型    %d\n", st.UnknownRecords)
	fmt.Fprintf(w, "  章节        %d\n", st.Chapters)
	fmt.Fprintf(w, "  项目        %d\n", st.Items)
	fmt.Fprintf(w, "  无单价概念  %d\n", st.ConceptsWithoutPrice)
	fmt.Fprintf(w, "  单价合计    %s\n", export.FormatAmount(st.PriceSum))

	counts := diag.Counts()
	if len(counts) == 0 {
		return
	}
	fmt.Fprintln(w, "\n诊断:")
	for _, category := range sortedKeys(counts) {
		fmt.Fprintf(w, "  %-24s %d\n", category, counts[category])
	}
	if dropped := diag.Dropped(); dropped > 0 {
		fmt.Fprintf(w, "  (另有 %d 条消息未保留)\n", dropped)
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
