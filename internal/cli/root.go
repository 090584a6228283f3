// Package cli 提供本地BC3文件的命令行工具
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/freedkr/bc3tree/internal/config"
	"github.com/freedkr/bc3tree/internal/importer"
	"github.com/freedkr/bc3tree/internal/logger"
)

type options struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *logrus.Logger
}

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "bc3tree",
		Short: "BC3 (FIEBDC-3) 预算文件解析、层级构建与校验",
		Long: `bc3tree 读取 FIEBDC-3 (.bc3) 预算文件，构建概念层级树，
校验树结构并导出为 JSON 或 Excel。

示例:
  bc3tree parse obra.bc3
  bc3tree tree obra.bc3 --depth 2
  bc3tree validate obra.bc3 --json
  bc3tree export obra.bc3 --format xlsx -o obra.xlsx`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径 (yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "日志级别: debug|info|warn|error")

	rootCmd.AddCommand(newParseCmd(opts))
	rootCmd.AddCommand(newTreeCmd(opts))
	rootCmd.AddCommand(newValidateCmd(opts))
	rootCmd.AddCommand(newExportCmd(opts))
	return rootCmd
}

// Execute 执行根命令
func Execute() error {
	return NewRootCmd().Execute()
}

// init 加载配置并初始化日志，日志写到stderr
func (o *options) init(stderr io.Writer) error {
	cfg, err := config.LoadConfigForService(config.ServiceTypeCLI, o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = strings.ToLower(o.logLevel)
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}
	o.cfg = cfg
	o.log = logger.NewWithWriter(cfg.Log, stderr)
	return nil
}

func (o *options) importer() *importer.Importer {
	return importer.New(o.cfg, importer.Deps{}, logger.ForService(o.log, config.ServiceTypeCLI))
}

// process 处理本地文件；被拒绝时仍返回结果，调用方决定如何输出
func (o *options) process(ctx context.Context, path string) (*importer.Result, error) {
	result, err := o.importer().ImportLocal(ctx, path)
	if result == nil || result.Build == nil {
		if err == nil {
			err = fmt.Errorf("处理 %s 未产生层级树", path)
		}
		return nil, err
	}
	return result, err
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("无法读取文件 %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s 是目录", path)
	}
	return nil
}
