// Package importer 编排BC3导入流水线：获取、解析、构建、校验、接受策略、持久化、导出
package importer

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/freedkr/bc3tree/internal/builder"
	"github.com/freedkr/bc3tree/internal/config"
	"github.com/freedkr/bc3tree/internal/database"
	"github.com/freedkr/bc3tree/internal/export"
	"github.com/freedkr/bc3tree/internal/metrics"
	"github.com/freedkr/bc3tree/internal/model"
	"github.com/freedkr/bc3tree/internal/parser"
	"github.com/freedkr/bc3tree/internal/storage"
	"github.com/freedkr/bc3tree/internal/validator"
)

// StageHook 阶段开始时回调
type StageHook func(ctx context.Context, importID, stage string)

// Deps 导入器依赖，DB 和 Storage 为空时只做本地处理
type Deps struct {
	Parser  parser.Parser
	Builder builder.TreeBuilder
	DB      database.DatabaseInterface
	Storage storage.StorageInterface
	Metrics *metrics.Metrics
	OnStage StageHook
}

// Importer 导入流水线
type Importer struct {
	parser  parser.Parser
	builder builder.TreeBuilder
	db      database.DatabaseInterface
	store   storage.StorageInterface
	metrics *metrics.Metrics
	onStage StageHook

	config      config.ImporterConfig
	maxMessages int
	log         *logrus.Entry
}

// New 创建导入器，未提供解析器和构建器时使用默认实现
func New(cfg *config.Config, deps Deps, log logrus.FieldLogger) *Importer {
	if deps.Parser == nil {
		deps.Parser = parser.NewBC3Parser(ParserConfig(cfg.Parser))
	}
	if deps.Builder == nil {
		deps.Builder = builder.NewTreeBuilder(BuilderConfig(cfg.Builder))
	}
	return &Importer{
		parser:      deps.Parser,
		builder:     deps.Builder,
		db:          deps.DB,
		store:       deps.Storage,
		metrics:     deps.Metrics,
		onStage:     deps.OnStage,
		config:      cfg.Importer,
		maxMessages: cfg.Parser.MaxMessages,
		log:         log.WithField("component", "importer"),
	}
}

// ParserConfig 由服务配置生成解析器配置
func ParserConfig(c config.ParserConfig) *parser.ParserConfig {
	return &parser.ParserConfig{
		Encoding:          c.Encoding,
		FallbackEncodings: c.FallbackEncodings,
		FieldSeparator:    c.FieldSeparator,
		SubFieldSeparator: c.SubFieldSeparator,
		RecordPrefix:      c.RecordPrefix,
	}
}

// BuilderConfig 由服务配置生成构建器配置
func BuilderConfig(c config.BuilderConfig) *builder.BuilderConfig {
	return &builder.BuilderConfig{
		EnableCodeInference: c.EnableCodeInference,
		HierarchySeparator:  c.HierarchySeparator,
		MarkerChar:          c.MarkerChar,
		ConflictPolicy:      builder.ConflictPolicy(c.ConflictPolicy),
	}
}

// Result 一次导入的结果
type Result struct {
	ImportID    string               `json:"import_id,omitempty"`
	Status      string               `json:"status"`
	Parse       *model.ParseResult   `json:"-"`
	Build       *builder.BuildResult `json:"-"`
	Report      *validator.Report    `json:"validation,omitempty"`
	Diagnostics *model.Diagnostics   `json:"-"`
	Exports     map[string]string    `json:"exports,omitempty"`
	Duration    time.Duration        `json:"duration"`
}

// Tree 构建得到的树，构建未完成时为nil
func (r *Result) Tree() *model.Tree {
	if r == nil || r.Build == nil {
		return nil
	}
	return r.Build.Tree
}

// Metadata 文件元数据
func (r *Result) Metadata() *model.Metadata {
	if r == nil || r.Parse == nil {
		return nil
	}
	return &r.Parse.Metadata
}

// StageError 带阶段信息的错误
type StageError struct {
	Stage     string    `json:"stage"`
	Err       error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StageError) Error() string {
	return fmt.Sprintf("阶段 %s 失败: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf 返回错误所在阶段
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// StatusFor 把错误映射为导入状态
func StatusFor(err error) string {
	switch {
	case err == nil:
		return database.ImportStatusCompleted
	case model.IsErrorType(err, model.ErrCodeRejected):
		return database.ImportStatusRejected
	default:
		return database.ImportStatusFailed
	}
}

// runStage 执行一个阶段并记录指标
func (im *Importer) runStage(ctx context.Context, importID, stage string, fn func() error) error {
	if im.onStage != nil {
		im.onStage(ctx, importID, stage)
	}
	start := time.Now()
	err := fn()
	im.metrics.ObserveStage(stage, time.Since(start), err)
	if err != nil {
		return &StageError{Stage: stage, Err: err, Timestamp: time.Now()}
	}
	return nil
}

// Process 解析、构建、校验并执行接受策略，不涉及外部存储。
// 被拒绝时同时返回结果和拒绝错误。
func (im *Importer) Process(ctx context.Context, input io.Reader, fileName string) (*Result, error) {
	return im.process(ctx, "", input, fileName)
}

func (im *Importer) process(ctx context.Context, importID string, input io.Reader, fileName string) (*Result, error) {
	start := time.Now()
	entry := im.log.WithFields(logrus.Fields{"import_id": importID, "file": fileName})
	result := &Result{
		ImportID:    importID,
		Diagnostics: model.NewDiagnostics(entry).WithMaxMessages(im.maxMessages),
	}
	defer func() { result.Duration = time.Since(start) }()

	err := im.runStage(ctx, importID, metrics.StageParse, func() error {
		parsed, err := im.parser.Parse(ctx, input, fileName, result.Diagnostics)
		if err != nil {
			return err
		}
		result.Parse = parsed
		im.metrics.ObserveParse(parsed)
		return nil
	})
	if err != nil {
		result.Status = StatusFor(err)
		return result, err
	}

	err = im.runStage(ctx, importID, metrics.StageBuild, func() error {
		built, err := im.builder.Build(ctx, builder.InputFromParseResult(result.Parse), result.Diagnostics)
		if err != nil {
			return err
		}
		result.Build = built
		im.metrics.ObserveBuild(built.Stats)
		return nil
	})
	if err != nil {
		result.Status = StatusFor(err)
		return result, err
	}

	err = im.runStage(ctx, importID, metrics.StageValidate, func() error {
		result.Report = validator.Validate(result.Build.Tree)
		return CheckAcceptance(im.config, result.Build.Stats, result.Report)
	})
	result.Status = StatusFor(err)

	entry.WithFields(logrus.Fields{
		"records":   result.Parse.Stats.TotalRecords,
		"nodes":     result.Build.Stats.Nodes,
		"roots":     result.Build.Stats.Roots,
		"rejected":  result.Build.Stats.RejectedRelations(),
		"valid":     result.Report.Valid,
		"status":    result.Status,
		"encoding":  result.Parse.Metadata.Encoding,
		"max_level": result.Build.Stats.MaxLevel,
	}).Info("BC3处理完成")
	return result, err
}

// CheckAcceptance 按配置阈值决定是否接受构建结果
func CheckAcceptance(cfg config.ImporterConfig, stats *builder.BuildStats, report *validator.Report) error {
	if stats != nil {
		rejected := stats.RejectedRelations()
		if cfg.MaxRejectedRelations >= 0 && rejected > cfg.MaxRejectedRelations {
			return model.NewRejectedError("被拒绝的关系过多",
				fmt.Sprintf("rejected=%d limit=%d", rejected, cfg.MaxRejectedRelations))
		}
		if ratio := stats.RejectedRatio(); ratio > cfg.MaxRejectedRatio {
			return model.NewRejectedError("被拒绝的关系比例过高",
				fmt.Sprintf("ratio=%.4f limit=%.4f", ratio, cfg.MaxRejectedRatio))
		}
	}
	if cfg.FailOnValidationErrors && report != nil && !report.Valid {
		return model.NewRejectedError("树校验未通过", report.ErrorList().Error())
	}
	return nil
}

// ImportLocal 处理本地文件，不持久化
func (im *Importer) ImportLocal(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.NewFileError(model.ErrCodeFileReadError, path, "open", "打开BC3文件失败", err)
	}
	defer f.Close()
	return im.Process(ctx, f, filepath.Base(path))
}

// Run 处理一条已上传的导入：下载源文件，处理，保存节点与导出，更新导入记录
func (im *Importer) Run(ctx context.Context, importID string, formats []string) (*Result, error) {
	if im.db == nil || im.store == nil {
		return nil, fmt.Errorf("导入器未配置数据库或对象存储")
	}
	if im.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, im.config.Timeout)
		defer cancel()
	}
	if len(formats) == 0 {
		formats = im.config.ExportFormats
	}

	rec, err := im.db.GetImport(ctx, importID)
	if err != nil {
		return nil, err
	}

	im.metrics.ImportStarted()
	status := database.ImportStatusFailed
	defer func() { im.metrics.ImportFinished(status) }()

	rec.Status = database.ImportStatusProcessing
	rec.ErrorMsg = ""
	if err := im.db.UpdateImport(ctx, rec); err != nil {
		return nil, err
	}

	var data []byte
	err = im.runStage(ctx, importID, metrics.StageFetch, func() error {
		reader, err := im.store.DownloadFile(ctx, rec.ObjectKey)
		if err != nil {
			return err
		}
		defer reader.Close()
		data, err = io.ReadAll(reader)
		if err != nil {
			return model.NewFileError(model.ErrCodeFileReadError, rec.ObjectKey, "download", "读取源文件失败", err)
		}
		return nil
	})
	if err != nil {
		return nil, im.fail(ctx, rec, nil, err)
	}
	rec.FileSize = int64(len(data))
	rec.MD5Hash = md5Hex(data)

	result, err := im.process(ctx, importID, bytes.NewReader(data), rec.FileName)
	if err != nil {
		status = result.Status
		return result, im.fail(ctx, rec, result, err)
	}

	err = im.runStage(ctx, importID, metrics.StagePersist, func() error {
		return im.db.SaveTree(ctx, importID, result.Tree())
	})
	if err != nil {
		return result, im.fail(ctx, rec, result, err)
	}

	err = im.runStage(ctx, importID, metrics.StageExport, func() error {
		exports, err := im.Export(ctx, importID, result.Tree(), result.Metadata(), formats)
		result.Exports = exports
		return err
	})
	if err != nil {
		return result, im.fail(ctx, rec, result, err)
	}

	fillRecord(rec, result)
	now := time.Now()
	rec.Status = database.ImportStatusCompleted
	rec.CompletedAt = &now
	rec.Exports = exportKeys(result.Exports, formats)
	if err := im.db.UpdateImport(ctx, rec); err != nil {
		return result, err
	}
	status = database.ImportStatusCompleted
	result.Status = status
	return result, nil
}

// Export 渲染导出并上传，返回 格式 -> 对象名
func (im *Importer) Export(ctx context.Context, importID string, tree *model.Tree, meta *model.Metadata, formats []string) (map[string]string, error) {
	exports := make(map[string]string, len(formats))
	for _, format := range formats {
		format = strings.ToLower(format)
		var buf bytes.Buffer
		if err := export.Render(&buf, format, tree, meta); err != nil {
			return exports, err
		}
		key := storage.ExportObjectKey(importID, format)
		if err := im.store.UploadBytes(ctx, key, buf.Bytes(), storage.ExportContentType(format)); err != nil {
			return exports, err
		}
		exports[format] = key
	}
	return exports, nil
}

// fail 记录失败或拒绝状态，返回原始错误
func (im *Importer) fail(ctx context.Context, rec *database.ImportRecord, result *Result, cause error) error {
	status := StatusFor(cause)
	entry := im.log.WithFields(logrus.Fields{"import_id": rec.ID, "stage": StageOf(cause), "status": status})
	entry.WithError(cause).Warn("导入未完成")

	fillRecord(rec, result)
	now := time.Now()
	rec.Status = status
	rec.ErrorMsg = cause.Error()
	rec.CompletedAt = &now
	if err := im.db.UpdateImport(context.WithoutCancel(ctx), rec); err != nil {
		entry.WithError(err).Error("更新导入记录失败")
	}
	return cause
}

// fillRecord 把处理结果写入导入记录
func fillRecord(rec *database.ImportRecord, result *Result) {
	if result == nil {
		return
	}
	rec.ProcessingMs = result.Duration.Milliseconds()
	if result.Parse != nil {
		rec.Encoding = result.Parse.Metadata.Encoding
		rec.ParseStats, _ = database.MarshalJSONField(result.Parse.Stats)
	}
	if result.Build != nil {
		rec.BuildStats, _ = database.MarshalJSONField(result.Build.Stats)
		rec.TotalNodes = result.Build.Tree.TotalNodes
		rec.MaxLevel = result.Build.Tree.MaxLevel
		rec.TotalBudget = result.Build.Tree.TotalBudget
	}
	if result.Report != nil {
		rec.Validation, _ = database.MarshalJSONField(result.Report)
	}
}

// exportKeys 按请求格式顺序列出对象名
func exportKeys(exports map[string]string, formats []string) []string {
	keys := make([]string, 0, len(exports))
	for _, format := range formats {
		if key, ok := exports[strings.ToLower(format)]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
