package handlers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/freedkr/bc3tree/internal/config"
	"github.com/freedkr/bc3tree/internal/database"
	"github.com/freedkr/bc3tree/internal/export"
	"github.com/freedkr/bc3tree/internal/model"
	"github.com/freedkr/bc3tree/internal/navigator"
	"github.com/freedkr/bc3tree/internal/queue"
	"github.com/freedkr/bc3tree/internal/storage"
)

const presignExpiry = 15 * time.Minute

// Handlers API处理器
type Handlers struct {
	db       database.DatabaseInterface
	queue    queue.Client
	storage  storage.StorageInterface
	config   *config.Config
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewHandlers 创建处理器
func NewHandlers(db database.DatabaseInterface, q queue.Client, store storage.StorageInterface, cfg *config.Config, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		db:      db,
		queue:   q,
		storage: store,
		config:  cfg,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// UploadResponse 上传响应
type UploadResponse struct {
	ImportID string   `json:"import_id"`
	Status   string   `json:"status"`
	FileName string   `json:"file_name"`
	MD5Hash  string   `json:"md5_hash"`
	Formats  []string `json:"formats"`
}

// ImportResponse 导入详情响应
type ImportResponse struct {
	*database.ImportRecord
	Stage string `json:"stage,omitempty"`
}

// Health 健康检查
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "api-server",
	})
}

// Ready 就绪检查
func (h *Handlers) Ready(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "database not available",
		})
		return
	}
	if err := h.queue.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "queue not available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// UploadImport 上传BC3文件并创建导入任务
func (h *Handlers) UploadImport(c *gin.Context) {
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.APIServer.MaxUploadSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的文件上传: " + err.Error()})
		return
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".bc3" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "仅支持 .bc3 文件"})
		return
	}

	formats, err := h.requestedFormats(c.PostForm("formats"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "计算文件哈希失败"})
		return
	}
	md5Hash := hex.EncodeToString(hash.Sum(nil))
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "重置文件读取位置失败"})
		return
	}

	importID := uuid.New().String()
	objectName := storage.SourceObjectKey(importID, header.Filename)
	log := h.log.WithFields(logrus.Fields{"import_id": importID, "file": header.Filename})

	if err := h.storage.UploadFile(ctx, objectName, file, header.Size, "application/octet-stream"); err != nil {
		log.WithError(err).Error("上传源文件失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传文件到存储失败"})
		return
	}

	now := time.Now()
	rec := &database.ImportRecord{
		ID:        importID,
		FileName:  header.Filename,
		ObjectKey: objectName,
		FileSize:  header.Size,
		MD5Hash:   md5Hash,
		Status:    database.ImportStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.db.CreateImport(ctx, rec); err != nil {
		_ = h.storage.DeleteFile(ctx, objectName)
		log.WithError(err).Error("创建导入记录失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建导入记录失败"})
		return
	}

	task := &queue.Task{
		ID:         importID,
		Type:       queue.TaskTypeImport,
		FileName:   header.Filename,
		ObjectName: objectName,
		Status:     queue.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Formats:    formats,
	}
	if err := h.queue.EnqueueTask(ctx, task); err != nil {
		// 补偿：删除源文件和导入记录
		_ = h.storage.DeleteFile(ctx, objectName)
		_ = h.db.DeleteImport(ctx, importID)
		log.WithError(err).Error("导入任务入队失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "导入任务入队失败"})
		return
	}
	log.Info("导入任务已创建")

	c.JSON(http.StatusAccepted, UploadResponse{
		ImportID: importID,
		Status:   database.ImportStatusPending,
		FileName: header.Filename,
		MD5Hash:  md5Hash,
		Formats:  formats,
	})
}

// requestedFormats 解析逗号分隔的导出格式，空值使用配置默认
func (h *Handlers) requestedFormats(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string{}, h.config.Importer.ExportFormats...), nil
	}
	supported := make(map[string]bool)
	for _, f := range export.SupportedFormats() {
		supported[f] = true
	}
	var formats []string
	for _, f := range strings.Split(raw, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if !supported[f] {
			return nil, fmt.Errorf("不支持的导出格式: %s", f)
		}
		formats = append(formats, f)
	}
	return formats, nil
}

// ListImports 列出导入记录
func (h *Handlers) ListImports(c *gin.Context) {
	limit := 20
	offset := 0

	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	imports, err := h.db.ListImports(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"imports": imports,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetImport 获取导入记录，附带队列中的当前阶段
func (h *Handlers) GetImport(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := h.db.GetImport(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := ImportResponse{ImportRecord: rec}
	if task, err := h.queue.GetTaskStatus(ctx, rec.ID); err == nil {
		resp.Stage = task.Stage
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteImport 删除导入记录、节点和对象
func (h *Handlers) DeleteImport(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := h.db.GetImport(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if rec.Status == database.ImportStatusProcessing {
		c.JSON(http.StatusConflict, gin.H{"error": "导入正在处理中，无法删除"})
		return
	}

	if err := h.db.DeleteImport(ctx, rec.ID); err != nil {
		h.respondError(c, err)
		return
	}
	for _, key := range append([]string{rec.ObjectKey}, rec.Exports...) {
		if err := h.storage.DeleteFile(ctx, key); err != nil {
			h.log.WithError(err).WithField("object", key).Warn("删除对象失败")
		}
	}

	c.JSON(http.StatusOK, gin.H{"import_id": rec.ID, "deleted": true})
}

// GetValidation 返回校验报告
func (h *Handlers) GetValidation(c *gin.Context) {
	rec, err := h.db.GetImport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(rec.Validation) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "校验报告尚未生成", "status": rec.Status})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", rec.Validation)
}

// GetRoots 获取根节点
func (h *Handlers) GetRoots(c *gin.Context) {
	nodes, err := h.db.GetRoots(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": newNodeDTOs(nodes, false)})
}

// GetNode 获取单个节点
func (h *Handlers) GetNode(c *gin.Context) {
	node, err := h.db.GetNode(c.Request.Context(), c.Param("id"), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNodeDTO(node, true))
}

// GetChildren 获取直接子节点
func (h *Handlers) GetChildren(c *gin.Context) {
	ctx := c.Request.Context()
	importID, code := c.Param("id"), c.Param("code")
	if _, err := h.db.GetNode(ctx, importID, code); err != nil {
		h.respondError(c, err)
		return
	}
	nodes, err := h.db.GetChildrenByParentCode(ctx, importID, code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"parent_code": code, "nodes": newNodeDTOs(nodes, false)})
}

// GetPath 获取从根到节点的路径
func (h *Handlers) GetPath(c *gin.Context) {
	node, err := h.db.GetNode(c.Request.Context(), c.Param("id"), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	dto := newNodeDTO(node, false)
	c.JSON(http.StatusOK, gin.H{"code": dto.Code, "path": dto.Path, "path_string": dto.PathString})
}

// GetLevel 获取指定层级的节点
func (h *Handlers) GetLevel(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil || level < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的层级"})
		return
	}
	nodes, err := h.db.GetNodesByLevel(c.Request.Context(), c.Param("id"), level)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"level": level, "nodes": newNodeDTOs(nodes, false)})
}

// GetMeasurements 获取带测量的节点
func (h *Handlers) GetMeasurements(c *gin.Context) {
	nodes, err := h.db.GetNodesWithMeasurements(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": newNodeDTOs(nodes, true)})
}

// GetStatistics 重建树并返回统计
func (h *Handlers) GetStatistics(c *gin.Context) {
	tree, err := h.db.LoadTree(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"statistics":   navigator.New(tree).Statistics(),
		"total_budget": export.FormatAmount(tree.TotalBudget),
	})
}

// DownloadExport 下载导出文件，presign=true 时返回预签名URL
func (h *Handlers) DownloadExport(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := h.db.GetImport(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	format := strings.ToLower(c.Param("format"))
	key := storage.ExportObjectKey(rec.ID, format)
	if !containsString(rec.Exports, key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "导出文件不存在", "format": format, "status": rec.Status})
		return
	}

	if c.Query("presign") == "true" {
		url, err := h.storage.GeneratePresignedURL(ctx, key, presignExpiry)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url, "expires_in": int(presignExpiry.Seconds())})
		return
	}

	reader, err := h.storage.DownloadFile(ctx, key)
	if err != nil {
		h.log.WithError(err).WithField("object", key).Error("下载导出文件失败")
		c.JSON(http.StatusNotFound, gin.H{"error": "文件未找到或无法下载"})
		return
	}
	defer reader.Close()

	fileName := strings.TrimSuffix(rec.FileName, filepath.Ext(rec.FileName)) + filepath.Ext(key)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))
	c.Header("Content-Type", storage.ExportContentType(format))
	if _, err := io.Copy(c.Writer, reader); err != nil {
		h.log.WithError(err).WithField("object", key).Warn("写出导出文件中断")
	}
}

// respondError 按错误类型映射HTTP状态码
func (h *Handlers) respondError(c *gin.Context, err error) {
	switch {
	case model.IsErrorType(err, model.ErrCodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).WithField("path", c.FullPath()).Error("请求处理失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "内部错误"})
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
