package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/freedkr/bc3tree/internal/queue"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// StreamImport 通过WebSocket推送导入状态，任务结束后关闭连接
func (h *Handlers) StreamImport(c *gin.Context) {
	importID := c.Param("id")
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).WithField("import_id", importID).Warn("WebSocket升级失败")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := h.log.WithField("import_id", importID)

	// 先订阅再读取当前状态，避免漏掉中间的事件
	events, unsubscribe, err := h.queue.Subscribe(ctx, importID)
	if err != nil {
		log.WithError(err).Error("订阅任务事件失败")
		writeClose(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer unsubscribe()

	current, err := h.queue.GetTaskStatus(ctx, importID)
	if err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, "import not found")
		return
	}
	if !writeTask(conn, current) || current.IsFinished() {
		writeClose(conn, websocket.CloseNormalClosure, current.Status)
		return
	}

	// 读循环只用于感知客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-events:
			if !ok {
				return
			}
			if !writeTask(conn, task) {
				return
			}
			if task.IsFinished() {
				log.WithFields(logrus.Fields{"status": task.Status}).Debug("任务结束，关闭推送")
				writeClose(conn, websocket.CloseNormalClosure, task.Status)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeTask(conn *websocket.Conn, task *queue.Task) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(task) == nil
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
