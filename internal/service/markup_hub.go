package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/overlay"
	"essay_edu_backend/internal/util"
	"essay_edu_backend/pkg/logger"
	"essay_edu_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
	presenceTTL    = 2 * time.Minute // 标注在线状态过期时间
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsFrame 标注会话的消息帧，上下行同构
type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// markupStore 把标注服务适配成叠加层的存储接口，预先绑定
// 作文、来源、批改人和槽位
type markupStore struct {
	svc         *AnnotationService
	essayID     uint
	origin      model.OriginTable
	correctorID uint
	slot        int
}

func (m *markupStore) List() ([]model.Annotation, error) {
	return m.svc.List(m.essayID, m.origin)
}

func (m *markupStore) Create(req overlay.CreateRequest) (*model.Annotation, error) {
	return m.svc.Create(CreateAnnotationRequest{
		EssayID:     m.essayID,
		OriginTable: m.origin,
		CorrectorID: m.correctorID,
		Slot:        m.slot,
		Competency:  req.Competency,
		Comment:     req.Comment,
		XStart:      req.Rect.X,
		YStart:      req.Rect.Y,
		XEnd:        req.Rect.X + req.Rect.Width,
		YEnd:        req.Rect.Y + req.Rect.Height,
		ImageWidth:  req.ImageWidth,
		ImageHeight: req.ImageHeight,
	})
}

func (m *markupStore) Delete(id string) error {
	return m.svc.Delete(id, m.correctorID, m.slot)
}

func (m *markupStore) ClearAll() error {
	return m.svc.ClearAll(m.essayID, m.origin, m.slot)
}

func (m *markupStore) MaxSequence() (int, error) {
	return m.svc.MaxSequence(m.essayID, m.origin)
}

// MarkupSession 一个批改人对一篇作文的标注会话，独占一个
// WebSocket连接、一个叠加层和一个调和器
type MarkupSession struct {
	hub  *MarkupHub
	conn *websocket.Conn
	send chan []byte
	// done 通知writePump立即收尾，writeDone在其退出后关闭
	done      chan struct{}
	writeDone chan struct{}

	EssayID     uint
	Origin      model.OriginTable
	CorrectorID uint
	Slot        int
	Mode        overlay.Mode

	limiter *rate.Limiter
	surface *overlay.WSSurface

	mu  sync.Mutex
	rec *overlay.Reconciler

	closeOnce sync.Once
}

type MarkupHub struct {
	mu          sync.RWMutex
	sessions    map[string]*MarkupSession
	Redis       *redis.Client
	Annotations *AnnotationService
	ctx         context.Context
}

func NewMarkupHub(rdb *redis.Client, annotations *AnnotationService) *MarkupHub {
	return &MarkupHub{
		sessions:    make(map[string]*MarkupSession),
		Redis:       rdb,
		Annotations: annotations,
		ctx:         context.Background(),
	}
}

func sessionKey(essayID uint, origin model.OriginTable, correctorID uint) string {
	return fmt.Sprintf("%s:%d:%d", origin, essayID, correctorID)
}

func presenceKey(essayID uint, origin model.OriginTable) string {
	return fmt.Sprintf("markup:presence:%s:%d", origin, essayID)
}

// Serve 升级连接并挂起会话；调和器在收到init帧（自然尺寸就绪）
// 后才创建
func (h *MarkupHub) Serve(c *gin.Context, essay *model.Essay, correctorID uint, slot int, mode overlay.Mode) error {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return err
	}

	session := &MarkupSession{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		writeDone:   make(chan struct{}),
		EssayID:     essay.ID,
		Origin:      essay.OriginTable,
		CorrectorID: correctorID,
		Slot:        slot,
		Mode:        mode,
		// 每秒最多30帧，允许突发50帧
		limiter: rate.NewLimiter(30, 50),
	}
	session.surface = overlay.NewWSSurface(session.send, logger.Log)

	h.register(session)

	go session.writePump()
	go session.readPump()

	return nil
}

func (h *MarkupHub) register(s *MarkupSession) {
	key := sessionKey(s.EssayID, s.Origin, s.CorrectorID)

	h.mu.Lock()
	old := h.sessions[key]
	h.sessions[key] = s
	h.mu.Unlock()

	if old != nil {
		// 同一批改人重复打开同一篇作文时顶掉旧会话；
		// close会等writePump收尾，不能在持锁时调用
		old.close()
	}

	monitoring.MarkupSessionGauge.Inc()

	if h.Redis != nil {
		pk := presenceKey(s.EssayID, s.Origin)
		h.Redis.SAdd(h.ctx, pk, s.CorrectorID)
		h.Redis.Expire(h.ctx, pk, presenceTTL)
	}
}

func (h *MarkupHub) unregister(s *MarkupSession) {
	key := sessionKey(s.EssayID, s.Origin, s.CorrectorID)

	h.mu.Lock()
	if h.sessions[key] == s {
		delete(h.sessions, key)
	}
	h.mu.Unlock()

	monitoring.MarkupSessionGauge.Dec()

	if h.Redis != nil {
		h.Redis.SRem(h.ctx, presenceKey(s.EssayID, s.Origin), s.CorrectorID)
	}
}

// Presence 返回正在标注该作文的批改人ID，用于提示另一位批改人
// （不阻塞，双批改相互独立）
func (h *MarkupHub) Presence(essayID uint, origin model.OriginTable) ([]string, error) {
	if h.Redis == nil {
		return nil, nil
	}
	return h.Redis.SMembers(h.ctx, presenceKey(essayID, origin)).Result()
}

// Stop 清理全部会话
func (h *MarkupHub) Stop() {
	h.mu.Lock()
	sessions := make([]*MarkupSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (s *MarkupSession) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.rec != nil {
			s.rec.Close()
		}
		s.mu.Unlock()

		// 先让writePump送出关闭帧再断连接，最多等一个写超时
		close(s.done)
		select {
		case <-s.writeDone:
		case <-time.After(writeWait):
		}
		s.conn.Close()
	})
}

func (s *MarkupSession) reconciler() *overlay.Reconciler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *MarkupSession) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Error("markup session unexpected close",
					zap.Error(err),
					zap.Uint("correctorId", s.CorrectorID),
					zap.Uint("essayId", s.EssayID))
			}
			break
		}

		if !s.limiter.Allow() {
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.sendError("badFrame", "malformed frame")
			continue
		}

		monitoring.MarkupMessageCounter.WithLabelValues(frame.Type, "in").Inc()
		s.handle(frame)
	}
}

func (s *MarkupSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(s.writeDone)
		s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if n := len(s.send); n > 0 {
				for i := 0; i < n; i++ {
					w.Write(<-s.send)
				}
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *MarkupSession) reply(frameType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Log.Error("failed to marshal reply", zap.Error(err))
		return
	}
	raw, err := json.Marshal(wsFrame{Type: frameType, Data: payload})
	if err != nil {
		return
	}
	select {
	case s.send <- raw:
		monitoring.MarkupMessageCounter.WithLabelValues(frameType, "out").Inc()
	default:
		logger.Log.Warn("markup session send buffer full",
			zap.Uint("correctorId", s.CorrectorID))
	}
}

func (s *MarkupSession) sendError(code, message string) {
	s.reply("error", gin.H{"code": code, "message": message})
}

func (s *MarkupSession) sendServiceError(err error) {
	switch {
	case errors.Is(err, util.ErrEmptyComment):
		s.sendError("emptyComment", err.Error())
	case errors.Is(err, util.ErrInvalidRegion):
		s.sendError("invalidRegion", err.Error())
	case errors.Is(err, util.ErrInvalidCompetency):
		s.sendError("invalidCompetency", err.Error())
	case errors.Is(err, util.ErrCorrectionClosed):
		s.sendError("correctionClosed", err.Error())
	case errors.Is(err, overlay.ErrReadOnly):
		s.sendError("readOnly", err.Error())
	case errors.Is(err, overlay.ErrUnknownShape):
		s.sendError("unknownShape", err.Error())
	case errors.Is(err, overlay.ErrMalformedSelector):
		s.sendError("badSelector", err.Error())
	case util.IsTransient(err):
		// 自动重试已经做过一次，剩下的交给批改人手动重试
		s.sendError("persistence", "temporary storage failure, please retry")
	default:
		s.sendError("internal", "operation failed")
	}
}

type initPayload struct {
	ImageWidth  int `json:"imageWidth"`
	ImageHeight int `json:"imageHeight"`
}

type shapeDrawnPayload struct {
	ShapeID  string `json:"shapeId"`
	Selector string `json:"selector"`
}

func (s *MarkupSession) handle(frame wsFrame) {
	if frame.Type == "init" {
		s.handleInit(frame.Data)
		return
	}

	rec := s.reconciler()
	if rec == nil {
		s.sendError("notInitialized", "send init with natural image dimensions first")
		return
	}

	switch frame.Type {
	case "rendered":
		// 叠加层报告内部重新渲染完成，触发编号补挂
		s.surface.NotifyChanged()

	case "shapeDrawn":
		var p shapeDrawnPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			s.sendError("badFrame", "malformed shapeDrawn payload")
			return
		}
		if err := rec.HandleShapeDrawn(p.ShapeID, p.Selector); err != nil {
			s.sendServiceError(err)
			return
		}
		competency, _, _ := rec.State()
		s.reply("captureStarted", gin.H{"shapeId": p.ShapeID, "competency": competency})

	case "submitComment":
		var p struct {
			Comment string `json:"comment"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			s.sendError("badFrame", "malformed submitComment payload")
			return
		}
		ann, err := rec.SubmitComment(p.Comment)
		if err != nil {
			s.sendServiceError(err)
			return
		}
		s.reply("annotationCreated", ann)

	case "cancelCapture":
		rec.CancelCapture()
		s.reply("captureCancelled", gin.H{})

	case "shapeClicked":
		var p struct {
			ShapeID string `json:"shapeId"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			s.sendError("badFrame", "malformed shapeClicked payload")
			return
		}
		res, err := rec.HandleShapeClicked(p.ShapeID)
		if err != nil {
			s.sendServiceError(err)
			return
		}
		if res.DeleteRequested {
			s.reply("confirmDelete", res)
		} else {
			s.reply("annotationInfo", res)
		}

	case "confirmDelete":
		var p struct {
			ShapeID string `json:"shapeId"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			s.sendError("badFrame", "malformed confirmDelete payload")
			return
		}
		if err := rec.ConfirmDelete(p.ShapeID); err != nil {
			s.sendServiceError(err)
			return
		}
		s.reply("annotationDeleted", gin.H{"shapeId": p.ShapeID})

	case "setCompetency":
		var p struct {
			Competency int `json:"competency"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			s.sendError("badFrame", "malformed setCompetency payload")
			return
		}
		if err := rec.SetActiveCompetency(p.Competency); err != nil {
			s.sendServiceError(err)
			return
		}
		s.reply("competencySet", gin.H{"competency": p.Competency})

	case "clearAll":
		var p struct {
			Confirm bool `json:"confirm"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil || !p.Confirm {
			// 批量删除不可逆，必须显式确认
			s.sendError("confirmRequired", "clearAll requires explicit confirmation")
			return
		}
		if err := rec.ClearAll(); err != nil {
			s.sendServiceError(err)
			return
		}
		s.reply("cleared", gin.H{})

	case "setFullscreen":
		var p struct {
			On bool `json:"on"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			s.sendError("badFrame", "malformed setFullscreen payload")
			return
		}
		rec.SetFullscreen(p.On)

	default:
		s.sendError("unknownType", "unknown frame type "+frame.Type)
	}
}

func (s *MarkupSession) handleInit(data json.RawMessage) {
	var p initPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ImageWidth <= 0 || p.ImageHeight <= 0 {
		s.sendError("badFrame", "init requires positive natural image dimensions")
		return
	}

	s.mu.Lock()
	if s.rec != nil {
		// 图片重新加载，换一个调和器，旧的定时器全部拆除
		s.rec.Close()
	}
	store := &markupStore{
		svc:         s.hub.Annotations,
		essayID:     s.EssayID,
		origin:      s.Origin,
		correctorID: s.CorrectorID,
		slot:        s.Slot,
	}
	s.rec = overlay.NewReconciler(s.surface, store, overlay.Config{
		Mode:        s.Mode,
		ImageWidth:  p.ImageWidth,
		ImageHeight: p.ImageHeight,
		Logger:      logger.Log,
	})
	rec := s.rec
	s.mu.Unlock()

	if err := rec.Load(); err != nil {
		s.sendServiceError(err)
		return
	}

	competency, nextSeq, fullscreen := rec.State()
	s.reply("ready", gin.H{
		"activeCompetency": competency,
		"nextSequence":     nextSeq,
		"fullscreen":       fullscreen,
		"mode":             s.Mode,
	})
}
