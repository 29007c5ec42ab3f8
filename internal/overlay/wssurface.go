package overlay

import (
	"encoding/json"

	"essay_edu_backend/internal/model"

	"go.uber.org/zap"
)

// wsShape 下发给浏览器叠加层的图形载荷
type wsShape struct {
	ID         string `json:"id"`
	Selector   string `json:"selector"`
	Color      string `json:"color"`
	Competency int    `json:"competency"`
	Sequence   int    `json:"sequence"`
}

type wsCommand struct {
	Op      string    `json:"op"`
	Shape   *wsShape  `json:"shape,omitempty"`
	Shapes  []wsShape `json:"shapes,omitempty"`
	ShapeID string    `json:"shapeId,omitempty"`
	Number  int       `json:"number,omitempty"`
}

// WSSurface 通过WebSocket驱动浏览器端叠加层的Surface实现。
// 命令帧下行，浏览器在每次内部重新渲染后回发rendered事件，
// 由会话层调用 NotifyChanged 转成变更信号。
type WSSurface struct {
	send    chan []byte
	changed chan struct{}
	log     *zap.Logger
}

func NewWSSurface(send chan []byte, log *zap.Logger) *WSSurface {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSSurface{
		send:    send,
		changed: make(chan struct{}, 1),
		log:     log,
	}
}

func toWSShape(s Shape) wsShape {
	return wsShape{
		ID:         s.ID,
		Selector:   FormatSelector(s.Rect),
		Color:      model.CompetencyColor(s.Competency),
		Competency: s.Competency,
		Sequence:   s.Sequence,
	}
}

func (s *WSSurface) push(cmd wsCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	select {
	case s.send <- payload:
		return nil
	default:
		// 发送缓冲已满说明对端不再消费，当作叠加层已不可用
		s.log.Warn("surface send buffer full, dropping command", zap.String("op", cmd.Op))
		return ErrSurfaceUnavailable
	}
}

func (s *WSSurface) ApplyShapes(shapes []Shape) error {
	payload := make([]wsShape, len(shapes))
	for i, sh := range shapes {
		payload[i] = toWSShape(sh)
	}
	return s.push(wsCommand{Op: "applyShapes", Shapes: payload})
}

func (s *WSSurface) AddShape(sh Shape) error {
	w := toWSShape(sh)
	return s.push(wsCommand{Op: "addShape", Shape: &w})
}

func (s *WSSurface) RemoveShape(id string) error {
	return s.push(wsCommand{Op: "removeShape", ShapeID: id})
}

func (s *WSSurface) Clear() error {
	return s.push(wsCommand{Op: "clear"})
}

func (s *WSSurface) ApplyBadge(shapeID string, number int) error {
	return s.push(wsCommand{Op: "applyBadge", ShapeID: shapeID, Number: number})
}

func (s *WSSurface) ClearBadges() error {
	return s.push(wsCommand{Op: "clearBadges"})
}

// NotifyChanged 信号只做合并，不累积
func (s *WSSurface) NotifyChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *WSSurface) Changed() <-chan struct{} {
	return s.changed
}
