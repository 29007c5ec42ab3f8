package overlay

import (
	"errors"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/util"
)

type Mode int

const (
	// ModeEdit 接受新框选手势和点击删除
	ModeEdit Mode = iota
	// ModeReadOnly 只展示已有区域，点击查看评语
	ModeReadOnly
)

var (
	ErrReadOnly           = errors.New("surface is in read-only mode")
	ErrNoPendingCapture   = errors.New("no pending capture in progress")
	ErrUnknownShape       = errors.New("unknown shape id")
	ErrSurfaceUnavailable = errors.New("surface is no longer available")
	ErrMalformedSelector  = errors.New("malformed region selector")
)

// Shape 叠加层的原生图形表示，坐标使用百分比空间
type Shape struct {
	ID         string           `json:"id"`
	Rect       util.PercentRect `json:"-"`
	Competency int              `json:"competency"`
	Sequence   int              `json:"sequence"`
	Comment    string           `json:"-"`
}

// Surface 把第三方绘制层当作黑盒渲染器看待的能力接口。
// 实现的内部渲染是异步的，且没有"渲染完成"事件；结构变化通过
// Changed 信号暴露，编号徽标的重放由调用方负责。
//
// ApplyBadge 必须幂等：对已带编号的区域重复调用是设置而非叠加。
type Surface interface {
	// ApplyShapes 批量下发，失败时调用方退回逐个 AddShape
	ApplyShapes(shapes []Shape) error
	AddShape(s Shape) error
	RemoveShape(id string) error
	Clear() error
	ApplyBadge(shapeID string, number int) error
	ClearBadges() error
	// Changed 在叠加层重新渲染出新的区域节点后收到信号
	Changed() <-chan struct{}
}

// CreateRequest 提交给存储的新标注，矩形为当前图片像素空间
type CreateRequest struct {
	Competency  int
	Comment     string
	Rect        util.PixelRect
	ImageWidth  int
	ImageHeight int
}

// Store 标注持久化边界，已绑定到具体的作文、来源和批改人
type Store interface {
	List() ([]model.Annotation, error)
	Create(req CreateRequest) (*model.Annotation, error)
	Delete(id string) error
	ClearAll() error
	MaxSequence() (int, error)
}
