package model

// OriginTable 标识作文来源（同一个作文ID空间在不同来源之间不唯一）
type OriginTable string

const (
	OriginRegular   OriginTable = "regular"
	OriginSimulated OriginTable = "simulated"
	OriginExercise  OriginTable = "exercise"
)

func (o OriginTable) Valid() bool {
	switch o {
	case OriginRegular, OriginSimulated, OriginExercise:
		return true
	}
	return false
}

type RenderStatus string

const (
	RenderPending   RenderStatus = "pending"
	RenderRendering RenderStatus = "rendering"
	RenderReady     RenderStatus = "ready"
	RenderError     RenderStatus = "error"
)

// swagger:model Essay
type Essay struct {
	BaseModel
	StudentID   uint         `gorm:"index;type:bigint unsigned" json:"studentId"`
	OriginTable OriginTable  `gorm:"size:20;index;default:'regular'" json:"originTable"`
	Title       string       `gorm:"size:255" json:"title"`
	Body        string       `gorm:"type:text" json:"body"`
	Handwritten bool         `gorm:"default:false" json:"handwritten"`
	// 手写作文直接使用已有图片，跳过渲染网关
	ImageRef     string       `gorm:"size:512" json:"imageRef"`
	RenderStatus RenderStatus `gorm:"size:20;default:'pending'" json:"renderStatus"`
	ImageURL     string       `gorm:"size:512" json:"imageUrl"`
	// 每次重新发起渲染时递增，用于丢弃过期的轮询响应
	RenderGeneration uint `gorm:"default:0" json:"-"`
}

func (Essay) TableName() string {
	return "essays"
}
