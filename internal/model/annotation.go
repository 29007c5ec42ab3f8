package model

// swagger:model Annotation
type Annotation struct {
	UUIDBase
	EssayID     uint        `gorm:"index:idx_annotation_essay;type:bigint unsigned;not null" json:"essayId"`
	OriginTable OriginTable `gorm:"index:idx_annotation_essay;size:20;not null" json:"originTable"`
	CorrectorID uint        `gorm:"index;type:bigint unsigned;not null" json:"correctorId"`
	Competency  int         `gorm:"not null" json:"competency"`
	Comment     string      `gorm:"type:text;not null" json:"comment"`
	// 矩形按截取时刻的图片像素坐标存储，连同当时的自然尺寸，
	// 以便图片以其它比例显示时仍能还原百分比坐标
	XStart      int `gorm:"not null" json:"xStart"`
	YStart      int `gorm:"not null" json:"yStart"`
	XEnd        int `gorm:"not null" json:"xEnd"`
	YEnd        int `gorm:"not null" json:"yEnd"`
	ImageWidth  int `gorm:"not null" json:"imageWidth"`
	ImageHeight int `gorm:"not null" json:"imageHeight"`
	// 仅用于人眼编号展示，不作为排序键；删除后编号不复用
	SequenceNumber int `gorm:"not null" json:"sequenceNumber"`
}

func (Annotation) TableName() string {
	return "essay_annotations"
}

// AnnotationSequence 每篇作文一行的编号计数器，由存储层原子分配
type AnnotationSequence struct {
	ID          uint        `gorm:"primaryKey;autoIncrement" json:"-"`
	EssayID     uint        `gorm:"uniqueIndex:idx_seq_essay_origin;type:bigint unsigned;not null" json:"essayId"`
	OriginTable OriginTable `gorm:"uniqueIndex:idx_seq_essay_origin;size:20;not null" json:"originTable"`
	LastNumber  int         `gorm:"not null;default:0" json:"lastNumber"`
}

func (AnnotationSequence) TableName() string {
	return "essay_annotation_sequences"
}

// 五项能力维度的固定配色，不可配置
var competencyColors = [...]string{
	1: "#e53935",
	2: "#fb8c00",
	3: "#fdd835",
	4: "#43a047",
	5: "#1e88e5",
}

func ValidCompetency(n int) bool {
	return n >= 1 && n <= 5
}

func CompetencyColor(n int) string {
	if !ValidCompetency(n) {
		return ""
	}
	return competencyColors[n]
}
