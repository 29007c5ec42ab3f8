package model

type CorrectionStatus string

const (
	CorrectionDraft      CorrectionStatus = "draft"
	CorrectionIncomplete CorrectionStatus = "incomplete"
	CorrectionFinalized  CorrectionStatus = "finalized"
	CorrectionReturned   CorrectionStatus = "returned"
)

// Closed 终态：批改人视角下不可再编辑（重新打开属于管理员操作）
func (s CorrectionStatus) Closed() bool {
	return s == CorrectionFinalized || s == CorrectionReturned
}

// DevolutionPrefix 退回说明写入教学总结时的固定前缀，学生端以此区分退回通知
const DevolutionPrefix = "[DEVOLUTION] "

// swagger:model CorrectionRecord
type CorrectionRecord struct {
	BaseModel
	EssayID     uint        `gorm:"uniqueIndex:idx_correction_slot;type:bigint unsigned;not null" json:"essayId"`
	OriginTable OriginTable `gorm:"uniqueIndex:idx_correction_slot;size:20;not null" json:"originTable"`
	// 批改槽位（1或2），由调用方显式携带，不做推断
	Slot        int    `gorm:"uniqueIndex:idx_correction_slot;not null" json:"slot"`
	CorrectorID uint   `gorm:"index;type:bigint unsigned" json:"correctorId"`
	Score1      int    `gorm:"default:0" json:"score1"`
	Score2      int    `gorm:"default:0" json:"score2"`
	Score3      int    `gorm:"default:0" json:"score3"`
	Score4      int    `gorm:"default:0" json:"score4"`
	Score5      int    `gorm:"default:0" json:"score5"`
	// Total 永远由五项分数重新计算，不信任客户端缓存
	Total    int              `gorm:"default:0" json:"total"`
	Comment1 string           `gorm:"type:text" json:"comment1"`
	Comment2 string           `gorm:"type:text" json:"comment2"`
	Comment3 string           `gorm:"type:text" json:"comment3"`
	Comment4 string           `gorm:"type:text" json:"comment4"`
	Comment5 string           `gorm:"type:text" json:"comment5"`
	Summary  string           `gorm:"type:text" json:"summary"`
	Status   CorrectionStatus `gorm:"size:20;default:'draft'" json:"status"`
	// 语音点评由外部音频服务持有，这里只存引用
	AudioURL string `gorm:"size:512" json:"audioUrl,omitempty"`
}

func (CorrectionRecord) TableName() string {
	return "essay_corrections"
}

// 单项能力分只能取固定档位
var validScores = map[int]bool{0: true, 40: true, 80: true, 120: true, 160: true, 200: true}

func ValidScore(n int) bool {
	return validScores[n]
}

func (c *CorrectionRecord) Scores() [5]int {
	return [5]int{c.Score1, c.Score2, c.Score3, c.Score4, c.Score5}
}

func (c *CorrectionRecord) SetScores(scores [5]int) {
	c.Score1, c.Score2, c.Score3, c.Score4, c.Score5 = scores[0], scores[1], scores[2], scores[3], scores[4]
}

func (c *CorrectionRecord) ComputeTotal() int {
	return c.Score1 + c.Score2 + c.Score3 + c.Score4 + c.Score5
}

func (c *CorrectionRecord) SetComments(comments [5]string) {
	c.Comment1, c.Comment2, c.Comment3, c.Comment4, c.Comment5 = comments[0], comments[1], comments[2], comments[3], comments[4]
}
