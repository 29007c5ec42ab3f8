package repository

import (
	"essay_edu_backend/internal/model"

	"gorm.io/gorm"
)

type CorrectionRepository struct {
	DB *gorm.DB
}

func NewCorrectionRepository(db *gorm.DB) *CorrectionRepository {
	return &CorrectionRepository{DB: db}
}

func (r *CorrectionRepository) FindBySlot(essayID uint, origin model.OriginTable, slot int) (*model.CorrectionRecord, error) {
	var c model.CorrectionRecord
	err := r.DB.Where("essay_id = ? AND origin_table = ? AND slot = ?", essayID, origin, slot).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CorrectionRepository) ListByEssay(essayID uint, origin model.OriginTable) ([]model.CorrectionRecord, error) {
	var cs []model.CorrectionRecord
	err := r.DB.Where("essay_id = ? AND origin_table = ?", essayID, origin).
		Order("slot asc").
		Find(&cs).Error
	return cs, err
}

// Save 整行单次写入：五项分数、总分、评语、总结和状态一并落库
func (r *CorrectionRepository) Save(c *model.CorrectionRecord) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		return tx.Save(c).Error
	})
}
