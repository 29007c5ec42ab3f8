package repository

import (
	"essay_edu_backend/internal/model"

	"gorm.io/gorm"
)

type EssayRepository struct {
	DB *gorm.DB
}

func NewEssayRepository(db *gorm.DB) *EssayRepository {
	return &EssayRepository{DB: db}
}

func (r *EssayRepository) FindByID(id uint) (*model.Essay, error) {
	var e model.Essay
	err := r.DB.First(&e, id).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EssayRepository) Save(e *model.Essay) error {
	return r.DB.Save(e).Error
}

// UpdateRenderState 仅在渲染代次未变时更新，丢弃过期的轮询响应
func (r *EssayRepository) UpdateRenderState(id uint, generation uint, status model.RenderStatus, imageURL string) (bool, error) {
	updates := map[string]interface{}{"render_status": status}
	if imageURL != "" {
		updates["image_url"] = imageURL
	}
	result := r.DB.Model(&model.Essay{}).
		Where("id = ? AND render_generation = ?", id, generation).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// BumpRenderGeneration 重新发起渲染时递增代次并置为pending
func (r *EssayRepository) BumpRenderGeneration(id uint) (*model.Essay, error) {
	var e model.Essay
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&e, id).Error; err != nil {
			return err
		}
		e.RenderGeneration++
		e.RenderStatus = model.RenderPending
		e.ImageURL = ""
		return tx.Save(&e).Error
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}
