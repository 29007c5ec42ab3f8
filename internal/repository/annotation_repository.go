package repository

import (
	"errors"
	"essay_edu_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AnnotationRepository struct {
	DB *gorm.DB
}

func NewAnnotationRepository(db *gorm.DB) *AnnotationRepository {
	return &AnnotationRepository{DB: db}
}

// List 按创建时间升序返回，创建顺序是唯一可信的排序依据
func (r *AnnotationRepository) List(essayID uint, origin model.OriginTable) ([]model.Annotation, error) {
	var as []model.Annotation
	err := r.DB.Where("essay_id = ? AND origin_table = ?", essayID, origin).
		Order("created_at asc").
		Find(&as).Error
	return as, err
}

// Create 在同一事务里锁定计数器行并分配编号，两个批改人并发标注也不会拿到重复编号
func (r *AnnotationRepository) Create(a *model.Annotation) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var seq model.AnnotationSequence
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("essay_id = ? AND origin_table = ?", a.EssayID, a.OriginTable).
			First(&seq).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 计数器行不存在时从既有标注的最大编号续起，兼容历史数据
			var maxSeq int
			if err := tx.Model(&model.Annotation{}).
				Where("essay_id = ? AND origin_table = ?", a.EssayID, a.OriginTable).
				Select("COALESCE(MAX(sequence_number), 0)").
				Scan(&maxSeq).Error; err != nil {
				return err
			}
			seq = model.AnnotationSequence{
				EssayID:     a.EssayID,
				OriginTable: a.OriginTable,
				LastNumber:  maxSeq,
			}
			if err := tx.Create(&seq).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		seq.LastNumber++
		a.SequenceNumber = seq.LastNumber

		if err := tx.Model(&model.AnnotationSequence{}).
			Where("id = ?", seq.ID).
			Update("last_number", seq.LastNumber).Error; err != nil {
			return err
		}

		return tx.Create(a).Error
	})
}

func (r *AnnotationRepository) FindByID(id string) (*model.Annotation, error) {
	var a model.Annotation
	err := r.DB.First(&a, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Delete 硬删除，不做墓碑，也不重排剩余编号
func (r *AnnotationRepository) Delete(id string) error {
	result := r.DB.Unscoped().Delete(&model.Annotation{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearAll 批量删除并把计数器归零，下一个编号重新从1开始
func (r *AnnotationRepository) ClearAll(essayID uint, origin model.OriginTable) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("essay_id = ? AND origin_table = ?", essayID, origin).
			Delete(&model.Annotation{}).Error; err != nil {
			return err
		}
		return tx.Model(&model.AnnotationSequence{}).
			Where("essay_id = ? AND origin_table = ?", essayID, origin).
			Update("last_number", 0).Error
	})
}

func (r *AnnotationRepository) MaxSequence(essayID uint, origin model.OriginTable) (int, error) {
	var maxSeq int
	err := r.DB.Model(&model.Annotation{}).
		Where("essay_id = ? AND origin_table = ?", essayID, origin).
		Select("COALESCE(MAX(sequence_number), 0)").
		Scan(&maxSeq).Error
	return maxSeq, err
}
