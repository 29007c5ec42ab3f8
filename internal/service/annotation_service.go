package service

import (
	"errors"
	"strings"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/util"
	"essay_edu_backend/pkg/monitoring"

	"gorm.io/gorm"
)

type AnnotationRepo interface {
	List(essayID uint, origin model.OriginTable) ([]model.Annotation, error)
	Create(a *model.Annotation) error
	FindByID(id string) (*model.Annotation, error)
	Delete(id string) error
	ClearAll(essayID uint, origin model.OriginTable) error
	MaxSequence(essayID uint, origin model.OriginTable) (int, error)
}

// correctionStatusReader 用于校验标注只能在批改未定稿前创建
type correctionStatusReader interface {
	FindBySlot(essayID uint, origin model.OriginTable, slot int) (*model.CorrectionRecord, error)
}

type AnnotationService struct {
	Repo        AnnotationRepo
	Corrections correctionStatusReader
}

func NewAnnotationService(repo AnnotationRepo, corrections correctionStatusReader) *AnnotationService {
	return &AnnotationService{Repo: repo, Corrections: corrections}
}

type CreateAnnotationRequest struct {
	EssayID     uint              `json:"essayId" binding:"required"`
	OriginTable model.OriginTable `json:"originTable" binding:"required"`
	CorrectorID uint              `json:"-"`
	Slot        int               `json:"slot" binding:"required"`
	Competency  int               `json:"competency" binding:"required"`
	Comment     string            `json:"comment"`
	XStart      int               `json:"xStart"`
	YStart      int               `json:"yStart"`
	XEnd        int               `json:"xEnd"`
	YEnd        int               `json:"yEnd"`
	ImageWidth  int               `json:"imageWidth" binding:"required"`
	ImageHeight int               `json:"imageHeight" binding:"required"`
}

func (s *AnnotationService) List(essayID uint, origin model.OriginTable) ([]model.Annotation, error) {
	if !origin.Valid() {
		return nil, util.ErrInvalidOrigin
	}
	as, err := s.Repo.List(essayID, origin)
	if err != nil {
		return nil, classifyPersistence(err)
	}
	return as, nil
}

// Create 几何与评语校验在本地完成，不合法的输入不会产生任何存储调用
func (s *AnnotationService) Create(req CreateAnnotationRequest) (*model.Annotation, error) {
	if !req.OriginTable.Valid() {
		return nil, util.ErrInvalidOrigin
	}
	if !model.ValidCompetency(req.Competency) {
		return nil, util.ErrInvalidCompetency
	}
	if strings.TrimSpace(req.Comment) == "" {
		return nil, util.ErrEmptyComment
	}

	rect := util.BoundsToRect(req.XStart, req.YStart, req.XEnd, req.YEnd)
	if err := util.ValidatePixelRect(rect); err != nil {
		return nil, err
	}
	if req.ImageWidth <= 0 || req.ImageHeight <= 0 {
		return nil, util.ErrInvalidRegion
	}

	if err := s.checkCorrectionOpen(req.EssayID, req.OriginTable, req.Slot); err != nil {
		return nil, err
	}

	a := &model.Annotation{
		EssayID:     req.EssayID,
		OriginTable: req.OriginTable,
		CorrectorID: req.CorrectorID,
		Competency:  req.Competency,
		Comment:     req.Comment,
		XStart:      req.XStart,
		YStart:      req.YStart,
		XEnd:        req.XEnd,
		YEnd:        req.YEnd,
		ImageWidth:  req.ImageWidth,
		ImageHeight: req.ImageHeight,
	}

	if err := s.Repo.Create(a); err != nil {
		return nil, classifyPersistence(err)
	}

	monitoring.AnnotationCounter.WithLabelValues("create").Inc()
	return a, nil
}

// checkCorrectionOpen 定稿或退回后该槽位的标注集不再可变，
// 创建和删除都要走这道门
func (s *AnnotationService) checkCorrectionOpen(essayID uint, origin model.OriginTable, slot int) error {
	if slot != 1 && slot != 2 {
		return nil
	}
	rec, err := s.Corrections.FindBySlot(essayID, origin, slot)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return classifyPersistence(err)
	}
	if rec.Status.Closed() {
		return util.ErrCorrectionClosed
	}
	return nil
}

// Delete 只有作者本人可以删除自己的标注
func (s *AnnotationService) Delete(id string, correctorID uint, slot int) error {
	a, err := s.Repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrAnnotationNotFound
		}
		return classifyPersistence(err)
	}
	if a.CorrectorID != correctorID {
		return util.ErrPermissionDenied
	}
	if err := s.checkCorrectionOpen(a.EssayID, a.OriginTable, slot); err != nil {
		return err
	}

	if err := s.Repo.Delete(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrAnnotationNotFound
		}
		return classifyPersistence(err)
	}

	monitoring.AnnotationCounter.WithLabelValues("delete").Inc()
	return nil
}

func (s *AnnotationService) ClearAll(essayID uint, origin model.OriginTable, slot int) error {
	if !origin.Valid() {
		return util.ErrInvalidOrigin
	}
	if err := s.checkCorrectionOpen(essayID, origin, slot); err != nil {
		return err
	}
	if err := s.Repo.ClearAll(essayID, origin); err != nil {
		return classifyPersistence(err)
	}
	monitoring.AnnotationCounter.WithLabelValues("clear").Inc()
	return nil
}

func (s *AnnotationService) MaxSequence(essayID uint, origin model.OriginTable) (int, error) {
	maxSeq, err := s.Repo.MaxSequence(essayID, origin)
	if err != nil {
		return 0, classifyPersistence(err)
	}
	return maxSeq, nil
}

// classifyPersistence 数据形状问题归为校验错误，其余按瞬时故障处理
func classifyPersistence(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated):
		return util.NewValidationError(err)
	default:
		return util.NewTransientError(err)
	}
}
