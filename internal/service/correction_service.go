package service

import (
	"errors"
	"strings"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/util"

	"gorm.io/gorm"
)

type CorrectionRepo interface {
	FindBySlot(essayID uint, origin model.OriginTable, slot int) (*model.CorrectionRecord, error)
	ListByEssay(essayID uint, origin model.OriginTable) ([]model.CorrectionRecord, error)
	Save(c *model.CorrectionRecord) error
}

type CorrectionService struct {
	Repo CorrectionRepo
}

func NewCorrectionService(repo CorrectionRepo) *CorrectionService {
	return &CorrectionService{Repo: repo}
}

type SaveCorrectionRequest struct {
	EssayID     uint              `json:"-"`
	OriginTable model.OriginTable `json:"originTable" binding:"required"`
	Slot        int               `json:"-"`
	CorrectorID uint              `json:"-"`
	Scores      [5]int            `json:"scores"`
	Comments    [5]string         `json:"comments"`
	Summary     string            `json:"summary"`
	AudioURL    string            `json:"audioUrl"`
	// 显式"存起来以后再改"，不做任何分数校验之外的完整性要求
	MarkIncomplete bool `json:"markIncomplete"`
}

func (s *CorrectionService) Get(essayID uint, origin model.OriginTable, slot int) (*model.CorrectionRecord, error) {
	if !origin.Valid() {
		return nil, util.ErrInvalidOrigin
	}
	rec, err := s.Repo.FindBySlot(essayID, origin, slot)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, classifyPersistence(err)
	}
	return rec, nil
}

// load 槽位尚无记录时从草稿新建；两个槽位完全独立
func (s *CorrectionService) load(essayID uint, origin model.OriginTable, slot int, correctorID uint) (*model.CorrectionRecord, error) {
	rec, err := s.Repo.FindBySlot(essayID, origin, slot)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.CorrectionRecord{
			EssayID:     essayID,
			OriginTable: origin,
			Slot:        slot,
			CorrectorID: correctorID,
			Status:      model.CorrectionDraft,
		}, nil
	}
	if err != nil {
		return nil, classifyPersistence(err)
	}
	return rec, nil
}

func validateRequest(req *SaveCorrectionRequest) error {
	if !req.OriginTable.Valid() {
		return util.ErrInvalidOrigin
	}
	if req.Slot != 1 && req.Slot != 2 {
		return util.ErrInvalidSlot
	}
	for _, n := range req.Scores {
		if !model.ValidScore(n) {
			return util.ErrInvalidScore
		}
	}
	return nil
}

// apply 整份载荷一次性落到记录上，Total由服务端重算，忽略客户端缓存
func apply(rec *model.CorrectionRecord, req *SaveCorrectionRequest) {
	rec.CorrectorID = req.CorrectorID
	rec.SetScores(req.Scores)
	rec.SetComments(req.Comments)
	rec.Summary = req.Summary
	rec.AudioURL = req.AudioURL
	rec.Total = rec.ComputeTotal()
}

// Save 草稿/暂存转换，不要求分数填完
func (s *CorrectionService) Save(req SaveCorrectionRequest) (*model.CorrectionRecord, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	rec, err := s.load(req.EssayID, req.OriginTable, req.Slot, req.CorrectorID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Closed() {
		return nil, util.ErrCorrectionClosed
	}

	apply(rec, &req)
	if req.MarkIncomplete {
		rec.Status = model.CorrectionIncomplete
	} else {
		rec.Status = model.CorrectionDraft
	}

	if err := s.Repo.Save(rec); err != nil {
		return nil, classifyPersistence(err)
	}
	return rec, nil
}

// Finalize 定稿后批改对学生可见，且批改人不可再编辑
func (s *CorrectionService) Finalize(req SaveCorrectionRequest) (*model.CorrectionRecord, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	rec, err := s.load(req.EssayID, req.OriginTable, req.Slot, req.CorrectorID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Closed() {
		return nil, util.ErrCorrectionClosed
	}

	apply(rec, &req)
	rec.Status = model.CorrectionFinalized

	if err := s.Repo.Save(rec); err != nil {
		return nil, classifyPersistence(err)
	}
	return rec, nil
}

// Return 退回不要求分数填完，但必须给出说明；说明带固定前缀写入
// 教学总结，学生端以退回通知展示。已有标注原样保留
func (s *CorrectionService) Return(essayID uint, origin model.OriginTable, slot int, correctorID uint, justification string) (*model.CorrectionRecord, error) {
	if !origin.Valid() {
		return nil, util.ErrInvalidOrigin
	}
	if slot != 1 && slot != 2 {
		return nil, util.ErrInvalidSlot
	}
	if strings.TrimSpace(justification) == "" {
		return nil, util.ErrMissingJustification
	}

	rec, err := s.load(essayID, origin, slot, correctorID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Closed() {
		return nil, util.ErrCorrectionClosed
	}

	rec.CorrectorID = correctorID
	rec.Summary = model.DevolutionPrefix + justification
	rec.Status = model.CorrectionReturned
	rec.Total = rec.ComputeTotal()

	if err := s.Repo.Save(rec); err != nil {
		return nil, classifyPersistence(err)
	}
	return rec, nil
}

// PublishedGrade 两个槽位各自定稿后取平均；只有一方定稿时直接用
// 该总分；都未定稿则没有对外成绩。双批改分差仲裁不在本服务内
func (s *CorrectionService) PublishedGrade(essayID uint, origin model.OriginTable) (*int, error) {
	recs, err := s.Repo.ListByEssay(essayID, origin)
	if err != nil {
		return nil, classifyPersistence(err)
	}

	var totals []int
	for _, rec := range recs {
		if rec.Status == model.CorrectionFinalized {
			totals = append(totals, rec.Total)
		}
	}

	switch len(totals) {
	case 0:
		return nil, nil
	case 1:
		return &totals[0], nil
	default:
		avg := (totals[0] + totals[1]) / 2
		return &avg, nil
	}
}
