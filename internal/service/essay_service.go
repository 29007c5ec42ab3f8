package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/util"

	"gorm.io/gorm"
)

type EssayService struct {
	Essays      EssayStore
	Corrections *CorrectionService
	Storage     *StorageService
}

func NewEssayService(essays EssayStore, corrections *CorrectionService, storage *StorageService) *EssayService {
	return &EssayService{Essays: essays, Corrections: corrections, Storage: storage}
}

// EssayDetail 作文及其两个批改槽位和对外成绩
type EssayDetail struct {
	Essay          *model.Essay             `json:"essay"`
	Corrections    []model.CorrectionRecord `json:"corrections"`
	PublishedGrade *int                     `json:"publishedGrade"`
}

func (s *EssayService) Get(id uint) (*EssayDetail, error) {
	essay, err := s.Essays.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrEssayNotFound
		}
		return nil, classifyPersistence(err)
	}

	corrections, err := s.Corrections.Repo.ListByEssay(essay.ID, essay.OriginTable)
	if err != nil {
		return nil, classifyPersistence(err)
	}

	grade, err := s.Corrections.PublishedGrade(essay.ID, essay.OriginTable)
	if err != nil {
		return nil, err
	}

	return &EssayDetail{
		Essay:          essay,
		Corrections:    corrections,
		PublishedGrade: grade,
	}, nil
}

// UploadImage 手写作文的图片直接入库为展示图，跳过渲染网关
func (s *EssayService) UploadImage(ctx context.Context, essayID uint, filename string, reader io.Reader, size int64, contentType string) (*model.Essay, error) {
	essay, err := s.Essays.FindByID(essayID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrEssayNotFound
		}
		return nil, classifyPersistence(err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	allowed := false
	for _, e := range util.AllowedImageExtensions {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("unsupported image extension %q", ext)
	}

	objectName := fmt.Sprintf("essays/%d/%d%s", essayID, time.Now().UnixNano(), ext)
	url, err := s.Storage.Provider.Upload(ctx, objectName, reader, size, contentType)
	if err != nil {
		return nil, err
	}

	essay.Handwritten = true
	essay.ImageRef = url
	essay.ImageURL = url
	essay.RenderStatus = model.RenderReady
	if err := s.Essays.Save(essay); err != nil {
		return nil, classifyPersistence(err)
	}
	return essay, nil
}
