package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"essay_edu_backend/internal/config"
	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/util"
	"essay_edu_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type EssayStore interface {
	FindByID(id uint) (*model.Essay, error)
	Save(e *model.Essay) error
	UpdateRenderState(id uint, generation uint, status model.RenderStatus, imageURL string) (bool, error)
	BumpRenderGeneration(id uint) (*model.Essay, error)
}

// RenderService 作文渲染网关的客户端。网关把作文文本渲染成展示
// 图片；手写作文直接使用已有图片引用，完全绕过网关
type RenderService struct {
	Essays EssayStore
	Redis  *redis.Client

	mu     sync.RWMutex
	cfg    config.RendererConfig
	client *http.Client
}

func NewRenderService(essays EssayStore, rdb *redis.Client, cfg *config.Config) *RenderService {
	return &RenderService{
		Essays: essays,
		Redis:  rdb,
		cfg:    cfg.Renderer,
		client: &http.Client{
			Timeout: time.Duration(cfg.Renderer.TimeoutSeconds) * time.Second,
		},
	}
}

// ApplyConfig 配置热更新回调
func (s *RenderService) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.Renderer
	s.client.Timeout = time.Duration(cfg.Renderer.TimeoutSeconds) * time.Second
}

func (s *RenderService) renderer() config.RendererConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

type RenderState struct {
	Status   model.RenderStatus `json:"status"`
	ImageURL string             `json:"imageUrl,omitempty"`
}

type renderRequest struct {
	EssayID     uint              `json:"essayId"`
	OriginTable model.OriginTable `json:"originTable"`
	Text        string            `json:"text"`
	Metadata    map[string]any    `json:"metadata"`
}

type renderResponse struct {
	Status   string `json:"status"`
	ImageURL string `json:"imageUrl"`
}

func statusCacheKey(essayID uint, origin model.OriginTable, generation uint) string {
	return fmt.Sprintf("render:status:%s:%d:g%d", origin, essayID, generation)
}

// RequestRender 发起（或手动重试）渲染。每次调用递增渲染代次，
// 之后迟到的旧轮询响应都会被丢弃
func (s *RenderService) RequestRender(ctx context.Context, essayID uint) (*RenderState, error) {
	essay, err := s.Essays.BumpRenderGeneration(essayID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrEssayNotFound
		}
		return nil, classifyPersistence(err)
	}

	if essay.Handwritten {
		if _, err := s.Essays.UpdateRenderState(essayID, essay.RenderGeneration, model.RenderReady, essay.ImageRef); err != nil {
			return nil, classifyPersistence(err)
		}
		return &RenderState{Status: model.RenderReady, ImageURL: essay.ImageRef}, nil
	}

	cfg := s.renderer()
	payload, err := json.Marshal(renderRequest{
		EssayID:     essay.ID,
		OriginTable: essay.OriginTable,
		Text:        essay.Body,
		Metadata: map[string]any{
			"title":     essay.Title,
			"studentId": essay.StudentID,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.Essays.UpdateRenderState(essayID, essay.RenderGeneration, model.RenderError, "")
		return &RenderState{Status: model.RenderError}, util.ErrRenderFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.Essays.UpdateRenderState(essayID, essay.RenderGeneration, model.RenderError, "")
		return &RenderState{Status: model.RenderError}, util.ErrRenderFailed
	}

	var rr renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		s.Essays.UpdateRenderState(essayID, essay.RenderGeneration, model.RenderError, "")
		return &RenderState{Status: model.RenderError}, util.ErrRenderFailed
	}

	state := mapRenderStatus(rr)
	if _, err := s.Essays.UpdateRenderState(essayID, essay.RenderGeneration, state.Status, state.ImageURL); err != nil {
		return nil, classifyPersistence(err)
	}
	s.invalidateCache(ctx, essay)

	if state.Status == model.RenderError {
		return state, util.ErrRenderFailed
	}
	return state, nil
}

// CheckStatus 轮询渲染状态。状态短暂缓存在Redis里；落库前校验
// 渲染代次，组件销毁或重新发起渲染后的迟到响应不会覆盖新状态
func (s *RenderService) CheckStatus(ctx context.Context, essayID uint) (*RenderState, error) {
	essay, err := s.Essays.FindByID(essayID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrEssayNotFound
		}
		return nil, classifyPersistence(err)
	}

	if essay.Handwritten {
		return &RenderState{Status: model.RenderReady, ImageURL: essay.ImageRef}, nil
	}
	if essay.RenderStatus == model.RenderReady {
		return &RenderState{Status: model.RenderReady, ImageURL: essay.ImageURL}, nil
	}

	if cached := s.cachedState(ctx, essay); cached != nil {
		return cached, nil
	}

	cfg := s.renderer()
	url := fmt.Sprintf("%s/render/status?essayId=%d&originTable=%s", cfg.BaseURL, essay.ID, essay.OriginTable)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, util.ErrRenderFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, util.ErrRenderFailed
	}

	var rr renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, util.ErrRenderFailed
	}

	state := mapRenderStatus(rr)
	updated, err := s.Essays.UpdateRenderState(essay.ID, essay.RenderGeneration, state.Status, state.ImageURL)
	if err != nil {
		return nil, classifyPersistence(err)
	}
	if !updated {
		// 代次已变，响应过期：返回当前库里的状态
		logger.Log.Warn("discarding stale render status response",
			zap.Uint("essayId", essay.ID),
			zap.Uint("generation", essay.RenderGeneration))
		fresh, err := s.Essays.FindByID(essayID)
		if err != nil {
			return nil, classifyPersistence(err)
		}
		return &RenderState{Status: fresh.RenderStatus, ImageURL: fresh.ImageURL}, nil
	}

	s.cacheState(ctx, essay, state)
	return state, nil
}

func mapRenderStatus(rr renderResponse) *RenderState {
	switch rr.Status {
	case "ready":
		return &RenderState{Status: model.RenderReady, ImageURL: rr.ImageURL}
	case "rendering":
		return &RenderState{Status: model.RenderRendering}
	case "error":
		return &RenderState{Status: model.RenderError}
	default:
		return &RenderState{Status: model.RenderPending}
	}
}

func (s *RenderService) cachedState(ctx context.Context, essay *model.Essay) *RenderState {
	if s.Redis == nil {
		return nil
	}
	raw, err := s.Redis.Get(ctx, statusCacheKey(essay.ID, essay.OriginTable, essay.RenderGeneration)).Bytes()
	if err != nil {
		return nil
	}
	var state RenderState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil
	}
	return &state
}

func (s *RenderService) cacheState(ctx context.Context, essay *model.Essay, state *RenderState) {
	if s.Redis == nil {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	ttl := time.Duration(s.renderer().StatusCacheTTL) * time.Second
	s.Redis.Set(ctx, statusCacheKey(essay.ID, essay.OriginTable, essay.RenderGeneration), raw, ttl)
}

func (s *RenderService) invalidateCache(ctx context.Context, essay *model.Essay) {
	if s.Redis == nil {
		return
	}
	s.Redis.Del(ctx, statusCacheKey(essay.ID, essay.OriginTable, essay.RenderGeneration))
}
