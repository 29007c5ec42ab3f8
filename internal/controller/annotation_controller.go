package controller

import (
	"errors"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/service"
	"essay_edu_backend/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AnnotationController struct {
	Service *service.AnnotationService
}

func NewAnnotationController(svc *service.AnnotationService) *AnnotationController {
	return &AnnotationController{Service: svc}
}

// @Summary 获取作文标注列表
// @Tags 作文标注
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Param origin query string true "来源(regular/simulated/exercise)"
// @Success 200 {object} util.Response
// @Router /api/essays/{id}/annotations [get]
func (c *AnnotationController) List(ctx *gin.Context) {
	essayID := util.MustParseUint(ctx.Param("id"))
	origin := model.OriginTable(ctx.DefaultQuery("origin", string(model.OriginRegular)))

	as, err := c.Service.List(essayID, origin)
	if err != nil {
		respondAnnotationError(ctx, err)
		return
	}

	util.Success(ctx, as)
}

// @Summary 创建作文标注
// @Tags 作文标注
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Param body body service.CreateAnnotationRequest true "标注信息"
// @Success 201 {object} util.Response
// @Router /api/essays/{id}/annotations [post]
func (c *AnnotationController) Create(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.CreateAnnotationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	req.EssayID = util.MustParseUint(ctx.Param("id"))
	req.CorrectorID = user.UserID

	a, err := c.Service.Create(req)
	if err != nil {
		respondAnnotationError(ctx, err)
		return
	}

	util.Created(ctx, a)
}

// @Summary 删除单个标注
// @Tags 作文标注
// @Produce json
// @Security BearerAuth
// @Param annotationId path string true "标注ID"
// @Param slot query int true "批改槽位(1或2)"
// @Success 200 {object} util.Response
// @Router /api/annotations/{annotationId} [delete]
func (c *AnnotationController) Delete(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	slot, err := util.ParseSlot(ctx.DefaultQuery("slot", "1"))
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.Service.Delete(ctx.Param("annotationId"), user.UserID, slot); err != nil {
		respondAnnotationError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"deleted": true})
}

// @Summary 清空作文全部标注
// @Description 不可逆操作，必须携带 X-Confirm-Destructive: true 请求头
// @Tags 作文标注
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Param origin query string true "来源"
// @Param slot query int true "批改槽位(1或2)"
// @Success 200 {object} util.Response
// @Router /api/essays/{id}/annotations [delete]
func (c *AnnotationController) ClearAll(ctx *gin.Context) {
	if ctx.GetHeader("X-Confirm-Destructive") != "true" {
		util.BadRequest(ctx, "destructive operation requires X-Confirm-Destructive header")
		return
	}

	essayID := util.MustParseUint(ctx.Param("id"))
	origin := model.OriginTable(ctx.DefaultQuery("origin", string(model.OriginRegular)))
	slot, err := util.ParseSlot(ctx.DefaultQuery("slot", "1"))
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.Service.ClearAll(essayID, origin, slot); err != nil {
		respondAnnotationError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"cleared": true})
}

func respondAnnotationError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrInvalidRegion),
		errors.Is(err, util.ErrEmptyComment),
		errors.Is(err, util.ErrInvalidCompetency),
		errors.Is(err, util.ErrInvalidOrigin),
		errors.Is(err, util.ErrInvalidSlot):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrCorrectionClosed):
		util.Conflict(ctx, err.Error())
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrAnnotationNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		util.NotFound(ctx)
	case util.IsTransient(err):
		util.ServiceUnavailable(ctx, "storage temporarily unavailable, please retry")
	default:
		util.LogInternalError(ctx, err)
	}
}
