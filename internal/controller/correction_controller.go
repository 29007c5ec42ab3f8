package controller

import (
	"errors"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/service"
	"essay_edu_backend/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type CorrectionController struct {
	Service *service.CorrectionService
}

func NewCorrectionController(svc *service.CorrectionService) *CorrectionController {
	return &CorrectionController{Service: svc}
}

func (c *CorrectionController) bindSlotRequest(ctx *gin.Context) (*service.SaveCorrectionRequest, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return nil, false
	}

	slot, err := util.ParseSlot(ctx.Param("slot"))
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return nil, false
	}

	var req service.SaveCorrectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return nil, false
	}
	req.EssayID = util.MustParseUint(ctx.Param("id"))
	req.Slot = slot
	req.CorrectorID = user.UserID
	return &req, true
}

// @Summary 获取批改记录
// @Tags 作文批改
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Param slot path int true "批改槽位(1或2)"
// @Param origin query string true "来源"
// @Success 200 {object} util.Response
// @Router /api/essays/{id}/corrections/{slot} [get]
func (c *CorrectionController) Get(ctx *gin.Context) {
	slot, err := util.ParseSlot(ctx.Param("slot"))
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	essayID := util.MustParseUint(ctx.Param("id"))
	origin := model.OriginTable(ctx.DefaultQuery("origin", string(model.OriginRegular)))

	rec, err := c.Service.Get(essayID, origin, slot)
	if err != nil {
		respondCorrectionError(ctx, err)
		return
	}

	util.Success(ctx, rec)
}

// @Summary 保存批改（草稿或暂存）
// @Tags 作文批改
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Param slot path int true "批改槽位(1或2)"
// @Param body body service.SaveCorrectionRequest true "批改内容"
// @Success 200 {object} util.Response
// @Router /api/essays/{id}/corrections/{slot} [put]
func (c *CorrectionController) Save(ctx *gin.Context) {
	req, ok := c.bindSlotRequest(ctx)
	if !ok {
		return
	}

	rec, err := c.Service.Save(*req)
	if err != nil {
		respondCorrectionError(ctx, err)
		return
	}

	util.Success(ctx, rec)
}

// @Summary 定稿批改
// @Description 定稿后对学生可见且不可再编辑；总分由服务端重新计算
// @Tags 作文批改
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Param slot path int true "批改槽位(1或2)"
// @Param body body service.SaveCorrectionRequest true "批改内容"
// @Success 200 {object} util.Response
// @Router /api/essays/{id}/corrections/{slot}/finalize [post]
func (c *CorrectionController) Finalize(ctx *gin.Context) {
	req, ok := c.bindSlotRequest(ctx)
	if !ok {
		return
	}

	rec, err := c.Service.Finalize(*req)
	if err != nil {
		respondCorrectionError(ctx, err)
		return
	}

	util.Success(ctx, rec)
}

type returnRequest struct {
	OriginTable   model.OriginTable `json:"originTable" binding:"required"`
	Justification string            `json:"justification"`
}

// @Summary 退回作文（devolution）
// @Description 退回必须附带说明；说明会以固定前缀写入教学总结供学生查看
// @Tags 作文批改
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Param slot path int true "批改槽位(1或2)"
// @Param body body returnRequest true "退回说明"
// @Success 200 {object} util.Response
// @Router /api/essays/{id}/corrections/{slot}/return [post]
func (c *CorrectionController) Return(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	slot, err := util.ParseSlot(ctx.Param("slot"))
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	var req returnRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	essayID := util.MustParseUint(ctx.Param("id"))
	rec, err := c.Service.Return(essayID, req.OriginTable, slot, user.UserID, req.Justification)
	if err != nil {
		respondCorrectionError(ctx, err)
		return
	}

	util.Success(ctx, rec)
}

func respondCorrectionError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrInvalidScore),
		errors.Is(err, util.ErrInvalidOrigin),
		errors.Is(err, util.ErrInvalidSlot),
		errors.Is(err, util.ErrMissingJustification):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrCorrectionClosed):
		util.Conflict(ctx, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		util.NotFound(ctx)
	case util.IsTransient(err):
		util.ServiceUnavailable(ctx, "storage temporarily unavailable, please retry")
	default:
		util.LogInternalError(ctx, err)
	}
}
