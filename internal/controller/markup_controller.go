package controller

import (
	"errors"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/overlay"
	"essay_edu_backend/internal/service"
	"essay_edu_backend/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type MarkupController struct {
	Hub    *service.MarkupHub
	Essays service.EssayStore
}

func NewMarkupController(hub *service.MarkupHub, essays service.EssayStore) *MarkupController {
	return &MarkupController{Hub: hub, Essays: essays}
}

// @Summary 建立作文标注会话
// @Description WebSocket端点；要求作文展示图已渲染就绪
// @Tags 作文标注
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Param slot query int true "批改槽位(1或2)"
// @Param mode query string false "edit或readonly，默认edit"
// @Success 101
// @Router /api/essays/{id}/markup/ws [get]
func (c *MarkupController) Connect(ctx *gin.Context) {
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

	mode := overlay.ModeEdit
	if ctx.Query("mode") == "readonly" || user.Role == model.Student {
		mode = overlay.ModeReadOnly
	}

	essay, err := c.Essays.FindByID(util.MustParseUint(ctx.Param("id")))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	// 叠加层挂在展示图之上，图没就绪会话没有意义
	if essay.RenderStatus != model.RenderReady {
		util.Conflict(ctx, util.ErrRenderNotReady.Error())
		return
	}

	if err := c.Hub.Serve(ctx, essay, user.UserID, slot, mode); err != nil {
		util.LogInternalError(ctx, err)
	}
}

// @Summary 查询正在标注该作文的批改人
// @Tags 作文标注
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Param origin query string true "来源"
// @Success 200 {object} util.Response
// @Router /api/essays/{id}/markup/presence [get]
func (c *MarkupController) Presence(ctx *gin.Context) {
	essayID := util.MustParseUint(ctx.Param("id"))
	origin := model.OriginTable(ctx.DefaultQuery("origin", string(model.OriginRegular)))

	ids, err := c.Hub.Presence(essayID, origin)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"correctors": ids})
}
