package controller

import (
	"errors"

	"essay_edu_backend/internal/service"
	"essay_edu_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type EssayController struct {
	Service *service.EssayService
	Render  *service.RenderService
}

func NewEssayController(svc *service.EssayService, render *service.RenderService) *EssayController {
	return &EssayController{Service: svc, Render: render}
}

// @Summary 获取作文详情
// @Description 返回作文、两个批改槽位的记录和对外成绩
// @Tags 作文
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Success 200 {object} util.Response
// @Router /api/essays/{id} [get]
func (c *EssayController) Get(ctx *gin.Context) {
	detail, err := c.Service.Get(util.MustParseUint(ctx.Param("id")))
	if err != nil {
		respondEssayError(ctx, err)
		return
	}
	util.Success(ctx, detail)
}

// @Summary 上传手写作文图片
// @Tags 作文
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Param file formData file true "作文图片"
// @Success 200 {object} util.Response
// @Router /api/essays/{id}/image [post]
func (c *EssayController) UploadImage(ctx *gin.Context) {
	file, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}

	src, err := file.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer src.Close()

	essay, err := c.Service.UploadImage(ctx.Request.Context(),
		util.MustParseUint(ctx.Param("id")),
		file.Filename, src, file.Size,
		file.Header.Get("Content-Type"))
	if err != nil {
		respondEssayError(ctx, err)
		return
	}

	util.Success(ctx, essay)
}

// @Summary 请求渲染作文展示图
// @Description 触发渲染网关生成图片；手写作文直接就绪
// @Tags 作文
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Success 200 {object} util.Response
// @Router /api/essays/{id}/render [post]
func (c *EssayController) RequestRender(ctx *gin.Context) {
	state, err := c.Render.RequestRender(ctx.Request.Context(), util.MustParseUint(ctx.Param("id")))
	if err != nil {
		respondEssayError(ctx, err)
		return
	}
	util.Success(ctx, state)
}

// @Summary 查询渲染状态
// @Tags 作文
// @Produce json
// @Security BearerAuth
// @Param id path int true "作文ID"
// @Success 200 {object} util.Response
// @Router /api/essays/{id}/render/status [get]
func (c *EssayController) RenderStatus(ctx *gin.Context) {
	state, err := c.Render.CheckStatus(ctx.Request.Context(), util.MustParseUint(ctx.Param("id")))
	if err != nil {
		respondEssayError(ctx, err)
		return
	}
	util.Success(ctx, state)
}

func respondEssayError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrEssayNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrRenderFailed):
		util.ServiceUnavailable(ctx, "render gateway unavailable, please retry")
	case util.IsTransient(err):
		util.ServiceUnavailable(ctx, "storage temporarily unavailable, please retry")
	default:
		util.LogInternalError(ctx, err)
	}
}
