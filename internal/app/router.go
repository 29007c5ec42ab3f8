package app

import (
	"essay_edu_backend/internal/config"
	"essay_edu_backend/internal/middleware"
	"essay_edu_backend/internal/model"
	"essay_edu_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.Check)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		// 学生和批改人都可以查看作文详情与渲染状态
		authGroup.GET("/essays/:id", c.essay.Get)
		authGroup.GET("/essays/:id/render/status", c.essay.RenderStatus)
		authGroup.GET("/essays/:id/annotations", c.annotation.List)
		authGroup.GET("/essays/:id/corrections/:slot", c.correction.Get)

		// 标注会话内部按mode区分读写，学生连接自动降为只读
		authGroup.GET("/essays/:id/markup/ws", c.markup.Connect)

		// 批改人专属接口
		corrector := authGroup.Group("")
		corrector.Use(middleware.RoleMiddleware(model.Corrector))
		{
			corrector.POST("/essays/:id/image", c.essay.UploadImage)
			corrector.POST("/essays/:id/render", c.essay.RequestRender)

			corrector.POST("/essays/:id/annotations", c.annotation.Create)
			corrector.DELETE("/essays/:id/annotations", c.annotation.ClearAll)
			corrector.DELETE("/annotations/:annotationId", c.annotation.Delete)

			corrector.GET("/essays/:id/markup/presence", c.markup.Presence)

			corrector.PUT("/essays/:id/corrections/:slot", c.correction.Save)
			corrector.POST("/essays/:id/corrections/:slot/finalize", c.correction.Finalize)
			corrector.POST("/essays/:id/corrections/:slot/return", c.correction.Return)
		}
	}
}
