package controllers

import (
	"time"

	"podfleet/internal/config"
	"podfleet/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version 由构建时注入，守护进程的就绪探针会带上
var Version = "dev"

type APIController struct {
	started time.Time
}

func NewAPIController() *APIController {
	return &APIController{
		started: time.Now(),
	}
}

/**
 * Register all API routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @description
 * - Registers the daemon's own readiness probe, the Prometheus metrics
 *   endpoint and the configuration reload hook
 */
func (a *APIController) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", a.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/podfleet/api/v1/reload", a.ReloadConfig)
}

// @Summary 业务就绪探针
// @Description 检查守护进程是否已经做好准备，返回版本、启动时间和运行时长
// @Tags System
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Router /healthz [get]
func (a *APIController) Healthz(c *gin.Context) {
	c.JSON(200, &models.HealthResponse{
		Version:   Version,
		StartTime: a.started.Format(time.RFC3339),
		Status:    "UP",
		Uptime:    time.Since(a.started).Round(time.Second).String(),
	})
}

// @Summary 重新加载配置
// @Description 重新加载应用配置文件
// @Tags Config
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /podfleet/api/v1/reload [post]
func (a *APIController) ReloadConfig(c *gin.Context) {
	if err := config.ReloadConfig(); err != nil {
		c.JSON(500, gin.H{
			"code":    "config.reload_failed",
			"message": "Failed to reload configuration: " + err.Error(),
		})
		return
	}

	c.JSON(200, gin.H{
		"status":  "success",
		"message": "Configuration reloaded successfully",
	})
}
