package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"podfleet/internal/models"
	"podfleet/services"

	"github.com/gin-gonic/gin"
)

type FleetController struct {
	fleet *services.FleetManager
}

/**
 * Create new Fleet controller instance
 * @param {*services.FleetManager} fleet - Fleet manager driving all pod operations
 * @returns {*FleetController} New Fleet controller instance
 */
func NewFleetController(fleet *services.FleetManager) *FleetController {
	return &FleetController{
		fleet: fleet,
	}
}

/**
 * Register all fleet API routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @description
 * - Registers routes for:
 *   - Pod lifecycle verbs (start/stop/restart/build)
 *   - Fleet-wide verbs over every pod
 *   - Status reads, health sweep and per-service logs
 */
func (f *FleetController) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/podfleet/api/v1")
	// pod级操作
	api.GET("/pods", f.ListPods)
	api.GET("/pods/:name", f.GetPod)
	api.POST("/pods/:name/start", f.StartPod)
	api.POST("/pods/:name/stop", f.StopPod)
	api.POST("/pods/:name/restart", f.RestartPod)
	api.POST("/pods/:name/build", f.BuildPod)
	api.POST("/pods/:name/clean", f.CleanPod)
	api.GET("/pods/:name/services/:svc/logs", f.ServiceLogs)
	// fleet级操作
	api.POST("/fleet/start", f.StartFleet)
	api.POST("/fleet/stop", f.StopFleet)
	api.POST("/fleet/restart", f.RestartFleet)
	api.POST("/fleet/build", f.BuildFleet)
	api.GET("/health", f.FleetHealth)
}

// ListPods lists the status of every pod
//
//	@Summary		List all pods
//	@Description	Get the status snapshot of every pod and its services
//	@Tags			Pods
//	@Produce		json
//	@Success		200	{array}		models.PodStatus		"Status of every pod"
//	@Failure		500	{object}	models.ErrorResponse	"Internal server error response"
//	@Router			/podfleet/api/v1/pods [get]
func (f *FleetController) ListPods(c *gin.Context) {
	statuses, err := f.fleet.Status("")
	if err != nil {
		c.JSON(500, &models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(200, statuses)
}

// GetPod gets the status of one pod
//
//	@Summary		Get pod status
//	@Description	Pure read of one pod's per-service lifecycle states
//	@Tags			Pods
//	@Produce		json
//	@Param			name	path		string					true	"Pod name"
//	@Success		200		{object}	models.PodStatus		"Pod status snapshot"
//	@Failure		404		{object}	models.ErrorResponse	"Pod not found error response"
//	@Router			/podfleet/api/v1/pods/{name} [get]
func (f *FleetController) GetPod(c *gin.Context) {
	name := c.Param("name")

	statuses, err := f.fleet.Status(name)
	if err != nil {
		c.JSON(404, &models.ErrorResponse{
			Code:  "pod.notexist",
			Error: fmt.Sprintf("pod [%s] isn't exist", name),
		})
		return
	}
	c.JSON(200, statuses[0])
}

// StartPod starts every service of one pod in dependency order
//
//	@Summary		Start pod
//	@Description	Provision the pod network and start its services in dependency order
//	@Tags			Pods
//	@Produce		json
//	@Param			name	path		string					true	"Pod name"
//	@Success		200		{object}	models.FleetReport		"Per-service action breakdown"
//	@Failure		404		{object}	models.ErrorResponse	"Pod not found error response"
//	@Failure		500		{object}	models.ErrorResponse	"Internal server error response"
//	@Router			/podfleet/api/v1/pods/{name}/start [post]
func (f *FleetController) StartPod(c *gin.Context) {
	f.runVerb(c, "start", c.Param("name"))
}

// StopPod stops every service of one pod, reverse order, best effort
//
//	@Summary		Stop pod
//	@Description	Stop the pod's services in reverse dependency order
//	@Tags			Pods
//	@Produce		json
//	@Param			name	path		string					true	"Pod name"
//	@Success		200		{object}	models.FleetReport		"Per-service action breakdown"
//	@Failure		404		{object}	models.ErrorResponse	"Pod not found error response"
//	@Router			/podfleet/api/v1/pods/{name}/stop [post]
func (f *FleetController) StopPod(c *gin.Context) {
	f.runVerb(c, "stop", c.Param("name"))
}

// RestartPod restarts one pod with a quiesce pause in between
//
//	@Summary		Restart pod
//	@Description	Full stop, quiesce delay, then full start of the pod
//	@Tags			Pods
//	@Produce		json
//	@Param			name	path		string					true	"Pod name"
//	@Success		200		{object}	models.FleetReport		"Per-service action breakdown"
//	@Failure		404		{object}	models.ErrorResponse	"Pod not found error response"
//	@Router			/podfleet/api/v1/pods/{name}/restart [post]
func (f *FleetController) RestartPod(c *gin.Context) {
	f.runVerb(c, "restart", c.Param("name"))
}

// BuildPod rebuilds one pod atomically
//
//	@Summary		Build pod
//	@Description	Stop the pod, rebuild every service artifact, then start it again
//	@Tags			Pods
//	@Produce		json
//	@Param			name	path		string					true	"Pod name"
//	@Success		200		{object}	models.FleetReport		"Per-service action breakdown"
//	@Failure		404		{object}	models.ErrorResponse	"Pod not found error response"
//	@Router			/podfleet/api/v1/pods/{name}/build [post]
func (f *FleetController) BuildPod(c *gin.Context) {
	f.runVerb(c, "build", c.Param("name"))
}

// CleanPod reaps the pod's stopped units, volumes and network
//
//	@Summary		Clean pod
//	@Description	Remove the pod's containers, named volumes and network; requires the pod to be stopped
//	@Tags			Pods
//	@Produce		json
//	@Param			name	path		string					true	"Pod name"
//	@Success		200		{object}	map[string]interface{}	"Clean success response"
//	@Failure		409		{object}	models.ErrorResponse	"Pod still active error response"
//	@Router			/podfleet/api/v1/pods/{name}/clean [post]
func (f *FleetController) CleanPod(c *gin.Context) {
	name := c.Param("name")

	if err := f.fleet.Clean(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusConflict, &models.ErrorResponse{
			Code:  "pod.clean_failed",
			Error: err.Error(),
		})
		return
	}
	c.JSON(200, gin.H{"status": "success"})
}

// StartFleet starts every pod in fleet topological order
//
//	@Summary		Start fleet
//	@Description	Start every pod, ordered by hard cross-pod dependencies
//	@Tags			Fleet
//	@Produce		json
//	@Success		200	{object}	models.FleetReport	"Per-service action breakdown across pods"
//	@Router			/podfleet/api/v1/fleet/start [post]
func (f *FleetController) StartFleet(c *gin.Context) {
	f.runVerb(c, "start", "")
}

// StopFleet stops every pod in reverse fleet order
//
//	@Summary		Stop fleet
//	@Description	Stop every pod in reverse topological order, best effort
//	@Tags			Fleet
//	@Produce		json
//	@Success		200	{object}	models.FleetReport	"Per-service action breakdown across pods"
//	@Router			/podfleet/api/v1/fleet/stop [post]
func (f *FleetController) StopFleet(c *gin.Context) {
	f.runVerb(c, "stop", "")
}

// RestartFleet restarts the whole fleet
//
//	@Summary		Restart fleet
//	@Description	Stop every pod, quiesce, then start every pod again
//	@Tags			Fleet
//	@Produce		json
//	@Success		200	{object}	models.FleetReport	"Per-service action breakdown across pods"
//	@Router			/podfleet/api/v1/fleet/restart [post]
func (f *FleetController) RestartFleet(c *gin.Context) {
	f.runVerb(c, "restart", "")
}

// BuildFleet rebuilds every pod in fleet order
//
//	@Summary		Build fleet
//	@Description	Rebuild every pod atomically, in fleet topological order
//	@Tags			Fleet
//	@Produce		json
//	@Success		200	{object}	models.FleetReport	"Per-service action breakdown across pods"
//	@Router			/podfleet/api/v1/fleet/build [post]
func (f *FleetController) BuildFleet(c *gin.Context) {
	f.runVerb(c, "build", "")
}

// runVerb 四个生命周期verb的公共入口，部分成功也返回200，结果在报告里
func (f *FleetController) runVerb(c *gin.Context, verb, target string) {
	ctx := c.Request.Context()

	var report *models.FleetReport
	var err error
	switch verb {
	case "start":
		report, err = f.fleet.Start(ctx, target)
	case "stop":
		report, err = f.fleet.Stop(ctx, target)
	case "restart":
		report, err = f.fleet.Restart(ctx, target)
	case "build":
		report, err = f.fleet.Build(ctx, target)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if target != "" && report == nil {
			status = http.StatusNotFound
		}
		c.JSON(status, &models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(200, report)
}

// FleetHealth runs an active probe sweep across every known service
//
//	@Summary		Fleet health sweep
//	@Description	Probe every known service once, concurrently, and aggregate the results
//	@Tags			Fleet
//	@Produce		json
//	@Success		200	{object}	models.FleetHealthReport	"Aggregated health report"
//	@Router			/podfleet/api/v1/health [get]
func (f *FleetController) FleetHealth(c *gin.Context) {
	c.JSON(200, f.fleet.Health(c.Request.Context()))
}

// ServiceLogs returns the log tail of one service
//
//	@Summary		Get service logs
//	@Description	Return the tail of one service's log output
//	@Tags			Pods
//	@Produce		plain
//	@Param			name	path		string					true	"Pod name"
//	@Param			svc		path		string					true	"Service name"
//	@Param			tail	query		int						false	"Number of trailing lines"	default(100)
//	@Success		200		{string}	string					"Log tail"
//	@Failure		404		{object}	models.ErrorResponse	"Service not found error response"
//	@Router			/podfleet/api/v1/pods/{name}/services/{svc}/logs [get]
func (f *FleetController) ServiceLogs(c *gin.Context) {
	pod := c.Param("name")
	svc := c.Param("svc")
	tail, err := strconv.Atoi(c.DefaultQuery("tail", "100"))
	if err != nil || tail <= 0 {
		tail = 100
	}

	logs, err := f.fleet.Logs(c.Request.Context(), pod, svc, tail)
	if err != nil {
		c.JSON(404, &models.ErrorResponse{
			Code:  "service.logs_failed",
			Error: err.Error(),
		})
		return
	}
	c.String(200, logs)
}
