package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/audit"
	"github.com/orgsignal/taskrouter/pkg/escalation"
	"github.com/orgsignal/taskrouter/pkg/task"
)

// TaskController exposes the Task lifecycle over HTTP.
type TaskController struct {
	manager   *task.Manager
	scheduler *escalation.Scheduler
	recorder  *audit.Recorder
	log       *zap.SugaredLogger
}

// NewTaskController creates the task lifecycle controller.
func NewTaskController(manager *task.Manager, scheduler *escalation.Scheduler,
	recorder *audit.Recorder, log *zap.SugaredLogger,
) *TaskController {
	if log == nil {
		log = zap.S()
	}
	return &TaskController{manager: manager, scheduler: scheduler, recorder: recorder, log: log}
}

func (tc *TaskController) BasePath() string {
	return "tasks/"
}

func (tc *TaskController) Handlers() []gin.HandlerFunc {
	return nil
}

func (tc *TaskController) Register(rg *gin.RouterGroup) error {
	rg.POST("", tc.handleCreate)
	rg.GET("", tc.handleList)
	rg.GET("/:taskID", tc.handleGet)
	rg.POST("/:taskID/status", tc.handleUpdateStatus)
	rg.POST("/:taskID/escalate", tc.handleEscalate)
	rg.POST("/:taskID/assign", tc.handleAssign)
	rg.GET("/:taskID/escalations", tc.handleListEscalations)
	return nil
}

func (tc *TaskController) handleCreate(c *gin.Context) {
	var req task.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task payload: " + err.Error()})
		return
	}

	t, err := tc.manager.Create(c.Request.Context(), req)
	if err != nil {
		tc.writeError(c, err)
		return
	}
	tc.recorder.TaskCreated(c.Request.Context(), t.OrganizationID, t.ID, "")
	c.JSON(http.StatusCreated, t)
}

func (tc *TaskController) handleList(c *gin.Context) {
	tasks, err := tc.manager.List(c.Request.Context(), c.Query("organizationId"))
	if err != nil {
		tc.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (tc *TaskController) handleGet(c *gin.Context) {
	t, err := tc.manager.Get(c.Request.Context(), c.Query("organizationId"), c.Param("taskID"))
	if err != nil {
		tc.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type statusUpdateRequest struct {
	Status string `json:"status" binding:"required"`
	Actor  string `json:"actor,omitempty"`
}

func (tc *TaskController) handleUpdateStatus(c *gin.Context) {
	var req statusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status payload: " + err.Error()})
		return
	}

	orgID := c.Query("organizationId")
	taskID := c.Param("taskID")
	before, err := tc.manager.Get(c.Request.Context(), orgID, taskID)
	if err != nil {
		tc.writeError(c, err)
		return
	}

	t, err := tc.manager.UpdateStatus(c.Request.Context(), orgID, taskID, task.Status(req.Status))
	if err != nil {
		tc.writeError(c, err)
		return
	}
	if t.Status != before.Status {
		tc.recorder.TaskStatusChanged(c.Request.Context(), orgID, taskID,
			string(before.Status), string(t.Status), req.Actor)
	}
	c.JSON(http.StatusOK, t)
}

func (tc *TaskController) handleEscalate(c *gin.Context) {
	orgID := c.Query("organizationId")
	t, err := tc.manager.Escalate(c.Request.Context(), orgID, c.Param("taskID"))
	if err != nil {
		tc.writeError(c, err)
		return
	}
	tc.recorder.TaskEscalated(c.Request.Context(), t.OrganizationID, t.ID, t.EscalationLevel)
	c.JSON(http.StatusOK, t)
}

type assignRequest struct {
	AssigneeRole string `json:"assigneeRole,omitempty"`
	OwnerUserID  string `json:"ownerUserId,omitempty"`
}

func (tc *TaskController) handleAssign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assign payload: " + err.Error()})
		return
	}

	t, err := tc.manager.Assign(c.Request.Context(), c.Query("organizationId"), c.Param("taskID"),
		req.AssigneeRole, req.OwnerUserID)
	if err != nil {
		tc.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (tc *TaskController) handleListEscalations(c *gin.Context) {
	if tc.scheduler == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "escalation scheduling is not wired"})
		return
	}
	instances, err := tc.scheduler.ListTaskInstances(c.Request.Context(),
		c.Query("organizationId"), c.Param("taskID"))
	if err != nil {
		tc.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, instances)
}

// writeError maps domain errors onto HTTP statuses: unknown task to 404,
// lifecycle conflicts to 409, validation problems to 400.
func (tc *TaskController) writeError(c *gin.Context, err error) {
	var (
		invalidTransition *task.InvalidTransitionError
		cannotEscalate    *task.CannotEscalateError
		validation        *task.ValidationError
	)
	switch {
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.As(err, &invalidTransition), errors.As(err, &cannotEscalate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		tc.log.Errorw("Task request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
