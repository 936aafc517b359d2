package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/audit"
	"github.com/orgsignal/taskrouter/pkg/escalation"
)

// SchedulerController exposes a manual sweep trigger for operators. The
// periodic ticker is the normal driver; this endpoint exists for incident
// handling and tests.
type SchedulerController struct {
	scheduler *escalation.Scheduler
	limits    escalation.Limits
	recorder  *audit.Recorder
	log       *zap.SugaredLogger
}

// NewSchedulerController creates the sweep controller.
func NewSchedulerController(scheduler *escalation.Scheduler, limits escalation.Limits,
	recorder *audit.Recorder, log *zap.SugaredLogger,
) *SchedulerController {
	if log == nil {
		log = zap.S()
	}
	return &SchedulerController{scheduler: scheduler, limits: limits, recorder: recorder, log: log}
}

func (sc *SchedulerController) BasePath() string {
	return "scheduler/"
}

func (sc *SchedulerController) Handlers() []gin.HandlerFunc {
	return nil
}

func (sc *SchedulerController) Register(rg *gin.RouterGroup) error {
	rg.POST("/sweep", sc.handleSweep)
	return nil
}

func (sc *SchedulerController) handleSweep(c *gin.Context) {
	orgID := c.Query("organizationId")
	stats := sc.scheduler.Sweep(c.Request.Context(), time.Now().UTC(), orgID, sc.limits)
	sc.recorder.SweepCompleted(c.Request.Context(), orgID, map[string]interface{}{
		"overdueUnresolved":  stats.OverdueUnresolved,
		"overdueCritical":    stats.OverdueCritical,
		"maxDelaySeconds":    stats.MaxDelaySeconds,
		"tasksEscalated":     stats.TasksEscalated,
		"instancesAdvanced":  stats.InstancesAdvanced,
		"instancesCompleted": stats.InstancesCompleted,
		"rowErrors":          stats.RowErrors,
	})
	c.JSON(http.StatusOK, stats)
}
