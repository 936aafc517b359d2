package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/featureflag"
	"github.com/orgsignal/taskrouter/pkg/ingest"
)

// DryRunGate is the feature flag code controlling the dry-run endpoint.
const DryRunGate = "rules.dry-run"

// SignalController accepts inbound signals and routes them.
type SignalController struct {
	processor *ingest.Processor
	flags     *featureflag.Service
	log       *zap.SugaredLogger
}

// NewSignalController creates the signal ingest controller. flags may be nil,
// which leaves the dry-run endpoint always on.
func NewSignalController(processor *ingest.Processor, flags *featureflag.Service, log *zap.SugaredLogger) *SignalController {
	if log == nil {
		log = zap.S()
	}
	return &SignalController{processor: processor, flags: flags, log: log}
}

func (sc *SignalController) BasePath() string {
	return "signals/"
}

func (sc *SignalController) Handlers() []gin.HandlerFunc {
	return nil
}

func (sc *SignalController) Register(rg *gin.RouterGroup) error {
	rg.POST("", sc.handleProcess)
	rg.POST("/dryrun", sc.handleDryRun)
	return nil
}

func (sc *SignalController) handleProcess(c *gin.Context) {
	var sig ingest.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal payload: " + err.Error()})
		return
	}

	result, err := sc.processor.Process(c.Request.Context(), sig)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (sc *SignalController) handleDryRun(c *gin.Context) {
	var sig ingest.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal payload: " + err.Error()})
		return
	}

	if sc.flags != nil && !sc.flags.Enabled(c.Request.Context(), DryRunGate, sig.OrganizationID, true) {
		c.JSON(http.StatusForbidden, gin.H{"error": "dry-run evaluation is disabled"})
		return
	}

	result, err := sc.processor.Evaluate(sig)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
