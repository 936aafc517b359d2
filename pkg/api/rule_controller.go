package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/audit"
	"github.com/orgsignal/taskrouter/pkg/rules"
)

// RuleController exposes the rule set: inspection, validation of candidate
// rule documents and reloading from the configured source files.
type RuleController struct {
	engine   *rules.Engine
	paths    []string
	recorder *audit.Recorder
	log      *zap.SugaredLogger
}

// NewRuleController creates the rule management controller. paths are the
// configured rule source files the reload endpoint re-reads.
func NewRuleController(engine *rules.Engine, paths []string, recorder *audit.Recorder, log *zap.SugaredLogger) *RuleController {
	if log == nil {
		log = zap.S()
	}
	return &RuleController{engine: engine, paths: paths, recorder: recorder, log: log}
}

func (rc *RuleController) BasePath() string {
	return "rules/"
}

func (rc *RuleController) Handlers() []gin.HandlerFunc {
	return nil
}

func (rc *RuleController) Register(rg *gin.RouterGroup) error {
	rg.GET("", rc.handleGet)
	rg.POST("/validate", rc.handleValidate)
	rg.POST("/reload", rc.handleReload)
	return nil
}

type ruleSetResponse struct {
	Generation uint64            `json:"generation"`
	Rules      []rules.Rule      `json:"rules"`
	Errors     []rules.RuleError `json:"errors,omitempty"`
}

func (rc *RuleController) handleGet(c *gin.Context) {
	rs := rc.engine.Current()
	c.JSON(http.StatusOK, ruleSetResponse{
		Generation: rs.Generation,
		Rules:      rs.Rules(),
		Errors:     rs.Validate(),
	})
}

// handleValidate parses the posted YAML rule document and returns its
// validation errors without touching the active rule set.
func (rc *RuleController) handleValidate(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	loader := rules.NewLoader(rc.log)
	rs, err := loader.Load([][]byte{body})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rules":  rs.Len(),
		"errors": rs.Validate(),
	})
}

func (rc *RuleController) handleReload(c *gin.Context) {
	if len(rc.paths) == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "no rule source files configured"})
		return
	}

	rs, err := rc.engine.ReloadFiles(rc.paths)
	if err != nil {
		rc.recorder.RulesReloaded(c.Request.Context(), 0, 0, false)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	validationErrors := rs.Validate()
	rc.recorder.RulesReloaded(c.Request.Context(), rs.Generation, rs.Len(), len(validationErrors) == 0)
	c.JSON(http.StatusOK, ruleSetResponse{
		Generation: rs.Generation,
		Rules:      rs.Rules(),
		Errors:     validationErrors,
	})
}
