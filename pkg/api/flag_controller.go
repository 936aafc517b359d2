package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/audit"
	"github.com/orgsignal/taskrouter/pkg/featureflag"
)

// FlagController manages feature flag rows and exposes evaluation.
type FlagController struct {
	store    featureflag.Store
	service  *featureflag.Service
	recorder *audit.Recorder
	log      *zap.SugaredLogger
}

// NewFlagController creates the feature flag controller.
func NewFlagController(store featureflag.Store, service *featureflag.Service,
	recorder *audit.Recorder, log *zap.SugaredLogger,
) *FlagController {
	if log == nil {
		log = zap.S()
	}
	return &FlagController{store: store, service: service, recorder: recorder, log: log}
}

func (fc *FlagController) BasePath() string {
	return "flags/"
}

func (fc *FlagController) Handlers() []gin.HandlerFunc {
	return nil
}

func (fc *FlagController) Register(rg *gin.RouterGroup) error {
	rg.GET("", fc.handleList)
	rg.PUT("/:code", fc.handlePut)
	rg.GET("/:code/evaluate", fc.handleEvaluate)
	return nil
}

func (fc *FlagController) handleList(c *gin.Context) {
	flags, err := fc.store.ListFlags(c.Request.Context(), c.Query("organizationId"))
	if err != nil {
		fc.log.Errorw("Failed to list flags", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, flags)
}

func (fc *FlagController) handlePut(c *gin.Context) {
	var flag featureflag.Flag
	if err := c.ShouldBindJSON(&flag); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag payload: " + err.Error()})
		return
	}
	flag.Code = c.Param("code")

	// Malformed strategies fail closed at evaluation time, but the write path
	// rejects them outright so they never reach the store.
	if err := featureflag.ValidateStrategy(flag.Strategy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := fc.store.PutFlag(c.Request.Context(), &flag); err != nil {
		fc.log.Errorw("Failed to store flag", "code", flag.Code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	fc.recorder.FlagUpdated(c.Request.Context(), flag.OrganizationID, flag.Code, c.Query("actor"))
	c.JSON(http.StatusOK, flag)
}

type evaluateResponse struct {
	Code    string `json:"code"`
	Enabled bool   `json:"enabled"`
}

func (fc *FlagController) handleEvaluate(c *gin.Context) {
	evalCtx := featureflag.Context{
		OrganizationID: c.Query("organizationId"),
		UserID:         c.Query("userId"),
	}
	if roles := c.Query("roles"); roles != "" {
		evalCtx.Roles = strings.Split(roles, ",")
	}

	code := c.Param("code")
	c.JSON(http.StatusOK, evaluateResponse{
		Code:    code,
		Enabled: fc.service.IsEnabled(c.Request.Context(), code, evalCtx),
	})
}
