package distribution

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	portdist "github.com/alanyang/lead-mesh/internal/port/distributor"
	configsvc "github.com/alanyang/lead-mesh/internal/service/config"
	"github.com/alanyang/lead-mesh/internal/transport/httperr"
)

func Register(rg *gin.RouterGroup, cfg *configsvc.Service, bulk portdist.BulkDistributor) {
	rg.GET("/config", getConfig(cfg))
	rg.PUT("/config", putConfig(cfg))
	rg.POST("/run", run(bulk))
}

func getConfig(cfg *configsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		conf, err := cfg.Get(c.Request.Context())
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, conf)
	}
}

type putConfigReq struct {
	Algorithm string `json:"algorithm" binding:"required"`
}

func putConfig(cfg *configsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req putConfigReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}
		conf, err := cfg.SetAlgorithm(c.Request.Context(), req.Algorithm)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, conf)
	}
}

type runResp struct {
	Assigned []domainassignment.Result `json:"assigned"`
	Count    int                       `json:"count"`
}

// run drains the backlog. Assignments committed before a failure are reported
// alongside the error.
func run(bulk portdist.BulkDistributor) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := bulk.DistributeUnassigned(c.Request.Context())
		if results == nil {
			results = []domainassignment.Result{}
		}
		if err != nil {
			httperr.Write(c, err, gin.H{"assigned": results, "count": len(results)})
			return
		}
		c.JSON(http.StatusOK, runResp{Assigned: results, Count: len(results)})
	}
}
