package agent

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainagent "github.com/alanyang/lead-mesh/internal/domain/agent"
	agentsvc "github.com/alanyang/lead-mesh/internal/service/agent"
	"github.com/alanyang/lead-mesh/internal/transport/httperr"
)

func Register(rg *gin.RouterGroup, svc *agentsvc.Service) {
	rg.POST("", registerAgent(svc))
	rg.GET("", listAgents(svc))
	rg.GET("/:id", getAgent(svc))
	rg.PATCH("/:id", updateAgent(svc))
}

type registerReq struct {
	Name     string           `json:"name" binding:"required"`
	Email    string           `json:"email"`
	Role     domainagent.Role `json:"role" binding:"required"`
	MaxLeads *int             `json:"max_leads"`
}

func registerAgent(svc *agentsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}
		maxLeads := domainagent.DefaultMaxLeads
		if req.MaxLeads != nil {
			maxLeads = *req.MaxLeads
		}

		a, err := svc.Register(c.Request.Context(), req.Name, req.Email, req.Role, maxLeads)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		c.JSON(http.StatusCreated, a)
	}
}

func listAgents(svc *agentsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filters domainagent.ListFilters
		if v := c.Query("role"); v != "" {
			r := domainagent.Role(v)
			if !r.Valid() {
				httperr.BadRequest(c, "invalid role")
				return
			}
			filters.Role = &r
		}
		if v := c.Query("available"); v != "" {
			available := v == "true"
			filters.Available = &available
		}

		agents, err := svc.List(c.Request.Context(), filters)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		if agents == nil {
			agents = []domainagent.Agent{}
		}
		c.JSON(http.StatusOK, agents)
	}
}

func getAgent(svc *agentsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			httperr.BadRequest(c, "invalid id")
			return
		}

		a, err := svc.GetByID(c.Request.Context(), id)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

type updateReq struct {
	Available *bool `json:"available"`
	MaxLeads  *int  `json:"max_leads"`
}

func updateAgent(svc *agentsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			httperr.BadRequest(c, "invalid id")
			return
		}
		var req updateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}
		if req.Available == nil && req.MaxLeads == nil {
			httperr.BadRequest(c, "nothing to update")
			return
		}

		ctx := c.Request.Context()
		if req.MaxLeads != nil {
			if err := svc.SetMaxLeads(ctx, id, *req.MaxLeads); err != nil {
				httperr.Write(c, err, nil)
				return
			}
		}
		if req.Available != nil {
			if err := svc.SetAvailability(ctx, id, *req.Available); err != nil {
				httperr.Write(c, err, nil)
				return
			}
		}

		a, err := svc.GetByID(ctx, id)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}
