package lead

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
	portdist "github.com/alanyang/lead-mesh/internal/port/distributor"
	leadsvc "github.com/alanyang/lead-mesh/internal/service/lead"
	"github.com/alanyang/lead-mesh/internal/transport/httperr"
)

func Register(rg *gin.RouterGroup, svc *leadsvc.Service, dist portdist.Distributor) {
	rg.POST("", createLead(svc))
	rg.GET("", listLeads(svc))
	rg.GET("/:id", getLead(svc))
	rg.PATCH("/:id/status", updateLeadStatus(svc))
	rg.POST("/:id/assign", assignLead(dist))
	rg.POST("/:id/transfer", transferLead(svc))
	rg.GET("/:id/logs", leadLogs(svc))
}

type createLeadReq struct {
	Name   string            `json:"name"`
	Phone  string            `json:"phone" binding:"required"`
	Source domainlead.Source `json:"source"`
}

// createLead stores the lead even when auto-assignment fails; the error
// response then carries the stored lead so the caller does not retry intake.
func createLead(svc *leadsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createLeadReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}

		out, err := svc.Create(c.Request.Context(), req.Name, req.Phone, req.Source)
		if err != nil {
			if out.Lead.ID != uuid.Nil {
				httperr.Write(c, err, gin.H{"lead": out.Lead})
				return
			}
			httperr.Write(c, err, nil)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

func listLeads(svc *leadsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filters domainlead.ListFilters

		if v := c.Query("status"); v != "" {
			s := domainlead.Status(v)
			if !s.Valid() {
				httperr.BadRequest(c, "invalid status")
				return
			}
			filters.Status = &s
		}
		if v := c.Query("assigned_to"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				httperr.BadRequest(c, "invalid assigned_to")
				return
			}
			filters.AssignedTo = &id
		}
		filters.Unassigned = c.Query("unassigned") == "true"
		filters.OldestFirst = c.Query("order") == "oldest"

		leads, err := svc.List(c.Request.Context(), filters)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		if leads == nil {
			leads = []domainlead.Lead{}
		}
		c.JSON(http.StatusOK, leads)
	}
}

func getLead(svc *leadsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		l, err := svc.GetByID(c.Request.Context(), id)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

type updateStatusReq struct {
	StatusFrom domainlead.Status `json:"status_from" binding:"required"`
	StatusTo   domainlead.Status `json:"status_to" binding:"required"`
	Stage      string            `json:"stage"`
}

func updateLeadStatus(svc *leadsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req updateStatusReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}

		l, err := svc.UpdateStatus(c.Request.Context(), id, req.StatusFrom, req.StatusTo, req.Stage)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

func assignLead(dist portdist.Distributor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		res, err := dist.Assign(c.Request.Context(), id)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type transferReq struct {
	AgentID uuid.UUID `json:"agent_id" binding:"required"`
	Note    string    `json:"note"`
}

func transferLead(svc *leadsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}

		l, err := svc.Transfer(c.Request.Context(), id, req.AgentID, req.Note)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

func leadLogs(svc *leadsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		entries, err := svc.Logs(c.Request.Context(), id)
		if err != nil {
			httperr.Write(c, err, nil)
			return
		}
		if entries == nil {
			entries = []domainassignment.LogEntry{}
		}
		c.JSON(http.StatusOK, entries)
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httperr.BadRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
