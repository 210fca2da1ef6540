// Package httperr maps domain and service errors to HTTP responses.
package httperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
	agentsvc "github.com/alanyang/lead-mesh/internal/service/agent"
	leadsvc "github.com/alanyang/lead-mesh/internal/service/lead"
)

func Status(err error) int {
	switch {
	case distribution.IsTransient(err):
		return http.StatusServiceUnavailable
	case distribution.IsConfiguration(err):
		return http.StatusInternalServerError
	case errors.Is(err, distribution.ErrLeadNotFound),
		errors.Is(err, distribution.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, distribution.ErrAlreadyAssigned),
		errors.Is(err, domainlead.ErrConcurrentUpdate),
		errors.Is(err, leadsvc.ErrNotAssigned),
		errors.Is(err, leadsvc.ErrSameAgent):
		return http.StatusConflict
	case errors.Is(err, distribution.ErrInvalidAlgorithm),
		errors.Is(err, leadsvc.ErrInvalidStatus),
		errors.Is(err, leadsvc.ErrInvalidLeadInput),
		errors.Is(err, agentsvc.ErrInvalidRole),
		errors.Is(err, agentsvc.ErrInvalidMaxLeads):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Kind is a stable machine-readable label for clients.
func Kind(err error) string {
	switch {
	case distribution.IsTransient(err):
		return "transient"
	case distribution.IsConfiguration(err):
		return "configuration"
	}
	switch Status(err) {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadRequest:
		return "invalid"
	default:
		return "internal"
	}
}

// Write renders err with its mapped status. extra fields are merged into the body.
func Write(c *gin.Context, err error, extra gin.H) {
	body := gin.H{"error": err.Error(), "kind": Kind(err)}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(Status(err), body)
}

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": "invalid"})
}
