package agent

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

const DefaultMaxLeads = 10

type Agent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Available bool      `json:"available"`
	MaxLeads  int       `json:"max_leads"`
	CreatedAt time.Time `json:"created_at"`
}

func New(name, email string, role Role, maxLeads int) Agent {
	return Agent{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		Role:      role,
		Available: true,
		MaxLeads:  maxLeads,
		CreatedAt: time.Now().UTC(),
	}
}

func (a *Agent) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Eligible reports whether the agent belongs in the distribution pool.
func (a *Agent) Eligible() bool {
	return a.Role == RoleUser && a.Available
}

// HasCapacity reports whether an agent holding active leads can take one more.
func (a *Agent) HasCapacity(active int) bool {
	return active < a.MaxLeads
}

type ListFilters struct {
	Role      *Role
	Available *bool
}
