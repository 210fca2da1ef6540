package lead

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrConcurrentUpdate is returned when a compare-and-set on a lead loses to
// another writer.
var ErrConcurrentUpdate = errors.New("lead changed concurrently")

type Status string

const (
	StatusOpen      Status = "open"
	StatusContacted Status = "contacted"
	StatusQualified Status = "qualified"
	StatusClosed    Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusContacted, StatusQualified, StatusClosed:
		return true
	}
	return false
}

var validTransitions = map[Status][]Status{
	StatusOpen:      {StatusContacted, StatusQualified, StatusClosed},
	StatusContacted: {StatusQualified, StatusOpen, StatusClosed},
	StatusQualified: {StatusContacted, StatusClosed},
	StatusClosed:    {StatusOpen},
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsActive reports whether a lead in this status counts against an agent's capacity.
func (s Status) IsActive() bool {
	return s != StatusClosed
}

type Source string

const (
	SourceWhatsApp Source = "whatsapp"
	SourceManual   Source = "manual"
	SourceImport   Source = "import"
)

type Lead struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Phone      string     `json:"phone"`
	Source     Source     `json:"source"`
	Status     Status     `json:"status"`
	Stage      string     `json:"stage,omitempty"`
	AssignedTo *uuid.UUID `json:"assigned_to,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func New(name, phone string, source Source) Lead {
	now := time.Now().UTC()
	return Lead{
		ID:        uuid.New(),
		Name:      name,
		Phone:     phone,
		Source:    source,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (l *Lead) IsAssigned() bool {
	return l.AssignedTo != nil
}

type ListFilters struct {
	Status      *Status
	AssignedTo  *uuid.UUID
	Unassigned  bool // WHERE assigned_to IS NULL
	OldestFirst bool // ORDER BY created_at ASC (default is DESC)
}
