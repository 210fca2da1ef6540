package amqp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
)

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := domainassignment.Notification{
		LeadID:       uuid.New(),
		AssignedTo:   uuid.New(),
		AssignedName: "Ana",
		Reason:       "round-robin",
		AssignedAt:   now,
	}

	key, msg, err := buildMessage(n, "lead-mesh", now)
	require.NoError(t, err)
	assert.Equal(t, RoutingKeyAssigned, key)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, n.LeadID.String(), msg.CorrelationId)
	assert.Equal(t, typeAssigned, msg.Type)

	var env struct {
		Meta Meta                          `json:"meta"`
		Data domainassignment.Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Body, &env))
	assert.Equal(t, msg.MessageId, env.Meta.ID)
	assert.Equal(t, "lead-mesh", env.Meta.Producer)
	assert.Equal(t, n.AssignedTo, env.Data.AssignedTo)
	assert.Equal(t, "Ana", env.Data.AssignedName)
}

func TestBuildMessage_Transfer(t *testing.T) {
	key, msg, err := buildMessage(domainassignment.Notification{LeadID: uuid.New(), Reason: "transfer"}, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, RoutingKeyTransferred, key)
	assert.Equal(t, typeTransferred, msg.Type)
}

func TestBuildMessage_UniqueIDs(t *testing.T) {
	n := domainassignment.Notification{LeadID: uuid.New()}
	_, a, err := buildMessage(n, "", time.Now())
	require.NoError(t, err)
	_, b, err := buildMessage(n, "", time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, a.MessageId, b.MessageId)
	assert.Equal(t, a.CorrelationId, b.CorrelationId)
}
