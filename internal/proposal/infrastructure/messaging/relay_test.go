package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/consigfacil/creditengine/internal/proposal/domain"
)

func TestRelay_RoutesAuditEventsToAuditTopic(t *testing.T) {
	r := NewRelay(nil, nil, "credit.proposals", "credit.audit.log", time.Second, nil)

	assert.Equal(t, "credit.audit.log", r.topicFor(domain.EventAuditRecorded))
	assert.Equal(t, "credit.proposals", r.topicFor(domain.EventStatusChanged))
	assert.Equal(t, "credit.proposals", r.topicFor(domain.EventDecisionMade))
	assert.Equal(t, "credit.proposals", r.topicFor(domain.EventDisbursed))
}

func TestRelay_FallsBackWithoutAuditTopic(t *testing.T) {
	r := NewRelay(nil, nil, "credit.proposals", "", time.Second, nil)

	assert.Equal(t, "credit.proposals", r.topicFor(domain.EventAuditRecorded))
}
