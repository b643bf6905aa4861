package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierRankOrdering(t *testing.T) {
	assert.Less(t, TierFoundation.Rank(), TierProfessional.Rank())
	assert.Less(t, TierProfessional.Rank(), TierEnterprise.Rank())
	assert.Less(t, TierEnterprise.Rank(), TierFranchise.Rank())
	assert.Equal(t, 0, Tier("GOLD").Rank())
}

func TestIsRelatedIsDirected(t *testing.T) {
	assert.True(t, IsRelated(ServiceSewageCleanup, ServiceBiohazardCleaning))
	assert.True(t, IsRelated(ServiceBiohazardCleaning, ServiceSewageCleanup))
	assert.True(t, IsRelated(ServiceFireDamage, ServiceEmergencyBoardUp))
	assert.False(t, IsRelated(ServiceWaterDamage, ServiceBiohazardCleaning))
	assert.False(t, IsRelated(ServiceWaterDamage, ServiceWaterDamage))
	assert.False(t, IsRelated(ServiceAsbestosRemoval, ServiceWaterDamage))
}

func TestRecordResponseOnce(t *testing.T) {
	a := DistributionAttempt{ContractorID: "c1", SentAt: time.Now()}
	now := time.Now()
	require.NoError(t, a.Record("l1", ResponseDeclined, "too far", now))
	assert.Equal(t, "too far", a.DeclineReason)

	err := a.Record("l1", ResponseAccepted, "", now.Add(time.Minute))
	var dup *DuplicateResponseError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, ResponseDeclined, dup.Previous)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, ResponseDeclined, a.Response)
	assert.Equal(t, now, *a.RespondedAt)
}

func TestRecordSupersededAttempt(t *testing.T) {
	a := DistributionAttempt{ContractorID: "c1", Superseded: true}
	err := a.Record("l1", ResponseAccepted, "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, a.Response)
}

func TestLeadCloneIsDeep(t *testing.T) {
	start := time.Now()
	l := &Lead{ID: "l1", Services: []ServiceType{ServiceWaterDamage}, DistributionStartedAt: &start,
		Attempts: []DistributionAttempt{{ContractorID: "c1", Channels: []string{"sms"}}}}
	c := l.Clone()
	c.Services[0] = ServiceFireDamage
	c.Attempts[0].Channels[0] = "email"
	*c.DistributionStartedAt = start.Add(time.Hour)
	assert.Equal(t, ServiceWaterDamage, l.Services[0])
	assert.Equal(t, "sms", l.Attempts[0].Channels[0])
	assert.Equal(t, start, *l.DistributionStartedAt)
}

func TestLeadHelpers(t *testing.T) {
	l := &Lead{Attempts: []DistributionAttempt{
		{ContractorID: "a", Round: 1, Response: ResponseDeclined},
		{ContractorID: "b", Round: 1},
		{ContractorID: "c", Round: 2},
	}}
	assert.Equal(t, 1, l.Declines())
	assert.Equal(t, 2, l.Round())
	assert.True(t, l.Attempted("b"))
	assert.False(t, l.Attempted("z"))
	assert.Equal(t, 2, l.SupersedeOpen())
	assert.False(t, l.Attempts[1].Open())
	assert.Equal(t, ResponseDeclined, l.Attempts[0].Response)
}

func TestValidateLead(t *testing.T) {
	l := Lead{ID: "l1", Services: nil, Priority: PriorityHigh, Status: StatusPending}
	err := Validate(l)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Services", verr.Field)
	assert.ErrorIs(t, err, ErrValidation)

	l.Services = []ServiceType{ServiceFireDamage}
	assert.NoError(t, Validate(l))

	l.Priority = "WHENEVER"
	assert.ErrorIs(t, Validate(l), ErrValidation)
}

func TestParseResponse(t *testing.T) {
	r, err := ParseResponse("accepted")
	require.NoError(t, err)
	assert.Equal(t, ResponseAccepted, r)
	_, err = ParseResponse("maybe")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{&NotFoundError{Kind: "lead", ID: "x"}, ErrNotFound},
		{&InvalidTransitionError{LeadID: "x", From: StatusAccepted, To: StatusDistributed}, ErrInvalidTransition},
		{&NoEligibleCandidatesError{LeadID: "x"}, ErrNoEligibleCandidates},
		{&NotificationDeliveryError{ContractorID: "c", Err: errors.New("smtp")}, ErrNotificationDelivery},
		{&BrokerUnavailableError{Attempts: 5, Err: errors.New("refused")}, ErrBrokerUnavailable},
	}
	for _, c := range cases {
		assert.ErrorIs(t, c.err, c.sentinel, c.err.Error())
	}
	assert.NotErrorIs(t, &NotFoundError{}, ErrValidation)
}
