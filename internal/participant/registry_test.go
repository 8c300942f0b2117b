package participant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

func reg(name string, kind consts.ComponentKind, subs ...string) model.ParticipantRegistration {
	r := model.ParticipantRegistration{
		Participant: model.Participant{Name: name, ComponentKind: kind},
	}
	for _, origin := range subs {
		r.Subscriptions = append(r.Subscriptions, model.Subscription{OriginParticipant: origin, ContentType: "hl7v2"})
	}
	return r
}

func TestUpsertIsIdempotentOnIdentity(t *testing.T) {
	r := NewRegistry("self")
	ts := []time.Time{time.Unix(200, 0), time.Unix(100, 0)}
	r.now = func() time.Time { v := ts[0]; ts = ts[1:]; return v }

	first := r.Upsert(reg("Q1", consts.KindWUP))
	in := reg("Q1", consts.KindProcessingPlant)
	in.InstanceComponentIDs = []string{"b", "a", "b"}
	second := r.Upsert(in)

	assert.Len(t, r.RegistrationSnapshot(), 1)
	assert.Equal(t, first.Status.RegistrationID, second.Status.RegistrationID)
	assert.Equal(t, consts.KindProcessingPlant, second.Participant.ComponentKind)
	assert.Equal(t, []string{"a", "b"}, second.InstanceComponentIDs)
	assert.False(t, second.Status.LocalAt.Before(first.Status.LocalAt), "timestamp went backwards")
}

func TestUpsertLeavesCentralStatus(t *testing.T) {
	r := NewRegistry("self")
	in := reg("Q1", consts.KindWUP)
	in.Status.LocalStatus = consts.RegUnregistered
	r.Upsert(in)
	require.True(t, r.SetCentralStatus("Q1", consts.RegRegistered))

	in.Status.LocalStatus = consts.RegLocalOnly
	in.Status.CentralStatus = consts.RegFailed
	r.Upsert(in)

	got, ok := r.GetRegistration("Q1")
	require.True(t, ok)
	assert.Equal(t, consts.RegLocalOnly, got.Status.LocalStatus)
	assert.Equal(t, consts.RegRegistered, got.Status.CentralStatus)
}

func TestDownstreamAndServiceViews(t *testing.T) {
	r := NewRegistry("self")
	r.Upsert(reg("self", consts.KindProcessingPlant, "self"))
	r.Upsert(reg("listener", consts.KindWUP, "self"))
	r.Upsert(reg("other", consts.KindWUP, "elsewhere"))
	r.Upsert(reg("billing", consts.KindProcessingPlant))

	down := r.DownstreamParticipants()
	require.Len(t, down, 1)
	assert.Equal(t, "listener", down[0].Name)

	assert.Len(t, r.ParticipantsForService("billing"), 1)
	assert.Empty(t, r.ParticipantsForService("listener"))
	assert.Empty(t, r.ParticipantsForService(""))
	assert.Len(t, r.AllParticipants(), 4)
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	r := NewRegistry("self")
	in := reg("Q1", consts.KindWUP, "self")
	r.Upsert(in)
	in.Subscriptions[0].OriginParticipant = "mutated"

	got, _ := r.GetRegistration("Q1")
	assert.Equal(t, "self", got.Subscriptions[0].OriginParticipant)
	got.Subscriptions[0].OriginParticipant = "mutated"
	again, _ := r.GetRegistration("Q1")
	assert.Equal(t, "self", again.Subscriptions[0].OriginParticipant)
}

func TestEmptyAndUnknownNames(t *testing.T) {
	r := NewRegistry("self")
	assert.Nil(t, r.Upsert(model.ParticipantRegistration{}))
	assert.False(t, r.SetLocalStatus("ghost", consts.RegLocalOnly))
	_, ok := r.Remove("ghost")
	assert.False(t, ok)

	r.Upsert(reg("Q1", consts.KindWUP))
	_, ok = r.Remove("Q1")
	assert.True(t, ok)
	_, ok = r.Get("Q1")
	assert.False(t, ok)
}
