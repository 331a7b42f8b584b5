package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartCheckFirstMissOpensWindow(t *testing.T) {
	s := NewSession()
	now := time.Now().UnixMilli()

	code := s.HeartCheck(now)

	assert.Equal(t, closeZombie, code)
	assert.Equal(t, 1, s.Heartbeat.MissedAcks)
	assert.Equal(t, now, s.Heartbeat.FirstMissedAck)
}

func TestHeartCheckWithinWindowBelowMaxIsQuiet(t *testing.T) {
	s := NewSession()
	now := time.Now().UnixMilli()
	s.HeartCheck(now)

	code := s.HeartCheck(now + 60000)

	assert.Equal(t, 0, code)
	assert.Equal(t, now, s.Heartbeat.FirstMissedAck)
}

func TestHeartCheckRepeatedMissesForceNewSession(t *testing.T) {
	s := NewSession()
	now := time.Now().UnixMilli()
	s.Heartbeat.MissedAcks = s.Heartbeat.MaxMissedAcks
	s.Heartbeat.FirstMissedAck = now - 1000

	code := s.HeartCheck(now)

	assert.Equal(t, closeInternalError, code)
}

func TestHeartCheckExpiredWindowResets(t *testing.T) {
	s := NewSession()
	now := time.Now().UnixMilli()
	s.Heartbeat.MissedAcks = 2
	s.Heartbeat.FirstMissedAck = now - missedAckWindow - 1

	code := s.HeartCheck(now)

	assert.Equal(t, closeZombie, code)
	assert.Equal(t, int64(0), s.Heartbeat.FirstMissedAck)

	// next miss opens a fresh window
	code = s.HeartCheck(now + 1)
	assert.Equal(t, closeZombie, code)
	assert.Equal(t, now+1, s.Heartbeat.FirstMissedAck)
}

func TestHeartCheckEscalationSurvivesResumes(t *testing.T) {
	s := NewSession()
	base := int64(1_000_000)

	// each zombie close resumes; resuming must not clear the miss counters
	assert.Equal(t, closeZombie, s.HeartCheck(base)) // window 1 opens
	s.Resume()
	assert.Equal(t, closeZombie, s.HeartCheck(base+missedAckWindow+1)) // window 1 expires
	s.Resume()
	assert.Equal(t, closeZombie, s.HeartCheck(base+missedAckWindow+2)) // window 2 opens
	s.Resume()
	assert.Equal(t, closeZombie, s.HeartCheck(base+2*missedAckWindow+3)) // window 2 expires
	s.Resume()
	assert.Equal(t, closeZombie, s.HeartCheck(base+2*missedAckWindow+4)) // window 3 opens
	s.Resume()

	assert.Equal(t, s.Heartbeat.MaxMissedAcks, s.Heartbeat.MissedAcks)
	// third miss inside its window: full re-identify
	assert.Equal(t, closeInternalError, s.HeartCheck(base+2*missedAckWindow+5))
}

func TestAckHeartbeatClearsBookkeeping(t *testing.T) {
	s := NewSession()
	s.BeginHeartbeat()
	assert.False(t, s.HeartbeatAcknowledged())

	s.HeartCheck(time.Now().UnixMilli())
	s.AckHeartbeat()

	assert.True(t, s.HeartbeatAcknowledged())
	assert.Equal(t, 0, s.Heartbeat.MissedAcks)
	assert.Equal(t, int64(0), s.Heartbeat.FirstMissedAck)
}

func TestReadyTransition(t *testing.T) {
	s := NewSession()
	s.Resuming = true

	s.ReadyTransition(M{
		"session_id":         "abc123",
		"session_type":       "normal",
		"resume_gateway_url": "wss://gateway-us-east1-b.discord.gg",
		"v":                  float64(10),
		"application":        M{"id": "998", "flags": float64(1 << 18)},
		"user":               M{"id": "42", "username": "onsocket", "discriminator": "0001"},
		"guilds":             []any{M{"id": "1"}, M{"id": "2"}},
	})

	assert.False(t, s.Resuming)
	assert.Equal(t, "abc123", s.ResumeSessionID)
	assert.Equal(t, "normal", s.SessionType)
	assert.Equal(t, "wss://gateway-us-east1-b.discord.gg/?v=10&encoding=json", s.ResumeGatewayURL)
	assert.Equal(t, "998", s.Ready.ApplicationID)
	assert.Equal(t, uint64(1<<18), s.Ready.ApplicationFlags)
	assert.Equal(t, "onsocket", s.Ready.Username)
	assert.Equal(t, 2, s.Ready.GuildCount)
}

func TestResumeFreezesSequence(t *testing.T) {
	s := NewSession()
	s.ResumeGatewayURL = "wss://resume.example/?v=10&encoding=json"
	s.SetSequence(512)
	s.BeginHeartbeat()

	url := s.Resume()

	require.Equal(t, "wss://resume.example/?v=10&encoding=json", url)
	assert.True(t, s.Resuming)
	assert.Equal(t, int64(512), s.ResumeSeq)
	assert.True(t, s.HeartbeatAcknowledged())
}

func TestPresenceHotUpdate(t *testing.T) {
	s := NewSession()
	s.UpdatePresence("idle", "maintenance window")

	snap := s.PresenceSnapshot()
	assert.Equal(t, "idle", snap.Status)
	assert.Equal(t, "maintenance window", snap.Activities[0].State)

	// the snapshot is a copy, edits to it never reach the session
	snap.Activities[0].State = "scratch"
	assert.Equal(t, "maintenance window", s.PresenceSnapshot().Activities[0].State)

	// empty fields keep current values
	s.UpdatePresence("", "")
	assert.Equal(t, "idle", s.PresenceSnapshot().Status)
}

func TestServerUpdateStoresVoiceCoordinates(t *testing.T) {
	s := NewSession()
	s.ServerUpdate(M{"token": "tok", "guild_id": "900", "endpoint": "us-east:443"})

	require.NotNil(t, s.VoiceGatewayInfo)
	assert.Equal(t, "tok", s.VoiceGatewayInfo.Token)
	assert.Equal(t, "900", s.VoiceGatewayInfo.GuildID)
	assert.Equal(t, "us-east:443", s.VoiceGatewayInfo.Endpoint)
}
