package main

import (
	"sync"
	"sync/atomic"
)

// missedAckWindow bounds the heart-check escalation: misses further apart
// than this are treated as fresh problems, not a dying connection.
const missedAckWindow = 240000 // ms

// heartbeatState is the per-session heartbeat bookkeeping. The timer itself
// lives in the gateway goroutine; this records interval, the last-ack flag
// and the missed-ack escalation window.
type heartbeatState struct {
	Interval       int64 // milliseconds, server-supplied via hello
	Acknowledged   bool
	MissedAcks     int
	MaxMissedAcks  int
	FirstMissedAck int64 // unix ms of the first miss of the current window, 0 = none
}

type voiceGatewayInfo struct {
	Token    string
	GuildID  string
	Endpoint string
}

// readyState captures the identity fields from the first READY dispatch.
type readyState struct {
	ApplicationID    string
	ApplicationFlags uint64
	SessionID        string
	SessionType      string
	ResumeGatewayURL string
	UserID           string
	Username         string
	Discriminator    string
	GuildCount       int
	APIVersion       uint64
}

// Session describes one logical gateway session. It survives resumes and is
// only replaced on fatal non-resumable disconnects that force a re-identify.
type Session struct {
	sequence   int64 // last received event ordinal, atomic
	hbMu       sync.Mutex
	presenceMu sync.Mutex

	Intents   uint64
	Heartbeat heartbeatState

	Resuming        bool
	ResumeSessionID string
	ResumeSeq       int64

	GatewayURL       string
	ResumeGatewayURL string
	SessionType      string

	HasInitializedApp  bool
	ConnectionHasError bool

	Properties identifyProperties
	Presence   presenceStatus

	Ready            readyState
	VoiceGatewayInfo *voiceGatewayInfo
}

func NewSession() *Session {
	defaultActivity := activity{
		Name:  "custom",
		Type:  4,
		State: "Powered by OnSocket",
		URL:   nil,
	}

	return &Session{
		Heartbeat: heartbeatState{
			Acknowledged:  true,
			MaxMissedAcks: 3,
		},
		Properties: identifyProperties{
			OS:                "linux",
			Browser:           "OnSocket",
			Device:            "desktop",
			BrowserUserAgent:  "Mozilla/5.0 (Linux; Chrome/90.0.4430.212) AppleWebKit/537.36 (KHTML, like Gecko) OnSocket/0.0.1 Chrome/90.0.4430.212 Safari/537.36",
			BrowserVersion:    "1.0.0",
			OsVersion:         "noble",
			ReleaseChannel:    "stable",
			ClientBuildNumber: 10,
			ClientEventSource: nil,
		},
		Presence: presenceStatus{
			Activities: []activity{defaultActivity},
			Status:     "online",
			Since:      nil,
			Afk:        false,
		},
	}
}

// Sequence returns the last received event ordinal.
func (s *Session) Sequence() int64 {
	return atomic.LoadInt64(&s.sequence)
}

// SetSequence records a newly observed event ordinal.
func (s *Session) SetSequence(seq int64) {
	atomic.StoreInt64(&s.sequence, seq)
}

// BeginHeartbeat marks a heartbeat as in flight; the flag stays down until
// the gateway acknowledges with opcode 11.
func (s *Session) BeginHeartbeat() {
	s.hbMu.Lock()
	s.Heartbeat.Acknowledged = false
	s.hbMu.Unlock()
}

// AckHeartbeat records a heartbeat acknowledgment and clears the missed-ack
// bookkeeping.
func (s *Session) AckHeartbeat() {
	s.hbMu.Lock()
	s.Heartbeat.Acknowledged = true
	s.Heartbeat.MissedAcks = 0
	s.Heartbeat.FirstMissedAck = 0
	s.hbMu.Unlock()
}

func (s *Session) HeartbeatAcknowledged() bool {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	return s.Heartbeat.Acknowledged
}

// HeartCheck advances the missed-ack escalation and returns the close code
// to apply: 1002 kicks the zombie connection into a resume, 1011 forces a
// full re-identify after repeated misses inside the window. Returns 0 when
// no close is due this tick.
func (s *Session) HeartCheck(now int64) int {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()

	hb := &s.Heartbeat
	if hb.FirstMissedAck == 0 {
		hb.MissedAcks++
		hb.FirstMissedAck = now
		return closeZombie
	}
	if now-hb.FirstMissedAck > missedAckWindow {
		hb.FirstMissedAck = 0
		return closeZombie
	}
	if hb.MissedAcks == hb.MaxMissedAcks && now-hb.FirstMissedAck < missedAckWindow {
		return closeInternalError
	}
	return 0
}

// ReadyTransition populates identity fields from the READY dispatch and
// derives the resume coordinates for later reconnects. Pure mutation, no I/O.
func (s *Session) ReadyTransition(d M) {
	app := getM(d, "application")
	user := getM(d, "user")

	s.Ready = readyState{
		ApplicationID:    getS(app, "id"),
		ApplicationFlags: getUint(app, "flags"),
		SessionID:        getS(d, "session_id"),
		SessionType:      getS(d, "session_type"),
		ResumeGatewayURL: getS(d, "resume_gateway_url"),
		UserID:           getS(user, "id"),
		Username:         getS(user, "username"),
		Discriminator:    getS(user, "discriminator"),
		GuildCount:       len(getList(d, "guilds")),
		APIVersion:       getUint(d, "v"),
	}

	s.Resuming = false
	s.ResumeSessionID = s.Ready.SessionID
	s.SessionType = s.Ready.SessionType
	if s.Ready.ResumeGatewayURL != "" {
		s.ResumeGatewayURL = s.Ready.ResumeGatewayURL + "/?v=" + apiVersion + "&encoding=" + apiEncoding
	}
}

// Resume flips the session into resuming mode, freezing the sequence the
// resume frame will reference, and returns the resume gateway URL.
func (s *Session) Resume() string {
	s.Resuming = true
	s.hbMu.Lock()
	s.Heartbeat.Acknowledged = true
	s.hbMu.Unlock()
	s.ResumeSeq = s.Sequence()
	return s.ResumeGatewayURL
}

// UpdatePresence hot-applies presence edits; the next identify frame picks
// them up. Empty fields keep their current values.
func (s *Session) UpdatePresence(status, activityState string) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	if status != "" {
		s.Presence.Status = status
	}
	if activityState != "" && len(s.Presence.Activities) > 0 {
		s.Presence.Activities[0].State = activityState
	}
}

// PresenceSnapshot returns a copy safe to marshal while the config watcher
// keeps editing the live presence.
func (s *Session) PresenceSnapshot() presenceStatus {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	snap := s.Presence
	snap.Activities = append([]activity(nil), s.Presence.Activities...)
	return snap
}

// ServerUpdate stores voice gateway coordinates from VOICE_SERVER_UPDATE.
func (s *Session) ServerUpdate(d M) {
	s.VoiceGatewayInfo = &voiceGatewayInfo{
		Token:    getS(d, "token"),
		GuildID:  getS(d, "guild_id"),
		Endpoint: getS(d, "endpoint"),
	}
}
