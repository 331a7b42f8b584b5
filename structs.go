package main

import (
	"encoding/json"
)

// event is an inbound gateway frame: {op, t, s, d}.
type event struct {
	Operation int             `json:"op"`
	Sequence  int64           `json:"s"`
	Type      string          `json:"t"`
	RawData   json.RawMessage `json:"d"`
}

type helloOp struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type heartbeatOp struct {
	Op   int   `json:"op"`
	Data int64 `json:"d"`
}

// identifyProperties is the connection metadata sent with identify.
type identifyProperties struct {
	OS                     string `json:"os"`
	Browser                string `json:"browser"`
	Device                 string `json:"device"`
	BrowserUserAgent       string `json:"browser_user_agent"`
	BrowserVersion         string `json:"browser_version"`
	OsVersion              string `json:"os_version"`
	Referrer               string `json:"referrer"`
	ReferringDomain        string `json:"referring_domain"`
	ReferrerCurrent        string `json:"referrer_current"`
	ReferringDomainCurrent string `json:"referring_domain_current"`
	ReleaseChannel         string `json:"release_channel"`
	ClientBuildNumber      int    `json:"client_build_number"`
	ClientEventSource      any    `json:"client_event_source"`
}

type activity struct {
	Name  string `json:"name"`
	Type  int    `json:"type"`
	State string `json:"state"`
	URL   any    `json:"url"`
}

type presenceStatus struct {
	Activities []activity `json:"activities"`
	Status     string     `json:"status"`
	Since      any        `json:"since"`
	Afk        bool       `json:"afk"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Properties identifyProperties `json:"properties"`
	Shard      [2]int             `json:"shard"`
	Presence   presenceStatus     `json:"presence"`
	Intents    uint64             `json:"intents"`
}

type identifyOp struct {
	Op   int          `json:"op"`
	Data identifyData `json:"d"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

type resumeOp struct {
	Op   int        `json:"op"`
	Data resumeData `json:"d"`
}

type voiceStateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"` // null disconnects
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

type voiceStateOp struct {
	Op   int            `json:"op"`
	Data voiceStateData `json:"d"`
}
