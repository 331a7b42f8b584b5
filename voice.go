package main

import (
	"context"
	"errors"
)

// JoinVoiceChannel sends the voice state update that asks the gateway to move
// the application into the given channel. The voice gateway coordinates come
// back asynchronously via VOICE_SERVER_UPDATE and land on the session.
func (g *Gateway) JoinVoiceChannel(ctx context.Context, guildID, channelID string, selfMute, selfDeaf bool) error {
	if guildID == "" || channelID == "" {
		return errors.New("voice join requires a guild and channel id")
	}

	payload := voiceStateOp{
		Op: opVoiceState,
		Data: voiceStateData{
			GuildID:   guildID,
			ChannelID: &channelID,
			SelfMute:  selfMute,
			SelfDeaf:  selfDeaf,
		},
	}
	if err := g.send(ctx, payload); err != nil {
		return err
	}
	g.log.Infow("voice join requested", "guild", guildID, "channel", channelID)
	return nil
}

// LeaveVoiceChannel clears the voice state for the guild. A null channel id
// tells the gateway to disconnect.
func (g *Gateway) LeaveVoiceChannel(ctx context.Context, guildID string) error {
	if guildID == "" {
		return errors.New("voice leave requires a guild id")
	}

	payload := voiceStateOp{
		Op: opVoiceState,
		Data: voiceStateData{
			GuildID:   guildID,
			ChannelID: nil,
			SelfMute:  false,
			SelfDeaf:  false,
		},
	}
	if err := g.send(ctx, payload); err != nil {
		return err
	}
	g.session.VoiceGatewayInfo = nil
	return nil
}

// VoiceEndpoint reports the most recent voice gateway coordinates, or false
// when no VOICE_SERVER_UPDATE has arrived yet.
func (g *Gateway) VoiceEndpoint() (voiceGatewayInfo, bool) {
	if g.session.VoiceGatewayInfo == nil {
		return voiceGatewayInfo{}, false
	}
	return *g.session.VoiceGatewayInfo, true
}
