package main

import (
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Client ties the pieces together: it owns the dispatch event table that
// decides, per gateway event, which cache mutation runs, which enrichment
// kind applies, and what gets emitted to subscribers.
type Client struct {
	token string
	uuid  string

	session    *Session
	cache      *CacheHandler
	dispatcher *Dispatcher
	registry   *Registry
	store      Store
	api        *fasthttp.Client
	log        *zap.SugaredLogger
}

func NewClient(token, uuid string, session *Session, cache *CacheHandler, dispatcher *Dispatcher, registry *Registry, store Store, log *zap.SugaredLogger) *Client {
	return &Client{
		token:      token,
		uuid:       uuid,
		session:    session,
		cache:      cache,
		dispatcher: dispatcher,
		registry:   registry,
		store:      store,
		api:        createFastHttpClient(),
		log:        log,
	}
}

func (c *Client) emit(trigger string, d M) {
	c.dispatcher.Emit(strings.ToLower(trigger), d)
}

// handleGatewayEvent enriches the payload with the given kind and emits it.
func (c *Client) handleGatewayEvent(trigger string, d M, kind string) {
	d = c.cache.ModifyPayload(d, kind)
	c.emit(trigger, d)
}

// handleDispatch is the opcode-0 event table. Cache mutations always run
// before enrichment, and enrichment before the emit, so subscribers observe
// derived fields on an up-to-date cache.
func (c *Client) handleDispatch(trigger string, d M) {
	switch trigger {
	case "READY":
		c.session.ReadyTransition(d)
		c.log.Infow("session ready",
			"user", c.session.Ready.Username,
			"guilds", c.session.Ready.GuildCount,
		)
		c.emit(trigger, d)

	case "RESUMED":
		c.session.Resuming = false

	case "CHANNEL_CREATE":
		c.cache.AddChannel(getS(d, "guild_id"), d)
		c.emit(trigger, d)

	case "CHANNEL_DELETE":
		c.cache.RemoveChannel(getS(d, "guild_id"), getS(d, "id"))
		c.emit(trigger, d)

	case "CHANNEL_UPDATE":
		c.cache.UpdateChannel(getS(d, "guild_id"), d)
		c.emit(trigger, d)

	case "THREAD_CREATE":
		c.cache.AddThread(getS(d, "guild_id"), d)
		c.handleGatewayEvent(trigger, d, "base")

	case "THREAD_DELETE":
		c.cache.RemoveThread(getS(d, "guild_id"), getS(d, "id"))
		c.emit(trigger, d)

	case "THREAD_UPDATE":
		c.cache.UpdateThread(getS(d, "guild_id"), d)
		c.emit(trigger, d)

	case "THREAD_LIST_SYNC":
		c.cache.SetThreads(getS(d, "guild_id"), getList(d, "threads"))
		c.emit(trigger, d)

	case "GUILD_CREATE":
		c.cache.CacheInitialGuild(d)
		c.emit(trigger, d)

	case "GUILD_DELETE":
		c.cache.RemoveGuild(getS(d, "id"))
		c.emit(trigger, d)

	case "GUILD_UPDATE":
		c.cache.UpdateGuild(d)
		c.emit(trigger, d)

	case "GUILD_EMOJIS_UPDATE":
		c.cache.SetEmojis(getS(d, "guild_id"), getList(d, "emojis"))
		c.emit(trigger, d)

	case "GUILD_STICKERS_UPDATE":
		c.cache.SetStickers(getS(d, "guild_id"), getList(d, "stickers"))
		c.emit(trigger, d)

	case "GUILD_BAN_ADD":
		c.handleGatewayEvent(trigger, d, "user")
		c.cache.RemoveMember(getS(d, "guild_id"), getS(getM(d, "user"), "id"))

	case "GUILD_MEMBER_ADD":
		c.cache.AddMember(getS(d, "guild_id"), d)
		c.emit(trigger, d)

	case "GUILD_MEMBER_REMOVE":
		userID := getS(getM(d, "user"), "id")
		if userID != "" && userID == c.session.Ready.ApplicationID {
			// the removed member is this application: the guild is gone for us
			c.cache.RemoveGuild(getS(d, "guild_id"))
			c.emit("bot_guild_member_remove", d)
		}
		c.cache.RemoveMember(getS(d, "guild_id"), userID)
		c.emit(trigger, d)

	case "GUILD_MEMBER_UPDATE":
		c.cache.RecomputeMember(getS(d, "guild_id"), getS(getM(d, "user"), "id"))
		c.emit(trigger, d)

	case "GUILD_ROLE_CREATE":
		c.cache.AddRole(getS(d, "guild_id"), getM(d, "role"))
		c.emit(trigger, d)

	case "GUILD_ROLE_DELETE":
		c.cache.RemoveRole(getS(d, "guild_id"), getS(d, "role_id"))
		c.emit(trigger, d)

	case "GUILD_ROLE_UPDATE":
		c.cache.UpdateRole(getS(d, "guild_id"), getM(d, "role"))
		c.emit(trigger, d)

	case "INTERACTION_CREATE":
		c.handleGatewayEvent(trigger, d, "base")
		data := getM(d, "data")
		switch {
		case getS(data, "custom_id") != "":
			c.dispatcher.ExecSupport(data, d)
		case getS(data, "name") != "":
			c.dispatcher.ExecCommand(data, d)
		default:
			c.log.Errorw("interaction has no routable data", "trigger", trigger)
		}

	case "MESSAGE_CREATE", "MESSAGE_DELETE", "MESSAGE_DELETE_BULK", "MESSAGE_UPDATE",
		"MESSAGE_REACTION_ADD", "MESSAGE_REACTION_REMOVE",
		"MESSAGE_REACTION_REMOVE_ALL", "MESSAGE_REACTION_REMOVE_EMOJI":
		c.handleGatewayEvent(trigger, d, "base")

	case "PRESENCE_UPDATE":
		c.cache.ProcessPresence(d)
		c.handleGatewayEvent(trigger, d, "user")

	case "TYPING_START":
		if _, ok := d["member"]; !ok {
			c.handleGatewayEvent("dm_typing_start", d, "guildless")
		} else {
			c.handleGatewayEvent(trigger, d, "guildless")
		}

	case "VOICE_SERVER_UPDATE":
		c.session.ServerUpdate(d)
		c.emit(trigger, d)

	case "CHANNEL_PINS_UPDATE", "THREAD_MEMBER_UPDATE", "THREAD_MEMBERS_UPDATE",
		"APPLICATION_COMMAND_CREATE", "APPLICATION_COMMAND_DELETE",
		"APPLICATION_COMMAND_UPDATE", "APPLICATION_COMMAND_PERMISSIONS_UPDATE",
		"AUTO_MODERATION_RULE_CREATE", "AUTO_MODERATION_RULE_UPDATE",
		"AUTO_MODERATION_RULE_DELETE",
		"ENTITLEMENT_CREATE", "ENTITLEMENT_DELETE", "ENTITLEMENT_UPDATE",
		"GUILD_AUDIT_LOG_ENTRY_CREATE", "GUILD_BAN_REMOVE",
		"GUILD_INTEGRATIONS_UPDATE", "GUILD_MEMBERS_CHUNK",
		"GUILD_SCHEDULED_EVENT_CREATE", "GUILD_SCHEDULED_EVENT_DELETE",
		"GUILD_SCHEDULED_EVENT_UPDATE", "GUILD_SCHEDULED_EVENT_USER_ADD",
		"GUILD_SCHEDULED_EVENT_USER_REMOVE",
		"INTEGRATION_CREATE", "INTEGRATION_DELETE", "INTEGRATION_UPDATE",
		"INVITE_CREATE", "INVITE_DELETE",
		"STAGE_INSTANCE_CREATE", "STAGE_INSTANCE_DELETE", "STAGE_INSTANCE_UPDATE",
		"USER_UPDATE", "VOICE_STATE_UPDATE", "WEBHOOKS_UPDATE":
		c.emit(trigger, d)

	default:
		c.log.Warnw("unknown event", "trigger", trigger)
	}
}

// InitializeApplication fetches the application profile and the bot gateway
// URL, computes the identify intents, and loads the handler registry. Auth
// failures disable the project rather than retrying forever.
func (c *Client) InitializeApplication() bool {
	appObj, err := c.apiGet("/api/v" + apiVersion + "/oauth2/applications/@me")
	if err != nil {
		return c.logAndDisable(err.Error())
	}
	if msg := getS(appObj, "message"); msg != "" {
		return c.logAndDisable(msg)
	}

	gateObj, err := c.apiGet("/api/v" + apiVersion + "/gateway/bot")
	if err != nil {
		return c.logAndDisable(err.Error())
	}
	gatewayURL := getS(gateObj, "url")
	if gatewayURL == "" {
		return c.logAndDisable("gateway url missing from /gateway/bot response")
	}

	intents := c.GetAppIntents(getUint(appObj, "flags"))
	for _, intent := range baseIntents {
		intents += intent
	}
	c.session.Intents = intents
	c.session.GatewayURL = gatewayURL + "/?v=" + apiVersion + "&encoding=" + apiEncoding

	if err := c.registry.LoadData(); err != nil {
		return c.logAndDisable(err.Error())
	}
	go c.registry.Watch()

	c.session.HasInitializedApp = true
	return true
}

// GetAppIntents maps application flags to the privileged intents the
// application is allowed to request. Presence stays off until per-project
// opt-in exists.
func (c *Client) GetAppIntents(appFlags uint64) uint64 {
	if appFlags == 0 {
		c.log.Info("no application flags found, using default intents")
		return 0
	}

	hasPresence := false

	var intents uint64
	if appFlags&(appFlagGatewayPresence|appFlagGatewayPresenceLimited) != 0 && hasPresence {
		intents += intentGuildPresences
	}
	if appFlags&(appFlagGatewayGuildMembers|appFlagGatewayGuildMembersLimited) != 0 {
		intents += intentGuildMembers
	}
	if appFlags&(appFlagGatewayMessageContent|appFlagGatewayMessageContentLimited) != 0 {
		intents += intentMessageContent
	}
	return intents
}

// MarkInactive flags the project inactive without exiting; used by the
// invalid-session path where the gateway still finishes its close.
func (c *Client) MarkInactive() {
	if err := setInactive(c.store, c.uuid); err != nil {
		c.log.Errorw("failed to mark project inactive", "error", err)
	}
}

func (c *Client) logAndDisable(message string) bool {
	c.log.Errorw("disabling project", "reason", message)
	c.MarkInactive()
	os.Exit(1)
	return false
}

func (c *Client) apiGet(path string) (M, error) {
	resp, err := httpGet(c.api, requestParams{
		URL:  discordHost,
		Path: path,
		Headers: map[string]string{
			"Authorization": "Bot " + c.token,
		},
	})
	if err != nil {
		return nil, err
	}

	var json = jsoniter.ConfigCompatibleWithStandardLibrary
	var body M
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, err
	}
	return body, nil
}
