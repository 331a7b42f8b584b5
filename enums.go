package main

// Static gateway tables. Order matters for the named-flag tables: badge and
// permission lists are produced in table order, not insertion order.

const (
	apiVersion  = "10"
	apiEncoding = "json"
	gatewayHost = "gateway.discord.gg"
)

// Gateway opcodes consumed and produced by the state machine.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opVoiceState     = 4
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Close codes used by the heart-check escalation and the reconnect paths.
const (
	closeGoingAway      = 1001
	closeZombie         = 1002 // heartbeat not acknowledged
	closeAbnormal       = 1006
	closeInternalError  = 1011 // heart attack / invalid session
	closeServiceRestart = 1012
	closeRetrySession   = 4999 // invalid session flagged resumable
)

// resumableCodes is the fixed close-code set that triggers the resume path.
// Every other code reconnects with a fresh identify.
var resumableCodes = map[int]bool{
	closeGoingAway:      true,
	closeZombie:         true,
	closeAbnormal:       true,
	closeServiceRestart: true,
	closeRetrySession:   true,
}

// closeMessages maps known close codes to human-readable log text.
var closeMessages = map[int]string{
	// RFC6455 - https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.1
	1000: "Socket fulfilled - Normal Closure",
	1001: "Going away - Gateway closing",
	1002: "Heartbeat Not Acknowledged",
	1005: "Status Failure - Reconnecting",
	1006: "Zombie Socket - Reconnecting",
	1011: "Invalid Session - Internal Error",
	1012: "Received Re-Connect Signal",
	// Discord close event codes
	4000: "Unknown error: We're not sure what went wrong. Try reconnecting?",
	4001: "Unknown opcode: You sent an invalid Gateway opcode or an invalid payload for an opcode.",
	4002: "You sent an invalid payload or the payload exceeded 4096 bytes.",
	4003: "Not authenticated: You sent us a payload prior to identifying.",
	4004: "Authentication failed: The account token sent with your identify payload is incorrect.",
	4005: "Already authenticated: You sent more than one identify payload.",
	4007: "Invalid seq: The sequence sent when resuming the session was invalid. Reconnect and start a new session.",
	4008: "Rate limited: You're sending payloads to us too quickly. You will be disconnected on receiving this.",
	4009: "Session timed out: Your session timed out. Reconnect and start a new one.",
	4010: "Invalid shard: You sent us an invalid shard when identifying.",
	4011: "Sharding required: The session would have handled too many guilds.",
	4012: "Invalid API version: You sent an invalid version for the gateway.",
	4013: "Invalid intent(s): You sent an invalid intent for a Gateway Intent.",
	4014: "Disallowed intent(s): You sent a disallowed intent for a Gateway Intent.",
	// Custom
	4999: "Invalid Session with resumable flag - Reconnecting",
}

// Base intents declared at identify time. Privileged intents are added only
// when the application's flags grant them.
const (
	intentGuilds                      uint64 = 1 << 0
	intentGuildModeration             uint64 = 1 << 2
	intentGuildEmojisAndStickers      uint64 = 1 << 3
	intentGuildIntegrations           uint64 = 1 << 4
	intentGuildWebhooks               uint64 = 1 << 5
	intentGuildInvites                uint64 = 1 << 6
	intentGuildVoiceStates            uint64 = 1 << 7
	intentGuildMessages               uint64 = 1 << 9
	intentGuildMessageReactions       uint64 = 1 << 10
	intentGuildMessageTyping          uint64 = 1 << 11
	intentDirectMessages              uint64 = 1 << 12
	intentDirectMessageReactions      uint64 = 1 << 13
	intentDirectMessageTyping         uint64 = 1 << 14
	intentGuildScheduledEvents        uint64 = 1 << 16
	intentAutoModerationConfiguration uint64 = 1 << 20
	intentAutoModerationExecution     uint64 = 1 << 21
)

var baseIntents = []uint64{
	intentGuilds,
	intentGuildModeration,
	intentGuildEmojisAndStickers,
	intentGuildIntegrations,
	intentGuildWebhooks,
	intentGuildInvites,
	intentGuildVoiceStates,
	intentGuildMessages,
	intentGuildMessageReactions,
	intentGuildMessageTyping,
	intentDirectMessages,
	intentDirectMessageReactions,
	intentDirectMessageTyping,
	intentGuildScheduledEvents,
	intentAutoModerationConfiguration,
	intentAutoModerationExecution,
}

// Privileged intents, granted per application flags.
const (
	intentGuildMembers   uint64 = 1 << 1
	intentGuildPresences uint64 = 1 << 8
	intentMessageContent uint64 = 1 << 15
)

// Application flags relevant to intent computation.
const (
	appFlagGatewayPresence              uint64 = 1 << 12
	appFlagGatewayPresenceLimited       uint64 = 1 << 13
	appFlagGatewayGuildMembers          uint64 = 1 << 14
	appFlagGatewayGuildMembersLimited   uint64 = 1 << 15
	appFlagGatewayMessageContent        uint64 = 1 << 18
	appFlagGatewayMessageContentLimited uint64 = 1 << 19
)

type namedFlag struct {
	name string
	bit  uint64
}

// permissionNames is the ordered permission flag table. parsePermissions
// walks it front to back so derived name lists always come out in this order.
var permissionNames = []namedFlag{
	{"CREATE_INSTANT_INVITE", 1 << 0},
	{"KICK_MEMBERS", 1 << 1},
	{"BAN_MEMBERS", 1 << 2},
	{"ADMINISTRATOR", 1 << 3},
	{"MANAGE_CHANNELS", 1 << 4},
	{"MANAGE_GUILD", 1 << 5},
	{"ADD_REACTIONS", 1 << 6},
	{"VIEW_AUDIT_LOG", 1 << 7},
	{"PRIORITY_SPEAKER", 1 << 8},
	{"STREAM", 1 << 9},
	{"VIEW_CHANNEL", 1 << 10},
	{"SEND_MESSAGES", 1 << 11},
	{"SEND_TTS_MESSAGES", 1 << 12},
	{"MANAGE_MESSAGES", 1 << 13},
	{"EMBED_LINKS", 1 << 14},
	{"ATTACH_FILES", 1 << 15},
	{"READ_MESSAGE_HISTORY", 1 << 16},
	{"MENTION_EVERYONE", 1 << 17},
	{"USE_EXTERNAL_EMOJIS", 1 << 18},
	{"VIEW_GUILD_INSIGHTS", 1 << 19},
	{"CONNECT", 1 << 20},
	{"SPEAK", 1 << 21},
	{"MUTE_MEMBERS", 1 << 22},
	{"DEAFEN_MEMBERS", 1 << 23},
	{"MOVE_MEMBERS", 1 << 24},
	{"USE_VAD", 1 << 25},
	{"CHANGE_NICKNAME", 1 << 26},
	{"MANAGE_NICKNAMES", 1 << 27},
	{"MANAGE_ROLES", 1 << 28},
	{"MANAGE_WEBHOOKS", 1 << 29},
	{"MANAGE_EMOJIS_AND_STICKERS", 1 << 30},
	{"USE_APPLICATION_COMMANDS", 1 << 31},
	{"REQUEST_TO_SPEAK", 1 << 32},
	{"MANAGE_EVENTS", 1 << 33},
	{"MANAGE_THREADS", 1 << 34},
	{"CREATE_PUBLIC_THREADS", 1 << 35},
	{"CREATE_PRIVATE_THREADS", 1 << 36},
	{"USE_EXTERNAL_STICKERS", 1 << 37},
	{"SEND_MESSAGES_IN_THREADS", 1 << 38},
	{"USE_EMBEDDED_ACTIVITIES", 1 << 39},
	{"MODERATE_MEMBERS", 1 << 40},
}

// userFlags is the ordered badge table. Unnamed bits are intentionally
// absent; the gateway does set them but they carry no human-readable badge.
var userFlags = []namedFlag{
	{"Discord Employee", 1 << 0},
	{"Partnered Server Owner", 1 << 1},
	{"HypeSquad Events Member", 1 << 2},
	{"Bug Hunter Level 1", 1 << 3},
	{"House Bravery Member", 1 << 6},
	{"House Brilliance Member", 1 << 7},
	{"House Balance Member", 1 << 8},
	{"Early Nitro Supporter", 1 << 9},
	{"Team Player", 1 << 10},
	{"Bug Hunter Level 2", 1 << 14},
	{"Verified Bot", 1 << 16},
	{"Early Verified Bot Developer", 1 << 17},
	{"Discord Certified Moderator", 1 << 18},
	{"Interactions Handler", 1 << 19},
	{"Active Developer", 1 << 22},
}
