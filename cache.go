package main

import (
	"sync"

	"github.com/sasha-s/go-csync"
	"go.uber.org/zap"
)

// cachedGuild is the in-memory projection of one guild, seeded from
// GUILD_CREATE and spliced field-by-field by later incremental events. The
// list entries share their underlying maps with the payload that delivered
// them, so derivations written during caching stay visible to subscribers.
type cachedGuild struct {
	ID                         string
	Name                       string
	Icon                       string
	Banner                     string
	Splash                     string
	DiscoverySplash            string
	Description                string
	OwnerID                    string
	JoinedAt                   string
	VanityURLCode              string
	PreferredLocale            string
	HomeHeader                 string
	HubType                    string
	Region                     string
	ApplicationID              string
	SystemChannelID            string
	RulesChannelID             string
	PublicUpdatesChannelID     string
	SafetyAlertsChannelID      string
	AFKChannelID               string
	LatestOnboardingQuestionID string

	NSFW                      bool
	Large                     bool
	Lazy                      bool
	Unavailable               bool
	PremiumProgressBarEnabled bool

	MemberCount                 int
	MaxMembers                  int
	MaxVideoChannelUsers        int
	MaxStageVideoChannelUsers   int
	PremiumTier                 int
	PremiumSubscriptionCount    int
	VerificationLevel           int
	DefaultMessageNotifications int
	ExplicitContentFilter       int
	SystemChannelFlags          int
	AFKTimeout                  int
	NSFWLevel                   int
	MFALevel                    int
	Version                     uint64

	Features                 []string
	ApplicationCommandCounts M
	IncidentsData            M
	InventorySettings        M
	ActivityInstances        M

	Roles                []M
	Channels             []M
	Threads              []M
	Members              []M
	Presences            []M
	Emojis               []M
	Stickers             []M
	GuildScheduledEvents []M
	EmbeddedActivities   []M
	SoundboardSounds     []M
	VoiceStates          []M
	StageInstances       []M
}

// presenceRecord is a two-generation presence entry. Current shifts to Old
// only when an update carries a different status.
type presenceRecord struct {
	OldStatus           string `json:"OldStatus"`
	CurrentStatus       string `json:"CurrentStatus"`
	OldActivity         any    `json:"OldActivity"`
	CurrentActivity     any    `json:"CurrentActivity"`
	OldClientStatus     any    `json:"OldClientStatus"`
	CurrentClientStatus any    `json:"CurrentClientStatus"`
}

// CacheHandler owns the guild and presence caches. Writes to one guild are
// serialized through a per-guild context-aware mutex; the state machine and
// dispatcher only reach cached entities through these operations.
type CacheHandler struct {
	mu        sync.Mutex
	guilds    map[string]*cachedGuild
	locks     map[string]*csync.Mutex
	presences map[string]*presenceRecord
	log       *zap.SugaredLogger
}

func NewCacheHandler(log *zap.SugaredLogger) *CacheHandler {
	return &CacheHandler{
		guilds:    make(map[string]*cachedGuild),
		locks:     make(map[string]*csync.Mutex),
		presences: make(map[string]*presenceRecord),
		log:       log,
	}
}

func (c *CacheHandler) guild(id string) *cachedGuild {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guilds[id]
}

// GuildCount reports the number of cached guilds.
func (c *CacheHandler) GuildCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.guilds)
}

func (c *CacheHandler) guildLock(id string) *csync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[id]
	if !ok {
		lock = &csync.Mutex{}
		c.locks[id] = lock
	}
	return lock
}

// withGuild runs fn with the guild's write lock held. Unknown guild ids are
// a no-op: no entry means never seen.
func (c *CacheHandler) withGuild(id string, fn func(g *cachedGuild)) {
	g := c.guild(id)
	if g == nil {
		return
	}
	lock := c.guildLock(id)
	lock.Lock()
	defer lock.Unlock()
	fn(g)
}

// field extraction helpers used to seed and merge guild snapshots; a key
// absent from the payload keeps the current value.

func strField(p M, key string, cur string) string {
	if v, ok := p[key]; ok {
		s, _ := v.(string)
		return s
	}
	return cur
}

func boolField(p M, key string, cur bool) bool {
	if v, ok := p[key]; ok {
		b, _ := v.(bool)
		return b
	}
	return cur
}

func intField(p M, key string, cur int) int {
	if _, ok := p[key]; ok {
		return int(getUint(p, key))
	}
	return cur
}

func uintField(p M, key string, cur uint64) uint64 {
	if _, ok := p[key]; ok {
		return getUint(p, key)
	}
	return cur
}

func listField(p M, key string, cur []M) []M {
	if _, ok := p[key]; ok {
		return getList(p, key)
	}
	return cur
}

func stringsField(p M, key string, cur []string) []string {
	if _, ok := p[key]; ok {
		return getStrings(p, key)
	}
	return cur
}

func mField(p M, key string, cur M) M {
	if _, ok := p[key]; ok {
		return getM(p, key)
	}
	return cur
}

// applyGuildFields merges every present payload field onto the snapshot.
func applyGuildFields(g *cachedGuild, p M) {
	g.ID = strField(p, "id", g.ID)
	g.Name = strField(p, "name", g.Name)
	g.Icon = strField(p, "icon", g.Icon)
	g.Banner = strField(p, "banner", g.Banner)
	g.Splash = strField(p, "splash", g.Splash)
	g.DiscoverySplash = strField(p, "discovery_splash", g.DiscoverySplash)
	g.Description = strField(p, "description", g.Description)
	g.OwnerID = strField(p, "owner_id", g.OwnerID)
	g.JoinedAt = strField(p, "joined_at", g.JoinedAt)
	g.VanityURLCode = strField(p, "vanity_url_code", g.VanityURLCode)
	g.PreferredLocale = strField(p, "preferred_locale", g.PreferredLocale)
	g.HomeHeader = strField(p, "home_header", g.HomeHeader)
	g.HubType = strField(p, "hub_type", g.HubType)
	g.Region = strField(p, "region", g.Region)
	g.ApplicationID = strField(p, "application_id", g.ApplicationID)
	g.SystemChannelID = strField(p, "system_channel_id", g.SystemChannelID)
	g.RulesChannelID = strField(p, "rules_channel_id", g.RulesChannelID)
	g.PublicUpdatesChannelID = strField(p, "public_updates_channel_id", g.PublicUpdatesChannelID)
	g.SafetyAlertsChannelID = strField(p, "safety_alerts_channel_id", g.SafetyAlertsChannelID)
	g.AFKChannelID = strField(p, "afk_channel_id", g.AFKChannelID)
	g.LatestOnboardingQuestionID = strField(p, "latest_onboarding_question_id", g.LatestOnboardingQuestionID)

	g.NSFW = boolField(p, "nsfw", g.NSFW)
	g.Large = boolField(p, "large", g.Large)
	g.Lazy = boolField(p, "lazy", g.Lazy)
	g.Unavailable = boolField(p, "unavailable", g.Unavailable)
	g.PremiumProgressBarEnabled = boolField(p, "premium_progress_bar_enabled", g.PremiumProgressBarEnabled)

	g.MemberCount = intField(p, "member_count", g.MemberCount)
	g.MaxMembers = intField(p, "max_members", g.MaxMembers)
	g.MaxVideoChannelUsers = intField(p, "max_video_channel_users", g.MaxVideoChannelUsers)
	g.MaxStageVideoChannelUsers = intField(p, "max_stage_video_channel_users", g.MaxStageVideoChannelUsers)
	g.PremiumTier = intField(p, "premium_tier", g.PremiumTier)
	g.PremiumSubscriptionCount = intField(p, "premium_subscription_count", g.PremiumSubscriptionCount)
	g.VerificationLevel = intField(p, "verification_level", g.VerificationLevel)
	g.DefaultMessageNotifications = intField(p, "default_message_notifications", g.DefaultMessageNotifications)
	g.ExplicitContentFilter = intField(p, "explicit_content_filter", g.ExplicitContentFilter)
	g.SystemChannelFlags = intField(p, "system_channel_flags", g.SystemChannelFlags)
	g.AFKTimeout = intField(p, "afk_timeout", g.AFKTimeout)
	g.NSFWLevel = intField(p, "nsfw_level", g.NSFWLevel)
	g.MFALevel = intField(p, "mfa_level", g.MFALevel)
	g.Version = uintField(p, "version", g.Version)

	g.Features = stringsField(p, "features", g.Features)
	g.ApplicationCommandCounts = mField(p, "application_command_counts", g.ApplicationCommandCounts)
	g.IncidentsData = mField(p, "incidents_data", g.IncidentsData)
	g.InventorySettings = mField(p, "inventory_settings", g.InventorySettings)
	g.ActivityInstances = mField(p, "activity_instances", g.ActivityInstances)

	g.Roles = listField(p, "roles", g.Roles)
	g.Channels = listField(p, "channels", g.Channels)
	g.Threads = listField(p, "threads", g.Threads)
	g.Members = listField(p, "members", g.Members)
	g.Presences = listField(p, "presences", g.Presences)
	g.Emojis = listField(p, "emojis", g.Emojis)
	g.Stickers = listField(p, "stickers", g.Stickers)
	g.GuildScheduledEvents = listField(p, "guild_scheduled_events", g.GuildScheduledEvents)
	g.EmbeddedActivities = listField(p, "embedded_activities", g.EmbeddedActivities)
	g.SoundboardSounds = listField(p, "soundboard_sounds", g.SoundboardSounds)
	g.VoiceStates = listField(p, "voice_states", g.VoiceStates)
	g.StageInstances = listField(p, "stage_instances", g.StageInstances)
}

// CacheInitialGuild seeds a guild entry from a full GUILD_CREATE snapshot,
// deriving role and member fields once before the entry is stored.
func (c *CacheHandler) CacheInitialGuild(p M) {
	id := getS(p, "id")
	if id == "" {
		return
	}

	roles := getList(p, "roles")
	for _, role := range roles {
		roleUpdate(role)
	}
	for _, member := range getList(p, "members") {
		memberUpdate(member, roles, id)
	}

	g := &cachedGuild{}
	applyGuildFields(g, p)

	lock := c.guildLock(id)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	c.guilds[id] = g
	c.mu.Unlock()
}

// UpdateGuild merges a GUILD_UPDATE payload onto the cached snapshot.
func (c *CacheHandler) UpdateGuild(p M) {
	c.withGuild(getS(p, "id"), func(g *cachedGuild) {
		applyGuildFields(g, p)
	})
}

// RemoveGuild drops a guild that became unavailable or revoked membership.
func (c *CacheHandler) RemoveGuild(id string) {
	lock := c.guildLock(id)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	delete(c.guilds, id)
	c.mu.Unlock()
}

func (c *CacheHandler) AddChannel(guildID string, ch M) {
	c.withGuild(guildID, func(g *cachedGuild) {
		g.Channels = append(g.Channels, ch)
	})
}

func (c *CacheHandler) RemoveChannel(guildID, channelID string) {
	c.withGuild(guildID, func(g *cachedGuild) {
		g.Channels = removeByID(g.Channels, channelID)
	})
}

func (c *CacheHandler) UpdateChannel(guildID string, ch M) {
	c.withGuild(guildID, func(g *cachedGuild) {
		if cur := findByID(g.Channels, getS(ch, "id")); cur != nil {
			mergeInto(cur, ch)
		}
	})
}

func (c *CacheHandler) AddThread(guildID string, thread M) {
	c.withGuild(guildID, func(g *cachedGuild) {
		g.Threads = append(g.Threads, thread)
	})
}

func (c *CacheHandler) RemoveThread(guildID, threadID string) {
	c.withGuild(guildID, func(g *cachedGuild) {
		g.Threads = removeByID(g.Threads, threadID)
	})
}

func (c *CacheHandler) UpdateThread(guildID string, thread M) {
	c.withGuild(guildID, func(g *cachedGuild) {
		if cur := findByID(g.Threads, getS(thread, "id")); cur != nil {
			mergeInto(cur, thread)
		}
	})
}

// SetThreads replaces the full thread list (THREAD_LIST_SYNC).
func (c *CacheHandler) SetThreads(guildID string, threads []M) {
	c.withGuild(guildID, func(g *cachedGuild) {
		g.Threads = threads
	})
}

func (c *CacheHandler) SetEmojis(guildID string, emojis []M) {
	c.withGuild(guildID, func(g *cachedGuild) {
		g.Emojis = emojis
	})
}

func (c *CacheHandler) SetStickers(guildID string, stickers []M) {
	c.withGuild(guildID, func(g *cachedGuild) {
		g.Stickers = stickers
	})
}

func (c *CacheHandler) AddMember(guildID string, member M) {
	c.withGuild(guildID, func(g *cachedGuild) {
		g.Members = append(g.Members, member)
	})
}

func (c *CacheHandler) RemoveMember(guildID, userID string) {
	c.withGuild(guildID, func(g *cachedGuild) {
		kept := g.Members[:0]
		for _, m := range g.Members {
			if getS(getM(m, "user"), "id") != userID {
				kept = append(kept, m)
			}
		}
		g.Members = kept
	})
}

// RecomputeMember re-derives the full bundle for one member against the
// guild's current role list (GUILD_MEMBER_UPDATE is not incremental).
func (c *CacheHandler) RecomputeMember(guildID, userID string) {
	c.withGuild(guildID, func(g *cachedGuild) {
		if member := findByUserID(g.Members, userID); member != nil {
			memberUpdate(member, g.Roles, guildID)
		}
	})
}

func (c *CacheHandler) AddRole(guildID string, role M) {
	c.withGuild(guildID, func(g *cachedGuild) {
		g.Roles = append(g.Roles, roleUpdate(role))
	})
}

func (c *CacheHandler) RemoveRole(guildID, roleID string) {
	c.withGuild(guildID, func(g *cachedGuild) {
		g.Roles = removeByID(g.Roles, roleID)
	})
}

func (c *CacheHandler) UpdateRole(guildID string, role M) {
	c.withGuild(guildID, func(g *cachedGuild) {
		if cur := findByID(g.Roles, getS(role, "id")); cur != nil {
			mergeInto(cur, roleUpdate(role))
		}
	})
}

// ProcessPresence updates the two-generation presence record for the payload's
// user and attaches the current record under payload["presence"].
func (c *CacheHandler) ProcessPresence(p M) M {
	userID := getS(getM(p, "user"), "id")
	if userID == "" {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.presences[userID]
	if ok {
		if rec.CurrentStatus != getS(p, "status") {
			rec.OldStatus = rec.CurrentStatus
			rec.CurrentStatus = getS(p, "status")
			rec.OldActivity = rec.CurrentActivity
			rec.CurrentActivity = p["activities"]
			rec.OldClientStatus = rec.CurrentClientStatus
			rec.CurrentClientStatus = p["client_status"]
		}
		p["presence"] = rec
		return p
	}

	rec = &presenceRecord{
		CurrentStatus:       getS(p, "status"),
		CurrentActivity:     p["activities"],
		CurrentClientStatus: p["client_status"],
	}
	c.presences[userID] = rec
	p["presence"] = rec
	return p
}

// GuildPayloadEntry builds the shortened guild view handed to subscribers
// that only need summary fields and CDN URLs.
func (c *CacheHandler) GuildPayloadEntry(guildID string) M {
	g := c.guild(guildID)
	if g == nil {
		return nil
	}

	entry := M{
		"name":                          g.Name,
		"id":                            g.ID,
		"icon":                          g.Icon,
		"icon_url":                      "",
		"banner":                        g.Banner,
		"banner_url":                    "",
		"splash":                        g.Splash,
		"splash_url":                    "",
		"discovery_splash":              g.DiscoverySplash,
		"discovery_splash_url":          "",
		"description":                   g.Description,
		"emojis":                        g.Emojis,
		"emojiCount":                    len(g.Emojis),
		"stickers":                      g.Stickers,
		"stickerCount":                  len(g.Stickers),
		"roles":                         g.Roles,
		"roleCount":                     len(g.Roles),
		"members":                       g.Members,
		"member_count":                  g.MemberCount,
		"channels":                      g.Channels,
		"channelCount":                  len(g.Channels),
		"presences":                     g.Presences,
		"max_video_channel_users":       g.MaxVideoChannelUsers,
		"owner_id":                      g.OwnerID,
		"mfa_level":                     g.MFALevel,
		"nsfw":                          g.NSFW,
		"nsfw_level":                    g.NSFWLevel,
		"explicit_content_filter":       g.ExplicitContentFilter,
		"afk_timeout":                   g.AFKTimeout,
		"inventory_settings":            g.InventorySettings,
		"verification_level":            g.VerificationLevel,
		"default_message_notifications": g.DefaultMessageNotifications,
		"rules_channel_id":              g.RulesChannelID,
		"system_channel_id":             g.SystemChannelID,
		"system_channel_flags":          g.SystemChannelFlags,
		"public_updates_channel_id":     g.PublicUpdatesChannelID,
		"safety_alerts_channel_id":      g.SafetyAlertsChannelID,
		"preferred_locale":              g.PreferredLocale,
		"premium_tier":                  g.PremiumTier,
		"premium_subscription_count":    g.PremiumSubscriptionCount,
		"vanity_url_code":               g.VanityURLCode,
		"latest_onboarding_question_id": g.LatestOnboardingQuestionID,
		"joined_at":                     g.JoinedAt,
	}

	media := M{"id": g.ID, "icon": g.Icon, "banner": g.Banner, "splash": g.Splash, "discovery_splash": g.DiscoverySplash}
	if g.Icon != "" {
		entry["icon_url"] = generateCDN(media, "icon")
	}
	if g.Banner != "" {
		entry["banner_url"] = generateCDN(media, "banner")
	}
	if g.Splash != "" {
		entry["splash_url"] = generateCDN(media, "splash")
	}
	if g.DiscoverySplash != "" {
		entry["discovery_splash_url"] = generateCDN(media, "discovery_splash")
	}
	return entry
}

func removeByID(list []M, id string) []M {
	kept := list[:0]
	for _, entry := range list {
		if getS(entry, "id") != id {
			kept = append(kept, entry)
		}
	}
	return kept
}

// mergeInto copies every src field onto dst (update events carry partials).
func mergeInto(dst, src M) {
	for k, v := range src {
		dst[k] = v
	}
}
