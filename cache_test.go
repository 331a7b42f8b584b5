package main

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCache() *CacheHandler {
	return NewCacheHandler(zap.NewNop().Sugar())
}

func guildCreatePayload() M {
	return M{
		"id":           "g1",
		"name":         "Test Guild",
		"icon":         "iconhash",
		"owner_id":     "owner1",
		"member_count": float64(2),
		"roles": []any{
			M{"id": "r1", "name": "Mods", "position": float64(5), "color": float64(0x336699), "permissions": strconv.FormatUint(1<<1|1<<13, 10)},
		},
		"members": []any{
			M{"nick": "Boss", "roles": []any{"r1"}, "user": M{"id": "u1", "username": "boss"}},
			M{"roles": []any{}, "user": M{"id": "u2", "username": "pleb"}},
		},
		"channels": []any{
			M{"id": "c1", "name": "general"},
		},
	}
}

func TestCacheInitialGuildDerivesOnSharedMaps(t *testing.T) {
	c := testCache()
	p := guildCreatePayload()

	c.CacheInitialGuild(p)

	assert.Equal(t, 1, c.GuildCount())

	// derivations were written into the payload's own maps
	role := getList(p, "roles")[0]
	assert.Equal(t, []string{"KICK_MEMBERS", "MANAGE_MESSAGES"}, role["permission_names"])

	member := getList(p, "members")[0]
	assert.Equal(t, "Boss", member["displayName"])
	assert.Equal(t, uint64(0x336699), member["hexColor"])

	// and the cached lists are the same maps
	g := c.guild("g1")
	require.NotNil(t, g)
	assert.Equal(t, "Test Guild", g.Name)
	assert.Equal(t, role["permission_names"], g.Roles[0]["permission_names"])
}

func TestUpdateGuildMergesPartials(t *testing.T) {
	c := testCache()
	c.CacheInitialGuild(guildCreatePayload())

	c.UpdateGuild(M{"id": "g1", "name": "Renamed"})

	g := c.guild("g1")
	assert.Equal(t, "Renamed", g.Name)
	// absent fields keep their cached values
	assert.Equal(t, "iconhash", g.Icon)
	assert.Equal(t, 2, g.MemberCount)
	assert.Len(t, g.Members, 2)
}

func TestUpdateGuildUnknownGuildIsNoop(t *testing.T) {
	c := testCache()
	c.UpdateGuild(M{"id": "nope", "name": "ghost"})
	assert.Equal(t, 0, c.GuildCount())
}

func TestRemoveGuild(t *testing.T) {
	c := testCache()
	c.CacheInitialGuild(guildCreatePayload())

	c.RemoveGuild("g1")

	assert.Equal(t, 0, c.GuildCount())
	assert.Nil(t, c.guild("g1"))
}

func TestChannelSplices(t *testing.T) {
	c := testCache()
	c.CacheInitialGuild(guildCreatePayload())

	c.AddChannel("g1", M{"id": "c2", "name": "random"})
	assert.Len(t, c.guild("g1").Channels, 2)

	c.UpdateChannel("g1", M{"id": "c2", "name": "renamed", "topic": "chatter"})
	updated := findByID(c.guild("g1").Channels, "c2")
	require.NotNil(t, updated)
	assert.Equal(t, "renamed", updated["name"])
	assert.Equal(t, "chatter", updated["topic"])

	c.RemoveChannel("g1", "c1")
	channels := c.guild("g1").Channels
	assert.Len(t, channels, 1)
	assert.Equal(t, "c2", getS(channels[0], "id"))
}

func TestMemberSplices(t *testing.T) {
	c := testCache()
	c.CacheInitialGuild(guildCreatePayload())

	c.AddMember("g1", M{"roles": []any{}, "user": M{"id": "u3", "username": "new"}})
	assert.Len(t, c.guild("g1").Members, 3)

	c.RemoveMember("g1", "u1")
	members := c.guild("g1").Members
	assert.Len(t, members, 2)
	assert.Nil(t, findByUserID(members, "u1"))
}

func TestRecomputeMemberAgainstCurrentRoles(t *testing.T) {
	c := testCache()
	c.CacheInitialGuild(guildCreatePayload())

	c.AddRole("g1", M{"id": "r2", "name": "Admins", "position": float64(9), "color": float64(0xFF00FF), "permissions": strconv.FormatUint(1<<3, 10)})

	member := findByUserID(c.guild("g1").Members, "u1")
	member["roles"] = []any{"r1", "r2"}
	c.RecomputeMember("g1", "u1")

	assert.Equal(t, uint64(0xFF00FF), member["hexColor"])
	assert.Equal(t, []string{"KICK_MEMBERS", "MANAGE_MESSAGES", "ADMINISTRATOR"}, member["permission_names"])
	assert.Equal(t, []string{"Mods", "Admins"}, member["role_names"])
}

func TestRoleSplices(t *testing.T) {
	c := testCache()
	c.CacheInitialGuild(guildCreatePayload())

	c.UpdateRole("g1", M{"id": "r1", "name": "Moderators", "color": float64(0x00FF00), "permissions": strconv.FormatUint(1<<2, 10)})
	role := findByID(c.guild("g1").Roles, "r1")
	assert.Equal(t, "Moderators", role["name"])
	assert.Equal(t, []string{"BAN_MEMBERS"}, role["permission_names"])

	c.RemoveRole("g1", "r1")
	assert.Empty(t, c.guild("g1").Roles)
}

func TestSetEmojisAndStickers(t *testing.T) {
	c := testCache()
	c.CacheInitialGuild(guildCreatePayload())

	c.SetEmojis("g1", []M{{"id": "e1"}, {"id": "e2"}})
	c.SetStickers("g1", []M{{"id": "s1"}})

	g := c.guild("g1")
	assert.Len(t, g.Emojis, 2)
	assert.Len(t, g.Stickers, 1)
}

func TestProcessPresenceShiftsOnStatusChange(t *testing.T) {
	c := testCache()

	p := M{"user": M{"id": "u1"}, "status": "online", "activities": []any{}, "client_status": M{"desktop": "online"}}
	c.ProcessPresence(p)

	rec, ok := p["presence"].(*presenceRecord)
	require.True(t, ok)
	assert.Equal(t, "online", rec.CurrentStatus)
	assert.Equal(t, "", rec.OldStatus)

	// same status does not shift generations
	c.ProcessPresence(M{"user": M{"id": "u1"}, "status": "online"})
	assert.Equal(t, "", rec.OldStatus)

	// a different status does
	c.ProcessPresence(M{"user": M{"id": "u1"}, "status": "idle"})
	assert.Equal(t, "online", rec.OldStatus)
	assert.Equal(t, "idle", rec.CurrentStatus)
}

func TestGuildPayloadEntry(t *testing.T) {
	c := testCache()
	c.CacheInitialGuild(guildCreatePayload())

	entry := c.GuildPayloadEntry("g1")
	require.NotNil(t, entry)

	assert.Equal(t, "Test Guild", entry["name"])
	assert.Equal(t, 1, entry["roleCount"])
	assert.Equal(t, 1, entry["channelCount"])
	assert.Equal(t, 2, entry["member_count"])
	assert.Equal(t, cdnBase+"/icons/g1/iconhash.png?size=1024", entry["icon_url"])
	assert.Equal(t, "", entry["banner_url"])

	assert.Nil(t, c.GuildPayloadEntry("missing"))
}

func TestModifyPayloadSurvivesBadShapes(t *testing.T) {
	c := testCache()

	// nil payloads and unknown kinds must not panic the caller
	out := c.ModifyPayload(nil, "base")
	assert.Nil(t, out)

	p := M{"guild_id": "unknown", "channel_id": "c9"}
	out = c.ModifyPayload(p, "base")
	assert.Equal(t, p["channel_id"], out["channel_id"])
}
