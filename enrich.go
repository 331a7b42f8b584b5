package main

import (
	"sort"
	"strconv"
	"time"
)

const (
	cdnBase      = "https://cdn.discordapp.com"
	discordEpoch = 1420070400000 // unix ms
)

// snowflakeTime extracts the creation time embedded in a snowflake id.
// Ids arrive as decimal strings because they exceed float64 precision.
func snowflakeTime(id string) (time.Time, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(n/4194304 + discordEpoch)), true
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006.01.02 15:04:05")
}

// retrieveDate renders a timestamp-ish value as "YYYY.MM.DD HH:MM:SS". When
// snowflake is set, an all-digit string is decoded as a snowflake id;
// otherwise digits are unix milliseconds and strings are RFC3339.
func retrieveDate(value any, snowflake bool) string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return ""
		}
		if snowflake {
			if t, ok := snowflakeTime(v); ok {
				return formatDate(t)
			}
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return formatDate(t)
		}
		return ""
	case int64:
		return formatDate(time.UnixMilli(v))
	case float64:
		return formatDate(time.UnixMilli(int64(v)))
	}
	return ""
}

// getBadges maps a public_flags bitfield to readable badge names, in the
// order of the badge table.
func getBadges(publicFlags uint64) []string {
	badges := []string{}
	for _, f := range userFlags {
		if publicFlags&f.bit != 0 {
			badges = append(badges, f.name)
		}
	}
	return badges
}

// parsePermissions maps a permissions bitmask to permission names, in the
// order of the permission table.
func parsePermissions(permissions uint64) []string {
	names := []string{}
	for _, f := range permissionNames {
		if permissions&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// getPermissionNames unions the derived permission_names of every role the
// user holds, deduplicated, first occurrence wins.
func getPermissionNames(userRoles []string, guildRoles []M) []string {
	names := []string{}
	for _, userRole := range userRoles {
		role := findByID(guildRoles, userRole)
		if role == nil {
			continue
		}
		for _, perm := range getStrings(role, "permission_names") {
			if !containsString(names, perm) {
				names = append(names, perm)
			}
		}
	}
	return names
}

// userColor picks the display color: the color of the highest-position role
// the user holds that has a non-zero color. Returns nil when no role colors
// the user. The sort is stable so equal positions keep guild order.
func userColor(userRoles []string, guildRoles []M) any {
	sorted := make([]M, len(guildRoles))
	copy(sorted, guildRoles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return getUint(sorted[i], "position") > getUint(sorted[j], "position")
	})
	for _, role := range sorted {
		if !containsString(userRoles, getS(role, "id")) {
			continue
		}
		if color := getUint(role, "color"); color != 0 {
			return color
		}
	}
	return nil
}

// roleNames collects the names of the user's roles in guild list order.
func roleNames(userRoles []string, guildRoles []M) []string {
	names := []string{}
	for _, role := range guildRoles {
		if containsString(userRoles, getS(role, "id")) {
			names = append(names, getS(role, "name"))
		}
	}
	return names
}

// avatarFromObject resolves the avatar URL a client would render: the
// per-guild member avatar wins over the account avatar, and accounts with
// neither get one of the six default embed avatars keyed off the id.
func avatarFromObject(userID, avatarID, guildID, memberAvatarID string) string {
	if avatarID == "" && memberAvatarID == "" {
		n, _ := strconv.ParseUint(userID, 10, 64)
		return cdnBase + "/embed/avatars/" + strconv.FormatUint((n>>22)%6, 10) + ".png"
	}

	avatar := firstString(memberAvatarID, avatarID)
	ext := "png"
	if len(avatar) > 2 && avatar[:2] == "a_" {
		ext = "gif"
	}

	if memberAvatarID != "" {
		return cdnBase + "/guilds/" + guildID + "/users/" + userID + "/avatars/" + avatar + "." + ext
	}
	return cdnBase + "/avatars/" + userID + "/" + avatar + "." + ext
}

// generateCDN builds the CDN URL for a media hash carried on an entity.
func generateCDN(object M, media string) string {
	var path string
	switch media {
	case "icon":
		path = "icons"
	case "splash":
		path = "splashes"
	case "banner":
		path = "banners"
	case "discovery_splash":
		path = "discovery-splashes"
	}

	hash := getS(object, media)
	id := getS(object, "id")
	if hash == "" || id == "" {
		return ""
	}
	if path == "icons" {
		if _, hoist := object["hoist"]; hoist {
			path = "role-icons"
		}
	}
	ext := "png"
	if len(hash) > 2 && hash[:2] == "a_" {
		ext = "gif"
	}
	return cdnBase + "/" + path + "/" + id + "/" + hash + "." + ext + "?size=1024"
}

// roleUpdate derives the readable fields stored on every cached role. The
// permission_names written here are what getPermissionNames unions later.
func roleUpdate(role M) M {
	role["permission_names"] = parsePermissions(getUint(role, "permissions"))
	role["hexColor"] = strconv.FormatUint(getUint(role, "color"), 16)
	role["created_at"] = retrieveDate(getS(role, "id"), true)
	if getS(role, "icon") != "" {
		role["icon_url"] = generateCDN(role, "icon")
	}
	return role
}

// memberUpdate derives the full per-member bundle against the guild's roles:
// badges, creation date, display name and avatar, color, permission and role
// name lists.
func memberUpdate(member M, roles []M, guildID string) M {
	user := getM(member, "user")
	if user != nil {
		user["badges"] = getBadges(getUint(user, "public_flags"))
		user["created_at"] = retrieveDate(getS(user, "id"), true)
	}

	member["displayName"] = firstString(
		getS(member, "nick"),
		getS(user, "display_name"),
		getS(user, "global_name"),
		getS(user, "username"),
	)
	member["displayAvatar"] = avatarFromObject(getS(user, "id"), getS(user, "avatar"), guildID, getS(member, "avatar"))

	if _, ok := member["roles"]; ok {
		memberRoles := getStrings(member, "roles")
		member["hexColor"] = userColor(memberRoles, roles)
		member["permission_names"] = getPermissionNames(memberRoles, roles)
		member["role_names"] = roleNames(memberRoles, roles)
	} else {
		member["hexColor"] = nil
		member["permission_names"] = []string{}
		member["role_names"] = []string{}
	}
	return member
}

// threadChannelProcess rewrites payload.channel to the thread entry when the
// event targets a thread, tagging it with the parent channel's name.
func threadChannelProcess(threads, channels []M, p M) {
	channelID := getS(p, "channel_id")
	for _, thread := range threads {
		if getS(thread, "id") != channelID {
			continue
		}
		p["channel"] = thread
		for _, chann := range channels {
			if getS(chann, "id") == getS(thread, "parent_id") {
				thread["parent_name"] = getS(chann, "name")
			}
		}
		thread["isForumChannel"] = true
	}
}

func retrieveMember(g *cachedGuild, p M, userID string) M {
	if g == nil {
		return nil
	}
	id := firstString(userID, getS(getM(p, "user"), "id"), getS(p, "user_id"))
	return findByUserID(g.Members, id)
}

// enrichUser decorates the flat and nested user shapes of presence-style
// payloads and normalizes flat typing payloads into a user object.
func enrichUser(p M, g *cachedGuild) M {
	if user := getM(p, "user"); user != nil {
		user["badges"] = getBadges(getUint(user, "public_flags"))
		user["created_at"] = retrieveDate(getS(user, "id"), true)
		user["displayAvatar"] = avatarFromObject(
			getS(user, "id"),
			firstString(getS(user, "avatar"), getS(p, "avatar")),
			getS(p, "guild_id"),
			getS(p, "avatar"),
		)
		user["displayName"] = getS(user, "username")
		user["permission_names"] = []string{}

		if _, ok := p["member"]; ok {
			if member := retrieveMember(g, p, getS(user, "id")); member != nil {
				p["member"] = member
			}
		}
		return p
	}

	p["user"] = M{
		"id":               p["user_id"],
		"username":         p["username"],
		"discriminator":    p["discriminator"],
		"avatar":           p["avatar"],
		"bot":              p["bot"],
		"system":           p["system"],
		"mfa_enabled":      p["mfa_enabled"],
		"locale":           p["locale"],
		"verified":         p["verified"],
		"email":            p["email"],
		"flags":            p["flags"],
		"premium_type":     p["premium_type"],
		"public_flags":     p["public_flags"],
		"created_at":       retrieveDate(getS(p, "user_id"), true),
		"badges":           getBadges(getUint(p, "public_flags")),
		"displayAvatar":    avatarFromObject(getS(p, "user_id"), getS(p, "avatar"), getS(p, "guild_id"), getS(p, "avatar")),
		"displayName":      p["username"],
		"permission_names": []string{},
	}
	return p
}

// enrichGuildless handles direct-message payloads, which have no guild entry
// to lean on: author badges, a readable date, and the cached channel if one
// happens to exist.
func enrichGuildless(p M, g *cachedGuild) M {
	if author := getM(p, "author"); author != nil {
		author["badges"] = getBadges(getUint(author, "public_flags"))
		author["created_at"] = retrieveDate(getS(author, "id"), true)
	}
	if _, ok := p["timestamp"]; ok {
		p["date"] = retrieveDate(p["timestamp"], false)
	}

	if channelID := getS(p, "channel_id"); channelID != "" && g != nil {
		if channel := findByID(g.Channels, channelID); channel != nil {
			p["channel"] = channel
			if lastID := getS(channel, "last_message_id"); lastID != "" {
				channel["last_message_sent"] = retrieveDate(lastID, true)
			}
			for _, recipient := range getList(channel, "recipients") {
				recipient["badges"] = getBadges(getUint(recipient, "public_flags"))
				recipient["created_at"] = retrieveDate(getS(recipient, "id"), true)
			}
		}
	}
	return p
}

// enrichBase is the guild-payload pass: attach the cached channel, swap flat
// user references for the cached member's user, rewrite thread channels, then
// run the extension passes.
func enrichBase(p M, g *cachedGuild) M {
	if channelID := getS(p, "channel_id"); channelID != "" && g != nil {
		if channel := findByID(g.Channels, channelID); channel != nil {
			p["channel"] = channel
		}
	}

	if userID := getS(getM(p, "user"), "id"); userID != "" && g != nil {
		if member := findByUserID(g.Members, userID); member != nil {
			p["user"] = getM(member, "user")
		}
	}

	if g != nil && g.Threads != nil {
		threadChannelProcess(g.Threads, g.Channels, p)
	}

	return extendPayload(p, g)
}

// extendPayload runs the ordered extension passes over a guild payload. Each
// pass is independent and keyed purely off payload shape, so one payload can
// pick up several of them.
func extendPayload(p M, g *cachedGuild) M {
	if p == nil {
		return p
	}

	if _, ok := p["timestamp"]; !ok {
		p["timestamp"] = time.Now().UnixMilli()
		p["date"] = retrieveDate(p["timestamp"], false)
	}

	guildID := getS(p, "guild_id")
	var guildRoles []M
	if g != nil {
		guildRoles = g.Roles
	}

	if channel := getM(p, "channel"); channel != nil {
		channel["created_at"] = retrieveDate(getS(channel, "id"), true)
		if lastID := getS(channel, "last_message_id"); lastID != "" {
			channel["last_message_sent"] = retrieveDate(lastID, true)
		}
	}

	if inviter := getM(p, "inviter"); inviter != nil {
		inviter["badges"] = getBadges(getUint(inviter, "public_flags"))
		inviter["created_at"] = retrieveDate(getS(inviter, "id"), true)
		if member := retrieveMember(g, p, getS(inviter, "id")); member != nil {
			p["member"] = member
		}
	}

	if target := getM(p, "target_user"); target != nil {
		target["created_at"] = retrieveDate(getS(target, "id"), true)
		target["badges"] = getBadges(getUint(target, "public_flags"))
		if member := retrieveMember(g, p, getS(target, "id")); member != nil {
			p["member"] = member
		}
	}

	if getS(p, "code") != "" && p["created_at"] != nil {
		p["inviteUrl"] = "https://discord.gg/" + getS(p, "code")
	}

	for _, mention := range getList(p, "mentions") {
		mention["badges"] = getBadges(getUint(mention, "public_flags"))
		mention["created_at"] = retrieveDate(getS(mention, "id"), true)
		if member := retrieveMember(g, p, getS(mention, "id")); member != nil {
			mention["member"] = member
		}
	}

	if getS(p, "id") != "" && getS(p, "username") != "" {
		p["badges"] = getBadges(getUint(p, "public_flags"))
		p["created_at"] = retrieveDate(getS(p, "id"), true)
	}

	_, hasRoles := p["roles"]
	_, hasMaxMembers := p["max_members"]
	if (hasRoles && guildRoles != nil && !hasMaxMembers) || getS(p, "avatar") != "" || getS(p, "nick") != "" {
		user := getM(p, "user")
		member := getM(p, "member")
		p["displayAvatar"] = avatarFromObject(
			firstString(getS(user, "id"), getS(p, "user_id"), getS(getM(member, "user"), "id")),
			getS(user, "avatar"),
			guildID,
			getS(p, "avatar"),
		)
		p["displayName"] = firstString(
			getS(p, "nick"),
			getS(user, "display_name"),
			getS(user, "global_name"),
			getS(user, "username"),
		)
		p["permission_names"] = getPermissionNames(getStrings(p, "roles"), guildRoles)
		p["hexColor"] = userColor(getStrings(p, "roles"), guildRoles)
	}

	if user := getM(p, "user"); user != nil && p["presence"] == nil {
		user["badges"] = getBadges(getUint(user, "public_flags"))
		user["created_at"] = retrieveDate(getS(user, "id"), true)
		_, hasMember := p["member"]
		_, hasJoinedAt := p["joined_at"]
		if !hasMember && !hasJoinedAt && getS(p, "displayName") != "" && p["guild"] != nil {
			if member := retrieveMember(g, p, getS(user, "id")); member != nil {
				p["member"] = member
			}
		}
	}

	if member := getM(p, "member"); member != nil {
		author := getM(p, "author")
		inviter := getM(p, "inviter")
		memberUser := getM(member, "user")
		userID := firstString(
			getS(memberUser, "id"),
			getS(author, "id"),
			getS(p, "user_id"),
			getS(inviter, "id"),
			getS(getM(p, "target_user"), "id"),
		)
		if userID != "" {
			member["displayAvatar"] = avatarFromObject(
				firstString(getS(memberUser, "id"), getS(author, "id"), getS(p, "user_id"), getS(inviter, "id")),
				firstString(getS(memberUser, "avatar"), getS(author, "avatar")),
				guildID,
				getS(member, "avatar"),
			)
			member["displayName"] = firstString(
				getS(member, "nick"),
				getS(p, "nick"),
				getS(memberUser, "display_name"),
				getS(memberUser, "global_name"),
				getS(memberUser, "username"),
				getS(author, "display_name"),
				getS(author, "global_name"),
				getS(author, "username"),
				getS(inviter, "display_name"),
				getS(inviter, "global_name"),
				getS(inviter, "username"),
			)
		}

		if _, ok := member["roles"]; ok && guildRoles != nil {
			memberRoles := getStrings(member, "roles")
			member["permission_names"] = getPermissionNames(memberRoles, guildRoles)
			member["role_names"] = roleNames(memberRoles, guildRoles)
			member["hexColor"] = userColor(memberRoles, guildRoles)
		}

		if memberUser != nil {
			memberUser["created_at"] = retrieveDate(getS(memberUser, "id"), true)
			memberUser["badges"] = getBadges(getUint(memberUser, "public_flags"))
		}
	}

	if author := getM(p, "author"); author != nil {
		author["created_at"] = retrieveDate(getS(author, "id"), true)
		author["badges"] = getBadges(getUint(author, "public_flags"))
	}

	if message := getM(p, "message"); message != nil {
		enrichMessage(message, p, g, guildID, guildRoles)
	}

	if interaction := getM(p, "interaction"); interaction != nil {
		enrichInteraction(interaction, guildID, guildRoles)
	}

	if data := getM(p, "data"); data != nil {
		if resolved := getM(data, "resolved"); resolved != nil {
			enrichResolved(resolved, p, g, guildID, guildRoles)
		}
	}

	return p
}

func enrichMessage(message, p M, g *cachedGuild, guildID string, guildRoles []M) {
	if author := getM(message, "author"); author != nil {
		author["badges"] = getBadges(getUint(author, "public_flags"))
		author["created_at"] = retrieveDate(getS(author, "id"), true)
	}

	interaction := getM(message, "interaction")
	if user := getM(interaction, "user"); user != nil {
		user["badges"] = getBadges(getUint(user, "public_flags"))
		user["created_at"] = retrieveDate(getS(user, "id"), true)
	}

	member := getM(interaction, "member")
	if memberUser := getM(member, "user"); memberUser != nil {
		memberUser["badges"] = getBadges(getUint(memberUser, "public_flags"))
		member["displayAvatar"] = avatarFromObject(
			getS(memberUser, "id"),
			getS(memberUser, "avatar"),
			guildID,
			firstString(getS(interaction, "avatar"), getS(member, "avatar")),
		)
		member["displayName"] = firstString(
			getS(member, "nick"),
			getS(memberUser, "display_name"),
			getS(memberUser, "global_name"),
			getS(memberUser, "username"),
		)
		memberUser["created_at"] = retrieveDate(getS(memberUser, "id"), true)
	}

	if member != nil && guildRoles != nil {
		if _, ok := member["roles"]; ok {
			memberRoles := getStrings(member, "roles")
			member["permission_names"] = getPermissionNames(memberRoles, guildRoles)
			member["role_names"] = roleNames(memberRoles, guildRoles)
			member["hexColor"] = userColor(memberRoles, guildRoles)
		}
	}
}

func enrichInteraction(interaction M, guildID string, guildRoles []M) {
	user := getM(interaction, "user")
	if member := getM(interaction, "member"); member != nil {
		member["displayAvatar"] = avatarFromObject(
			getS(user, "id"),
			getS(user, "avatar"),
			guildID,
			getS(member, "avatar"),
		)
		member["displayName"] = firstString(
			getS(member, "nick"),
			getS(user, "display_name"),
			getS(user, "global_name"),
			getS(user, "username"),
		)

		if memberUser := getM(member, "user"); memberUser != nil {
			memberUser["badges"] = getBadges(getUint(memberUser, "public_flags"))
			memberUser["created_at"] = retrieveDate(getS(memberUser, "id"), true)
		}

		if _, ok := member["roles"]; ok && guildRoles != nil {
			memberRoles := getStrings(member, "roles")
			member["permission_names"] = getPermissionNames(memberRoles, guildRoles)
			member["role_names"] = roleNames(memberRoles, guildRoles)
			member["hexColor"] = userColor(memberRoles, guildRoles)
		}
	}

	if user != nil {
		user["created_at"] = retrieveDate(getS(user, "id"), true)
		user["badges"] = getBadges(getUint(user, "public_flags"))
	}
}

// enrichResolved walks data.resolved from an interaction. Users are visited
// before members so member display names can fall back to the co-resolved
// user's name fields.
func enrichResolved(resolved, p M, g *cachedGuild, guildID string, guildRoles []M) {
	users := getM(resolved, "users")
	for id, raw := range users {
		user, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		user["badges"] = getBadges(getUint(user, "public_flags"))
		user["created_at"] = retrieveDate(id, true)
	}

	for id, raw := range getM(resolved, "members") {
		member, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		member["displayAvatar"] = avatarFromObject(id, "", guildID, getS(member, "avatar"))
		member["permission_names"] = getPermissionNames(getStrings(member, "roles"), guildRoles)
		member["hexColor"] = userColor(getStrings(member, "roles"), guildRoles)
		if user := getM(users, id); user != nil {
			member["displayName"] = firstString(
				getS(member, "nick"),
				getS(user, "display_name"),
				getS(user, "global_name"),
				getS(user, "username"),
			)
		}
	}

	for _, raw := range getM(resolved, "messages") {
		message, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		author := getM(message, "author")
		if member := retrieveMember(g, p, firstString(getS(author, "id"), getS(getM(message, "user"), "id"))); member != nil {
			message["member"] = member
		}
		if author != nil {
			author["badges"] = getBadges(getUint(author, "public_flags"))
			author["created_at"] = retrieveDate(getS(author, "id"), true)
		}

		for _, mention := range getList(message, "mentions") {
			mention["badges"] = getBadges(getUint(mention, "public_flags"))
			mention["created_at"] = retrieveDate(getS(mention, "id"), true)
			if member := retrieveMember(g, p, getS(mention, "id")); member != nil {
				mention["member"] = member
			}
		}

		if interaction := getM(message, "interaction"); interaction != nil {
			user := getM(interaction, "user")
			if user != nil {
				user["created_at"] = retrieveDate(getS(user, "id"), true)
				user["badges"] = getBadges(getUint(user, "public_flags"))
			}
			if member := getM(interaction, "member"); member != nil {
				member["displayName"] = firstString(
					getS(member, "nick"),
					getS(user, "display_name"),
					getS(user, "global_name"),
					getS(user, "username"),
				)
				member["displayAvatar"] = avatarFromObject(
					getS(user, "id"),
					getS(user, "avatar"),
					guildID,
					getS(member, "avatar"),
				)
			}
		}
	}
}

// ModifyPayload is the enrichment entry point. It holds the payload's guild
// lock for the whole pass so derived fields never interleave with cache
// splices, and a panic in any pass leaves the payload as-is instead of
// killing the read loop.
func (c *CacheHandler) ModifyPayload(p M, kind string) (out M) {
	out = p
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("payload enrichment failed", "kind", kind, "panic", r)
		}
	}()

	var g *cachedGuild
	if guildID := getS(p, "guild_id"); guildID != "" {
		if g = c.guild(guildID); g != nil {
			lock := c.guildLock(guildID)
			lock.Lock()
			defer lock.Unlock()
		}
	}

	switch kind {
	case "user":
		out = enrichUser(p, g)
	case "guildless":
		out = enrichGuildless(p, g)
	case "base":
		out = enrichBase(p, g)
	}
	return out
}
