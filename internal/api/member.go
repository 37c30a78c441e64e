package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/channel"
	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/gateway"
	"github.com/parley-chat/parley-server/internal/guild"
	"github.com/parley-chat/parley-server/internal/httputil"
	"github.com/parley-chat/parley-server/internal/member"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// MemberHandler serves guild membership endpoints.
type MemberHandler struct {
	members    member.Repository
	guilds     guild.Repository
	channels   channel.Repository
	dispatcher *gateway.Dispatcher
	log        zerolog.Logger
}

// NewMemberHandler creates a new member handler.
func NewMemberHandler(
	members member.Repository,
	guilds guild.Repository,
	channels channel.Repository,
	d *gateway.Dispatcher,
	logger zerolog.Logger,
) *MemberHandler {
	return &MemberHandler{
		members:    members,
		guilds:     guilds,
		channels:   channels,
		dispatcher: d,
		log:        logger,
	}
}

// ListMembers handles GET /api/v1/guilds/:guildID/members.
func (h *MemberHandler) ListMembers(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	guildID, ok := paramID(c, "guildID")
	if !ok {
		return nil
	}

	isMember, err := h.members.IsMember(c, guildID, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "member").Msg("membership check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You are not a member of this guild")
	}

	members, err := h.members.ListByGuild(c, guildID)
	if err != nil {
		return h.mapMemberError(c, err)
	}

	result := make([]event.Member, len(members))
	for i := range members {
		result[i] = members[i].ToEvent()
	}
	return httputil.Success(c, result)
}

// Join handles PUT /api/v1/guilds/:guildID/members/@me. The new member is announced to the guild, and the joiner's
// connected sessions receive the full guild aggregate.
func (h *MemberHandler) Join(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	guildID, ok := paramID(c, "guildID")
	if !ok {
		return nil
	}

	m, err := h.members.Add(c, guildID, userID)
	if err != nil {
		return h.mapMemberError(c, err)
	}

	memberEv := m.ToEvent()

	// Register the membership first so the MEMBER_CREATE broadcast reaches the joiner's own sessions too.
	h.dispatcher.AddMember(userID, guildID)
	h.dispatcher.Dispatch(event.New(event.TypeMemberCreate, &memberEv), gateway.ToGuild(guildID))

	g, err := h.guilds.GetByID(c, guildID)
	if err == nil {
		if aggregate, aggErr := h.guildAggregate(c, g); aggErr == nil {
			h.dispatcher.SendTo(userID, event.New(event.TypeGuildCreate, aggregate))
		} else {
			h.log.Error().Err(aggErr).Str("handler", "member").Msg("load guild aggregate failed")
		}
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, memberEv)
}

// Leave handles DELETE /api/v1/guilds/:guildID/members/:userID. Members can remove themselves; the owner can kick
// anyone else. The owner cannot leave their own guild.
func (h *MemberHandler) Leave(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	guildID, ok := paramID(c, "guildID")
	if !ok {
		return nil
	}

	targetID := userID
	if raw := c.Params("userID"); raw != "@me" {
		parsed, err := snowflake.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid userID format")
		}
		targetID = parsed
	}

	g, err := h.guilds.GetByID(c, guildID)
	if err != nil {
		if errors.Is(err, guild.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Guild not found")
		}
		return h.mapMemberError(c, err)
	}

	if targetID != userID && g.OwnerID != userID {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "Only the guild owner can remove other members")
	}
	if targetID == g.OwnerID {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "The owner cannot leave the guild; delete it instead")
	}

	if err := h.members.Remove(c, guildID, targetID); err != nil {
		return h.mapMemberError(c, err)
	}

	// The broadcast goes first so FIFO ordering delivers it while the leaver is still a target, then the cache entry
	// is pruned, then the leaver's sessions are told the guild is gone.
	h.dispatcher.Dispatch(event.New(event.TypeMemberRemove, &event.MemberRemoveData{
		UserID:  targetID,
		GuildID: guildID,
	}), gateway.ToGuild(guildID))
	h.dispatcher.RemoveMember(targetID, guildID)
	h.dispatcher.SendTo(targetID, event.New(event.TypeGuildRemove, &event.GuildRemoveData{GuildID: guildID}))

	return c.SendStatus(fiber.StatusNoContent)
}

// guildAggregate assembles the full GUILD_CREATE payload for a guild.
func (h *MemberHandler) guildAggregate(c fiber.Ctx, g *guild.Guild) (*event.GuildCreateData, error) {
	members, err := h.members.ListByGuild(c, g.ID)
	if err != nil {
		return nil, err
	}
	channels, err := h.channels.ListByGuild(c, g.ID)
	if err != nil {
		return nil, err
	}

	data := &event.GuildCreateData{Guild: g.ToEvent()}
	data.Members = make([]event.Member, len(members))
	for i := range members {
		data.Members[i] = members[i].ToEvent()
	}
	data.Channels = make([]event.Channel, len(channels))
	for i := range channels {
		data.Channels[i] = channels[i].ToEvent()
	}
	return data, nil
}

// mapMemberError converts member-layer errors to appropriate HTTP responses.
func (h *MemberHandler) mapMemberError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, member.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Member not found")
	case errors.Is(err, member.ErrGuildNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Guild not found")
	case errors.Is(err, member.ErrAlreadyMember):
		return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "member").Msg("unhandled member repository error")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}
