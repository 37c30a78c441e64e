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

// GuildHandler serves guild endpoints.
type GuildHandler struct {
	guilds     guild.Repository
	members    member.Repository
	channels   channel.Repository
	ids        *snowflake.Generator
	dispatcher *gateway.Dispatcher
	maxGuilds  int
	log        zerolog.Logger
}

// NewGuildHandler creates a new guild handler.
func NewGuildHandler(
	guilds guild.Repository,
	members member.Repository,
	channels channel.Repository,
	ids *snowflake.Generator,
	d *gateway.Dispatcher,
	maxGuildsPerUser int,
	logger zerolog.Logger,
) *GuildHandler {
	return &GuildHandler{
		guilds:     guilds,
		members:    members,
		channels:   channels,
		ids:        ids,
		dispatcher: d,
		maxGuilds:  maxGuildsPerUser,
		log:        logger,
	}
}

type createGuildRequest struct {
	Name string `json:"name"`
}

type updateGuildRequest struct {
	Name string `json:"name"`
}

// ListGuilds handles GET /api/v1/guilds. It returns the guilds the authenticated user belongs to.
func (h *GuildHandler) ListGuilds(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	guilds, err := h.guilds.ListForUser(c, userID)
	if err != nil {
		return h.mapGuildError(c, err)
	}

	result := make([]event.Guild, len(guilds))
	for i := range guilds {
		result[i] = guilds[i].ToEvent()
	}
	return httputil.Success(c, result)
}

// CreateGuild handles POST /api/v1/guilds. The creator becomes owner and first member, the guild gets a default
// channel, and the creator's connected sessions receive the full aggregate.
func (h *GuildHandler) CreateGuild(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	var body createGuildRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	name, err := guild.ValidateName(body.Name)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())
	}

	guildID, err := h.ids.Next()
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	channelID, err := h.ids.Next()
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	g, err := h.guilds.Create(c, guild.CreateParams{
		ID:               guildID,
		Name:             name,
		OwnerID:          userID,
		DefaultChannelID: channelID,
	}, h.maxGuilds)
	if err != nil {
		return h.mapGuildError(c, err)
	}

	aggregate, err := h.guildAggregate(c, g)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "guild").Msg("load guild aggregate failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	h.dispatcher.AddMember(userID, g.ID)
	h.dispatcher.SendTo(userID, event.New(event.TypeGuildCreate, aggregate))

	return httputil.SuccessStatus(c, fiber.StatusCreated, g.ToEvent())
}

// GetGuild handles GET /api/v1/guilds/:guildID.
func (h *GuildHandler) GetGuild(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	guildID, ok := paramID(c, "guildID")
	if !ok {
		return nil
	}

	if ok, err := h.requireMember(c, guildID, userID); !ok {
		return err
	}

	g, err := h.guilds.GetByID(c, guildID)
	if err != nil {
		return h.mapGuildError(c, err)
	}
	return httputil.Success(c, g.ToEvent())
}

// UpdateGuild handles PATCH /api/v1/guilds/:guildID. Owner only; the rename is broadcast to the guild.
func (h *GuildHandler) UpdateGuild(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	guildID, ok := paramID(c, "guildID")
	if !ok {
		return nil
	}

	var body updateGuildRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	name, err := guild.ValidateName(body.Name)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())
	}

	if ok, err := h.requireOwner(c, guildID, userID); !ok {
		return err
	}

	g, err := h.guilds.UpdateName(c, guildID, name)
	if err != nil {
		return h.mapGuildError(c, err)
	}

	ev := g.ToEvent()
	h.dispatcher.Dispatch(event.New(event.TypeGuildUpdate, &ev), gateway.ToGuild(g.ID))

	return httputil.Success(c, ev)
}

// DeleteGuild handles DELETE /api/v1/guilds/:guildID. Owner only. The removal event is dispatched before the member
// cache entries are pruned so it still reaches every connected member.
func (h *GuildHandler) DeleteGuild(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	guildID, ok := paramID(c, "guildID")
	if !ok {
		return nil
	}

	if ok, err := h.requireOwner(c, guildID, userID); !ok {
		return err
	}

	members, err := h.members.ListByGuild(c, guildID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "guild").Msg("list members before delete failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	if err := h.guilds.Delete(c, guildID); err != nil {
		return h.mapGuildError(c, err)
	}

	// FIFO instruction order guarantees the broadcast resolves its targets before the cache prunes.
	h.dispatcher.Dispatch(event.New(event.TypeGuildRemove, &event.GuildRemoveData{GuildID: guildID}), gateway.ToGuild(guildID))
	for i := range members {
		h.dispatcher.RemoveMember(members[i].UserID, guildID)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// guildAggregate assembles the full GUILD_CREATE payload for a guild.
func (h *GuildHandler) guildAggregate(c fiber.Ctx, g *guild.Guild) (*event.GuildCreateData, error) {
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

// requireMember writes a 403 response and returns false when the user is not a member of the guild.
func (h *GuildHandler) requireMember(c fiber.Ctx, guildID, userID snowflake.ID) (bool, error) {
	isMember, err := h.members.IsMember(c, guildID, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "guild").Msg("membership check failed")
		return false, httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if !isMember {
		return false, httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You are not a member of this guild")
	}
	return true, nil
}

// requireOwner writes a 403 response and returns false when the user does not own the guild.
func (h *GuildHandler) requireOwner(c fiber.Ctx, guildID, userID snowflake.ID) (bool, error) {
	g, err := h.guilds.GetByID(c, guildID)
	if err != nil {
		return false, h.mapGuildError(c, err)
	}
	if g.OwnerID != userID {
		return false, httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "Only the guild owner can do this")
	}
	return true, nil
}

// mapGuildError converts guild-layer errors to appropriate HTTP responses.
func (h *GuildHandler) mapGuildError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, guild.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Guild not found")
	case errors.Is(err, guild.ErrMaxGuildsReached):
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "guild").Msg("unhandled guild repository error")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}
