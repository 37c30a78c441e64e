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

// ChannelHandler serves channel endpoints.
type ChannelHandler struct {
	channels    channel.Repository
	guilds      guild.Repository
	members     member.Repository
	ids         *snowflake.Generator
	dispatcher  *gateway.Dispatcher
	maxChannels int
	log         zerolog.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(
	channels channel.Repository,
	guilds guild.Repository,
	members member.Repository,
	ids *snowflake.Generator,
	d *gateway.Dispatcher,
	maxChannelsPerGuild int,
	logger zerolog.Logger,
) *ChannelHandler {
	return &ChannelHandler{
		channels:    channels,
		guilds:      guilds,
		members:     members,
		ids:         ids,
		dispatcher:  d,
		maxChannels: maxChannelsPerGuild,
		log:         logger,
	}
}

type createChannelRequest struct {
	Name  string  `json:"name"`
	Topic *string `json:"topic"`
}

// ListChannels handles GET /api/v1/guilds/:guildID/channels.
func (h *ChannelHandler) ListChannels(c fiber.Ctx) error {
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
		h.log.Error().Err(err).Str("handler", "channel").Msg("membership check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You are not a member of this guild")
	}

	channels, err := h.channels.ListByGuild(c, guildID)
	if err != nil {
		return h.mapChannelError(c, err)
	}

	result := make([]event.Channel, len(channels))
	for i := range channels {
		result[i] = channels[i].ToEvent()
	}
	return httputil.Success(c, result)
}

// CreateChannel handles POST /api/v1/guilds/:guildID/channels. Owner only; the new channel is broadcast to the guild.
func (h *ChannelHandler) CreateChannel(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	guildID, ok := paramID(c, "guildID")
	if !ok {
		return nil
	}

	var body createChannelRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	name, err := channel.ValidateName(body.Name)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())
	}
	if err := channel.ValidateTopic(body.Topic); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())
	}

	if ok, err := h.requireOwner(c, guildID, userID); !ok {
		return err
	}

	id, err := h.ids.Next()
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	ch, err := h.channels.Create(c, channel.CreateParams{
		ID:      id,
		GuildID: guildID,
		Name:    name,
		Topic:   body.Topic,
	}, h.maxChannels)
	if err != nil {
		return h.mapChannelError(c, err)
	}

	ev := ch.ToEvent()
	h.dispatcher.Dispatch(event.New(event.TypeChannelCreate, &ev), gateway.ToGuild(guildID))

	return httputil.SuccessStatus(c, fiber.StatusCreated, ev)
}

// DeleteChannel handles DELETE /api/v1/channels/:channelID. Owner only; the removal is broadcast to the guild.
func (h *ChannelHandler) DeleteChannel(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	channelID, ok := paramID(c, "channelID")
	if !ok {
		return nil
	}

	ch, err := h.channels.GetByID(c, channelID)
	if err != nil {
		return h.mapChannelError(c, err)
	}

	if ok, err := h.requireOwner(c, ch.GuildID, userID); !ok {
		return err
	}

	if err := h.channels.Delete(c, channelID); err != nil {
		return h.mapChannelError(c, err)
	}

	h.dispatcher.Dispatch(event.New(event.TypeChannelRemove, &event.ChannelRemoveData{
		ChannelID: channelID,
		GuildID:   ch.GuildID,
	}), gateway.ToGuild(ch.GuildID))

	return c.SendStatus(fiber.StatusNoContent)
}

// requireOwner writes a 403 response and returns false when the user does not own the guild.
func (h *ChannelHandler) requireOwner(c fiber.Ctx, guildID, userID snowflake.ID) (bool, error) {
	g, err := h.guilds.GetByID(c, guildID)
	if err != nil {
		if errors.Is(err, guild.ErrNotFound) {
			return false, httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Guild not found")
		}
		h.log.Error().Err(err).Str("handler", "channel").Msg("guild lookup failed")
		return false, httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if g.OwnerID != userID {
		return false, httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "Only the guild owner can do this")
	}
	return true, nil
}

// mapChannelError converts channel-layer errors to appropriate HTTP responses.
func (h *ChannelHandler) mapChannelError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, channel.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Channel not found")
	case errors.Is(err, channel.ErrMaxChannelsReached):
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "channel").Msg("unhandled channel repository error")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}
