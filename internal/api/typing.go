package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/channel"
	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/gateway"
	"github.com/parley-chat/parley-server/internal/httputil"
	"github.com/parley-chat/parley-server/internal/presence"
)

// TypingHandler serves the REST typing indicator endpoint. It shares the Valkey dedup window with the WebSocket
// typing path, so mixing the two transports never double-announces.
type TypingHandler struct {
	channels   channel.Repository
	presence   *presence.Store
	dispatcher *gateway.Dispatcher
	log        zerolog.Logger
}

// NewTypingHandler creates a new typing handler.
func NewTypingHandler(channels channel.Repository, store *presence.Store, d *gateway.Dispatcher, logger zerolog.Logger) *TypingHandler {
	return &TypingHandler{channels: channels, presence: store, dispatcher: d, log: logger}
}

// StartTyping handles POST /api/v1/channels/:channelID/typing.
func (h *TypingHandler) StartTyping(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	channelID, ok := paramID(c, "channelID")
	if !ok {
		return nil
	}

	guildID, err := h.channels.GuildOf(c, channelID)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Channel not found")
		}
		h.log.Error().Err(err).Str("handler", "typing").Msg("channel lookup failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	isMember, err := h.channels.IsMember(c, channelID, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "typing").Msg("membership check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You are not a member of this channel's guild")
	}

	created, err := h.presence.SetTyping(c, channelID, userID)
	if err != nil {
		h.log.Warn().Err(err).Str("handler", "typing").Msg("typing dedup failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	if created {
		h.dispatcher.Dispatch(event.New(event.TypeTypingStart, &event.TypingStartData{
			UserID:    userID,
			ChannelID: channelID,
		}), gateway.ToGuild(guildID))
	}

	return c.SendStatus(fiber.StatusNoContent)
}
