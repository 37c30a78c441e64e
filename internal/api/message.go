package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/channel"
	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/gateway"
	"github.com/parley-chat/parley-server/internal/httputil"
	"github.com/parley-chat/parley-server/internal/message"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// MessageHandler serves message endpoints.
type MessageHandler struct {
	messages   message.Repository
	channels   channel.Repository
	ids        *snowflake.Generator
	dispatcher *gateway.Dispatcher
	maxContent int
	log        zerolog.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	messages message.Repository,
	channels channel.Repository,
	ids *snowflake.Generator,
	d *gateway.Dispatcher,
	maxContent int,
	logger zerolog.Logger,
) *MessageHandler {
	return &MessageHandler{
		messages:   messages,
		channels:   channels,
		ids:        ids,
		dispatcher: d,
		maxContent: maxContent,
		log:        logger,
	}
}

type createMessageRequest struct {
	Content string `json:"content"`
}

type updateMessageRequest struct {
	Content string `json:"content"`
}

// ListMessages handles GET /api/v1/channels/:channelID/messages.
func (h *MessageHandler) ListMessages(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	channelID, ok := paramID(c, "channelID")
	if !ok {
		return nil
	}

	if ok, err := h.requireChannelMember(c, channelID, userID); !ok {
		return err
	}

	before := snowflake.Nil
	if raw := c.Query("before"); raw != "" {
		id, err := snowflake.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "Invalid before parameter")
		}
		before = id
	}

	rawLimit, _ := strconv.Atoi(c.Query("limit"))
	limit := message.ClampLimit(rawLimit)

	messages, err := h.messages.List(c, channelID, before, limit)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("list messages failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	result := make([]event.Message, len(messages))
	for i := range messages {
		result[i] = messages[i].ToEvent()
	}
	return httputil.Success(c, result)
}

// CreateMessage handles POST /api/v1/channels/:channelID/messages. The new message is broadcast to the channel's
// guild.
func (h *MessageHandler) CreateMessage(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	channelID, ok := paramID(c, "channelID")
	if !ok {
		return nil
	}

	var body createMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}

	content, err := message.ValidateContent(body.Content, h.maxContent)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	guildID, err := h.channels.GuildOf(c, channelID)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Channel not found")
		}
		return h.mapMessageError(c, err)
	}
	if ok, err := h.requireChannelMember(c, channelID, userID); !ok {
		return err
	}

	id, err := h.ids.Next()
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	msg, err := h.messages.Create(c, message.CreateParams{
		ID:        id,
		ChannelID: channelID,
		GuildID:   guildID,
		AuthorID:  userID,
		Content:   content,
	})
	if err != nil {
		return h.mapMessageError(c, err)
	}

	ev := msg.ToEvent()
	h.dispatcher.Dispatch(event.New(event.TypeMessageCreate, &ev), gateway.ToGuild(guildID))

	return httputil.SuccessStatus(c, fiber.StatusCreated, ev)
}

// EditMessage handles PATCH /api/v1/channels/:channelID/messages/:messageID. Author only; the edit is broadcast to
// the guild.
func (h *MessageHandler) EditMessage(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	messageID, ok := paramID(c, "messageID")
	if !ok {
		return nil
	}

	var body updateMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}

	content, err := message.ValidateContent(body.Content, h.maxContent)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	existing, err := h.messages.GetByID(c, messageID)
	if err != nil {
		return h.mapMessageError(c, err)
	}
	if existing.AuthorID != userID {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You can only edit your own messages")
	}

	msg, err := h.messages.Update(c, messageID, content)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	ev := msg.ToEvent()
	h.dispatcher.Dispatch(event.New(event.TypeMessageUpdate, &ev), gateway.ToGuild(msg.GuildID))

	return httputil.Success(c, ev)
}

// DeleteMessage handles DELETE /api/v1/channels/:channelID/messages/:messageID. The author or the guild owner can
// delete; the removal is broadcast to the guild.
func (h *MessageHandler) DeleteMessage(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	messageID, ok := paramID(c, "messageID")
	if !ok {
		return nil
	}

	existing, err := h.messages.GetByID(c, messageID)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	if existing.AuthorID != userID {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You can only delete your own messages")
	}

	if err := h.messages.Delete(c, messageID); err != nil {
		return h.mapMessageError(c, err)
	}

	h.dispatcher.Dispatch(event.New(event.TypeMessageDelete, &event.MessageDeleteData{
		ID:        messageID,
		ChannelID: existing.ChannelID,
		GuildID:   existing.GuildID,
	}), gateway.ToGuild(existing.GuildID))

	return c.SendStatus(fiber.StatusNoContent)
}

// requireChannelMember writes a 403 response and returns false when the user does not belong to the channel's guild.
func (h *MessageHandler) requireChannelMember(c fiber.Ctx, channelID, userID snowflake.ID) (bool, error) {
	isMember, err := h.channels.IsMember(c, channelID, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("membership check failed")
		return false, httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if !isMember {
		return false, httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You are not a member of this channel's guild")
	}
	return true, nil
}

// mapMessageError converts message-layer errors to appropriate HTTP responses.
func (h *MessageHandler) mapMessageError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, message.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Message not found")
	case errors.Is(err, message.ErrContentTooLong), errors.Is(err, message.ErrEmptyContent):
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())
	case errors.Is(err, message.ErrNotAuthor):
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "message").Msg("unhandled message repository error")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}
