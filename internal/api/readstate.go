package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/httputil"
	"github.com/parley-chat/parley-server/internal/snowflake"
	"github.com/parley-chat/parley-server/internal/user"
)

// ReadStateHandler serves the read marker acknowledgement endpoint.
type ReadStateHandler struct {
	readStates *user.Onboarding
	log        zerolog.Logger
}

// NewReadStateHandler creates a new read state handler.
func NewReadStateHandler(onboarding *user.Onboarding, logger zerolog.Logger) *ReadStateHandler {
	return &ReadStateHandler{readStates: onboarding, log: logger}
}

type ackRequest struct {
	MessageID string `json:"message_id"`
}

// Ack handles POST /api/v1/channels/:channelID/ack. It moves the user's read marker forward; stale acknowledgements
// are silently ignored.
func (h *ReadStateHandler) Ack(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}
	channelID, ok := paramID(c, "channelID")
	if !ok {
		return nil
	}

	var body ackRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	messageID, err := snowflake.Parse(body.MessageID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "Invalid message_id format")
	}

	if err := h.readStates.MarkRead(c, userID, channelID, messageID); err != nil {
		h.log.Error().Err(err).Str("handler", "readstate").Msg("mark read failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
