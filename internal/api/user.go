package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/gateway"
	"github.com/parley-chat/parley-server/internal/httputil"
	"github.com/parley-chat/parley-server/internal/presence"
	"github.com/parley-chat/parley-server/internal/user"
)

// UserHandler serves the current-user endpoints.
type UserHandler struct {
	users      user.Repository
	presence   *presence.Store
	dispatcher *gateway.Dispatcher
	log        zerolog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users user.Repository, store *presence.Store, d *gateway.Dispatcher, logger zerolog.Logger) *UserHandler {
	return &UserHandler{users: users, presence: store, dispatcher: d, log: logger}
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name"`
}

type updatePresenceRequest struct {
	Presence int `json:"presence"`
}

// Me handles GET /api/v1/users/@me.
func (h *UserHandler) Me(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	u, err := h.users.GetByID(c, userID)
	if err != nil {
		return h.mapUserError(c, err)
	}
	return httputil.Success(c, u.ToEvent())
}

// UpdateMe handles PATCH /api/v1/users/@me.
func (h *UserHandler) UpdateMe(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	var body updateUserRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	if err := user.ValidateDisplayName(body.DisplayName); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())
	}

	u, err := h.users.Update(c, userID, user.UpdateParams{DisplayName: body.DisplayName})
	if err != nil {
		return h.mapUserError(c, err)
	}
	return httputil.Success(c, u.ToEvent())
}

// UpdatePresence handles PATCH /api/v1/users/@me/presence. The new status is stored and broadcast to every guild the
// user shares with someone, including the user's own sessions.
func (h *UserHandler) UpdatePresence(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return nil
	}

	var body updatePresenceRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}

	status := presence.FromInt(body.Presence)
	if err := h.presence.Set(c, userID, status); err != nil {
		h.log.Error().Err(err).Str("handler", "user").Msg("store presence failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	h.dispatcher.Dispatch(event.New(event.TypePresenceUpdate, &event.PresenceUpdateData{
		UserID:   userID,
		Presence: status,
	}), gateway.ToMutualGuilds(userID))

	return httputil.Success(c, fiber.Map{"presence": status})
}

// mapUserError converts user-layer errors to appropriate HTTP responses.
func (h *UserHandler) mapUserError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, user.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "User not found")
	default:
		h.log.Error().Err(err).Str("handler", "user").Msg("unhandled user repository error")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}
