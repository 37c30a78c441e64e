package api

import (
	"github.com/gofiber/fiber/v3"

	"github.com/parley-chat/parley-server/internal/httputil"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// paramID parses a snowflake route parameter. On failure it writes a 400 response and returns false.
func paramID(c fiber.Ctx, name string) (snowflake.ID, bool) {
	id, err := snowflake.Parse(c.Params(name))
	if err != nil {
		_ = httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid "+name+" format")
		return snowflake.Nil, false
	}
	return id, true
}

// currentUserID reads the authenticated user ID stored by the auth middleware. On failure it writes a 401 response
// and returns false.
func currentUserID(c fiber.Ctx) (snowflake.ID, bool) {
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		_ = httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing user identity")
		return snowflake.Nil, false
	}
	return userID, true
}
