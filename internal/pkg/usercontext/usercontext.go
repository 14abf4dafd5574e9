package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext identifies the caller of a request. It is derived from a
// verified access token and never from request parameters.
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

// Set stores the caller for downstream handlers.
func Set(c *fiber.Ctx, u UserContext) {
	c.Locals(KeyUserContext, u)
	c.Locals(KeyUserID, u.UserID)
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

// IsAdminRequest reports whether the request passed the admin API key check.
func IsAdminRequest(c *fiber.Ctx) bool {
	v, ok := c.Locals(KeyAdmin).(bool)
	return ok && v
}
