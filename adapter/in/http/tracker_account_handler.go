package http

import (
	"github.com/gofiber/fiber/v2"

	"tracker_server/core/port/in"
	"tracker_server/pkg/apperr"
	"tracker_server/pkg/logger"
	"tracker_server/pkg/response"
)

// AccountHandler connects Gmail and registers push tokens.
type AccountHandler struct {
	accounts in.MailAccountService
}

func NewAccountHandler(accounts in.MailAccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// RegisterPublic mounts the OAuth callback, which Google calls without
// our bearer token.
func (h *AccountHandler) RegisterPublic(router fiber.Router) {
	router.Get("/google/callback", h.Callback)
}

func (h *AccountHandler) Register(router fiber.Router) {
	router.Get("/google", h.Connect)
	router.Post("/users/me/push-token", h.RegisterPushToken)
}

// Connect redirects the browser to Google's consent screen. Clients that
// want the URL instead pass ?redirect=false.
func (h *AccountHandler) Connect(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	authURL, err := h.accounts.ConnectURL(userID)
	if err != nil {
		return err
	}
	if c.QueryBool("redirect", true) {
		return c.Redirect(authURL, fiber.StatusFound)
	}
	return response.OK(c, fiber.Map{"auth_url": authURL})
}

func (h *AccountHandler) Callback(c *fiber.Ctx) error {
	if oauthErr := c.Query("error"); oauthErr != "" {
		logger.Warn("Google OAuth returned error: %s", oauthErr)
		return apperr.BadRequest("Google OAuth failed: " + oauthErr)
	}

	conn, err := h.accounts.CompleteConnect(c.UserContext(), c.Query("code"), c.Query("state"))
	if err != nil {
		return err
	}
	return c.SendString("Gmail connected (" + conn.Email + "). You may close this window.")
}

type pushTokenRequest struct {
	Token string `json:"token"`
	// ExpoToken is accepted from older clients.
	ExpoToken string `json:"expoToken"`
}

func (h *AccountHandler) RegisterPushToken(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	var req pushTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	token := req.Token
	if token == "" {
		token = req.ExpoToken
	}

	if err := h.accounts.RegisterPushToken(c.UserContext(), userID, token); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"token": token})
}
