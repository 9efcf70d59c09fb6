package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type PlatformHandler struct {
	ps        service.PlatformService
	publisher service.PublisherService
}

func NewPlatformHandler(ps service.PlatformService, publisher service.PublisherService) *PlatformHandler {
	return &PlatformHandler{
		ps:        ps,
		publisher: publisher,
	}
}

func (h *PlatformHandler) ListSocialAccounts(c *fiber.Ctx) error {
	accountList, err := h.ps.List(c.Context(), GetUserID(c))
	if err != nil {
		return Fail(c, err, "Failed to fetch social accounts")
	}
	if accountList == nil {
		accountList = []*models.SocialAccount{}
	}
	return c.Status(fiber.StatusOK).JSON(accountList)
}

// ConnectAccount stores tokens obtained by the client's OAuth flow.
func (h *PlatformHandler) ConnectAccount(c *fiber.Ctx) error {
	var req transfer.AccountConnection
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	account, err := h.ps.Connect(c.Context(), GetUserID(c), &req)
	if err != nil {
		return Fail(c, err, "Unable to connect social account")
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

func (h *PlatformHandler) DeleteSocialAccount(c *fiber.Ctx) error {
	if err := h.ps.Delete(c.Context(), GetUserID(c), c.Params("platform")); err != nil {
		return Fail(c, err, "Unable to delete social account")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CheckConnections pings every registered platform with the credential a
// publish would use.
func (h *PlatformHandler) CheckConnections(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.publisher.TestConnections(c.Context(), GetUserID(c)))
}
