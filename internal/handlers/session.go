package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/vpnradius/backend/internal/database"
	"github.com/vpnradius/backend/internal/models"
)

// SessionHandler exposes read-only access to session state. Sessions are
// written exclusively by the RADIUS accounting path; the API never
// mutates them.
type SessionHandler struct{}

func NewSessionHandler() *SessionHandler {
	return &SessionHandler{}
}

// List returns sessions with optional filters
func (h *SessionHandler) List(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}

	query := database.DB.Model(&models.RadiusSession{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if username := c.Query("username"); username != "" {
		query = query.Where("username = ?", username)
	}
	if nasIP := c.Query("nas_ip"); nasIP != "" {
		query = query.Where("nas_ip_address = ?", nasIP)
	}

	var total int64
	query.Count(&total)

	var sessions []models.RadiusSession
	if err := query.Order("start_time DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&sessions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch sessions",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    sessions,
		"total":   total,
		"page":    page,
	})
}

// Get returns a single session with a readable terminate cause
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid session ID",
		})
	}

	var session models.RadiusSession
	if err := database.DB.First(&session, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Session not found",
		})
	}

	causeName := ""
	if session.TerminateCause != nil {
		causeName = models.TerminateCauseName(*session.TerminateCause)
	}

	return c.JSON(fiber.Map{
		"success":              true,
		"data":                 session,
		"terminate_cause_name": causeName,
	})
}
