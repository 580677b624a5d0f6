package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/vpnradius/backend/internal/database"
	"github.com/vpnradius/backend/internal/models"
)

// LogHandler exposes the radius_logs table, newest first
type LogHandler struct{}

func NewLogHandler() *LogHandler {
	return &LogHandler{}
}

// List returns log entries with optional level and logger filters
func (h *LogHandler) List(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "100"))
	if perPage < 1 || perPage > 1000 {
		perPage = 100
	}

	query := database.DB.Model(&models.RadiusLog{})
	if level := c.Query("level"); level != "" {
		query = query.Where("level = ?", level)
	}
	if logger := c.Query("logger"); logger != "" {
		query = query.Where("logger = ?", logger)
	}

	var total int64
	query.Count(&total)

	var logs []models.RadiusLog
	if err := query.Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&logs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch logs",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    logs,
		"total":   total,
		"page":    page,
	})
}
