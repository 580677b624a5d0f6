package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vpnradius/backend/internal/database"
	"github.com/vpnradius/backend/internal/models"
)

// StatsHandler serves the sampled time-series and a live dashboard summary
type StatsHandler struct{}

func NewStatsHandler() *StatsHandler {
	return &StatsHandler{}
}

// statsWindow parses the ?hours= query, defaulting to 24
func statsWindow(c *fiber.Ctx) time.Time {
	hours, _ := strconv.Atoi(c.Query("hours", "24"))
	if hours < 1 || hours > 24*30 {
		hours = 24
	}
	return time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
}

// ServerSessions returns the server-wide active session series
func (h *StatsHandler) ServerSessions(c *fiber.Ctx) error {
	var rows []models.StatsServerActiveSessions
	if err := database.DB.Where("timestamp >= ?", statsWindow(c)).
		Order("timestamp ASC").Find(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch statistics",
		})
	}
	return c.JSON(fiber.Map{"success": true, "data": rows})
}

// ServerTraffic returns the server-wide traffic series
func (h *StatsHandler) ServerTraffic(c *fiber.Ctx) error {
	var rows []models.StatsServerTotalTraffic
	if err := database.DB.Where("timestamp >= ?", statsWindow(c)).
		Order("timestamp ASC").Find(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch statistics",
		})
	}
	return c.JSON(fiber.Map{"success": true, "data": rows})
}

// UserSessions returns the active session series for one user
func (h *StatsHandler) UserSessions(c *fiber.Ctx) error {
	username := c.Params("username")
	var rows []models.StatsUserActiveSessions
	if err := database.DB.Where("username = ? AND timestamp >= ?", username, statsWindow(c)).
		Order("timestamp ASC").Find(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch statistics",
		})
	}
	return c.JSON(fiber.Map{"success": true, "data": rows})
}

// UserTraffic returns the traffic series for one user
func (h *StatsHandler) UserTraffic(c *fiber.Ctx) error {
	username := c.Params("username")
	var rows []models.StatsUserTotalTraffic
	if err := database.DB.Where("username = ? AND timestamp >= ?", username, statsWindow(c)).
		Order("timestamp ASC").Find(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch statistics",
		})
	}
	return c.JSON(fiber.Map{"success": true, "data": rows})
}

// Dashboard returns live headline numbers, read directly from the store
// rather than the sampled series
func (h *StatsHandler) Dashboard(c *fiber.Ctx) error {
	var activeSessions int64
	database.DB.Model(&models.RadiusSession{}).
		Where("status = ?", models.SessionStatusActive).
		Count(&activeSessions)

	var totalUsers int64
	database.DB.Model(&models.RadiusUser{}).Count(&totalUsers)

	var activeUsers int64
	database.DB.Model(&models.RadiusUser{}).Where("is_active = ?", true).Count(&activeUsers)

	var nasCount int64
	database.DB.Model(&models.NASClient{}).Where("is_active = ?", true).Count(&nasCount)

	var totals struct {
		Rx    int64
		Tx    int64
		Total int64
	}
	database.DB.Model(&models.RadiusUser{}).
		Select("COALESCE(SUM(rx_traffic), 0) AS rx, COALESCE(SUM(tx_traffic), 0) AS tx, COALESCE(SUM(total_traffic), 0) AS total").
		Scan(&totals)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"active_sessions": activeSessions,
			"total_users":     totalUsers,
			"active_users":    activeUsers,
			"nas_clients":     nasCount,
			"total_rx":        totals.Rx,
			"total_tx":        totals.Tx,
			"total_traffic":   totals.Total,
		},
	})
}
