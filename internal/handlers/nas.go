package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/vpnradius/backend/internal/database"
	"github.com/vpnradius/backend/internal/models"
	"github.com/vpnradius/backend/internal/radius"
)

// NasHandler manages the NAS client registry. Every mutation invalidates
// the registry cache so the RADIUS server picks up changes immediately.
type NasHandler struct {
	registry *radius.Registry
}

func NewNasHandler(registry *radius.Registry) *NasHandler {
	return &NasHandler{registry: registry}
}

// List returns all NAS clients
func (h *NasHandler) List(c *fiber.Ctx) error {
	var nasList []models.NASClient
	if err := database.DB.Order("identifier ASC").Find(&nasList).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch NAS clients",
		})
	}

	for i := range nasList {
		nasList[i].HasSecret = nasList[i].SharedSecret != ""
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    nasList,
	})
}

// Get returns a single NAS client with its active session count
func (h *NasHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid NAS ID",
		})
	}

	var nas models.NASClient
	if err := database.DB.First(&nas, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "NAS not found",
		})
	}

	var sessionCount int64
	database.DB.Model(&models.RadiusSession{}).
		Where("nas_ip_address = ? AND status = ?", nas.IPAddress, models.SessionStatusActive).
		Count(&sessionCount)

	nas.HasSecret = nas.SharedSecret != ""

	return c.JSON(fiber.Map{
		"success":         true,
		"data":            nas,
		"active_sessions": sessionCount,
	})
}

// CreateNasRequest represents create NAS request
type CreateNasRequest struct {
	Identifier   string `json:"identifier"`
	IPAddress    string `json:"ip_address"`
	SharedSecret string `json:"shared_secret"`
	AuthPort     int    `json:"auth_port"`
	AcctPort     int    `json:"acct_port"`
	Description  string `json:"description"`
}

// Create registers a new NAS client
func (h *NasHandler) Create(c *fiber.Ctx) error {
	var req CreateNasRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if req.Identifier == "" || req.IPAddress == "" || req.SharedSecret == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Identifier, IP address, and shared secret are required",
		})
	}

	var existingCount int64
	database.DB.Model(&models.NASClient{}).
		Where("identifier = ? AND ip_address = ?", req.Identifier, req.IPAddress).
		Count(&existingCount)
	if existingCount > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "NAS with this identifier and IP address already exists",
		})
	}

	nas := models.NASClient{
		Identifier:   req.Identifier,
		IPAddress:    req.IPAddress,
		SharedSecret: req.SharedSecret,
		AuthPort:     req.AuthPort,
		AcctPort:     req.AcctPort,
		Description:  req.Description,
		IsActive:     true,
	}

	if nas.AuthPort == 0 {
		nas.AuthPort = 1812
	}
	if nas.AcctPort == 0 {
		nas.AcctPort = 1813
	}

	if err := database.DB.Create(&nas).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to create NAS",
		})
	}

	h.registry.InvalidateAll(c.Context())

	nas.HasSecret = true
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "NAS created successfully",
		"data":    nas,
	})
}

// Update updates a NAS client
func (h *NasHandler) Update(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid NAS ID",
		})
	}

	var nas models.NASClient
	if err := database.DB.First(&nas, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "NAS not found",
		})
	}

	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	fieldMapping := map[string]string{
		"identifier":    "identifier",
		"ip_address":    "ip_address",
		"shared_secret": "shared_secret",
		"auth_port":     "auth_port",
		"acct_port":     "acct_port",
		"description":   "description",
		"is_active":     "is_active",
	}

	updates := make(map[string]interface{})
	for jsonField, dbColumn := range fieldMapping {
		if val, ok := req[jsonField]; ok {
			updates[dbColumn] = val
		}
	}

	if err := database.DB.Model(&nas).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to update NAS: " + err.Error(),
		})
	}

	h.registry.InvalidateAll(c.Context())

	database.DB.First(&nas, id)
	nas.HasSecret = nas.SharedSecret != ""

	return c.JSON(fiber.Map{
		"success": true,
		"message": "NAS updated successfully",
		"data":    nas,
	})
}

// Delete removes a NAS client. Its active sessions stay in the store and
// are eventually reaped by the dead session cleanup.
func (h *NasHandler) Delete(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid NAS ID",
		})
	}

	var nas models.NASClient
	if err := database.DB.First(&nas, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "NAS not found",
		})
	}

	if err := database.DB.Delete(&nas).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to delete NAS",
		})
	}

	h.registry.InvalidateAll(c.Context())

	return c.JSON(fiber.Map{
		"success": true,
		"message": "NAS deleted successfully",
	})
}
