package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vpnradius/backend/internal/database"
	"github.com/vpnradius/backend/internal/models"
	"gorm.io/gorm"
)

// UserHandler manages RADIUS user accounts
type UserHandler struct{}

func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// List returns RADIUS users with pagination and optional search
func (h *UserHandler) List(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}

	query := database.DB.Model(&models.RadiusUser{})
	if search := c.Query("search"); search != "" {
		query = query.Where("username LIKE ?", "%"+search+"%")
	}

	var total int64
	query.Count(&total)

	var users []models.RadiusUser
	if err := query.Order("username ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch users",
		})
	}

	type userWithStatus struct {
		models.RadiusUser
		Status string `json:"status"`
	}
	result := make([]userWithStatus, len(users))
	for i := range users {
		result[i] = userWithStatus{RadiusUser: users[i], Status: users[i].StatusLabel()}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    result,
		"total":   total,
		"page":    page,
	})
}

// Get returns a single RADIUS user
func (h *UserHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid user ID",
		})
	}

	var user models.RadiusUser
	if err := database.DB.First(&user, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    user,
		"status":  user.StatusLabel(),
	})
}

// CreateUserRequest represents create user request
type CreateUserRequest struct {
	Username              string     `json:"username"`
	Password              string     `json:"password"`
	CleartextPassword     bool       `json:"cleartext_password"`
	MaxConcurrentSessions int        `json:"max_concurrent_sessions"`
	ExpirationDate        *time.Time `json:"expiration_date"`
	AllowedTraffic        *int64     `json:"allowed_traffic"`
	Notes                 string     `json:"notes"`
}

// Create creates a new RADIUS user
func (h *UserHandler) Create(c *fiber.Ctx) error {
	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Username and password are required",
		})
	}

	var existingCount int64
	database.DB.Model(&models.RadiusUser{}).Where("username = ?", req.Username).Count(&existingCount)
	if existingCount > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "User with this username already exists",
		})
	}

	user := models.RadiusUser{
		Username:              req.Username,
		MaxConcurrentSessions: req.MaxConcurrentSessions,
		ExpirationDate:        req.ExpirationDate,
		AllowedTraffic:        req.AllowedTraffic,
		Notes:                 req.Notes,
		IsActive:              true,
	}
	if user.MaxConcurrentSessions < 1 {
		user.MaxConcurrentSessions = 1
	}
	user.RemainingSessions = user.MaxConcurrentSessions

	if err := user.SetPassword(req.Password, req.CleartextPassword); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to hash password",
		})
	}

	if err := database.DB.Create(&user).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to create user",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "User created successfully",
		"data":    user,
	})
}

// UpdateUserRequest represents update user request. Pointer fields
// distinguish "not sent" from zero values.
type UpdateUserRequest struct {
	Password              *string    `json:"password"`
	CleartextPassword     bool       `json:"cleartext_password"`
	MaxConcurrentSessions *int       `json:"max_concurrent_sessions"`
	ExpirationDate        *time.Time `json:"expiration_date"`
	ClearExpiration       bool       `json:"clear_expiration"`
	AllowedTraffic        *int64     `json:"allowed_traffic"`
	ClearAllowedTraffic   bool       `json:"clear_allowed_traffic"`
	IsActive              *bool      `json:"is_active"`
	Notes                 *string    `json:"notes"`
}

// Update updates a RADIUS user
func (h *UserHandler) Update(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid user ID",
		})
	}

	var user models.RadiusUser
	if err := database.DB.First(&user, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}

	var req UpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	updates := make(map[string]interface{})

	if req.Password != nil && *req.Password != "" {
		if err := user.SetPassword(*req.Password, req.CleartextPassword); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": "Failed to hash password",
			})
		}
		updates["password_hash"] = user.PasswordHash
	}
	if req.MaxConcurrentSessions != nil {
		max := *req.MaxConcurrentSessions
		if max < 1 {
			max = 1
		}
		remaining := max - user.CurrentSessions
		if remaining < 0 {
			remaining = 0
		}
		updates["max_concurrent_sessions"] = max
		updates["remaining_sessions"] = remaining
	}
	if req.ClearExpiration {
		updates["expiration_date"] = nil
	} else if req.ExpirationDate != nil {
		updates["expiration_date"] = req.ExpirationDate
	}
	if req.ClearAllowedTraffic {
		updates["allowed_traffic"] = nil
	} else if req.AllowedTraffic != nil {
		updates["allowed_traffic"] = *req.AllowedTraffic
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}

	if len(updates) > 0 {
		if err := database.DB.Model(&user).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": "Failed to update user",
			})
		}
	}

	database.DB.First(&user, id)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "User updated successfully",
		"data":    user,
	})
}

// ResetTraffic zeroes the user's cumulative traffic counters, re-opening
// a quota-blocked account
func (h *UserHandler) ResetTraffic(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid user ID",
		})
	}

	var user models.RadiusUser
	if err := database.DB.First(&user, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}

	if err := database.DB.Model(&user).Updates(map[string]interface{}{
		"rx_traffic":    0,
		"tx_traffic":    0,
		"total_traffic": 0,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to reset traffic",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Traffic counters reset",
	})
}

// Delete removes a RADIUS user and their session history
func (h *UserHandler) Delete(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid user ID",
		})
	}

	var user models.RadiusUser
	if err := database.DB.First(&user, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}

	var activeCount int64
	database.DB.Model(&models.RadiusSession{}).
		Where("username = ? AND status = ?", user.Username, models.SessionStatusActive).
		Count(&activeCount)
	if activeCount > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Cannot delete user with active sessions",
		})
	}

	if err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("username = ?", user.Username).Delete(&models.RadiusSession{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to delete user",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "User deleted successfully",
	})
}
