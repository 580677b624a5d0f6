package handlers

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pquerna/otp/totp"
	"github.com/vpnradius/backend/internal/config"
	"github.com/vpnradius/backend/internal/database"
	"github.com/vpnradius/backend/internal/middleware"
	"github.com/vpnradius/backend/internal/models"
)

// LoginAttempt tracks failed login attempts per IP
type LoginAttempt struct {
	Count     int
	LastTry   time.Time
	BlockedAt *time.Time
}

const (
	maxLoginAttempts = 5
	blockDuration    = 15 * time.Minute
)

var (
	loginAttempts = make(map[string]*LoginAttempt)
	attemptsMutex sync.RWMutex
)

// isIPBlocked checks if IP has too many failed attempts
func isIPBlocked(ip string) (bool, int) {
	attemptsMutex.RLock()
	attempt, exists := loginAttempts[ip]
	attemptsMutex.RUnlock()

	if !exists {
		return false, 0
	}

	if attempt.BlockedAt != nil {
		if time.Since(*attempt.BlockedAt) < blockDuration {
			remaining := int(blockDuration.Minutes() - time.Since(*attempt.BlockedAt).Minutes())
			return true, remaining
		}
		// Block expired, reset
		attemptsMutex.Lock()
		delete(loginAttempts, ip)
		attemptsMutex.Unlock()
		return false, 0
	}

	// Reset after a quiet period
	if time.Since(attempt.LastTry) > blockDuration {
		attemptsMutex.Lock()
		delete(loginAttempts, ip)
		attemptsMutex.Unlock()
		return false, 0
	}

	return attempt.Count >= maxLoginAttempts, 0
}

// recordFailedAttempt records a failed login attempt
func recordFailedAttempt(ip string) {
	attemptsMutex.Lock()
	defer attemptsMutex.Unlock()

	if _, exists := loginAttempts[ip]; !exists {
		loginAttempts[ip] = &LoginAttempt{}
	}

	loginAttempts[ip].Count++
	loginAttempts[ip].LastTry = time.Now()

	if loginAttempts[ip].Count >= maxLoginAttempts {
		now := time.Now()
		loginAttempts[ip].BlockedAt = &now
	}
}

// clearFailedAttempts clears failed attempts on successful login
func clearFailedAttempts(ip string) {
	attemptsMutex.Lock()
	defer attemptsMutex.Unlock()
	delete(loginAttempts, ip)
}

type AuthHandler struct {
	cfg *config.Config
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{cfg: cfg}
}

// LoginRequest represents login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

// Login authenticates an admin user and returns a JWT
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if blocked, remaining := isIPBlocked(c.IP()); blocked {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"success": false,
			"message": "Too many failed attempts. Try again in " + strconv.Itoa(remaining) + " minutes",
		})
	}

	var req LoginRequest
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

	var user models.AdminUser
	if err := database.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		recordFailedAttempt(c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Invalid credentials",
		})
	}

	if !user.IsActive {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Account is disabled",
		})
	}

	if !user.CheckPassword(req.Password) {
		recordFailedAttempt(c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Invalid credentials",
		})
	}

	// Second factor when enrolled
	if user.TOTPSecret != "" {
		if req.TOTPCode == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success":       false,
				"message":       "Two-factor code required",
				"totp_required": true,
			})
		}
		if !totp.Validate(req.TOTPCode, user.TOTPSecret) {
			recordFailedAttempt(c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid two-factor code",
			})
		}
	}

	clearFailedAttempts(c.IP())

	token, err := middleware.GenerateToken(&user, h.cfg)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to generate token",
		})
	}

	now := time.Now().UTC()
	database.DB.Model(&user).Update("last_login", &now)

	user.HasTOTP = user.TOTPSecret != ""
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Login successful",
		"data": fiber.Map{
			"token": token,
			"user":  user,
		},
	})
}

// Me returns the current admin user
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Not authenticated",
		})
	}
	user.HasTOTP = user.TOTPSecret != ""
	return c.JSON(fiber.Map{
		"success": true,
		"data":    user,
	})
}

// SetupTOTP generates a new TOTP secret for the current admin. The secret
// only becomes active once confirmed with a valid code.
func (h *AuthHandler) SetupTOTP(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Not authenticated",
		})
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "vpnradius",
		AccountName: user.Username,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to generate TOTP secret",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"secret": key.Secret(),
			"url":    key.URL(),
		},
	})
}

// ConfirmTOTPRequest carries the pending secret and a proof code
type ConfirmTOTPRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// ConfirmTOTP verifies a code against the pending secret and enables 2FA
func (h *AuthHandler) ConfirmTOTP(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Not authenticated",
		})
	}

	var req ConfirmTOTPRequest
	if err := c.BodyParser(&req); err != nil || req.Secret == "" || req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Secret and code are required",
		})
	}

	if !totp.Validate(req.Code, req.Secret) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid code",
		})
	}

	if err := database.DB.Model(user).Update("totp_secret", req.Secret).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to enable two-factor authentication",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Two-factor authentication enabled",
	})
}

// DisableTOTP removes the second factor from the current admin
func (h *AuthHandler) DisableTOTP(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Not authenticated",
		})
	}

	if err := database.DB.Model(user).Update("totp_secret", "").Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to disable two-factor authentication",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Two-factor authentication disabled",
	})
}
