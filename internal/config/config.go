package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis (NAS registry cache)
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// JWT (admin API)
	JWTSecret      string
	JWTExpireHours int

	// API
	APIPort int

	// RADIUS
	BindAddress string
	AuthPort    int
	AcctPort    int
	LogLevel    string

	// Echoed to the NAS in Access-Accept (Acct-Interim-Interval, seconds)
	AcctInterimInterval int
	// An active session with no update for AcctInterimInterval*StaleSessionMultiplier
	// seconds is considered dead
	StaleSessionMultiplier int

	// Retention
	MaxInactiveSessions int
	RadiusLogRetention  int

	// Scheduler intervals (seconds)
	SessionBufferFlushInterval int
	DeadSessionInterval        int
	InactiveSessionInterval    int
	LogCleanupInterval         int
	StatsInterval              int
}

// generateSecureSecret generates a cryptographically secure random secret
func generateSecureSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return hex.EncodeToString([]byte(os.Getenv("HOSTNAME") + string(rune(length))))
	}
	return hex.EncodeToString(bytes)
}

func Load() *Config {
	// JWT Secret - generate random if not provided
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateSecureSecret(32)
		log.Println("WARNING: JWT_SECRET not set - generated random secret. Admin sessions will not persist across restarts.")
	}

	dbPassword := getEnv("DB_PASSWORD", "")
	if dbPassword == "" {
		log.Println("WARNING: DB_PASSWORD not set - this is insecure for production!")
		dbPassword = "changeme"
	}

	redisPassword := getEnv("REDIS_PASSWORD", "")
	if redisPassword == "" {
		log.Println("WARNING: REDIS_PASSWORD not set - Redis is not secured!")
	}

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "vpnradius"),
		DBPassword: dbPassword,
		DBName:     getEnv("DB_NAME", "vpnradius"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: redisPassword,

		// JWT
		JWTSecret:      jwtSecret,
		JWTExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 168),

		// API
		APIPort: getEnvInt("API_PORT", 8080),

		// RADIUS
		BindAddress: getEnv("BIND_ADDRESS", "0.0.0.0"),
		AuthPort:    getEnvInt("AUTH_PORT", 1812),
		AcctPort:    getEnvInt("ACCT_PORT", 1813),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),

		AcctInterimInterval:    getEnvInt("ACCT_INTERIM_INTERVAL", 600),
		StaleSessionMultiplier: getEnvInt("STALE_SESSION_MULTIPLIER", 5),

		MaxInactiveSessions: getEnvInt("MAX_INACTIVE_SESSIONS", 100),
		RadiusLogRetention:  getEnvInt("RADIUS_LOG_RETENTION", 10000),

		SessionBufferFlushInterval: getEnvInt("SESSION_BUFFER_FLUSH_INTERVAL", 5),
		DeadSessionInterval:        getEnvInt("DEAD_SESSION_INTERVAL", 300),
		InactiveSessionInterval:    getEnvInt("INACTIVE_SESSION_INTERVAL", 3600),
		LogCleanupInterval:         getEnvInt("LOG_CLEANUP_INTERVAL", 300),
		StatsInterval:              getEnvInt("STATS_INTERVAL", 300),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
