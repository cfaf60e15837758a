package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Outbound collaborator timeouts
const (
	BookingRequestTimeout = 10 * time.Second
	LockRequestTimeout    = 5 * time.Second
	NotifyRequestTimeout  = 5 * time.Second
)

// Ping timeouts for health checks
const (
	DBPingTimeout = 5 * time.Second
	KVPingTimeout = 3 * time.Second
)

// Admin alert throttle: one alert per interval with a small burst, so a
// flapping lock bridge cannot flood the admin contact.
const (
	AdminAlertInterval = 30 * time.Second
	AdminAlertBurst    = 3
)

// Request body cap for the public endpoints
const MaxBodyBytes = 64 * 1024
