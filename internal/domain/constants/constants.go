// Package constants holds string constants shared across layers.
package constants

// Environments
const (
	EnvDevelop    = "develop"
	EnvProduction = "production"
)

// Geo query provider backends
const (
	ProviderMemory   = "memory"
	ProviderRedis    = "redis"
	ProviderPostgres = "postgres"
)

// Change feed backends used to re-evaluate provider subscriptions
const (
	ChangeFeedTicker = "ticker"
	ChangeFeedRedis  = "redis"
	ChangeFeedGoogle = "google"
)

// DefaultLocationField is the stored field providers read coordinates from.
const DefaultLocationField = "location"
