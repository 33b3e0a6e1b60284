package settings

// DB config keys and defaults for settings.
const (
	// ServerVersionKey is the DB config key for the reported server version.
	ServerVersionKey = "SERVER_VERSION"
	// MinClientVersionKey is the DB config key for the oldest allowed client version.
	MinClientVersionKey = "MIN_CLIENT_VERSION"
	// UpdateMessageKey is the DB config key for the forced-update message.
	UpdateMessageKey = "UPDATE_MESSAGE"
	// AccountExpiryDaysKey overrides the idle expiry for unused accounts.
	AccountExpiryDaysKey = "ACCOUNT_EXPIRY_DAYS"
	// RateLimitKey controls the client API rate limit per second per IP.
	RateLimitKey = "RATE_LIMIT"
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"

	// DefaultServerVersion is the fallback reported server version.
	DefaultServerVersion = "1.0.0"
	// DefaultMinClientVersion is the fallback minimum client version.
	DefaultMinClientVersion = "1.0.0"
	// DefaultUpdateMessage is the fallback forced-update message.
	DefaultUpdateMessage = "A new version is available, please update"
	// DefaultAccountExpiryDays is the fallback idle expiry for unused accounts.
	DefaultAccountExpiryDays = 6
	// DefaultRateLimit is the fallback rate limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "acp:rl"
)
