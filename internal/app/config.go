package app

import (
	"time"

	"github.com/yungbote/dialbridge-backend/internal/pkg/envutil"
)

type Config struct {
	WebhookSecret       string
	CallbackURL         string
	AllowOrigins        []string
	StatusBus           string

	DispatchTick        time.Duration
	PlaceCallTimeout    time.Duration
	DispatchTimeout     time.Duration
	CallTimeout         time.Duration
	RateLimitCooldown   time.Duration
	GlobalCallsPerSec   float64
	GlobalCallsBurst    int

	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	DefaultRetryCeiling int

	ExtractionParallel  int
	CallbackTimeout     time.Duration
}

func LoadConfig() Config {
	return Config{
		WebhookSecret:       envutil.String("WEBHOOK_SECRET", ""),
		CallbackURL:         envutil.String("PUBLIC_BASE_URL", "http://localhost:8080") + "/webhooks/telephony/status",
		AllowOrigins:        nil,
		StatusBus:           envutil.String("STATUS_BUS", "memory"),

		DispatchTick:        envutil.Seconds("DISPATCH_TICK_SECONDS", 1*time.Second),
		PlaceCallTimeout:    envutil.Seconds("PLACE_CALL_TIMEOUT_SECONDS", 30*time.Second),
		DispatchTimeout:     envutil.Seconds("DISPATCH_TIMEOUT_SECONDS", 2*time.Minute),
		CallTimeout:         envutil.Seconds("CALL_TIMEOUT_SECONDS", 15*time.Minute),
		RateLimitCooldown:   envutil.Seconds("RATE_LIMIT_COOLDOWN_SECONDS", 30*time.Second),
		GlobalCallsPerSec:   envutil.Float("GLOBAL_CALLS_PER_SEC", 10),
		GlobalCallsBurst:    envutil.Int("GLOBAL_CALLS_BURST", 10),

		RetryBaseDelay:      envutil.Seconds("RETRY_BASE_DELAY_SECONDS", 30*time.Second),
		RetryMaxDelay:       envutil.Seconds("RETRY_MAX_DELAY_SECONDS", 15*time.Minute),
		DefaultRetryCeiling: envutil.Int("DEFAULT_RETRY_CEILING", 2),

		ExtractionParallel:  envutil.Int("EXTRACTION_PARALLELISM", 4),
		CallbackTimeout:     envutil.Seconds("CALLBACK_PROCESS_TIMEOUT_SECONDS", 5*time.Minute),
	}
}
