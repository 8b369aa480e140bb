package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Laisky/gemini-balance/common/env"
)

// TokenWindowLimit describes a global token budget for one model over a fixed
// window. MODEL_TPM_LIMITS accepts either a bare integer (60s window) or an
// object {"limit": n, "window_seconds": s}.
type TokenWindowLimit struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

// UnmarshalJSON accepts both the legacy integer form and the object form.
func (l *TokenWindowLimit) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		l.Limit = n
		l.WindowSeconds = 60
		return nil
	}
	type plain TokenWindowLimit
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.WindowSeconds <= 0 {
		p.WindowSeconds = 60
	}
	*l = TokenWindowLimit(p)
	return nil
}

// KeyRateLimit describes per-credential request/token quotas for one model.
// A zero field disables that dimension.
type KeyRateLimit struct {
	RPM int `json:"rpm"`
	TPM int `json:"tpm"`
	RPD int `json:"rpd"`
}

// SafetySetting mirrors the upstream safetySettings entry.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

var (
	// DebugEnabled turns on debug level logging and gin debug mode.
	DebugEnabled = env.Bool("DEBUG", false)

	// ServerPort is the HTTP listen port.
	ServerPort = env.Int("PORT", 8000)

	// GinMode overrides the gin run mode when set.
	GinMode = strings.TrimSpace(env.String("GIN_MODE", ""))

	// APIKeys is the ordered upstream credential pool. Accepts a JSON array
	// or a comma separated list.
	APIKeys = parseStringList("API_KEYS")

	// AuthToken is the privileged inbound token; it is always accepted.
	AuthToken = strings.TrimSpace(env.String("AUTH_TOKEN", ""))

	// AllowedTokens lists additional inbound tokens accepted on relay routes.
	AllowedTokens = parseStringList("ALLOWED_TOKENS")

	// BaseURL is the upstream Gemini API endpoint including version prefix.
	BaseURL = strings.TrimRight(env.String("BASE_URL", "https://generativelanguage.googleapis.com/v1beta"), "/")

	// TimeOut caps a single upstream request in seconds.
	TimeOut = env.Int("TIME_OUT", 300)

	// MaxRetries bounds key-rotating retries per request.
	MaxRetries = env.Int("MAX_RETRIES", 3)

	// TestModel is the cheap model used for credential verification calls.
	TestModel = env.String("TEST_MODEL", "gemini-1.5-flash")

	// MaxFailures is the consecutive failure count after which a credential is
	// marked invalid and skipped by rotation.
	MaxFailures = env.Int("MAX_FAILURES", 3)

	// RetryableStatusCodes lists upstream statuses that trigger a unary retry.
	RetryableStatusCodes = parseIntList("RETRYABLE_STATUS_CODES", []int{503})

	// ModelTPMLimits maps model name to its global token window limit.
	ModelTPMLimits = parseJSONMap[TokenWindowLimit]("MODEL_TPM_LIMITS")

	// ModelKeyLimits maps model name to per-credential quotas. The entry "*"
	// applies to models without an explicit entry.
	ModelKeyLimits = parseJSONMap[KeyRateLimit]("MODEL_KEY_LIMITS")

	// SafetySettings overrides the default safety settings sent upstream.
	SafetySettings = parseSafetySettings("SAFETY_SETTINGS")

	// ThinkingBudgetMap maps model name to an explicit thinkingBudget value.
	ThinkingBudgetMap = parseJSONMap[int]("THINKING_BUDGET_MAP")

	// URLContextEnabled toggles the urlContext built-in tool.
	URLContextEnabled = env.Bool("URL_CONTEXT_ENABLED", false)

	// URLContextModels lists models eligible for the urlContext tool.
	URLContextModels = parseStringList("URL_CONTEXT_MODELS")

	// ToolsCodeExecutionEnabled toggles the codeExecution built-in tool.
	ToolsCodeExecutionEnabled = env.Bool("TOOLS_CODE_EXECUTION_ENABLED", false)

	// ShowSearchLink appends grounding citation links to search model output.
	ShowSearchLink = env.Bool("SHOW_SEARCH_LINK", true)

	// ShowThinkingProcess requests thought parts from upstream and keeps them
	// in transformed output.
	ShowThinkingProcess = env.Bool("SHOW_THINKING_PROCESS", true)

	// StreamOptimizerEnabled smooths streamed text into small timed chunks.
	StreamOptimizerEnabled = env.Bool("STREAM_OPTIMIZER_ENABLED", false)

	// StreamMinDelay and StreamMaxDelay bound the optimizer output pacing in seconds.
	StreamMinDelay = env.Float64("STREAM_MIN_DELAY", 0.016)
	StreamMaxDelay = env.Float64("STREAM_MAX_DELAY", 0.024)

	// StreamShortTextThreshold and StreamLongTextThreshold pick the optimizer
	// strategy per text length; StreamChunkSize is the split size for long text.
	StreamShortTextThreshold = env.Int("STREAM_SHORT_TEXT_THRESHOLD", 10)
	StreamLongTextThreshold  = env.Int("STREAM_LONG_TEXT_THRESHOLD", 50)
	StreamChunkSize          = env.Int("STREAM_CHUNK_SIZE", 5)

	// FakeStreamEnabled serves OpenAI streaming requests from a single unary
	// upstream call, emitting heartbeat chunks while waiting.
	FakeStreamEnabled = env.Bool("FAKE_STREAM_ENABLED", false)

	// FakeStreamEmptyDataIntervalSeconds is the heartbeat period for fake streaming.
	FakeStreamEmptyDataIntervalSeconds = env.Int("FAKE_STREAM_EMPTY_DATA_INTERVAL_SECONDS", 5)

	// ErrorLogRecordRequestBody includes the client request body in persisted
	// error logs when enabled.
	ErrorLogRecordRequestBody = env.Bool("ERROR_LOG_RECORD_REQUEST_BODY", false)

	// UploadProvider selects an image host for generated images. Empty means
	// inline image data passes through untouched.
	UploadProvider = strings.TrimSpace(env.String("UPLOAD_PROVIDER", ""))

	// SMMSSecretToken, PicGoAPIKey, CloudflareImgbedURL and the AliyunOSS
	// options are provider credentials checked by IsImageUploadConfigured.
	SMMSSecretToken       = strings.TrimSpace(env.String("SMMS_SECRET_TOKEN", ""))
	PicGoAPIKey           = strings.TrimSpace(env.String("PICGO_API_KEY", ""))
	CloudflareImgbedURL   = strings.TrimSpace(env.String("CLOUDFLARE_IMGBED_URL", ""))
	AliyunOSSEndpoint     = strings.TrimSpace(env.String("ALIYUN_OSS_ENDPOINT", ""))
	AliyunOSSAccessKeyID  = strings.TrimSpace(env.String("ALIYUN_OSS_ACCESS_KEY_ID", ""))
	AliyunOSSAccessSecret = strings.TrimSpace(env.String("ALIYUN_OSS_ACCESS_KEY_SECRET", ""))
	AliyunOSSBucketName   = strings.TrimSpace(env.String("ALIYUN_OSS_BUCKET_NAME", ""))

	// SQLDsn selects the log database: postgres:// or mysql DSN. Empty falls
	// back to sqlite at SQLitePath, and "none" disables persistence entirely.
	SQLDsn     = strings.TrimSpace(env.String("SQL_DSN", ""))
	SQLitePath = env.String("SQLITE_PATH", "gemini-balance.db")

	// RedisConnString enables the redis-backed inbound rate limiter.
	RedisConnString = strings.TrimSpace(env.String("REDIS_CONN_STRING", ""))

	// RelayProxy routes upstream requests through an HTTP proxy when set.
	RelayProxy = strings.TrimSpace(env.String("RELAY_PROXY", ""))

	// GlobalAPIRateLimitNum and GlobalAPIRateLimitDuration shape the inbound
	// per-client limiter: at most Num requests per Duration seconds.
	GlobalAPIRateLimitNum      = env.Int("GLOBAL_API_RATE_LIMIT", 480)
	GlobalAPIRateLimitDuration = int64(env.Int("GLOBAL_API_RATE_LIMIT_DURATION", 180))

	// EnablePrometheusMetrics exposes /metrics and records relay metrics.
	EnablePrometheusMetrics = env.Bool("ENABLE_PROMETHEUS_METRICS", true)

	// OpenTelemetryEnabled and friends configure the OTLP exporters.
	OpenTelemetryEnabled     = env.Bool("OTEL_ENABLED", false)
	OpenTelemetryEndpoint    = strings.TrimSpace(env.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	OpenTelemetryInsecure    = env.Bool("OTEL_EXPORTER_OTLP_INSECURE", false)
	OpenTelemetryServiceName = env.String("OTEL_SERVICE_NAME", "gemini-balance")
	OpenTelemetryEnvironment = strings.TrimSpace(env.String("OTEL_ENVIRONMENT", ""))

	// GracefulShutdownTimeout bounds request draining on shutdown.
	GracefulShutdownTimeout = time.Second * time.Duration(env.Int("GRACEFUL_SHUTDOWN_TIMEOUT", 30))
)

// IsImageUploadConfigured reports whether any image host has usable credentials.
func IsImageUploadConfigured() bool {
	switch strings.ToLower(UploadProvider) {
	case "smms":
		return SMMSSecretToken != ""
	case "picgo":
		return PicGoAPIKey != ""
	case "cloudflare_imgbed":
		return CloudflareImgbedURL != ""
	case "aliyun_oss":
		return AliyunOSSEndpoint != "" && AliyunOSSAccessKeyID != "" &&
			AliyunOSSAccessSecret != "" && AliyunOSSBucketName != ""
	default:
		return false
	}
}

// parseStringList reads an env var as a JSON array or comma separated list.
func parseStringList(name string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			panic(fmt.Sprintf("%s is not a valid JSON array: %v", name, err))
		}
		return trimAll(out)
	}
	return trimAll(strings.Split(raw, ","))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseIntList reads an env var as a JSON array or comma separated list of ints.
func parseIntList(name string, defaultValue []int) []int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue
	}
	if strings.HasPrefix(raw, "[") {
		var out []int
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			panic(fmt.Sprintf("%s is not a valid JSON array: %v", name, err))
		}
		return out
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%d", &n); err != nil {
			panic(fmt.Sprintf("%s contains a non-integer entry %q", name, part))
		}
		out = append(out, n)
	}
	return out
}

// parseJSONMap reads an env var as a JSON object keyed by model name.
func parseJSONMap[T any](name string) map[string]T {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return map[string]T{}
	}
	out := map[string]T{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		panic(fmt.Sprintf("%s is not a valid JSON object: %v", name, err))
	}
	return out
}

func parseSafetySettings(name string) []SafetySetting {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	var out []SafetySetting
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		panic(fmt.Sprintf("%s is not a valid JSON array: %v", name, err))
	}
	return out
}
