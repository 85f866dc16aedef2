package config

// ServerConfig 服务器和端点配置
type ServerConfig struct {
	OpenAIPort      string
	GeminiPort      string
	BasePath        string
	WebAdminEnabled bool
	RunProfile      string
}

// UpstreamConfig 上游凭证和提供商配置
type UpstreamConfig struct {
	OpenAIKey        string
	GeminiKey        string
	CodeAssist       string
	GoogleToken      string
	GoogleProjID     string
	UpstreamProvider string
}

// SecurityConfig 安全和管理访问配置
type SecurityConfig struct {
	ManagementKey            string
	ManagementKeyHash        string
	ManagementReadOnly       bool
	ManagementAllowRemote    bool
	ManagementRemoteTTlHours int
	ManagementRemoteAllowIPs []string
	AuthDir                  string
	HeaderPassThrough        bool
	Debug                    bool
	LogFile                  string
}

// ExecutionConfig 执行控制配置
type ExecutionConfig struct {
	CallsPerRotation           int
	MaxConcurrentPerCredential int
	AutoLoadEnvCreds           bool
}

// StorageConfig 存储后端配置
type StorageConfig struct {
	Backend        string // file, redis, mongodb, postgres
	BaseDir        string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string
	MongoURI       string
	MongoDatabase  string
	PostgresDSN    string
	GitRemoteURL   string
	GitBranch      string
	GitUsername    string
	GitPassword    string
	GitAuthorName  string
	GitAuthorEmail string

	// StrictMode fails Storage Facade construction outright instead of
	// degrading to the file backend when the primary backend is
	// unreachable at startup.
	StrictMode bool
	// KeyPrefix namespaces every keyed-store key (default "aiclient:").
	KeyPrefix string
}

// RetryConfig 重试和超时设置
type RetryConfig struct {
	Enabled                  bool
	Max                      int
	IntervalSec              int
	MaxIntervalSec           int
	On5xx                    bool
	OnNetworkError           bool
	DialTimeoutSec           int
	TLSHandshakeTimeoutSec   int
	ResponseHeaderTimeoutSec int
	ExpectContinueTimeoutSec int
}

// RateLimitConfig 速率限制和使用重置配置
type RateLimitConfig struct {
	Enabled                 bool
	RPS                     int
	Burst                   int
	UsageResetIntervalHours int
	UsageResetTimezone      string
	UsageResetHourLocal     int
}

// APICompatConfig API 兼容性配置
type APICompatConfig struct {
	OpenAIImagesIncludeMIME bool
	ToolArgsDeltaChunk      int
	PreferredBaseModels     []string
	DisabledModels          []string
	DisableModelVariants    bool
}

// ResponseShapingConfig 响应塑形和流式处理配置
type ResponseShapingConfig struct {
	AntiTruncationMax      int
	AntiTruncationEnabled  bool
	FakeStreamingEnabled   bool
	FakeStreamingChunkSize int
	FakeStreamingDelayMs   int
	AutoImagePlaceholder   bool
	RequestLogEnabled      bool
	PprofEnabled           bool
	ProxyURL               string
	SanitizerEnabled       bool
	SanitizerPatterns      []string
}

// OAuthConfig OAuth 客户端凭证配置
type OAuthConfig struct {
	ClientID                      string
	ClientSecret                  string
	RedirectURL                   string
	RefreshAheadSeconds           int
	RefreshSingleflightTimeoutSec int
	// NearExpirySeconds is the refresh coordinator's "near expiry"
	// window; a token within this many seconds of ExpiresAt triggers a
	// non-blocking background refresh. Default 300.
	NearExpirySeconds int
}

// AutoBanConfig 自动禁用和恢复配置
type AutoBanConfig struct {
	Enabled             bool
	Ban429Threshold     int
	Ban403Threshold     int
	Ban401Threshold     int
	Ban5xxThreshold     int
	ConsecutiveFails    int
	RecoveryEnabled     bool
	RecoveryIntervalMin int

	// MaxErrorCount marks a credential unhealthy (excluded from
	// selection until a probe or manual reset recovers it) once its
	// failure count reaches this value. Default 3.
	MaxErrorCount int
}

// AutoProbeConfig 自动探测（活性检查）配置
type AutoProbeConfig struct {
	Enabled             bool
	HourUTC             int
	Model               string
	TimeoutSec          int
	DisableThresholdPct int

	// IntervalMin drives the credential manager's periodic health
	// probes over credentials flagged check_health; 0 disables them.
	// Independent of the daily admin auto-probe job above, which
	// sweeps every credential at HourUTC.
	IntervalMin int
}

// RoutingConfig 路由策略配置
type RoutingConfig struct {
	StickyTTLSeconds   int
	CooldownBaseMS     int
	CooldownMaxMS      int
	PersistState       bool
	PersistIntervalSec int
	DebugHeaders       bool

	// FallbackChain maps a provider type to the ordered list of
	// provider types the pool manager walks when its own pool is
	// exhausted. Only entries sharing the primary's protocol prefix
	// are ever attempted.
	FallbackChain map[string][]string
	// CredentialSwitchMaxRetries bounds how many times the request
	// pipeline re-selects a different credential within one client
	// request before giving up. Default 3.
	CredentialSwitchMaxRetries int
	// SelectionCooldownSeconds excludes a credential that errored
	// within this window from selection even if still healthy.
	// Default 60.
	SelectionCooldownSeconds int
}
