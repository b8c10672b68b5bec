package config

// ChannelsConfig contains per-channel configuration (spec §6's
// "channels.<name>" sections; Telegram, Discord, and Slack are the
// plugins this module implements (C10)).
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

type TelegramConfig struct {
	Enabled           bool                `json:"enabled"`
	Token             string              `json:"token"`
	Proxy             string              `json:"proxy,omitempty"`
	AllowFrom         FlexibleStringSlice `json:"allow_from"`
	DMPolicy          string              `json:"dm_policy,omitempty"`        // "open" (default), "allowlist", "disabled"
	GroupPolicy       string              `json:"group_policy,omitempty"`     // "open" (default), "allowlist", "disabled"
	RequireMention    *bool               `json:"require_mention,omitempty"`  // require @bot mention in groups (default true)
	HistoryLimit      int                 `json:"history_limit,omitempty"`    // max pending group messages for context (0 uses the default of 10)
	StreamMode        string              `json:"stream_mode,omitempty"`      // "off" (default), "partial"; only reported by StreamEnabled — the Telegram channel has no streaming preview
	ReactionLevel     string              `json:"reaction_level,omitempty"`   // "off" (default), "minimal", "full"; not read — the Telegram channel sets no status reactions
	MediaMaxBytes     int64               `json:"media_max_bytes,omitempty"`  // max media download size in bytes (default 20MB)
	LinkPreview       *bool               `json:"link_preview,omitempty"`     // not read; messages go out with Telegram's default link previews
	VoiceAgentID      string              `json:"voice_agent_id,omitempty"`   // agent to route voice/audio inbound to, if configured
	STTProxyURL       string              `json:"stt_proxy_url,omitempty"`    // base URL of the speech-to-text proxy; empty disables transcription
	STTAPIKey         string              `json:"stt_api_key,omitempty"`
	STTTenantID       string              `json:"stt_tenant_id,omitempty"`
	STTTimeoutSeconds int                 `json:"stt_timeout_seconds,omitempty"`
}

type DiscordConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"token"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "open" (default), "allowlist", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in groups (default true)
	HistoryLimit   int                 `json:"history_limit,omitempty"`   // max pending group messages for context (0 uses the default of 10)
}

type SlackConfig struct {
	Enabled        bool                `json:"enabled"`
	BotToken       string              `json:"bot_token"`
	AppToken       string              `json:"app_token"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "open" (default), "allowlist", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention bool                `json:"require_mention,omitempty"` // only respond to @bot in channels (default true)
	HistoryLimit   int                 `json:"history_limit,omitempty"`   // max pending group messages for context (0 uses the default of 10)
}

// ProvidersConfig maps provider name to its config (spec §4.3's
// provider/model abstraction — credentials per vendor).
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	Groq       ProviderConfig `json:"groq"`
	Gemini     ProviderConfig `json:"gemini"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	Mistral    ProviderConfig `json:"mistral"`
	XAI        ProviderConfig `json:"xai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" ||
		p.OpenAI.APIKey != "" ||
		p.OpenRouter.APIKey != "" ||
		p.Groq.APIKey != "" ||
		p.Gemini.APIKey != "" ||
		p.DeepSeek.APIKey != "" ||
		p.Mistral.APIKey != "" ||
		p.XAI.APIKey != ""
}

// GatewayConfig controls the gateway server (spec §4.11/§6).
type GatewayConfig struct {
	Bind              string   `json:"bind,omitempty"` // "loopback" (default), "lan", "auto"
	Host              string   `json:"host"`
	Port              int      `json:"port"`
	Mode              string   `json:"mode,omitempty"` // "local" (default), "remote"
	AuthMode          string   `json:"auth_mode,omitempty"` // "token" (default), "password", "none"
	Token             string   `json:"token,omitempty"`
	Password          string   `json:"-"` // never persisted in plaintext config; env-only
	OwnerIDs          []string `json:"owner_ids,omitempty"`       // sender IDs considered "owner"
	AllowedOrigins    []string `json:"allowed_origins,omitempty"` // WebSocket CORS whitelist (empty = allow all)
	MaxMessageChars   int      `json:"max_message_chars,omitempty"`   // default 32000; not read — message length is not enforced
	RateLimitRPM      int      `json:"rate_limit_rpm,omitempty"`      // rate limit: requests per minute per connection (default 20, 0 = disabled)
	InjectionAction   string   `json:"injection_action,omitempty"`    // "log", "warn", "block", "off"; not read — no prompt-injection check runs
	InboundDebounceMs int      `json:"inbound_debounce_ms,omitempty"` // not read — inbound messages are not debounced or merged
	DevicePairingDB   string   `json:"device_pairing_db,omitempty"`   // sqlite path for the device-pairing registry (default <workspace>/.gateway/devices.db)
}

// ToolsConfig controls tool availability and policy (spec §4.4).
type ToolsConfig struct {
	Profile          string                     `json:"profile,omitempty"` // global profile: "minimal", "coding", "messaging", "full"
	Allow            []string                   `json:"allow,omitempty"`   // global allow list (tool names or "group:xxx")
	Deny             []string                   `json:"deny,omitempty"`    // global deny list
	AlsoAllow        []string                   `json:"alsoAllow,omitempty"`
	ByProvider       map[string]*ToolPolicySpec `json:"byProvider,omitempty"`
	Exec             ExecToolConfig             `json:"exec,omitempty"`
	RateLimitPerHour int                        `json:"rate_limit_per_hour,omitempty"` // not read — tool executions are not rate limited
}

// ExecToolConfig holds spec §6's tools.exec section: {host, security,
// ask, safeBins, pathPrepend, timeoutSec}. No code reads these fields:
// the exec tool runs with a fixed 60-second timeout and a fixed
// deny-pattern list, asks for no confirmation, and has no safe-bin list.
type ExecToolConfig struct {
	Host       string   `json:"host,omitempty"`     // host identity the tool executes as
	Security   string   `json:"security,omitempty"` // "full" (default), "allowlist", "deny"
	Ask        bool     `json:"ask,omitempty"`      // require operator confirmation before running
	SafeBins   []string `json:"safeBins,omitempty"` // commands always allowed regardless of security mode
	PathPrepend string  `json:"pathPrepend,omitempty"`
	TimeoutSec int      `json:"timeoutSec,omitempty"`
}

// ToolPolicySpec defines a tool policy at any level (global, per-agent, per-provider).
type ToolPolicySpec struct {
	Profile    string                     `json:"profile,omitempty"`
	Allow      []string                   `json:"allow,omitempty"`
	Deny       []string                   `json:"deny,omitempty"`
	AlsoAllow  []string                   `json:"alsoAllow,omitempty"`
	ByProvider map[string]*ToolPolicySpec `json:"byProvider,omitempty"`
}

// SessionsConfig controls session storage behavior.
type SessionsConfig struct {
	Storage string `json:"storage"`            // directory for session files
	Scope   string `json:"scope,omitempty"`    // not read
	DmScope string `json:"dm_scope,omitempty"` // not read; session keys always come from agent, channel, peer kind and chat id
	MainKey string `json:"main_key,omitempty"` // not read
}
