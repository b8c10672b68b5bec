package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// DefaultAgentID is the implicit agent id used when no agents.list entry
// is marked "default" (spec §4.9's Agent Runtime falls back to this
// when a channel binding names no explicit agent).
const DefaultAgentID = "default"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:         "~/.gateway/workspace",
				Provider:          "anthropic",
				Model:             "claude-sonnet-4-5-20250929",
				MaxTokens:         8192,
				Temperature:       0.7,
				MaxToolIterations: 20,
				ContextWindow:     200000,
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				DMPolicy:    "open",
				GroupPolicy: "open",
			},
			Discord: DiscordConfig{
				DMPolicy:    "open",
				GroupPolicy: "open",
			},
			Slack: SlackConfig{
				DMPolicy:       "open",
				GroupPolicy:    "open",
				RequireMention: true,
			},
		},
		Gateway: GatewayConfig{
			Bind:            "loopback",
			Host:            "127.0.0.1",
			Port:            18789,
			Mode:            "local",
			AuthMode:        "token",
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Tools: ToolsConfig{
			Profile: "full",
			Exec: ExecToolConfig{
				Security:   "full",
				TimeoutSec: 30,
			},
		},
		Sessions: SessionsConfig{
			Storage: "~/.gateway/sessions",
			DmScope: "per-channel-peer",
			MainKey: "main",
		},
	}
}

// Load reads config from a JSON5 file (resolving @include directives
// and ${VAR} env substitutions per spec §6), then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := loadIncludes(path, map[string]bool{})
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, err
	}

	if err := json5.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("GOOGLE_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("MISTRAL_API_KEY", &c.Providers.Mistral.APIKey)
	envStr("XAI_API_KEY", &c.Providers.XAI.APIKey)

	envStr("GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("GATEWAY_PASSWORD", &c.Gateway.Password)

	envStr("TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.Token)
	envStr("DISCORD_BOT_TOKEN", &c.Channels.Discord.Token)
	envStr("SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("SLACK_APP_TOKEN", &c.Channels.Slack.AppToken)

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Slack.BotToken != "" && c.Channels.Slack.AppToken != "" {
		c.Channels.Slack.Enabled = true
	}

	envStr("GATEWAY_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("GATEWAY_MODEL", &c.Agents.Defaults.Model)
	envStr("GATEWAY_WORKSPACE", &c.Agents.Defaults.Workspace)
	envStr("GATEWAY_SESSIONS_STORAGE", &c.Sessions.Storage)

	envStr("GATEWAY_HOST", &c.Gateway.Host)
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	if v := os.Getenv("GATEWAY_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency
// and for detecting whether a hot-reload actually changed anything.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agents.Defaults.Workspace)
}

// ResolveAgent returns the effective config for a given agent ID,
// merging defaults with per-agent overrides.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.MaxTokens > 0 {
			d.MaxTokens = spec.MaxTokens
		}
		if spec.Temperature > 0 {
			d.Temperature = spec.Temperature
		}
		if spec.MaxToolIterations > 0 {
			d.MaxToolIterations = spec.MaxToolIterations
		}
		if spec.ContextWindow > 0 {
			d.ContextWindow = spec.ContextWindow
		}
		if spec.Workspace != "" {
			d.Workspace = spec.Workspace
		}
	}

	return d
}

// ResolveDefaultAgentID returns the ID of the agent marked as default,
// or DefaultAgentID if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// ResolveDisplayName returns the display name for an agent, falling
// back to the agent id itself if no display name is configured.
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return agentID
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call this after modifying config to restore runtime secrets
// from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
