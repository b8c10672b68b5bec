package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/relaycrew/gatewaycore/internal/agent"
	"github.com/relaycrew/gatewaycore/internal/auth"
	"github.com/relaycrew/gatewaycore/internal/bus"
	"github.com/relaycrew/gatewaycore/internal/channels"
	"github.com/relaycrew/gatewaycore/internal/channels/discord"
	"github.com/relaycrew/gatewaycore/internal/channels/slack"
	"github.com/relaycrew/gatewaycore/internal/channels/telegram"
	"github.com/relaycrew/gatewaycore/internal/config"
	"github.com/relaycrew/gatewaycore/internal/gateway"
	"github.com/relaycrew/gatewaycore/internal/providers"
	"github.com/relaycrew/gatewaycore/internal/queue"
	"github.com/relaycrew/gatewaycore/internal/sessions"
	"github.com/relaycrew/gatewaycore/internal/tools"
)

// runGateway loads configuration, wires every component, and blocks
// serving the gateway until interrupted.
func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	if os.Getenv("GATEWAYCORE_LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	configWatcher, err := config.WatchFile(cfgPath, cfg)
	if err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	} else {
		defer configWatcher.Close()
	}

	workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		slog.Error("failed to create workspace", "error", err)
		os.Exit(1)
	}

	msgBus := bus.New(slog.Default())

	providerRegistry := providers.NewRegistry()
	registerProviders(providerRegistry, cfg)

	toolsReg := tools.NewRegistry()
	toolsReg.Register(tools.NewReadFileTool(workspace))
	toolsReg.Register(tools.NewWriteFileTool(workspace))
	toolsReg.Register(tools.NewListFilesTool(workspace))
	toolsReg.Register(tools.NewExecTool(workspace))
	toolsReg.Register(tools.NewEchoTool())

	toolPolicy := tools.NewPolicyEngine(tools.Spec{
		Allow:     cfg.Tools.Allow,
		Deny:      cfg.Tools.Deny,
		AlsoAllow: cfg.Tools.AlsoAllow,
	})

	sessMgr := sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage))

	rotatorPath := filepath.Join(filepath.Dir(cfgPath), "auth_profiles.json")
	rotator := auth.NewRotator(rotatorPath)
	registerAuthProfiles(rotator, cfg)

	defaultAgentID := cfg.ResolveDefaultAgentID()
	defaults := cfg.ResolveAgent(defaultAgentID)
	primaryProvider, _ := providers.ParseModelID(defaults.Provider + "/" + defaults.Model)
	credential := resolveCredential(cfg, primaryProvider)
	if profile := rotator.NextAvailable(primaryProvider); profile != nil {
		credential = profile.Credential
	}

	sessionCapacity := 1
	globalCapacity := 4
	queueMgr := queue.NewManager(sessionCapacity, globalCapacity)

	abortRegistry := agent.NewAbortRegistry()

	loop := agent.NewLoop(agent.LoopConfig{
		Sessions:   sessMgr,
		Providers:  providerRegistry,
		Tools:      toolsReg,
		Policy:     toolPolicy,
		Bus:        msgBus,
		Aborts:     abortRegistry,
		Credential: credential,
		BaseURL:    resolveBaseURL(cfg, primaryProvider),
	})

	devicePath := cfg.Gateway.DevicePairingDB
	if devicePath == "" {
		devicePath = filepath.Join(workspace, ".gateway", "devices.db")
	}
	devices, err := gateway.OpenDeviceRegistry(devicePath)
	if err != nil {
		slog.Warn("device pairing registry unavailable, device-identity auth disabled", "error", err)
		devices = nil
	}

	channelMgr := channels.NewManager(msgBus, &agentRunner{
		loop:       loop,
		queue:      queueMgr,
		cfg:        cfg,
		defaultID:  defaultAgentID,
	})
	registerChannels(channelMgr, msgBus, cfg)

	srv := gateway.NewServer(gateway.Deps{
		Config:   cfg,
		Bus:      msgBus,
		Sessions: sessMgr,
		Queue:    queueMgr,
		Loop:     loop,
		Aborts:   abortRegistry,
		Channels: channelMgr,
		Tools:    toolsReg,
		Policy:   toolPolicy,
		Rotator:  rotator,
		Devices:  devices,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		channelMgr.StopAll(context.Background())
		if devices != nil {
			devices.Close()
		}
		cancel()
	}()

	slog.Info("gatewaycore starting",
		"version", Version,
		"agents", len(cfg.Agents.List)+1,
		"tools", toolsReg.List(),
		"channels", channelMgr.GetEnabledChannels(),
	)

	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// registerProviders wires a Provider factory for every vendor with a
// dedicated adapter (Anthropic, OpenAI) and an OpenAI-compatible
// fallback transport for every other configured vendor (spec §4.3:
// "unregistered providers use an OpenAI-compatible transport").
func registerProviders(registry *providers.Registry, cfg *config.Config) {
	registry.Register("anthropic", func(credential string) providers.Provider {
		return providers.NewAnthropicProvider(credential)
	})
	registry.Register("openai", func(credential string) providers.Provider {
		return providers.NewOpenAIProvider("openai", credential, cfg.Providers.OpenAI.APIBase, "")
	})
	registry.RegisterFallback(func(providerName, credential, baseURL string) providers.Provider {
		return providers.NewOpenAIProvider(providerName, credential, baseURL, "")
	})
}

// registerAuthProfiles seeds the rotation pool with the single
// configured credential per provider. Operators add further profiles to
// a provider's pool by editing auth_profiles.json directly; config.json
// only ever carries the one credential used to seed it.
func registerAuthProfiles(rotator *auth.Rotator, cfg *config.Config) {
	seed := func(provider, credential string) {
		if credential == "" {
			return
		}
		if rotator.NextAvailable(provider) == nil {
			rotator.AddProfile(provider, provider+"-default", credential)
		}
	}
	seed("anthropic", cfg.Providers.Anthropic.APIKey)
	seed("openai", cfg.Providers.OpenAI.APIKey)
	seed("openrouter", cfg.Providers.OpenRouter.APIKey)
	seed("groq", cfg.Providers.Groq.APIKey)
	seed("gemini", cfg.Providers.Gemini.APIKey)
	seed("deepseek", cfg.Providers.DeepSeek.APIKey)
	seed("mistral", cfg.Providers.Mistral.APIKey)
	seed("xai", cfg.Providers.XAI.APIKey)
}

func resolveCredential(cfg *config.Config, providerName string) string {
	switch providerName {
	case "anthropic":
		return cfg.Providers.Anthropic.APIKey
	case "openai":
		return cfg.Providers.OpenAI.APIKey
	case "openrouter":
		return cfg.Providers.OpenRouter.APIKey
	case "groq":
		return cfg.Providers.Groq.APIKey
	case "gemini":
		return cfg.Providers.Gemini.APIKey
	case "deepseek":
		return cfg.Providers.DeepSeek.APIKey
	case "mistral":
		return cfg.Providers.Mistral.APIKey
	case "xai":
		return cfg.Providers.XAI.APIKey
	default:
		return ""
	}
}

func resolveBaseURL(cfg *config.Config, providerName string) string {
	switch providerName {
	case "openai":
		return cfg.Providers.OpenAI.APIBase
	case "openrouter":
		return firstNonEmpty(cfg.Providers.OpenRouter.APIBase, "https://openrouter.ai/api/v1")
	case "groq":
		return firstNonEmpty(cfg.Providers.Groq.APIBase, "https://api.groq.com/openai/v1")
	case "gemini":
		return firstNonEmpty(cfg.Providers.Gemini.APIBase, "https://generativelanguage.googleapis.com/v1beta/openai")
	case "deepseek":
		return firstNonEmpty(cfg.Providers.DeepSeek.APIBase, "https://api.deepseek.com/v1")
	case "mistral":
		return firstNonEmpty(cfg.Providers.Mistral.APIBase, "https://api.mistral.ai/v1")
	case "xai":
		return firstNonEmpty(cfg.Providers.XAI.APIBase, "https://api.x.ai/v1")
	default:
		return ""
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// registerChannels registers every channel plugin enabled in cfg.
func registerChannels(mgr *channels.Manager, msgBus *bus.Bus, cfg *config.Config) {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		ch, err := telegram.New(cfg.Channels.Telegram, mgr)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			mgr.RegisterChannel("telegram", ch)
		}
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		ch, err := discord.New(cfg.Channels.Discord, mgr)
		if err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			mgr.RegisterChannel("discord", ch)
		}
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		ch, err := slack.New(cfg.Channels.Slack, mgr)
		if err != nil {
			slog.Error("failed to initialize slack channel", "error", err)
		} else {
			mgr.RegisterChannel("slack", ch)
		}
	}
}

// agentRunner adapts agent.Loop to channels.AgentRunner, queuing each
// inbound channel message through the same lane-based admission control
// the gateway's agent.turn RPC uses (spec §4.8/§4.9).
type agentRunner struct {
	loop      *agent.Loop
	queue     *queue.Manager
	cfg       *config.Config
	defaultID string
}

func (a *agentRunner) Run(ctx context.Context, msg channels.InboundMessage) (string, error) {
	agentID := msg.AgentID
	if agentID == "" {
		agentID = a.defaultID
	}
	peerKind := sessions.PeerKindFromGroup(msg.PeerKind == "group")
	sessionID := sessions.BuildSessionKey(agentID, msg.Channel, peerKind, msg.ChatID)

	defaults := a.cfg.ResolveAgent(agentID)
	var fallbacks []string
	if spec, ok := a.cfg.Agents.List[agentID]; ok {
		fallbacks = spec.Fallbacks
	}

	release, err := a.queue.Enqueue(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("channels: queue: %w", err)
	}
	defer release()

	result, err := a.loop.Run(ctx, agent.RunRequest{
		SessionID:     sessionID,
		WorkspacePath: defaults.Workspace,
		UserMessage:   msg.Content,
		Model:         defaults.Provider + "/" + defaults.Model,
		Fallbacks:     fallbacks,
		AgentID:       agentID,
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
