// Package engine wraps the LLM behind a small conversational interface. It
// is backed by Genkit; without an API key it degrades to a deterministic
// fallback so the rest of the daemon stays testable offline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/amayahq/amaya/internal/memory"
	"github.com/amayahq/amaya/internal/otel"
	"github.com/amayahq/amaya/internal/persistence"
	"github.com/amayahq/amaya/internal/shared"
	"github.com/amayahq/amaya/internal/tools"
)

// ErrNoModel is returned for generation requests that cannot be served
// without a configured LLM provider.
var ErrNoModel = errors.New("engine: no LLM provider configured")

// systemEventPrefix marks prompts that originate from the daemon itself
// rather than from the user, such as reminder firings.
const systemEventPrefix = "[SYSTEM_EVENT]"

// BrainConfig holds configuration for the GenkitBrain.
type BrainConfig struct {
	// Provider is the LLM provider: "google", "anthropic", or
	// "openai_compatible". Empty defaults to "google".
	Provider string

	// Model is the model name for the configured provider.
	Model string

	// APIKey is the API key for the LLM provider.
	APIKey string

	// Persona is the assistant's character sheet, used as the base system
	// prompt. Empty falls back to a built-in default.
	Persona string

	// OpenAICompatible config.
	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string

	// HistoryLimit is the number of recent history items injected per turn.
	// Zero defaults to 40.
	HistoryLimit int

	// HistoryKeep is how many history rows to retain per owner after a turn.
	// Zero defaults to 400.
	HistoryKeep int
}

// GenkitBrain is the production Brain. It injects the owner's memory context
// and conversation history into every call and exposes the registered tools
// to the model.
type GenkitBrain struct {
	g       *genkit.Genkit
	store   *persistence.Store
	tools   *tools.Registry
	context *memory.ContextBuilder
	logger  *slog.Logger
	tel     *otel.Instruments
	cfg     BrainConfig
	llmOn   bool

	personaMu sync.RWMutex // protects cfg.Persona for hot-reload
}

// NewGenkitBrain initializes Genkit with the configured LLM provider and
// registers the tool set. Supports google (Gemini), anthropic (Claude), and
// OpenAI-compatible endpoints.
func NewGenkitBrain(ctx context.Context, store *persistence.Store, registry *tools.Registry, cb *memory.ContextBuilder, logger *slog.Logger, tel *otel.Instruments, cfg BrainConfig) *GenkitBrain {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 40
	}
	if cfg.HistoryKeep <= 0 {
		cfg.HistoryKeep = 400
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			llmOn = true
			logger.Info("genkit brain initialized", "provider", "anthropic", "model", cfg.Model)
		} else {
			g = genkit.Init(ctx)
			logger.Warn("Anthropic API key missing; using deterministic fallback")
		}

	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}))
			llmOn = true
			logger.Info("genkit brain initialized", "provider", "openai_compatible", "model", cfg.Model)
		} else {
			g = genkit.Init(ctx)
			logger.Warn("OpenAI compatible API key missing; using deterministic fallback")
		}

	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+modelOrDefault(provider, cfg.Model)),
			)
			llmOn = true
			logger.Info("genkit brain initialized", "provider", "google", "model", modelOrDefault(provider, cfg.Model))
		} else {
			g = genkit.Init(ctx)
			logger.Warn("Google API key missing; using deterministic fallback")
		}

	default:
		g = genkit.Init(ctx)
		logger.Warn("unknown LLM provider, using deterministic fallback", "provider", provider)
	}

	registry.RegisterAll(g)

	return &GenkitBrain{
		g:       g,
		store:   store,
		tools:   registry,
		context: cb,
		logger:  logger,
		tel:     tel,
		cfg:     cfg,
		llmOn:   llmOn,
	}
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "google":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

func modelOrDefault(provider, model string) string {
	model = strings.TrimSpace(model)
	if model != "" {
		return model
	}
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	default:
		return "gemini-2.5-flash"
	}
}

func modelNameForProvider(provider, model string) string {
	model = modelOrDefault(provider, model)
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai_compatible":
		return model
	default:
		return "googleai/" + model
	}
}

// Genkit exposes the underlying Genkit instance.
func (b *GenkitBrain) Genkit() *genkit.Genkit {
	return b.g
}

// LLMEnabled reports whether a real provider backs this brain.
func (b *GenkitBrain) LLMEnabled() bool {
	return b.llmOn
}

// UpdatePersona replaces the persona used as the base system prompt.
// Thread-safe for concurrent access from hot-reload and Chat.
func (b *GenkitBrain) UpdatePersona(persona string) {
	b.personaMu.Lock()
	defer b.personaMu.Unlock()
	b.cfg.Persona = persona
}

// Chat generates a reply for the given owner. The prompt is recorded in the
// owner's history, the owner's memory context and recent history ride along
// as system prompt and messages, and registered tools are available for
// autonomous use.
func (b *GenkitBrain) Chat(ctx context.Context, ownerID, requestID, prompt string) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", fmt.Errorf("engine: empty prompt")
	}
	if ownerID == "" {
		ownerID = shared.DefaultOwnerID
	}
	if requestID == "" {
		requestID = shared.NewRequestID()
	}

	// Owner and request ride the context so tool callbacks can see them.
	ctx = shared.WithOwnerID(ctx, ownerID)
	ctx = shared.WithRequestID(ctx, requestID)

	role := "user"
	if strings.HasPrefix(trimmed, systemEventPrefix) {
		role = "system"
	}
	if err := b.store.AddHistory(ctx, ownerID, role, trimmed); err != nil {
		b.logger.Warn("failed to record prompt in history", "owner_id", ownerID, "error", err)
	}

	if !b.llmOn {
		if role == "system" {
			return "", ErrNoModel
		}
		return "I can reply with full reasoning once an LLM API key is configured.", nil
	}

	systemPrompt := b.buildSystemPrompt(ctx, ownerID)

	history, err := b.store.ListHistory(ctx, ownerID, b.cfg.HistoryLimit)
	if err != nil {
		b.logger.Warn("failed to load history, continuing without it",
			"owner_id", ownerID,
			"request_id", requestID,
			"error", err,
		)
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(modelNameForProvider(strings.ToLower(b.cfg.Provider), b.cfg.Model)),
		ai.WithPrompt(trimmed),
		ai.WithSystem(systemPrompt),
	}
	if msgs := historyToMessages(history); len(msgs) > 0 {
		opts = append(opts, ai.WithMessages(msgs...))
	}
	if len(b.tools.Tools) > 0 {
		opts = append(opts, ai.WithTools(b.tools.Tools...), ai.WithMaxTurns(3))
	}

	start := time.Now()
	resp, err := genkit.Generate(ctx, b.g, opts...)
	b.tel.RecordLLMDuration(ctx, time.Since(start).Seconds())
	if err != nil {
		b.logger.Error("genkit generate failed", "owner_id", ownerID, "request_id", requestID, "error", err)
		if len(b.tools.Tools) == 0 {
			return "", fmt.Errorf("engine: generate: %w", err)
		}
		// Tool-call failures are the common case; retry once without tools.
		b.logger.Info("retrying without tools", "owner_id", ownerID, "request_id", requestID)
		fallback := []ai.GenerateOption{
			ai.WithModelName(modelNameForProvider(strings.ToLower(b.cfg.Provider), b.cfg.Model)),
			ai.WithPrompt(trimmed),
			ai.WithSystem(systemPrompt),
		}
		if msgs := historyToMessages(history); len(msgs) > 0 {
			fallback = append(fallback, ai.WithMessages(msgs...))
		}
		resp, err = genkit.Generate(ctx, b.g, fallback...)
		if err != nil {
			return "", fmt.Errorf("engine: generate (fallback): %w", err)
		}
	}

	reply := resp.Text()
	if reply != "" {
		if err := b.store.AddHistory(ctx, ownerID, "assistant", reply); err != nil {
			b.logger.Warn("failed to record reply in history", "owner_id", ownerID, "error", err)
		}
		if _, err := b.store.TrimHistory(ctx, ownerID, b.cfg.HistoryKeep); err != nil {
			b.logger.Warn("history trim failed", "owner_id", ownerID, "error", err)
		}
	}
	return reply, nil
}

// buildSystemPrompt combines the persona with the owner's memory context.
func (b *GenkitBrain) buildSystemPrompt(ctx context.Context, ownerID string) string {
	b.personaMu.RLock()
	persona := strings.TrimSpace(b.cfg.Persona)
	b.personaMu.RUnlock()
	if persona == "" {
		persona = defaultPersona()
	}

	parts := []string{persona}
	if b.context != nil {
		if block := b.context.Build(ctx, ownerID); block != "" {
			parts = append(parts, block)
		}
	}

	systemPrompt := strings.Join(parts, "\n\n")
	// Escape % characters to prevent fmt.Sprintf corruption in ai.WithSystem().
	return strings.ReplaceAll(systemPrompt, "%", "%%")
}

func defaultPersona() string {
	return "You are Amaya, a warm and attentive personal assistant. You remember what the user tells you, manage their reminders and schedules through your tools, and keep replies short and conversational. When the user asks to be reminded of something, call schedule_reminder instead of describing what you would do."
}

// historyToMessages converts persistence history items to Genkit messages.
func historyToMessages(items []persistence.HistoryItem) []*ai.Message {
	var msgs []*ai.Message
	for _, item := range items {
		var role ai.Role
		switch item.Role {
		case "user":
			role = ai.RoleUser
		case "assistant":
			role = ai.RoleModel
		case "system":
			role = ai.RoleSystem
		case "tool":
			role = ai.RoleTool
		default:
			continue
		}
		msgs = append(msgs, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(item.Text)},
		})
	}
	return msgs
}
