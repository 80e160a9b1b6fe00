package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/costguard"
	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/memory"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/prompt"
	"github.com/loomhq/loom/internal/projects"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/provider/factory"
	"github.com/loomhq/loom/internal/sessions"
	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/internal/trace"
	"github.com/loomhq/loom/pkg/models"
)

// DefaultChatTimeout bounds interactive chat runs.
const DefaultChatTimeout = 60 * time.Second

// ProviderFactory builds a provider from configuration.
type ProviderFactory func(cfg models.ProviderConfig, logger *slog.Logger) (provider.Provider, error)

// MemoryFactory builds a per-project memory manager. May return nil to
// disable memory handling.
type MemoryFactory func(cfg models.MemoryConfig) *memory.Manager

// HostConfig wires the host's collaborators.
type HostConfig struct {
	Projects  projects.Store
	Sessions  sessions.Store
	Prompts   *prompt.Builder
	Registry  *tools.Registry
	Guard     *costguard.Guard
	Traces    trace.Store
	Memory    MemoryFactory
	Providers ProviderFactory
	Metrics   *metrics.Metrics

	// ChatTimeout is the outer deadline for interactive runs. Defaults to
	// DefaultChatTimeout. Callers with their own deadline (scheduled tasks)
	// pass a context that already carries it and set Timeout to 0 per call.
	ChatTimeout time.Duration

	Logger *slog.Logger
}

// Host runs agents on behalf of inbound stimuli. It serializes runs per
// session so transcript appends never interleave, and persists the user and
// assistant messages around each run.
type Host struct {
	cfg HostConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewHost creates a host.
func NewHost(cfg HostConfig) *Host {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = DefaultChatTimeout
	}
	if cfg.Providers == nil {
		cfg.Providers = factory.New
	}
	return &Host{cfg: cfg, locks: make(map[string]*sync.Mutex)}
}

// ChatRequest is one inbound stimulus for the host.
type ChatRequest struct {
	// ProjectID is the target project.
	ProjectID string

	// SessionID, when set, continues that session; sessions are created on
	// demand so deterministic IDs (webhook retries) converge. Empty starts
	// a fresh session.
	SessionID string

	// ContactID scopes a newly created session to a contact.
	ContactID string

	// Message is the user message.
	Message string

	// Runtime is the prompt runtime context.
	Runtime prompt.RuntimeContext

	// OnEvent receives the run's stream events.
	OnEvent func(models.AgentStreamEvent)

	// Timeout overrides the host's chat timeout. Zero uses the default;
	// negative disables the outer deadline.
	Timeout time.Duration
}

// ChatResult is the outcome of a hosted run.
type ChatResult struct {
	Trace     *models.ExecutionTrace
	SessionID string
	Response  string
}

func (h *Host) sessionLock(sessionID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		h.locks[sessionID] = l
	}
	return l
}

// RunChat executes one agent run for a project. The returned error mirrors
// the runner's terminal status; the result's trace is always set once the
// run started.
func (h *Host) RunChat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	project, err := h.cfg.Projects.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fault.New(fault.CodeValidation, "project %q not found", req.ProjectID).WithStatus(404)
	}

	sess, err := h.resolveSession(ctx, project, req)
	if err != nil {
		return nil, err
	}

	lock := h.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	primary, err := h.cfg.Providers(project.AgentConfig.Provider, h.cfg.Logger)
	if err != nil {
		return nil, err
	}
	var fallback provider.Provider
	if fb := project.AgentConfig.FallbackProvider; fb != nil {
		fallback, err = h.cfg.Providers(*fb, h.cfg.Logger)
		if err != nil {
			h.cfg.Logger.Warn("fallback provider unavailable", "project_id", project.ID, "error", err)
		}
	}

	ec := &tools.ExecContext{
		ProjectID:    project.ID,
		SessionID:    sess.ID,
		AllowedTools: project.AgentConfig.AllowedTools,
		Logger:       h.cfg.Logger,
	}
	var built *prompt.Built
	if h.cfg.Prompts != nil {
		built, err = h.cfg.Prompts.Build(ctx, project.ID, ec, req.Runtime)
		if err != nil {
			return nil, err
		}
	} else {
		built = &prompt.Built{}
	}

	history, err := h.history(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	var mgr *memory.Manager
	if h.cfg.Memory != nil {
		mgr = h.cfg.Memory(project.AgentConfig.MemoryConfig)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = h.cfg.ChatTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var response string
	onEvent := func(ev models.AgentStreamEvent) {
		if ev.Type == models.StreamAgentComplete {
			response = ev.Response
		}
		if req.OnEvent != nil {
			req.OnEvent(ev)
		}
	}

	r := New(Config{
		Provider: primary,
		Fallback: fallback,
		Registry: h.cfg.Registry,
		Memory:   mgr,
		Guard:    h.cfg.Guard,
		Traces:   h.cfg.Traces,
		Metrics:  h.cfg.Metrics,
		Logger:   h.cfg.Logger,
	})
	tr, runErr := r.Run(runCtx, &Input{
		ProjectID:           project.ID,
		SessionID:           sess.ID,
		Message:             req.Message,
		AgentConfig:         project.AgentConfig,
		SystemPrompt:        built.SystemPrompt,
		PromptSnapshot:      built.Snapshot,
		ConversationHistory: history,
		OnEvent:             onEvent,
	})
	if tr == nil {
		return nil, runErr
	}

	h.persistTurn(ctx, sess.ID, req.Message, response, tr)

	return &ChatResult{Trace: tr, SessionID: sess.ID, Response: response}, runErr
}

func (h *Host) resolveSession(ctx context.Context, project *models.Project, req *ChatRequest) (*models.Session, error) {
	if req.SessionID == "" {
		sess := sessions.NewSession(project.ID, req.ContactID, req.Runtime.Channel)
		if err := h.cfg.Sessions.Create(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}
	sess, err := h.cfg.Sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		if sess.ProjectID != project.ID {
			return nil, fault.New(fault.CodeSession, "session %q belongs to another project", sess.ID)
		}
		return sess, nil
	}
	sess = sessions.NewSession(project.ID, req.ContactID, req.Runtime.Channel)
	sess.ID = req.SessionID
	if err := h.cfg.Sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (h *Host) history(ctx context.Context, sessionID string) ([]models.Message, error) {
	msgs, err := h.cfg.Sessions.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out, nil
}

// persistTurn appends the user and assistant messages to the transcript.
// Persistence failures are logged, not fatal: the trace already holds the
// authoritative record.
func (h *Host) persistTurn(ctx context.Context, sessionID, userText, assistantText string, tr *models.ExecutionTrace) {
	now := time.Now()
	user := &models.Message{
		ID:        "msg_" + uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   userText,
		TraceID:   tr.ID,
		CreatedAt: now,
	}
	if err := h.cfg.Sessions.AppendMessage(ctx, user); err != nil {
		h.cfg.Logger.Warn("failed to persist user message", "session_id", sessionID, "error", err)
	}
	if assistantText == "" {
		return
	}
	assistant := &models.Message{
		ID:        "msg_" + uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   assistantText,
		TraceID:   tr.ID,
		CreatedAt: now,
	}
	if err := h.cfg.Sessions.AppendMessage(ctx, assistant); err != nil {
		h.cfg.Logger.Warn("failed to persist assistant message", "session_id", sessionID, "error", err)
	}
}
