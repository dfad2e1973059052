// Package assistant implements the turn engine: it compiles the system
// prompt, loads the history window, binds tools, streams the LLM response
// while resolving tool calls, and persists history and state across the
// turn.
package assistant

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"aviary/pkg/api"
	"aviary/pkg/config"
	"aviary/pkg/llm"
	"aviary/pkg/prompt"
	"aviary/pkg/rag"
	"aviary/pkg/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Fixed tool-failure strings. A broken tool must still leave a well-formed
// history, so these stand in for the missing result.
const (
	ToolMissingText = "Data not found"
	ToolErrorText   = "In this moment I can't process this request."
)

// ReplyChunk is one unit of the engine's lazy output sequence. The final
// chunk of a turn has Partial=false; concatenating the Content of all
// chunks yields the assistant's full reply text.
type ReplyChunk struct {
	Content string `json:"content"`
	Partial bool   `json:"is_partial"`
}

// Agent is what the gateway talks to: a single assistant or a router
// composing several behind one face.
type Agent interface {
	Name() string

	// NewMessage runs one turn and returns the lazy chunk sequence.
	NewMessage(ctx context.Context, msg *api.Message) (<-chan ReplyChunk, error)

	// HandleCommand dispatches a "/command args" message. Returns true if
	// the message was a command (handled or not) so the turn ends there.
	HandleCommand(ctx context.Context, msg *api.Message, connector api.Connector) (bool, error)

	// Trigger fires a named event and returns the first handler response.
	Trigger(ctx context.Context, event string, ev *EventContext) (*api.EventResponse, error)

	// Blend rewrites text into the conversation's language and register.
	Blend(ctx context.Context, sessionID, text string) (string, error)

	// RecordExchange appends a user/assistant pair to the session history
	// without running a turn. Used when an event handler answers in place
	// of the model, so the next turn still sees the exchange.
	RecordExchange(ctx context.Context, sessionID, userText, replyText string)
}

// FunctionHandler executes one registered tool call. It may return a
// string, an api.FunctionResponse, or any JSON-marshalable value.
type FunctionHandler func(ctx context.Context, params map[string]any, fctx *api.FunctionContext) (any, error)

type functionEntry struct {
	def     *api.FunctionDef
	handler FunctionHandler
}

// Assistant is one configured conversational persona with its tools,
// events, and commands.
type Assistant struct {
	name        string
	description string

	template  *prompt.Template
	client    llm.ChatClient
	history   store.History
	state     store.State
	retriever rag.Retriever
	settings  *config.Settings

	functions map[string]functionEntry
	order     []string
	events    map[string][]EventHandler
	commands  map[string]CommandHandler
}

// New builds an assistant. The retriever is optional (nil disables RAG).
func New(name string, tmpl *prompt.Template, client llm.ChatClient, history store.History, state store.State, settings *config.Settings) *Assistant {
	a := &Assistant{
		name:      name,
		template:  tmpl,
		client:    client,
		history:   history,
		state:     state,
		settings:  settings,
		functions: map[string]functionEntry{},
		events:    map[string][]EventHandler{},
		commands:  map[string]CommandHandler{},
	}
	a.registerBuiltinCommands()
	return a
}

// Name returns the assistant's identifier.
func (a *Assistant) Name() string { return a.name }

// Description returns the selection hint used by agentic routers.
func (a *Assistant) Description() string { return a.description }

// SetDescription sets the selection hint used by agentic routers.
func (a *Assistant) SetDescription(d string) { a.description = d }

// SetRetriever enables retrieval augmentation for this assistant.
func (a *Assistant) SetRetriever(r rag.Retriever) { a.retriever = r }

// History exposes the backing history store (routers share it).
func (a *Assistant) History() store.History { return a.history }

// State exposes the backing state store (routers share it).
func (a *Assistant) State() store.State { return a.state }

// RegisterFunction binds a tool definition to its handler. Registration
// happens at startup; the maps are not written afterwards.
func (a *Assistant) RegisterFunction(def *api.FunctionDef, handler FunctionHandler) {
	if _, exists := a.functions[def.Name]; !exists {
		a.order = append(a.order, def.Name)
	}
	a.functions[def.Name] = functionEntry{def: def, handler: handler}
}

// UnregisterFunction removes a tool (used by routers when a turn ends).
func (a *Assistant) UnregisterFunction(name string) {
	if _, exists := a.functions[name]; exists {
		delete(a.functions, name)
		for i, n := range a.order {
			if n == name {
				a.order = append(a.order[:i], a.order[i+1:]...)
				break
			}
		}
	}
}

// RegisterEvent appends a handler for a named event.
func (a *Assistant) RegisterEvent(name string, handler EventHandler) {
	a.events[name] = append(a.events[name], handler)
}

// RegisterCommand binds a client command (without the leading slash).
func (a *Assistant) RegisterCommand(name string, handler CommandHandler) {
	a.commands[name] = handler
}

// toolSchemas maps the registered functions into the LLM tool schema, in
// registration order.
func (a *Assistant) toolSchemas() []llm.ToolSchema {
	if len(a.order) == 0 {
		return nil
	}
	schemas := make([]llm.ToolSchema, 0, len(a.order))
	for _, name := range a.order {
		entry := a.functions[name]
		s := entry.def.Schema()
		params, _ := s["parameters"].(map[string]any)
		schemas = append(schemas, llm.ToolSchema{
			Name:        entry.def.Name,
			Description: entry.def.Description,
			Parameters:  params,
		})
	}
	return schemas
}
