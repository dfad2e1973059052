package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"aviary/pkg/api"
	"aviary/pkg/llm"
)

// CommandContext is handed to command handlers.
type CommandContext struct {
	SessionID string
	Lead      *api.Lead
	Message   *api.Message
	Connector api.Connector
	Command   string
	Args      []string
	Assistant *Assistant
}

// CommandHandler runs one client command and returns the reply text (empty
// for silent commands).
type CommandHandler func(ctx context.Context, c *CommandContext) (string, error)

// ParseCommand splits "/cmd arg1 arg2" into its parts. ok is false when the
// text is not a slash command.
func ParseCommand(text string) (cmd string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// HandleCommand dispatches msg if it is a slash command. It returns true
// when the message was consumed as a command, whether or not a handler
// existed; the turn ends there and no LLM call happens.
func (a *Assistant) HandleCommand(ctx context.Context, msg *api.Message, connector api.Connector) (bool, error) {
	cmd, args, ok := ParseCommand(msg.Text)
	if !ok {
		return false, nil
	}

	handler, known := a.commands[cmd]
	cc := &CommandContext{
		SessionID: msg.SessionID(),
		Lead:      msg.Lead,
		Message:   msg,
		Connector: connector,
		Command:   cmd,
		Args:      args,
		Assistant: a,
	}

	var reply string
	var err error
	if known {
		reply, err = handler(ctx, cc)
		if err != nil {
			slog.Error("Command failed", "command", cmd, "session", cc.SessionID, "error", err)
			reply = fmt.Sprintf("Command /%s failed: %v", cmd, err)
		}
	} else {
		reply = fmt.Sprintf("Unknown command: /%s", cmd)
	}

	if reply != "" && connector != nil {
		if err := api.Deliver(ctx, connector, api.NewOutgoingText(msg.Lead, reply)); err != nil {
			slog.Error("Failed to deliver command reply", "command", cmd, "session", cc.SessionID, "error", err)
		}
	}
	return true, nil
}

func (a *Assistant) registerBuiltinCommands() {
	a.RegisterCommand("reset", cmdReset)
	a.RegisterCommand("state", cmdState)
	a.RegisterCommand("history", cmdHistory)
	a.RegisterCommand("set", cmdSet)
	a.RegisterCommand("prompt", cmdPrompt)
	a.RegisterCommand("login", cmdLogin)
	a.RegisterCommand("logout", cmdLogout)
}

// /reset clears history; "/reset all" clears state too.
func cmdReset(ctx context.Context, c *CommandContext) (string, error) {
	if err := c.Assistant.history.Clear(ctx, c.SessionID, 0); err != nil {
		return "", err
	}
	if len(c.Args) > 0 && c.Args[0] == "all" {
		if err := c.Assistant.state.Clear(ctx, c.SessionID); err != nil {
			return "", err
		}
		return "Session and state reset.", nil
	}
	return "Session reset.", nil
}

// /state dumps the session state as JSON.
func cmdState(ctx context.Context, c *CommandContext) (string, error) {
	state, err := c.Assistant.state.Get(ctx, c.SessionID)
	if err != nil {
		return "", err
	}
	if len(state) == 0 {
		return "State is empty.", nil
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// /history shows the last entries, "/history 25" overrides the count.
func cmdHistory(ctx context.Context, c *CommandContext) (string, error) {
	n := 10
	if len(c.Args) > 0 {
		fmt.Sscanf(c.Args[0], "%d", &n)
	}
	entries, err := c.Assistant.history.Last(ctx, c.SessionID, n)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "History is empty.", nil
	}
	var sb strings.Builder
	for _, e := range entries {
		m, err := llm.UnmarshalMessage(e)
		if err != nil {
			continue
		}
		content := m.Content
		if content == "" && len(m.ToolCalls) > 0 {
			content = fmt.Sprintf("[%d tool call(s)]", len(m.ToolCalls))
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// /set key value writes one state field.
func cmdSet(ctx context.Context, c *CommandContext) (string, error) {
	if len(c.Args) < 2 {
		return "Usage: /set <key> <value>", nil
	}
	key := c.Args[0]
	value := strings.Join(c.Args[1:], " ")
	if err := c.Assistant.state.SetField(ctx, c.SessionID, key, value); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s", key, value), nil
}

// /prompt shows the compiled system prompt for this session.
func cmdPrompt(ctx context.Context, c *CommandContext) (string, error) {
	state, err := c.Assistant.state.Get(ctx, c.SessionID)
	if err != nil {
		return "", err
	}
	return c.Assistant.template.Compile(ctx, c.Assistant.template.MergeState(state)), nil
}

// /login and /logout are thin wrappers over their events so deployments
// can attach auth logic with RegisterEvent.
func cmdLogin(ctx context.Context, c *CommandContext) (string, error) {
	return triggerAuthEvent(ctx, c, api.EventLogin)
}

func cmdLogout(ctx context.Context, c *CommandContext) (string, error) {
	return triggerAuthEvent(ctx, c, api.EventLogout)
}

func triggerAuthEvent(ctx context.Context, c *CommandContext, event string) (string, error) {
	payload := map[string]any{}
	if len(c.Args) > 0 {
		payload["args"] = c.Args
	}
	resp, err := c.Assistant.Trigger(ctx, event, &EventContext{
		SessionID: c.SessionID,
		Lead:      c.Lead,
		Message:   c.Message,
		Connector: c.Connector,
		Payload:   payload,
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text, nil
}
