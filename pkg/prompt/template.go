// Package prompt compiles system-prompt templates. A template is a string
// with {key} placeholders resolved against a merged state object: the
// template's initial state overlaid by per-session stored state, with
// registered resolver functions for computed values.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Resolver computes a placeholder value at compile time. Resolvers may
// block (they run on the turn's context); a failed resolver renders as
// "Error: ..." and never aborts compilation.
type Resolver func(ctx context.Context) (any, error)

// Template is a prompt template plus its initial state and resolvers.
type Template struct {
	Text         string
	InitialState map[string]any
	resolvers    map[string]Resolver
}

// New builds a template from its text.
func New(text string) *Template {
	return &Template{
		Text:         text,
		InitialState: map[string]any{},
		resolvers:    map[string]Resolver{},
	}
}

// WithInitial sets an initial-state value and returns the template.
func (t *Template) WithInitial(key string, value any) *Template {
	t.InitialState[key] = value
	return t
}

// WithResolver registers a resolver for a placeholder key.
func (t *Template) WithResolver(key string, r Resolver) *Template {
	t.resolvers[key] = r
	return t
}

// MergeState overlays stored session state onto the template's initial
// state; stored values win.
func (t *Template) MergeState(stored map[string]any) map[string]any {
	merged := make(map[string]any, len(t.InitialState)+len(stored))
	for k, v := range t.InitialState {
		merged[k] = v
	}
	for k, v := range stored {
		merged[k] = v
	}
	return merged
}

// Compile substitutes every {key} placeholder. Lookup order: merged state,
// then resolvers. Unknown keys render empty; failing resolvers render
// "Error: ...". Compilation always terminates and leaves no placeholder
// unsubstituted. Doubled braces ({{, }}) escape literal braces.
func (t *Template) Compile(ctx context.Context, state map[string]any) string {
	var sb strings.Builder
	text := t.Text

	for i := 0; i < len(text); {
		c := text[i]
		if c == '{' {
			if i+1 < len(text) && text[i+1] == '{' {
				sb.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(text[i:], '}')
			if end < 0 {
				sb.WriteString(text[i:])
				break
			}
			key := text[i+1 : i+end]
			sb.WriteString(t.resolve(ctx, key, state))
			i += end + 1
			continue
		}
		if c == '}' && i+1 < len(text) && text[i+1] == '}' {
			sb.WriteByte('}')
			i += 2
			continue
		}
		sb.WriteByte(c)
		i++
	}

	return sb.String()
}

func (t *Template) resolve(ctx context.Context, key string, state map[string]any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Prompt resolver panicked", "key", key, "panic", r)
			out = fmt.Sprintf("Error: %v", r)
		}
	}()

	if v, ok := state[key]; ok {
		return stringify(ctx, key, v)
	}
	if r, ok := t.resolvers[key]; ok {
		v, err := r(ctx)
		if err != nil {
			slog.Warn("Prompt resolver failed", "key", key, "error", err)
			return fmt.Sprintf("Error: %v", err)
		}
		return stringify(ctx, key, v)
	}

	slog.Debug("Unknown prompt placeholder", "key", key)
	return ""
}

// stringify renders a resolved value. Values may themselves be resolver
// functions stored in state; they are invoked and their result rendered.
func stringify(ctx context.Context, key string, v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case Resolver:
		out, err := val(ctx)
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return stringify(ctx, key, out)
	case func(ctx context.Context) (any, error):
		out, err := val(ctx)
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return stringify(ctx, key, out)
	case func() string:
		return val()
	default:
		return fmt.Sprintf("%v", val)
	}
}
