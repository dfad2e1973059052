package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileSubstitutesStateAndResolvers(t *testing.T) {
	tmpl := New("Hello {name}, today is {date}.").
		WithInitial("name", "stranger").
		WithResolver("date", func(ctx context.Context) (any, error) {
			return "2026-08-30", nil
		})

	out := tmpl.Compile(context.Background(), tmpl.MergeState(map[string]any{"name": "Ada"}))
	require.Equal(t, "Hello Ada, today is 2026-08-30.", out)
}

func TestStoredStateOverridesInitial(t *testing.T) {
	tmpl := New("{greeting}").WithInitial("greeting", "hi")
	merged := tmpl.MergeState(map[string]any{"greeting": "hello"})
	require.Equal(t, "hello", tmpl.Compile(context.Background(), merged))
}

func TestUnknownKeyRendersEmpty(t *testing.T) {
	tmpl := New("a{missing}b")
	require.Equal(t, "ab", tmpl.Compile(context.Background(), map[string]any{}))
}

func TestFailingResolverRendersError(t *testing.T) {
	tmpl := New("{x}").WithResolver("x", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Equal(t, "Error: boom", tmpl.Compile(context.Background(), map[string]any{}))
}

func TestPanickingResolverDoesNotAbort(t *testing.T) {
	tmpl := New("before {x} after").WithResolver("x", func(ctx context.Context) (any, error) {
		panic("bad resolver")
	})
	out := tmpl.Compile(context.Background(), map[string]any{})
	require.Contains(t, out, "before ")
	require.Contains(t, out, " after")
	require.Contains(t, out, "Error:")
}

func TestEscapedBracesStayLiteral(t *testing.T) {
	tmpl := New("json: {{\"k\": 1}}")
	require.Equal(t, `json: {"k": 1}`, tmpl.Compile(context.Background(), map[string]any{}))
}

func TestUnterminatedPlaceholderIsKeptVerbatim(t *testing.T) {
	tmpl := New("broken {tail")
	require.Equal(t, "broken {tail", tmpl.Compile(context.Background(), map[string]any{}))
}

func TestValuesMayBeFunctions(t *testing.T) {
	tmpl := New("{v}")
	state := map[string]any{"v": func() string { return "computed" }}
	require.Equal(t, "computed", tmpl.Compile(context.Background(), state))
}

func TestNumbersStringify(t *testing.T) {
	tmpl := New("{n}")
	require.Equal(t, "7", tmpl.Compile(context.Background(), map[string]any{"n": 7}))
}
