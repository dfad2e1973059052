// Package middleware holds the inbound pipeline stages the gateway runs a
// message through before the engine sees it. Stages mutate the message in
// place (transcription, decoding, tagging) or veto it entirely.
package middleware

import (
	"context"
	"log/slog"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"aviary/pkg/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Middleware is one pipeline stage. Process returns false to abort the
// turn (the message is dropped, nothing reaches the engine).
type Middleware interface {
	Name() string
	Process(ctx context.Context, msg *api.Message) (bool, error)
}

// RouteMounter is implemented by middlewares exposing an HTTP surface. The
// gateway mounts them under /middlewares/{name}, behind the API-key guard.
type RouteMounter interface {
	Routes(r *mux.Router)
}

// Chain runs middlewares in order. A false result aborts the turn; an
// error is logged and the chain continues, so a broken stage degrades the
// pipeline instead of silencing the assistant.
type Chain struct {
	stages []Middleware
}

// NewChain builds a chain from stages, run in the given order.
func NewChain(stages ...Middleware) *Chain {
	return &Chain{stages: stages}
}

// Use appends a stage.
func (c *Chain) Use(m Middleware) *Chain {
	c.stages = append(c.stages, m)
	return c
}

// Stages returns the chain's stages in order.
func (c *Chain) Stages() []Middleware {
	return c.stages
}

// Run passes msg through every stage. Returns false if any stage vetoed.
func (c *Chain) Run(ctx context.Context, msg *api.Message) bool {
	for _, m := range c.stages {
		ok, err := m.Process(ctx, msg)
		if err != nil {
			slog.Error("Middleware failed, continuing", "middleware", m.Name(), "session", msg.SessionID(), "error", err)
			continue
		}
		if !ok {
			slog.Debug("Middleware vetoed message", "middleware", m.Name(), "session", msg.SessionID())
			return false
		}
	}
	return true
}
