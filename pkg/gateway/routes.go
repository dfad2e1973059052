package gateway

import (
	"net/http"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"aviary/pkg/middleware"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BuildRouter assembles the gateway's HTTP surface:
//
//	GET  /health                          open
//	POST /gateway/pause[/{connector}]     API key
//	POST /gateway/resume[/{connector}]    API key
//	     /middlewares/{name}/...          API key, per RouteMounter
//	     /{callback-endpoint}/{token}     open, token is the credential
//	     /{connector}/...                 open, per connector
func (g *Manager) BuildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	admin := r.PathPrefix("/gateway").Subrouter()
	admin.Use(g.apiKeyGuard)
	admin.HandleFunc("/pause", g.handlePauseAll).Methods(http.MethodPost)
	admin.HandleFunc("/resume", g.handleResumeAll).Methods(http.MethodPost)
	admin.HandleFunc("/pause/{connector}", g.handlePause).Methods(http.MethodPost)
	admin.HandleFunc("/resume/{connector}", g.handleResume).Methods(http.MethodPost)

	for _, m := range g.chain.Stages() {
		if mounter, ok := m.(middleware.RouteMounter); ok {
			sub := r.PathPrefix("/middlewares/" + m.Name()).Subrouter()
			sub.Use(g.apiKeyGuard)
			mounter.Routes(sub)
		}
	}

	if g.callbacks != nil {
		g.callbacks.MountRoutes(r)
	}

	for _, name := range g.order {
		sub := r.PathPrefix("/" + name).Subrouter()
		g.connectors[name].MountRoutes(sub)
	}

	return r
}

// apiKeyGuard checks X-API-Key against the configured gateway key. With no
// key configured the admin surface is disabled entirely rather than open.
func (g *Manager) apiKeyGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := g.settings.GatewayAPIKey
		if key == "" || req.Header.Get("X-API-Key") != key {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unauthorized"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (g *Manager) handlePauseAll(w http.ResponseWriter, req *http.Request) {
	g.toggleAll(w, true)
}

func (g *Manager) handleResumeAll(w http.ResponseWriter, req *http.Request) {
	g.toggleAll(w, false)
}

func (g *Manager) toggleAll(w http.ResponseWriter, pause bool) {
	for _, name := range g.order {
		if pause {
			g.connectors[name].Pause()
		} else {
			g.connectors[name].Resume()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (g *Manager) handlePause(w http.ResponseWriter, req *http.Request) {
	g.togglePause(w, req, true)
}

func (g *Manager) handleResume(w http.ResponseWriter, req *http.Request) {
	g.togglePause(w, req, false)
}

func (g *Manager) togglePause(w http.ResponseWriter, req *http.Request, pause bool) {
	name := mux.Vars(req)["connector"]
	c, ok := g.connectors[name]
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unknown connector"})
		return
	}
	if pause {
		c.Pause()
	} else {
		c.Resume()
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "connector": name})
}
