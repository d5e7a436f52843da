// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/nishisan-dev/n-chat/internal/config"
)

// startTime registra quando o processo iniciou (para cálculo de uptime).
var startTime = time.Now()

// Version é preenchida via ldflags no build (-X ...Version=x.y.z).
var Version = "dev"

// ClientInfo é uma entrada da lista de GET /api/v1/clients.
type ClientInfo struct {
	ClientID    string    `json:"client_id"`
	Nickname    string    `json:"nickname"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Metrics é retornado por GET /api/v1/metrics.
type Metrics struct {
	Connections   int   `json:"connections"`
	OnlineClients int   `json:"online_clients"`
	FileSessions  int   `json:"file_sessions"`
	BytesIn       int64 `json:"bytes_in"`
	BytesOut      int64 `json:"bytes_out"`
}

// Source define a interface read-only que o router precisa do server.
// Isso desacopla o pacote observability do server sem expor o Server inteiro.
type Source interface {
	OnlineClients() []ClientInfo
	Metrics() Metrics
	Events() *EventRing
}

// StartHTTP sobe o listener HTTP da API de observabilidade numa goroutine
// própria e retorna a função de stop.
func StartHTTP(cfg *config.ServerConfig, logger *slog.Logger, src Source) func() {
	srv := &http.Server{
		Addr:         cfg.WebUI.Listen,
		Handler:      NewRouter(src, cfg, NewACL(cfg.WebUI.ParsedCIDRs)),
		ReadTimeout:  cfg.WebUI.ReadTimeout,
		WriteTimeout: cfg.WebUI.WriteTimeout,
		IdleTimeout:  cfg.WebUI.IdleTimeout,
	}

	go func() {
		logger.Info("observability API listening", "address", cfg.WebUI.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("observability API failed", "error", err)
		}
	}()

	return func() {
		if err := srv.Close(); err != nil {
			logger.Warn("closing observability API", "error", err)
		}
	}
}

// NewRouter cria o http.Handler para a API de observabilidade.
// Aplica middleware ACL em todas as rotas.
func NewRouter(src Source, cfg *config.ServerConfig, acl *ACL) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", handleHealth)
	mux.HandleFunc("GET /api/v1/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Metrics())
	})
	mux.HandleFunc("GET /api/v1/clients", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.OnlineClients())
	})
	mux.HandleFunc("GET /api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}
		writeJSON(w, http.StatusOK, src.Events().Recent(limit))
	})

	return acl.Middleware(mux)
}

// handleHealth retorna status do processo, uptime e versão.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(startTime)
	resp := map[string]interface{}{
		"status":  "ok",
		"uptime":  uptime.String(),
		"version": Version,
		"go":      runtime.Version(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON serializa v como JSON e envia com status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
