// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server implementa o relay de chat (nchat-server).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/nishisan-dev/n-chat/internal/config"
	"github.com/nishisan-dev/n-chat/internal/server/observability"
)

// disconnectRequest é uma entrada da fila de teardown diferido. O primeiro
// motivo registrado para uma conexão é o que vale.
type disconnectRequest struct {
	connID uint64
	reason string
}

// Server é o estado compartilhado do relay: mapa de conexões, roster,
// tabela de transferências e a fila de disconnects. Nenhuma conexão é
// destruída no meio de um dispatch; tudo passa pela goroutine reaper.
type Server struct {
	cfg    *config.ServerConfig
	logger *slog.Logger

	roster *Roster
	files  *FileTable
	router *Router

	connsMu sync.RWMutex
	conns   map[uint64]*Conn

	nextID       atomic.Uint64
	disconnectCh chan disconnectRequest
	stopCh       chan struct{}
	running      atomic.Bool

	trafficIn  atomic.Int64
	trafficOut atomic.Int64

	events *observability.EventRing

	wg sync.WaitGroup
}

// NewServer monta o estado do relay sem abrir sockets.
func NewServer(cfg *config.ServerConfig, logger *slog.Logger) *Server {
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		roster:       NewRoster(),
		files:        NewFileTable(),
		conns:        make(map[uint64]*Conn),
		disconnectCh: make(chan disconnectRequest, 1024),
		stopCh:       make(chan struct{}),
		events:       observability.NewEventRing(cfg.WebUI.EventsMax),
	}
	s.router = NewRouter(s.roster, s.files, s, logger, cfg.Limits.MaxClients)
	return s
}

// Run abre o listener TCP e bloqueia até o context ser cancelado.
func Run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Address(), err)
	}
	defer ln.Close()

	logger.Info("server listening", "address", cfg.Server.Address())
	return RunWithListener(ctx, ln, cfg, logger)
}

// RunWithListener roda o relay sobre um listener já existente (para testes).
func RunWithListener(ctx context.Context, ln net.Listener, cfg *config.ServerConfig, logger *slog.Logger) error {
	s := NewServer(cfg, logger)
	s.running.Store(true)

	s.wg.Add(1)
	go s.reaper()

	stopMaintenance := s.startMaintenance()
	defer stopMaintenance()

	stats := NewStatsReporter(s, logger)
	stats.Start()
	defer stats.Stop()

	if cfg.WebUI.Enabled {
		stopWebUI := observability.StartHTTP(cfg, logger, s)
		defer stopWebUI()
	}

	// Goroutine para fechar o listener quando o context for cancelado
	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		ln.Close()
	}()

	for {
		sock, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.shutdown()
				logger.Info("server shutdown complete")
				return nil
			default:
				logger.Error("accepting connection", "error", err)
				continue
			}
		}
		s.register(sock)
	}
}

// register cria a conexão, a inclui no roster e sobe o par de goroutines.
func (s *Server) register(sock net.Conn) {
	id := s.nextID.Add(1)
	conn := newConn(id, sock, int(s.cfg.Limits.OutboundBufferRaw), s.logger,
		s.router.OnMessage, s.enqueueDisconnect, &s.trafficIn, &s.trafficOut)

	s.connsMu.Lock()
	s.conns[id] = conn
	s.connsMu.Unlock()
	s.roster.Add(id, conn.Addr())

	s.logger.Info("connection accepted", "conn", id, "addr", conn.Addr())
	s.events.PushEvent("info", "connect", "", conn.Addr(), "connection accepted")

	s.wg.Add(2)
	go conn.readLoop(&s.wg)
	go conn.writeLoop(&s.wg)
}

// enqueueDisconnect entrega o pedido à goroutine reaper sem bloquear a
// goroutine de leitura. Fila cheia delega o envio a uma goroutine avulsa.
func (s *Server) enqueueDisconnect(connID uint64, reason string) {
	req := disconnectRequest{connID: connID, reason: reason}
	select {
	case s.disconnectCh <- req:
	default:
		go func() {
			select {
			case s.disconnectCh <- req:
			case <-s.stopCh:
			}
		}()
	}
}

// reaper consome a fila de disconnects e executa os teardowns, um por vez.
// Pedidos repetidos para a mesma conexão viram no-op no teardown.
func (s *Server) reaper() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case req := <-s.disconnectCh:
			s.teardown(req.connID, req.reason)
		}
	}
}

// teardown remove a conexão de todas as estruturas e fecha o socket.
// Idempotente: só a primeira chamada para um connID faz trabalho.
func (s *Server) teardown(connID uint64, reason string) {
	s.connsMu.Lock()
	conn, ok := s.conns[connID]
	if ok {
		delete(s.conns, connID)
	}
	s.connsMu.Unlock()
	if !ok {
		return
	}

	sess, _ := s.roster.Get(connID)
	s.roster.Remove(connID)
	s.files.EraseConn(connID)
	conn.shutdown()

	s.logger.Info("connection closed",
		"conn", connID, "addr", conn.Addr(), "client_id", sess.ClientID, "reason", reason)
	s.events.PushEvent("info", "disconnect", sess.ClientID, conn.Addr(), reason)

	// Durante o shutdown global não há mais lista para anunciar.
	if s.running.Load() && sess.Online {
		s.router.BroadcastUserList()
	}
}

// shutdown derruba todas as conexões restantes e espera as goroutines.
func (s *Server) shutdown() {
	s.running.Store(false)
	close(s.stopCh)

	s.connsMu.Lock()
	ids := make([]uint64, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.connsMu.Unlock()

	for _, id := range ids {
		s.teardown(id, "server shutdown")
	}
	s.wg.Wait()
}

// SendTo implementa Sender: enfileira o frame na conexão, se ela existe.
func (s *Server) SendTo(connID uint64, frame []byte) bool {
	s.connsMu.RLock()
	conn, ok := s.conns[connID]
	s.connsMu.RUnlock()
	if !ok {
		return false
	}
	return conn.QueueSend(frame)
}

// Disconnect implementa Sender: marca a conexão e enfileira o teardown.
func (s *Server) Disconnect(connID uint64, reason string) {
	s.connsMu.RLock()
	conn, ok := s.conns[connID]
	s.connsMu.RUnlock()
	if !ok {
		return
	}
	conn.requestClose(reason)
}

// ConnCount conta as conexões vivas (anônimas incluídas).
func (s *Server) ConnCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// OnlineClients lista as sessões online para a API de observabilidade.
func (s *Server) OnlineClients() []observability.ClientInfo {
	snapshot := s.roster.OnlineSnapshot()
	out := make([]observability.ClientInfo, 0, len(snapshot))
	for _, sess := range snapshot {
		out = append(out, observability.ClientInfo{
			ClientID:    sess.ClientID,
			Nickname:    sess.Nickname,
			Addr:        sess.Addr,
			ConnectedAt: sess.ConnectedAt,
		})
	}
	return out
}

// Metrics resume os contadores para a API de observabilidade. Os bytes são
// monotônicos desde o boot; taxas são derivadas por quem lê.
func (s *Server) Metrics() observability.Metrics {
	return observability.Metrics{
		Connections:   s.ConnCount(),
		OnlineClients: s.roster.OnlineCount(),
		FileSessions:  s.files.Len(),
		BytesIn:       s.trafficIn.Load(),
		BytesOut:      s.trafficOut.Load(),
	}
}

// Events expõe o ring de eventos operacionais.
func (s *Server) Events() *observability.EventRing {
	return s.events
}
