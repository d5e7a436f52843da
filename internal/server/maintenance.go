// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// startMaintenance agenda as varreduras periódicas do relay: timeout de
// heartbeat e sessões de transferência ociosas. Retorna a função de stop.
func (s *Server) startMaintenance() func() {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))),
	)

	sweep := fmt.Sprintf("@every %s", s.cfg.Heartbeat.SweepInterval)
	if _, err := c.AddFunc(sweep, s.sweepHeartbeats); err != nil {
		s.logger.Error("scheduling heartbeat sweep", "error", err)
	}
	if _, err := c.AddFunc("@every 1m", s.sweepFileSessions); err != nil {
		s.logger.Error("scheduling file session sweep", "error", err)
	}

	c.Start()
	s.logger.Info("maintenance scheduler started",
		"heartbeat_sweep", s.cfg.Heartbeat.SweepInterval,
		"heartbeat_timeout", s.cfg.Heartbeat.Timeout,
		"file_session_ttl", s.cfg.FileSessions.IdleTTL)

	return func() {
		<-c.Stop().Done()
	}
}

// sweepHeartbeats derruba conexões (anônimas incluídas) sem heartbeat há
// mais que o timeout configurado.
func (s *Server) sweepHeartbeats() {
	stale := s.roster.TimedOut(s.cfg.Heartbeat.Timeout)
	for _, id := range stale {
		s.logger.Warn("heartbeat timeout", "conn", id)
		s.events.PushEvent("warn", "timeout", "", "", fmt.Sprintf("conn %d heartbeat timeout", id))
		s.Disconnect(id, "heartbeat timeout")
	}
	if len(stale) > 0 {
		s.logger.Info("heartbeat sweep", "dropped", len(stale), "online", s.roster.OnlineCount())
	}
}

// sweepFileSessions remove sessões de transferência sem tráfego há mais
// que o TTL configurado.
func (s *Server) sweepFileSessions() {
	if n := s.files.SweepIdle(s.cfg.FileSessions.IdleTTL); n > 0 {
		s.logger.Info("idle file sessions removed", "count", n)
	}
}
