// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

const statsInterval = 1 * time.Minute

// StatsReporter emite métricas periódicas do relay no log: conexões,
// tráfego do intervalo e saúde do host via gopsutil.
type StatsReporter struct {
	server    *Server
	logger    *slog.Logger
	startTime time.Time
	stopCh    chan struct{}
	done      chan struct{}

	lastBytesIn  int64
	lastBytesOut int64
}

// NewStatsReporter cria um StatsReporter sobre o estado do server.
func NewStatsReporter(server *Server, logger *slog.Logger) *StatsReporter {
	return &StatsReporter{
		server:    server,
		logger:    logger.With("component", "stats"),
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start inicia a goroutine de reporting periódico.
func (sr *StatsReporter) Start() {
	go func() {
		defer close(sr.done)
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sr.report()
			case <-sr.stopCh:
				return
			}
		}
	}()

	sr.logger.Info("stats reporter started", "interval", statsInterval)
}

// Stop para o reporter e aguarda a goroutine terminar.
func (sr *StatsReporter) Stop() {
	close(sr.stopCh)
	<-sr.done
	sr.logger.Info("stats reporter stopped")
}

func (sr *StatsReporter) report() {
	m := sr.server.Metrics()

	deltaIn := m.BytesIn - sr.lastBytesIn
	deltaOut := m.BytesOut - sr.lastBytesOut
	sr.lastBytesIn = m.BytesIn
	sr.lastBytesOut = m.BytesOut

	attrs := []any{
		"uptime_seconds", int64(time.Since(sr.startTime).Seconds()),
		"connections", m.Connections,
		"online_clients", m.OnlineClients,
		"file_sessions", m.FileSessions,
		"bytes_in_interval", deltaIn,
		"bytes_out_interval", deltaOut,
	}

	if percentage, err := cpu.Percent(0, false); err == nil && len(percentage) > 0 {
		attrs = append(attrs, "cpu_percent", percentage[0])
	} else {
		sr.logger.Debug("failed to collect cpu stats", "error", err)
	}
	if v, err := mem.VirtualMemory(); err == nil {
		attrs = append(attrs, "memory_percent", v.UsedPercent)
	} else {
		sr.logger.Debug("failed to collect memory stats", "error", err)
	}
	if l, err := load.Avg(); err == nil {
		attrs = append(attrs, "load_avg", l.Load1)
	} else {
		sr.logger.Debug("failed to collect load stats", "error", err)
	}

	sr.logger.Info("server stats", attrs...)
}
