// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig representa a configuração completa do nchat-server.
type ServerConfig struct {
	Server       ServerListen       `yaml:"server"`
	Limits       LimitsConfig       `yaml:"limits"`
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`
	FileSessions FileSessionsConfig `yaml:"file_sessions"`
	Logging      LoggingInfo        `yaml:"logging"`
	WebUI        WebUIConfig        `yaml:"web_ui"`
}

// ServerListen contém o endereço de escuta do server.
type ServerListen struct {
	BindIP string `yaml:"bind_ip"` // default: "0.0.0.0"
	Port   int    `yaml:"port"`    // default: 8888
}

// Address retorna o endereço host:port para o listener TCP.
func (s ServerListen) Address() string {
	return net.JoinHostPort(s.BindIP, strconv.Itoa(s.Port))
}

// LimitsConfig contém os limites de recursos por server e por conexão.
type LimitsConfig struct {
	MaxClients     int    `yaml:"max_clients"`     // default: 1024
	OutboundBuffer string `yaml:"outbound_buffer"` // ex: "4mb" (default)

	// OutboundBufferRaw é preenchido em validate(); não vem do YAML.
	OutboundBufferRaw int64 `yaml:"-"`
}

// HeartbeatConfig controla a varredura de conexões silenciosas.
type HeartbeatConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"` // default: 5s
	Timeout       time.Duration `yaml:"timeout"`        // default: 10s
}

// FileSessionsConfig controla o ciclo de vida das sessões de transferência.
// O protocolo não tem frame de conclusão, então sessões sem tráfego por
// idle_ttl são recolhidas pela varredura periódica.
type FileSessionsConfig struct {
	IdleTTL time.Duration `yaml:"idle_ttl"` // default: 30m
}

// LoggingInfo contém configurações de logging.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// WebUIConfig configura o listener HTTP da API de observabilidade.
type WebUIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Listen       string        `yaml:"listen"`        // default: "127.0.0.1:9848"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 15s
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // default: 60s
	AllowOrigins []string      `yaml:"allow_origins"` // IP ou CIDR (deny-by-default)
	EventsMax    int           `yaml:"events_max"`    // default: 1000

	// ParsedCIDRs é preenchido em validate(); não vem do YAML.
	ParsedCIDRs []*net.IPNet `yaml:"-"`
}

// DefaultServerConfig retorna a configuração usada quando o server roda
// sem arquivo YAML (só argumentos de linha de comando).
func DefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{}
	cfg.validate()
	return cfg
}

// LoadServerConfig lê e valida o arquivo YAML de configuração do server.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}

	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Server.BindIP == "" {
		c.Server.BindIP = "0.0.0.0"
	}
	if net.ParseIP(c.Server.BindIP) == nil {
		return fmt.Errorf("server.bind_ip %q is not a valid IP", c.Server.BindIP)
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8888
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}

	if c.Limits.MaxClients <= 0 {
		c.Limits.MaxClients = 1024
	}
	if c.Limits.OutboundBuffer == "" {
		c.Limits.OutboundBuffer = "4mb"
	}
	parsed, err := ParseByteSize(c.Limits.OutboundBuffer)
	if err != nil {
		return fmt.Errorf("limits.outbound_buffer: %w", err)
	}
	if parsed <= 0 {
		return fmt.Errorf("limits.outbound_buffer must be > 0, got %s", c.Limits.OutboundBuffer)
	}
	c.Limits.OutboundBufferRaw = parsed

	if c.Heartbeat.SweepInterval <= 0 {
		c.Heartbeat.SweepInterval = 5 * time.Second
	}
	if c.Heartbeat.Timeout <= 0 {
		c.Heartbeat.Timeout = 10 * time.Second
	}
	if c.FileSessions.IdleTTL <= 0 {
		c.FileSessions.IdleTTL = 30 * time.Minute
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.WebUI.Enabled {
		if c.WebUI.Listen == "" {
			c.WebUI.Listen = "127.0.0.1:9848"
		}
		if c.WebUI.ReadTimeout <= 0 {
			c.WebUI.ReadTimeout = 5 * time.Second
		}
		if c.WebUI.WriteTimeout <= 0 {
			c.WebUI.WriteTimeout = 15 * time.Second
		}
		if c.WebUI.IdleTimeout <= 0 {
			c.WebUI.IdleTimeout = 60 * time.Second
		}
		if c.WebUI.EventsMax <= 0 {
			c.WebUI.EventsMax = 1000
		}
		if len(c.WebUI.AllowOrigins) == 0 {
			c.WebUI.AllowOrigins = []string{"127.0.0.1/32", "::1/128"}
		}
		cidrs, err := parseCIDRList(c.WebUI.AllowOrigins)
		if err != nil {
			return fmt.Errorf("web_ui.allow_origins: %w", err)
		}
		c.WebUI.ParsedCIDRs = cidrs
	}

	return nil
}

// parseCIDRList aceita entradas CIDR ("10.0.0.0/8") ou IP puro ("10.1.2.3"),
// convertendo IPs puros para /32 (ou /128 em IPv6).
func parseCIDRList(entries []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid IP %q", entry)
			}
			if ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		_, ipnet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

// ParseByteSize converte strings human-readable como "256kb", "4mb" para bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Ordenado do sufixo mais longo para o mais curto
	// para evitar que "mb" matche como "b"
	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	// Tenta interpretar como número puro (bytes)
	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
