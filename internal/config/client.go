// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig representa a configuração completa do nchat-client.
type ClientConfig struct {
	Server    ServerAddr      `yaml:"server"`
	User      UserInfo        `yaml:"user"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Heartbeat ClientHeartbeat `yaml:"heartbeat"`
	Logging   LoggingInfo     `yaml:"logging"`
}

// ServerAddr contém o endereço do relay.
type ServerAddr struct {
	IP   string `yaml:"ip"`   // default: "127.0.0.1"
	Port int    `yaml:"port"` // default: 8888
}

// Address retorna o endereço host:port para discagem.
func (s ServerAddr) Address() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// UserInfo identifica o usuário. ClientID vazio usa o nickname.
type UserInfo struct {
	ClientID string `yaml:"client_id"`
	Nickname string `yaml:"nickname"`
}

// TransferConfig controla as transferências de arquivo.
type TransferConfig struct {
	DownloadDir string `yaml:"download_dir"` // default: ~/Downloads
	UploadBPS   int64  `yaml:"upload_bps"`   // 0 = sem throttle
}

// ClientHeartbeat controla o ticker de heartbeat do client.
type ClientHeartbeat struct {
	Interval time.Duration `yaml:"interval"` // default: 3s
}

// LoadClientConfig lê e valida o arquivo YAML de configuração do client.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

// Validate aplica defaults e checa os campos obrigatórios.
// Exportado porque o client também é montado programaticamente nos testes.
func (c *ClientConfig) Validate() error {
	if c.Server.IP == "" {
		c.Server.IP = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8888
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}

	if c.User.Nickname == "" {
		return fmt.Errorf("user.nickname is required")
	}
	if c.User.ClientID == "" {
		c.User.ClientID = c.User.Nickname
	}

	if c.Transfer.DownloadDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home dir for download_dir: %w", err)
		}
		c.Transfer.DownloadDir = filepath.Join(home, "Downloads")
	}
	if c.Transfer.UploadBPS < 0 {
		return fmt.Errorf("transfer.upload_bps must be >= 0, got %d", c.Transfer.UploadBPS)
	}

	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = 3 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	return nil
}
