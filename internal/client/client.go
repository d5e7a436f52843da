// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package client implementa o lado client do relay (nchat-client): conexão
// persistente, heartbeat, chat e transferências de arquivo P2P via relay.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/n-chat/internal/config"
	"github.com/nishisan-dev/n-chat/internal/protocol"
)

// Estados do client.
const (
	StateDisconnected = "disconnected"
	StateConnected    = "connected"
	StateOnline       = "online"
)

// readBufSize é o scratch buffer de leitura do socket.
const readBufSize = 4096

// Callbacks são os hooks de eventos assíncronos vindos do server. Todos são
// opcionais e chamados na goroutine de leitura; handlers longos devem
// despachar para outra goroutine.
type Callbacks struct {
	OnLoginResult      func(protocol.LoginResponse)
	OnChat             func(protocol.ChatMessage)
	OnUserList         func([]protocol.UserInfo)
	OnFileOffer        func(protocol.FileOffer)
	OnOfferResult      func(protocol.FileOfferResponse)
	OnTransferProgress func(fileID string, transferred, total uint64)
	OnTransferDone     func(fileID, path string, bytes uint64)
	OnDisconnected     func(err error)
}

// Client é uma conexão ao relay com heartbeat automático, sequence counter
// próprio e gestão de transferências.
type Client struct {
	cfg    *config.ClientConfig
	logger *slog.Logger
	cb     Callbacks

	conn    net.Conn
	connMu  sync.Mutex
	writeMu sync.Mutex

	seq    atomic.Uint32
	state  atomic.Value // string
	framer protocol.Framer

	transfers *TransferManager

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClient monta um client sem abrir a conexão.
func NewClient(cfg *config.ClientConfig, logger *slog.Logger, cb Callbacks) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		logger: logger,
		cb:     cb,
		ctx:    ctx,
		cancel: cancel,
	}
	c.state.Store(StateDisconnected)
	c.transfers = newTransferManager(cfg, logger, c.send, c.nextSeq, ctx, cb.OnTransferProgress, cb.OnTransferDone)
	return c
}

// Connect disca para o relay e sobe as goroutines de leitura e heartbeat.
func (c *Client) Connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.cfg.Server.Address(), err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.state.Store(StateConnected)
	c.logger.Info("connected", "server", c.cfg.Server.Address())

	c.wg.Add(2)
	go c.readLoop()
	go c.heartbeatLoop()
	return nil
}

// Close derruba a conexão e espera as goroutines terminarem.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
	c.wg.Wait()
	c.state.Store(StateDisconnected)
}

// State retorna o estado atual do client.
func (c *Client) State() string {
	return c.state.Load().(string)
}

// nextSeq devolve o próximo número de sequência para frames originados aqui.
func (c *Client) nextSeq() uint32 {
	return c.seq.Add(1)
}

// send serializa os writes no socket. Frames inteiros por chamada, então a
// ordem no wire é a ordem das chamadas.
func (c *Client) send(frame []byte) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	c.writeMu.Lock()
	_, err := conn.Write(frame)
	c.writeMu.Unlock()
	return err
}

// Login envia as credenciais configuradas. O resultado chega via
// OnLoginResult.
func (c *Client) Login() error {
	return c.send(protocol.EncodeLoginRequest(c.nextSeq(), c.cfg.User.ClientID, c.cfg.User.Nickname))
}

// Logout avisa o server e encerra a sessão. O server derruba a conexão.
func (c *Client) Logout() error {
	return c.send(protocol.EncodeLogoutRequest(c.nextSeq()))
}

// SendGroupChat envia um texto para todos os usuários online.
func (c *Client) SendGroupChat(text string) error {
	return c.send(protocol.EncodeChatMessage(c.nextSeq(), protocol.ChatMessage{
		Scope: protocol.ChatGroup,
		Text:  text,
	}))
}

// SendPrivateChat envia um texto para um clientId específico.
func (c *Client) SendPrivateChat(toID, text string) error {
	return c.send(protocol.EncodeChatMessage(c.nextSeq(), protocol.ChatMessage{
		Scope: protocol.ChatPrivate,
		ToID:  toID,
		Text:  text,
	}))
}

// RequestUserList pede a lista de usuários online. A resposta chega via
// OnUserList.
func (c *Client) RequestUserList() error {
	return c.send(protocol.EncodeUserListRequest(c.nextSeq()))
}

// OfferFile anuncia um arquivo para um peer e retorna o fileId gerado.
// O streaming começa quando o peer aceita.
func (c *Client) OfferFile(path, toID string) (string, error) {
	return c.transfers.OfferFile(path, toID)
}

// AcceptOffer aceita uma oferta pendente; os chunks serão gravados no
// download_dir configurado.
func (c *Client) AcceptOffer(fileID string) error {
	return c.transfers.AcceptOffer(fileID)
}

// DeclineOffer recusa uma oferta pendente.
func (c *Client) DeclineOffer(fileID string) error {
	return c.transfers.DeclineOffer(fileID)
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return
	}

	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := c.framer.Feed(buf[:n], c.handleFrame); ferr != nil {
				c.logger.Warn("corrupt frame from server, buffer discarded", "error", ferr)
			}
		}
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("server closed the connection")
			} else {
				c.logger.Error("read failed", "error", err)
			}
			c.state.Store(StateDisconnected)
			if c.cb.OnDisconnected != nil {
				c.cb.OnDisconnected(err)
			}
			return
		}
	}
}

func (c *Client) handleFrame(h protocol.Header, body []byte) {
	switch h.MsgType {
	case protocol.MsgHeartbeatRsp:
		c.logger.Debug("heartbeat ack", "sequence", h.Sequence)

	case protocol.MsgLoginRsp:
		rsp, err := protocol.DecodeLoginResponse(body)
		if err != nil {
			c.logger.Warn("malformed login response", "error", err)
			return
		}
		if rsp.Result == protocol.LoginSuccess {
			c.state.Store(StateOnline)
		}
		c.logger.Info("login result", "result", rsp.Result, "message", rsp.Message)
		if c.cb.OnLoginResult != nil {
			c.cb.OnLoginResult(rsp)
		}

	case protocol.MsgChat:
		msg, err := protocol.DecodeChatMessage(body)
		if err != nil {
			c.logger.Warn("malformed chat message", "error", err)
			return
		}
		if c.cb.OnChat != nil {
			c.cb.OnChat(msg)
		}

	case protocol.MsgUserListRsp:
		users, err := protocol.DecodeUserListResponse(body)
		if err != nil {
			c.logger.Warn("malformed user list", "error", err)
			return
		}
		if c.cb.OnUserList != nil {
			c.cb.OnUserList(users)
		}

	case protocol.MsgFileOffer:
		offer, err := protocol.DecodeFileOffer(body)
		if err != nil {
			c.logger.Warn("malformed file offer", "error", err)
			return
		}
		c.transfers.rememberOffer(offer)
		if c.cb.OnFileOffer != nil {
			c.cb.OnFileOffer(offer)
		}

	case protocol.MsgFileOfferRsp:
		rsp, err := protocol.DecodeFileOfferResponse(body)
		if err != nil {
			c.logger.Warn("malformed offer response", "error", err)
			return
		}
		c.transfers.handleOfferResponse(rsp)
		if c.cb.OnOfferResult != nil {
			c.cb.OnOfferResult(rsp)
		}

	case protocol.MsgFileData:
		hdr, payload, err := protocol.DecodeFileDataHeader(body)
		if err != nil {
			c.logger.Warn("malformed file data", "error", err)
			return
		}
		c.transfers.handleData(hdr, payload)

	case protocol.MsgFileDataAck:
		hdr, err := protocol.DecodeFileDataAck(body)
		if err != nil {
			c.logger.Warn("malformed file data ack", "error", err)
			return
		}
		c.transfers.handleAck(hdr)

	default:
		c.logger.Warn("unknown message type from server", "msg_type", h.MsgType)
	}
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(protocol.EncodeHeartbeatRequest(c.nextSeq())); err != nil {
				c.logger.Warn("heartbeat send failed", "error", err)
			}
		}
	}
}
