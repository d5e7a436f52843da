// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/n-chat/internal/protocol"
)

// readBufSize é o scratch buffer de leitura por conexão.
const readBufSize = 4096

// writeTimeout é o deadline de cada write no socket. Um peer com a janela
// TCP parada por mais tempo que isso é considerado morto.
const writeTimeout = 30 * time.Second

// Conn embrulha um socket aceito: framer de entrada, fila de saída limitada
// e flag de fechamento sticky. A goroutine de leitura é a única que toca o
// framer; a de escrita é a única que toca o socket para envio. Toda
// destruição passa pela fila de disconnects do server (teardown diferido).
type Conn struct {
	id     uint64
	sock   net.Conn
	addr   string
	logger *slog.Logger

	framer protocol.Framer

	mu  sync.Mutex
	out []byte

	closing  atomic.Bool
	flushCh  chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	maxOutbound int

	// onMessage é chamado na goroutine de leitura para cada frame completo,
	// na ordem de chegada.
	onMessage func(id uint64, h protocol.Header, body []byte)

	// onClose enfileira o disconnect diferido. Disparado no máximo uma vez.
	onClose func(id uint64, reason string)

	trafficIn  *atomic.Int64
	trafficOut *atomic.Int64
}

func newConn(id uint64, sock net.Conn, maxOutbound int, logger *slog.Logger,
	onMessage func(uint64, protocol.Header, []byte),
	onClose func(uint64, string),
	trafficIn, trafficOut *atomic.Int64) *Conn {
	return &Conn{
		id:          id,
		sock:        sock,
		addr:        sock.RemoteAddr().String(),
		logger:      logger,
		flushCh:     make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
		maxOutbound: maxOutbound,
		onMessage:   onMessage,
		onClose:     onClose,
		trafficIn:   trafficIn,
		trafficOut:  trafficOut,
	}
}

// Addr retorna o endereço remoto do peer.
func (c *Conn) Addr() string {
	return c.addr
}

// Closing informa se a conexão já foi marcada para teardown.
func (c *Conn) Closing() bool {
	return c.closing.Load()
}

// QueueSend enfileira um frame completo para envio, preservando a ordem das
// chamadas. Nunca bloqueia: excesso além de maxOutbound derruba a conexão
// (a pressão recai sobre o destinatário lento, não sobre quem envia).
func (c *Conn) QueueSend(frame []byte) bool {
	if len(frame) == 0 {
		return true
	}
	if c.closing.Load() {
		return false
	}

	c.mu.Lock()
	if len(c.out)+len(frame) > c.maxOutbound {
		c.mu.Unlock()
		c.requestClose("outbound buffer overflow")
		return false
	}
	c.out = append(c.out, frame...)
	c.mu.Unlock()

	select {
	case c.flushCh <- struct{}{}:
	default:
	}
	return true
}

// requestClose marca a conexão como closing e enfileira o disconnect
// diferido. Idempotente: só o primeiro motivo conta.
func (c *Conn) requestClose(reason string) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	c.onClose(c.id, reason)
}

// shutdown libera as goroutines e fecha o socket. Chamado só pelo teardown
// do server, nunca durante um dispatch desta conexão.
func (c *Conn) shutdown() {
	c.closing.Store(true)
	c.stopOnce.Do(func() {
		close(c.doneCh)
		c.sock.Close()
	})
}

// readLoop drena o socket, alimenta o framer e despacha cada mensagem
// completa. Uma conexão já marcada para disconnect não gera mais dispatch,
// mesmo que ainda haja bytes chegando antes do teardown.
func (c *Conn) readLoop(wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, readBufSize)
	for {
		n, err := c.sock.Read(buf)
		if n > 0 {
			c.trafficIn.Add(int64(n))
			if ferr := c.framer.Feed(buf[:n], c.dispatch); ferr != nil {
				// Política leniente: acumulador descartado, conexão aberta.
				c.logger.Warn("corrupt frame, receive buffer discarded",
					"conn", c.id, "addr", c.addr, "error", ferr)
			}
		}
		if err != nil {
			if c.closing.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				c.requestClose("peer closed")
			} else {
				c.requestClose(fmt.Sprintf("recv error: %v", err))
			}
			return
		}
	}
}

func (c *Conn) dispatch(h protocol.Header, body []byte) {
	if c.closing.Load() {
		return
	}
	c.onMessage(c.id, h, body)
}

// writeLoop drena a fila de saída. Pega o buffer inteiro por vez (swap sob
// o lock) e escreve fora dele, então nenhum lock atravessa um send.
func (c *Conn) writeLoop(wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-c.doneCh:
			return
		case <-c.flushCh:
		}

		for {
			c.mu.Lock()
			if len(c.out) == 0 {
				c.mu.Unlock()
				break
			}
			chunk := c.out
			c.out = nil
			c.mu.Unlock()

			c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			n, err := c.sock.Write(chunk)
			if n > 0 {
				c.trafficOut.Add(int64(n))
			}
			if err != nil {
				if !c.closing.Load() {
					c.requestClose(fmt.Sprintf("send error: %v", err))
				}
				return
			}
		}
	}
}
