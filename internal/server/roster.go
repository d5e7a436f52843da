// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"sync"
	"time"

	"github.com/nishisan-dev/n-chat/internal/protocol"
)

// Session é o estado de uma conexão no roster. Antes do login a entrada é
// anônima (Online=false) e só participa do controle de heartbeat.
type Session struct {
	ConnID        uint64
	Addr          string
	ClientID      string
	Nickname      string
	Online        bool
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

// Roster é o mapa autoritativo de conexões, com as checagens de unicidade
// de clientId e nickname entre sessões online. Um único mutex protege tudo;
// nenhum método segura o lock através de um send.
type Roster struct {
	mu       sync.Mutex
	sessions map[uint64]*Session
}

// NewRoster cria um roster vazio.
func NewRoster() *Roster {
	return &Roster{sessions: make(map[uint64]*Session)}
}

// Add registra uma conexão anônima recém-aceita.
func (r *Roster) Add(connID uint64, addr string) {
	now := time.Now()
	r.mu.Lock()
	r.sessions[connID] = &Session{
		ConnID:        connID,
		Addr:          addr,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	r.mu.Unlock()
}

// Remove descarta a entrada da conexão, se existir.
func (r *Roster) Remove(connID uint64) {
	r.mu.Lock()
	delete(r.sessions, connID)
	r.mu.Unlock()
}

// TouchHeartbeat renova o timestamp de liveness da conexão.
func (r *Roster) TouchHeartbeat(connID uint64) {
	r.mu.Lock()
	if s, ok := r.sessions[connID]; ok {
		s.LastHeartbeat = time.Now()
	}
	r.mu.Unlock()
}

// Login valida e associa clientId e nickname numa única seção crítica,
// devolvendo o código de resultado do LOGIN_RSP. Checar e associar em
// chamadas separadas abriria janela para dois logins simultâneos com a
// mesma identidade passarem ambos na checagem; com as goroutines de
// leitura rodando em paralelo, a unicidade só vale se for atômica aqui.
func (r *Roster) Login(connID uint64, clientID, nickname string, maxOnline int) uint32 {
	if clientID == "" || nickname == "" {
		return protocol.LoginInvalidParam
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	self, ok := r.sessions[connID]
	if !ok {
		return protocol.LoginInvalidParam
	}

	for id, s := range r.sessions {
		if id == connID || !s.Online {
			continue
		}
		if s.ClientID == clientID {
			return protocol.LoginAlreadyOnline
		}
	}
	for id, s := range r.sessions {
		if id == connID || !s.Online {
			continue
		}
		if s.Nickname == nickname {
			return protocol.LoginNicknameTaken
		}
	}

	online := 0
	for id, s := range r.sessions {
		if s.Online && id != connID {
			online++
		}
	}
	if online >= maxOnline {
		return protocol.LoginServerFull
	}

	self.ClientID = clientID
	self.Nickname = nickname
	self.Online = true
	return protocol.LoginSuccess
}

// ConnByClientID resolve o clientId de um peer online para o id da conexão.
func (r *Roster) ConnByClientID(clientID string) (uint64, bool) {
	if clientID == "" {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.Online && s.ClientID == clientID {
			return id, true
		}
	}
	return 0, false
}

// Get retorna uma cópia da sessão da conexão.
func (r *Roster) Get(connID uint64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// OnlineSnapshot retorna cópias de todas as sessões online. O fan-out de
// broadcast itera sobre a cópia, fora do lock do roster.
func (r *Roster) OnlineSnapshot() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Online {
			out = append(out, *s)
		}
	}
	return out
}

// TimedOut lista as conexões (anônimas incluídas) sem heartbeat há mais
// que threshold.
func (r *Roster) TimedOut(threshold time.Duration) []uint64 {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint64
	for id, s := range r.sessions {
		if now.Sub(s.LastHeartbeat) > threshold {
			out = append(out, id)
		}
	}
	return out
}

// OnlineCount conta as sessões online.
func (r *Roster) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.Online {
			n++
		}
	}
	return n
}

// Size conta todas as conexões, anônimas incluídas.
func (r *Roster) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
