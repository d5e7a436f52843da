// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"sync"
	"time"
)

// Unassigned marca o lado receptor de uma sessão ainda sem resposta ao offer.
const Unassigned uint64 = 0

// FileSession é o par remetente/receptor de uma transferência em curso,
// indexada pelo fileId escolhido pelo remetente.
type FileSession struct {
	FileID       string
	SenderConn   uint64
	ReceiverConn uint64
	CreatedAt    time.Time
	LastActivity time.Time
}

// FileTable guarda as sessões de transferência ativas. Mutex próprio,
// independente do roster; nenhum método segura o lock através de um send.
type FileTable struct {
	mu       sync.Mutex
	sessions map[string]*FileSession
}

// NewFileTable cria uma tabela vazia.
func NewFileTable() *FileTable {
	return &FileTable{sessions: make(map[string]*FileSession)}
}

// Insert registra uma sessão pendente ao encaminhar um FILE_OFFER. O
// receptor fica Unassigned até o primeiro FILE_OFFER_RSP de aceite.
// Um fileId repetido sobrescreve a sessão anterior.
func (t *FileTable) Insert(fileID string, senderConn uint64) {
	if fileID == "" {
		return
	}
	now := time.Now()
	t.mu.Lock()
	t.sessions[fileID] = &FileSession{
		FileID:       fileID,
		SenderConn:   senderConn,
		CreatedAt:    now,
		LastActivity: now,
	}
	t.mu.Unlock()
}

// Get retorna uma cópia da sessão.
func (t *FileTable) Get(fileID string) (FileSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[fileID]
	if !ok {
		return FileSession{}, false
	}
	return *s, true
}

// Respond aplica um FILE_OFFER_RSP vindo da conexão from. Aceite com
// receptor ainda Unassigned vincula from como receptor; recusa remove a
// sessão. Resposta de quem não é o receptor vinculado é rejeitada. Retorna
// a conexão do remetente para quem encaminhar a resposta.
func (t *FileTable) Respond(fileID string, from uint64, accept bool) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[fileID]
	if !ok {
		return 0, false
	}
	if s.ReceiverConn != Unassigned && s.ReceiverConn != from {
		return 0, false
	}
	sender := s.SenderConn
	if accept {
		s.ReceiverConn = from
		s.LastActivity = time.Now()
	} else {
		delete(t.sessions, fileID)
	}
	return sender, true
}

// RelayTarget resolve para quem repassar um FILE_DATA / FILE_DATA_ACK
// vindo da conexão from. O frame só anda entre os dois lados da sessão:
// conexão estranha ou receptor ainda Unassigned derrubam o relay.
func (t *FileTable) RelayTarget(fileID string, from uint64) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[fileID]
	if !ok {
		return 0, false
	}
	var target uint64
	switch from {
	case s.SenderConn:
		target = s.ReceiverConn
	case s.ReceiverConn:
		target = s.SenderConn
	default:
		return 0, false
	}
	if target == Unassigned {
		return 0, false
	}
	s.LastActivity = time.Now()
	return target, true
}

// EraseConn remove toda sessão em que a conexão participa. Chamado no
// teardown; o outro lado descobre pelo sumiço dos frames.
func (t *FileTable) EraseConn(connID uint64) {
	t.mu.Lock()
	for id, s := range t.sessions {
		if s.SenderConn == connID || s.ReceiverConn == connID {
			delete(t.sessions, id)
		}
	}
	t.mu.Unlock()
}

// SweepIdle remove sessões sem atividade há mais que ttl e retorna
// quantas caíram.
func (t *FileTable) SweepIdle(ttl time.Duration) int {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, s := range t.sessions {
		if now.Sub(s.LastActivity) > ttl {
			delete(t.sessions, id)
			n++
		}
	}
	return n
}

// Len conta as sessões ativas.
func (t *FileTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
