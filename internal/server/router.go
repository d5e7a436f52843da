// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"log/slog"
	"time"

	"github.com/nishisan-dev/n-chat/internal/protocol"
)

// Sender é o que o Router precisa do server para entregar frames e derrubar
// conexões. Separado em interface para os testes do router rodarem sem
// sockets reais.
type Sender interface {
	// SendTo enfileira um frame para a conexão. Falha silenciosa se ela
	// não existe ou já está fechando.
	SendTo(connID uint64, frame []byte) bool
	// Disconnect enfileira o teardown diferido da conexão.
	Disconnect(connID uint64, reason string)
}

// Router decide o destino de cada mensagem decodificada: resposta direta,
// fan-out, forward ponto-a-ponto ou relay verbatim. Roda na goroutine de
// leitura da conexão de origem; nunca bloqueia.
type Router struct {
	roster     *Roster
	files      *FileTable
	sender     Sender
	logger     *slog.Logger
	maxClients int
}

// NewRouter monta um router sobre o roster e a tabela de transferências.
func NewRouter(roster *Roster, files *FileTable, sender Sender, logger *slog.Logger, maxClients int) *Router {
	return &Router{
		roster:     roster,
		files:      files,
		sender:     sender,
		logger:     logger,
		maxClients: maxClients,
	}
}

// OnMessage despacha um frame completo vindo da conexão from.
func (rt *Router) OnMessage(from uint64, h protocol.Header, body []byte) {
	switch h.MsgType {
	case protocol.MsgHeartbeatReq:
		rt.handleHeartbeat(from, h)
	case protocol.MsgLoginReq:
		rt.handleLogin(from, h, body)
	case protocol.MsgLogoutReq:
		rt.sender.Disconnect(from, "logout")
	case protocol.MsgChat:
		rt.handleChat(from, h, body)
	case protocol.MsgUserListReq:
		rt.handleUserList(from, h)
	case protocol.MsgFileOffer:
		rt.handleFileOffer(from, h, body)
	case protocol.MsgFileOfferRsp:
		rt.handleFileOfferResponse(from, h, body)
	case protocol.MsgFileData, protocol.MsgFileDataAck:
		rt.handleFileRelay(from, h, body)
	default:
		rt.logger.Warn("unknown message type", "conn", from, "msg_type", h.MsgType)
	}
}

// handleHeartbeat renova o liveness e ecoa a sequence do request. Um
// HEARTBEAT_REQ com body não vazio é malformado e é ignorado sem renovar.
func (rt *Router) handleHeartbeat(from uint64, h protocol.Header) {
	if h.BodyLength != 0 {
		rt.logger.Warn("heartbeat with non-empty body ignored", "conn", from)
		return
	}
	rt.roster.TouchHeartbeat(from)
	rt.sender.SendTo(from, protocol.EncodeHeartbeatResponse(h.Sequence))
}

func (rt *Router) handleLogin(from uint64, h protocol.Header, body []byte) {
	reply := func(result uint32, message string) {
		rt.sender.SendTo(from, protocol.EncodeLoginResponse(h.Sequence, result, message))
	}

	req, err := protocol.DecodeLoginRequest(body)
	if err != nil {
		reply(protocol.LoginInvalidParam, "Malformed login request")
		return
	}
	if req.ClientID == "" || req.Nickname == "" {
		reply(protocol.LoginInvalidParam, "Client id and nickname required")
		return
	}

	// Validação e bind numa operação só: logins simultâneos de conexões
	// diferentes disputam o lock do roster, nunca a mesma identidade.
	switch rt.roster.Login(from, req.ClientID, req.Nickname, rt.maxClients) {
	case protocol.LoginSuccess:
		reply(protocol.LoginSuccess, "OK")
		rt.logger.Info("client logged in",
			"conn", from, "client_id", req.ClientID, "nickname", req.Nickname)
		rt.BroadcastUserList()
	case protocol.LoginAlreadyOnline:
		reply(protocol.LoginAlreadyOnline, "Client already online")
	case protocol.LoginNicknameTaken:
		reply(protocol.LoginNicknameTaken, "Nickname taken")
	case protocol.LoginServerFull:
		reply(protocol.LoginServerFull, "Server full")
	default:
		reply(protocol.LoginInvalidParam, "Connection not registered")
	}
}

// handleChat encaminha um CHAT_MSG. O server não confia no remetente:
// fromId/fromNick são substituídos pela identidade da sessão, e timestamp
// zero vira o relógio do server.
func (rt *Router) handleChat(from uint64, h protocol.Header, body []byte) {
	sess, ok := rt.roster.Get(from)
	if !ok || !sess.Online {
		rt.logger.Warn("chat from connection without login", "conn", from)
		return
	}

	msg, err := protocol.DecodeChatMessage(body)
	if err != nil {
		rt.logger.Warn("malformed chat message", "conn", from, "error", err)
		return
	}
	msg.FromID = sess.ClientID
	msg.FromNick = sess.Nickname
	if msg.Timestamp == 0 {
		msg.Timestamp = uint64(time.Now().Unix())
	}

	switch msg.Scope {
	case protocol.ChatGroup:
		frame := protocol.EncodeChatMessage(h.Sequence, msg)
		for _, peer := range rt.roster.OnlineSnapshot() {
			if peer.ConnID == from {
				continue
			}
			rt.sender.SendTo(peer.ConnID, frame)
		}
	case protocol.ChatPrivate:
		target, ok := rt.roster.ConnByClientID(msg.ToID)
		if !ok {
			// Destino offline: drop silencioso.
			return
		}
		rt.sender.SendTo(target, protocol.EncodeChatMessage(h.Sequence, msg))
	default:
		rt.logger.Warn("chat with unknown scope", "conn", from, "scope", msg.Scope)
	}
}

func (rt *Router) handleUserList(from uint64, h protocol.Header) {
	sess, ok := rt.roster.Get(from)
	if !ok || !sess.Online {
		rt.logger.Warn("user list request without login", "conn", from)
		return
	}
	rt.sender.SendTo(from, protocol.EncodeUserListResponse(h.Sequence, rt.onlineUsers()))
}

func (rt *Router) handleFileOffer(from uint64, h protocol.Header, body []byte) {
	sess, ok := rt.roster.Get(from)
	if !ok || !sess.Online {
		rt.logger.Warn("file offer without login", "conn", from)
		return
	}

	offer, err := protocol.DecodeFileOffer(body)
	if err != nil {
		rt.logger.Warn("malformed file offer", "conn", from, "error", err)
		return
	}

	reject := func(result uint32, message string) {
		rt.sender.SendTo(from, protocol.EncodeFileOfferResponse(h.Sequence, offer.FileID, result, message))
	}

	if offer.FileID == "" {
		reject(protocol.FileOfferDecline, "Invalid file id")
		return
	}
	if offer.ToID == "" {
		reject(protocol.FileOfferDecline, "Target required")
		return
	}
	target, ok := rt.roster.ConnByClientID(offer.ToID)
	if !ok {
		reject(protocol.FileOfferBusy, "Target offline")
		return
	}

	offer.FromID = sess.ClientID
	offer.FromNick = sess.Nickname
	rt.files.Insert(offer.FileID, from)
	rt.sender.SendTo(target, protocol.EncodeFileOffer(h.Sequence, offer))
	rt.logger.Info("file offer forwarded",
		"file_id", offer.FileID, "from", sess.ClientID, "to", offer.ToID,
		"file_name", offer.FileName, "file_size", offer.FileSize)
}

func (rt *Router) handleFileOfferResponse(from uint64, h protocol.Header, body []byte) {
	rsp, err := protocol.DecodeFileOfferResponse(body)
	if err != nil {
		rt.logger.Warn("malformed file offer response", "conn", from, "error", err)
		return
	}

	accept := rsp.Result == protocol.FileOfferAccept
	sender, ok := rt.files.Respond(rsp.FileID, from, accept)
	if !ok {
		rt.logger.Warn("offer response for unknown or foreign session",
			"conn", from, "file_id", rsp.FileID)
		return
	}
	rt.sender.SendTo(sender, protocol.EncodeFileOfferResponse(h.Sequence, rsp.FileID, rsp.Result, rsp.Message))
	rt.logger.Info("file offer answered",
		"file_id", rsp.FileID, "result", rsp.Result)
}

// handleFileRelay repassa FILE_DATA/FILE_DATA_ACK verbatim para o outro
// lado da sessão. Frames de conexões fora da sessão são descartados.
func (rt *Router) handleFileRelay(from uint64, h protocol.Header, body []byte) {
	fileID := protocol.ExtractFileID(body)
	if fileID == "" {
		rt.logger.Warn("file relay frame without file id", "conn", from)
		return
	}
	target, ok := rt.files.RelayTarget(fileID, from)
	if !ok {
		rt.logger.Warn("file relay dropped", "conn", from, "file_id", fileID)
		return
	}
	rt.sender.SendTo(target, protocol.EncodeRaw(h.MsgType, h.Sequence, body))
}

// BroadcastUserList envia a lista de online para todos os online, com
// sequence 0 (push não solicitado). Lista vazia não gera frame.
func (rt *Router) BroadcastUserList() {
	users := rt.onlineUsers()
	if len(users) == 0 {
		return
	}
	frame := protocol.EncodeUserListResponse(0, users)
	for _, peer := range rt.roster.OnlineSnapshot() {
		rt.sender.SendTo(peer.ConnID, frame)
	}
}

func (rt *Router) onlineUsers() []protocol.UserInfo {
	snapshot := rt.roster.OnlineSnapshot()
	users := make([]protocol.UserInfo, 0, len(snapshot))
	for _, s := range snapshot {
		users = append(users, protocol.UserInfo{ClientID: s.ClientID, Nickname: s.Nickname})
	}
	return users
}
