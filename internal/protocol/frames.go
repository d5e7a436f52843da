// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implementa o protocolo binário N-Chat para comunicação
// entre client e server sobre TCP. Todos os frames compartilham um header
// fixo de 16 bytes; inteiros multi-byte são big-endian e campos de texto
// têm largura fixa, zero-padded, terminados em NUL.
package protocol

import "errors"

// Magic e versão do protocolo.
const (
	MagicNumber     uint32 = 0x12345678
	ProtocolVersion uint16 = 0x0001
)

// HeaderSize é o tamanho do MessageHeader no wire:
// Magic(4B) + Version(2B) + MsgType(2B) + BodyLength(4B) + Sequence(4B).
const HeaderSize = 16

// MaxBodyLength é o tamanho máximo aceito para o body de um frame.
const MaxBodyLength = 1024 * 1024

// Tipos de mensagem.
const (
	MsgHeartbeatReq uint16 = 0x0001
	MsgHeartbeatRsp uint16 = 0x0002
	MsgLoginReq     uint16 = 0x0101
	MsgLoginRsp     uint16 = 0x0102
	MsgLogoutReq    uint16 = 0x0103
	MsgChat         uint16 = 0x0201
	MsgUserListReq  uint16 = 0x0202
	MsgUserListRsp  uint16 = 0x0203
	MsgFileOffer    uint16 = 0x0301
	MsgFileOfferRsp uint16 = 0x0302
	MsgFileData     uint16 = 0x0303
	MsgFileDataAck  uint16 = 0x0304
)

// Larguras fixas dos campos de texto (bytes, incluindo o NUL terminador).
const (
	ClientIDSize     = 32
	NicknameSize     = 64
	ChatTextSize     = 256
	LoginMessageSize = 128
	OfferMessageSize = 64
	FileIDSize       = 37 // UUID de 36 chars + NUL
	FileNameSize     = 256
)

// Tamanhos dos bodies fixos no wire.
const (
	LoginRequestSize      = ClientIDSize + NicknameSize                                       // 96
	LoginResponseSize     = 4 + LoginMessageSize                                              // 132
	ChatMessageSize       = 1 + ClientIDSize + NicknameSize + ClientIDSize + 8 + ChatTextSize // 389
	UserInfoSize          = ClientIDSize + NicknameSize                                       // 96
	FileOfferSize         = FileIDSize + ClientIDSize + NicknameSize + ClientIDSize + 8 + FileNameSize
	FileOfferResponseSize = FileIDSize + 4 + OfferMessageSize
	FileDataHeaderSize    = FileIDSize + 8 + 4 // 49
)

// Resultados de login (LoginResponse.Result).
const (
	LoginSuccess       uint32 = 0
	LoginInvalidParam  uint32 = 1
	LoginServerFull    uint32 = 2
	LoginAlreadyOnline uint32 = 3
	LoginNicknameTaken uint32 = 4
)

// Escopos de chat (ChatMessage.Scope).
const (
	ChatGroup   byte = 0
	ChatPrivate byte = 1
)

// Resultados de file offer (FileOfferResponse.Result).
const (
	FileOfferAccept  uint32 = 0
	FileOfferDecline uint32 = 1
	FileOfferBusy    uint32 = 2
)

// Erros do protocolo.
var (
	ErrInvalidMagic   = errors.New("protocol: invalid magic number")
	ErrInvalidVersion = errors.New("protocol: unsupported protocol version")
	ErrBodyTooLarge   = errors.New("protocol: body length exceeds limit")
	ErrShortBody      = errors.New("protocol: body shorter than fixed layout")
)

// Header representa o MessageHeader de 16 bytes que precede todo frame.
type Header struct {
	Magic      uint32
	Version    uint16
	MsgType    uint16
	BodyLength uint32
	Sequence   uint32
}

// LoginRequest é enviado pelo client para autenticar a conexão.
type LoginRequest struct {
	ClientID string
	Nickname string
}

// LoginResponse é a resposta do server ao login.
type LoginResponse struct {
	Result  uint32
	Message string
}

// ChatMessage é um texto de chat, em grupo ou privado.
// Timestamp em segundos de epoch; zero pede substituição pelo relógio do server.
type ChatMessage struct {
	Scope     byte
	FromID    string
	FromNick  string
	ToID      string
	Timestamp uint64
	Text      string
}

// UserInfo é uma entrada da lista de usuários online.
type UserInfo struct {
	ClientID string
	Nickname string
}

// FileOffer anuncia uma transferência de arquivo a um peer específico.
type FileOffer struct {
	FileID   string
	FromID   string
	FromNick string
	ToID     string
	FileSize uint64
	FileName string
}

// FileOfferResponse é a decisão do destinatário sobre uma oferta.
type FileOfferResponse struct {
	FileID  string
	Result  uint32
	Message string
}

// FileDataHeader precede o payload de cada frame FILE_DATA/FILE_DATA_ACK.
type FileDataHeader struct {
	FileID    string
	Offset    uint64
	ChunkSize uint32
}

// ValidateHeader rejeita headers com magic ou versão errados, ou body
// acima de MaxBodyLength.
func ValidateHeader(h Header) error {
	if h.Magic != MagicNumber {
		return ErrInvalidMagic
	}
	if h.Version != ProtocolVersion {
		return ErrInvalidVersion
	}
	if h.BodyLength > MaxBodyLength {
		return ErrBodyTooLarge
	}
	return nil
}
