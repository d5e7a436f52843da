// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import "encoding/binary"

// putHeader escreve o MessageHeader nos primeiros 16 bytes de dst.
func putHeader(dst []byte, msgType uint16, bodyLen, sequence uint32) {
	binary.BigEndian.PutUint32(dst[0:4], MagicNumber)
	binary.BigEndian.PutUint16(dst[4:6], ProtocolVersion)
	binary.BigEndian.PutUint16(dst[6:8], msgType)
	binary.BigEndian.PutUint32(dst[8:12], bodyLen)
	binary.BigEndian.PutUint32(dst[12:16], sequence)
}

// putString copia s em dst truncando em len(dst)-1, garantindo NUL final.
// dst já vem zerado pela alocação do frame.
func putString(dst []byte, s string) {
	n := len(dst) - 1
	if len(s) < n {
		n = len(s)
	}
	copy(dst[:n], s)
}

// newFrame aloca um frame completo (header + body zerado).
func newFrame(msgType uint16, bodyLen int, sequence uint32) []byte {
	buf := make([]byte, HeaderSize+bodyLen)
	putHeader(buf, msgType, uint32(bodyLen), sequence)
	return buf
}

// EncodeHeartbeatRequest monta o frame HEARTBEAT_REQ (body vazio).
func EncodeHeartbeatRequest(sequence uint32) []byte {
	return newFrame(MsgHeartbeatReq, 0, sequence)
}

// EncodeHeartbeatResponse monta o frame HEARTBEAT_RSP (body vazio).
func EncodeHeartbeatResponse(sequence uint32) []byte {
	return newFrame(MsgHeartbeatRsp, 0, sequence)
}

// EncodeLogoutRequest monta o frame LOGOUT_REQ (body vazio).
func EncodeLogoutRequest(sequence uint32) []byte {
	return newFrame(MsgLogoutReq, 0, sequence)
}

// EncodeUserListRequest monta o frame USER_LIST_REQ (body vazio).
func EncodeUserListRequest(sequence uint32) []byte {
	return newFrame(MsgUserListReq, 0, sequence)
}

// EncodeLoginRequest monta o frame LOGIN_REQ.
// Body: clientId[32] nickname[64].
func EncodeLoginRequest(sequence uint32, clientID, nickname string) []byte {
	buf := newFrame(MsgLoginReq, LoginRequestSize, sequence)
	body := buf[HeaderSize:]
	putString(body[0:ClientIDSize], clientID)
	putString(body[ClientIDSize:ClientIDSize+NicknameSize], nickname)
	return buf
}

// EncodeLoginResponse monta o frame LOGIN_RSP.
// Body: result[4] message[128].
func EncodeLoginResponse(sequence uint32, result uint32, message string) []byte {
	buf := newFrame(MsgLoginRsp, LoginResponseSize, sequence)
	body := buf[HeaderSize:]
	binary.BigEndian.PutUint32(body[0:4], result)
	putString(body[4:4+LoginMessageSize], message)
	return buf
}

// EncodeChatMessage monta o frame CHAT_MSG.
// Body: chatType[1] fromId[32] fromNick[64] toId[32] timestamp[8] message[256].
func EncodeChatMessage(sequence uint32, msg ChatMessage) []byte {
	buf := newFrame(MsgChat, ChatMessageSize, sequence)
	body := buf[HeaderSize:]
	body[0] = msg.Scope
	off := 1
	putString(body[off:off+ClientIDSize], msg.FromID)
	off += ClientIDSize
	putString(body[off:off+NicknameSize], msg.FromNick)
	off += NicknameSize
	putString(body[off:off+ClientIDSize], msg.ToID)
	off += ClientIDSize
	binary.BigEndian.PutUint64(body[off:off+8], msg.Timestamp)
	off += 8
	putString(body[off:off+ChatTextSize], msg.Text)
	return buf
}

// EncodeUserListResponse monta o frame USER_LIST_RSP.
// Body: count[4] + count × (clientId[32] nickname[64]).
func EncodeUserListResponse(sequence uint32, users []UserInfo) []byte {
	bodyLen := 4 + len(users)*UserInfoSize
	buf := newFrame(MsgUserListRsp, bodyLen, sequence)
	body := buf[HeaderSize:]
	binary.BigEndian.PutUint32(body[0:4], uint32(len(users)))
	off := 4
	for _, u := range users {
		putString(body[off:off+ClientIDSize], u.ClientID)
		off += ClientIDSize
		putString(body[off:off+NicknameSize], u.Nickname)
		off += NicknameSize
	}
	return buf
}

// EncodeFileOffer monta o frame FILE_OFFER.
// Body: fileId[37] fromId[32] fromNick[64] toId[32] fileSize[8] fileName[256].
func EncodeFileOffer(sequence uint32, offer FileOffer) []byte {
	buf := newFrame(MsgFileOffer, FileOfferSize, sequence)
	body := buf[HeaderSize:]
	putString(body[0:FileIDSize], offer.FileID)
	off := FileIDSize
	putString(body[off:off+ClientIDSize], offer.FromID)
	off += ClientIDSize
	putString(body[off:off+NicknameSize], offer.FromNick)
	off += NicknameSize
	putString(body[off:off+ClientIDSize], offer.ToID)
	off += ClientIDSize
	binary.BigEndian.PutUint64(body[off:off+8], offer.FileSize)
	off += 8
	putString(body[off:off+FileNameSize], offer.FileName)
	return buf
}

// EncodeFileOfferResponse monta o frame FILE_OFFER_RSP.
// Body: fileId[37] result[4] message[64].
func EncodeFileOfferResponse(sequence uint32, fileID string, result uint32, message string) []byte {
	buf := newFrame(MsgFileOfferRsp, FileOfferResponseSize, sequence)
	body := buf[HeaderSize:]
	putString(body[0:FileIDSize], fileID)
	binary.BigEndian.PutUint32(body[FileIDSize:FileIDSize+4], result)
	putString(body[FileIDSize+4:FileIDSize+4+OfferMessageSize], message)
	return buf
}

// EncodeFileData monta o frame FILE_DATA.
// Body: fileId[37] offset[8] chunkSize[4] + payload.
func EncodeFileData(sequence uint32, fileID string, offset uint64, payload []byte) []byte {
	buf := newFrame(MsgFileData, FileDataHeaderSize+len(payload), sequence)
	body := buf[HeaderSize:]
	putString(body[0:FileIDSize], fileID)
	binary.BigEndian.PutUint64(body[FileIDSize:FileIDSize+8], offset)
	binary.BigEndian.PutUint32(body[FileIDSize+8:FileIDSize+12], uint32(len(payload)))
	copy(body[FileDataHeaderSize:], payload)
	return buf
}

// EncodeFileDataAck monta o frame FILE_DATA_ACK (só o FileDataHeader).
func EncodeFileDataAck(sequence uint32, fileID string, offset uint64, chunkSize uint32) []byte {
	buf := newFrame(MsgFileDataAck, FileDataHeaderSize, sequence)
	body := buf[HeaderSize:]
	putString(body[0:FileIDSize], fileID)
	binary.BigEndian.PutUint64(body[FileIDSize:FileIDSize+8], offset)
	binary.BigEndian.PutUint32(body[FileIDSize+8:FileIDSize+12], chunkSize)
	return buf
}

// EncodeRaw monta um frame de tipo arbitrário com body verbatim.
// Usado pelo server para relay de FILE_DATA/FILE_DATA_ACK sem re-parse.
func EncodeRaw(msgType uint16, sequence uint32, body []byte) []byte {
	buf := newFrame(msgType, len(body), sequence)
	copy(buf[HeaderSize:], body)
	return buf
}
