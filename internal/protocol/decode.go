// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"
)

// DecodeHeader lê o MessageHeader dos primeiros 16 bytes de buf.
// O caller garante len(buf) >= HeaderSize.
func DecodeHeader(buf []byte) Header {
	return Header{
		Magic:      binary.BigEndian.Uint32(buf[0:4]),
		Version:    binary.BigEndian.Uint16(buf[4:6]),
		MsgType:    binary.BigEndian.Uint16(buf[6:8]),
		BodyLength: binary.BigEndian.Uint32(buf[8:12]),
		Sequence:   binary.BigEndian.Uint32(buf[12:16]),
	}
}

// cutString normaliza um campo de texto de largura fixa: força NUL no
// último byte e corta no primeiro NUL. Um payload sem NUL decodifica como
// largura-1 bytes.
func cutString(field []byte) string {
	field = field[:len(field)-1]
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

// DecodeLoginRequest decodifica o body de um LOGIN_REQ.
func DecodeLoginRequest(body []byte) (LoginRequest, error) {
	if len(body) < LoginRequestSize {
		return LoginRequest{}, ErrShortBody
	}
	return LoginRequest{
		ClientID: cutString(body[0:ClientIDSize]),
		Nickname: cutString(body[ClientIDSize : ClientIDSize+NicknameSize]),
	}, nil
}

// DecodeLoginResponse decodifica o body de um LOGIN_RSP.
func DecodeLoginResponse(body []byte) (LoginResponse, error) {
	if len(body) < LoginResponseSize {
		return LoginResponse{}, ErrShortBody
	}
	return LoginResponse{
		Result:  binary.BigEndian.Uint32(body[0:4]),
		Message: cutString(body[4 : 4+LoginMessageSize]),
	}, nil
}

// DecodeChatMessage decodifica o body de um CHAT_MSG.
func DecodeChatMessage(body []byte) (ChatMessage, error) {
	if len(body) < ChatMessageSize {
		return ChatMessage{}, ErrShortBody
	}
	msg := ChatMessage{Scope: body[0]}
	off := 1
	msg.FromID = cutString(body[off : off+ClientIDSize])
	off += ClientIDSize
	msg.FromNick = cutString(body[off : off+NicknameSize])
	off += NicknameSize
	msg.ToID = cutString(body[off : off+ClientIDSize])
	off += ClientIDSize
	msg.Timestamp = binary.BigEndian.Uint64(body[off : off+8])
	off += 8
	msg.Text = cutString(body[off : off+ChatTextSize])
	return msg, nil
}

// DecodeUserListResponse decodifica o body de um USER_LIST_RSP.
// Entradas além do count declarado são ignoradas; count maior que o body
// disponível é erro.
func DecodeUserListResponse(body []byte) ([]UserInfo, error) {
	if len(body) < 4 {
		return nil, ErrShortBody
	}
	count := int(binary.BigEndian.Uint32(body[0:4]))
	if len(body) < 4+count*UserInfoSize {
		return nil, ErrShortBody
	}
	users := make([]UserInfo, 0, count)
	off := 4
	for i := 0; i < count; i++ {
		users = append(users, UserInfo{
			ClientID: cutString(body[off : off+ClientIDSize]),
			Nickname: cutString(body[off+ClientIDSize : off+UserInfoSize]),
		})
		off += UserInfoSize
	}
	return users, nil
}

// DecodeFileOffer decodifica o body de um FILE_OFFER.
func DecodeFileOffer(body []byte) (FileOffer, error) {
	if len(body) < FileOfferSize {
		return FileOffer{}, ErrShortBody
	}
	offer := FileOffer{FileID: cutString(body[0:FileIDSize])}
	off := FileIDSize
	offer.FromID = cutString(body[off : off+ClientIDSize])
	off += ClientIDSize
	offer.FromNick = cutString(body[off : off+NicknameSize])
	off += NicknameSize
	offer.ToID = cutString(body[off : off+ClientIDSize])
	off += ClientIDSize
	offer.FileSize = binary.BigEndian.Uint64(body[off : off+8])
	off += 8
	offer.FileName = cutString(body[off : off+FileNameSize])
	return offer, nil
}

// DecodeFileOfferResponse decodifica o body de um FILE_OFFER_RSP.
func DecodeFileOfferResponse(body []byte) (FileOfferResponse, error) {
	if len(body) < FileOfferResponseSize {
		return FileOfferResponse{}, ErrShortBody
	}
	return FileOfferResponse{
		FileID:  cutString(body[0:FileIDSize]),
		Result:  binary.BigEndian.Uint32(body[FileIDSize : FileIDSize+4]),
		Message: cutString(body[FileIDSize+4 : FileIDSize+4+OfferMessageSize]),
	}, nil
}

// DecodeFileDataHeader decodifica o prefixo FileDataHeader de um
// FILE_DATA/FILE_DATA_ACK e retorna o payload restante.
func DecodeFileDataHeader(body []byte) (FileDataHeader, []byte, error) {
	if len(body) < FileDataHeaderSize {
		return FileDataHeader{}, nil, ErrShortBody
	}
	hdr := FileDataHeader{
		FileID:    cutString(body[0:FileIDSize]),
		Offset:    binary.BigEndian.Uint64(body[FileIDSize : FileIDSize+8]),
		ChunkSize: binary.BigEndian.Uint32(body[FileIDSize+8 : FileIDSize+12]),
	}
	payload := body[FileDataHeaderSize:]
	if uint32(len(payload)) < hdr.ChunkSize {
		return FileDataHeader{}, nil, ErrShortBody
	}
	return hdr, payload[:hdr.ChunkSize], nil
}

// DecodeFileDataAck decodifica o body de um FILE_DATA_ACK. O ACK carrega
// só o FileDataHeader: ChunkSize ecoa o tamanho confirmado, sem payload.
func DecodeFileDataAck(body []byte) (FileDataHeader, error) {
	if len(body) < FileDataHeaderSize {
		return FileDataHeader{}, ErrShortBody
	}
	return FileDataHeader{
		FileID:    cutString(body[0:FileIDSize]),
		Offset:    binary.BigEndian.Uint64(body[FileIDSize : FileIDSize+8]),
		ChunkSize: binary.BigEndian.Uint32(body[FileIDSize+8 : FileIDSize+12]),
	}, nil
}

// ExtractFileID lê só o fileId do prefixo de um body FILE_DATA, sem
// validar o resto. Usado no caminho de relay do server.
func ExtractFileID(body []byte) string {
	if len(body) < FileIDSize {
		return ""
	}
	return cutString(body[0:FileIDSize])
}
