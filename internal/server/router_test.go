// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nishisan-dev/n-chat/internal/protocol"
)

// fakeSender captura os frames e disconnects emitidos pelo router. O mutex
// cobre os testes que despacham de mais de uma goroutine.
type fakeSender struct {
	mu          sync.Mutex
	sent        map[uint64][][]byte
	disconnects map[uint64]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		sent:        make(map[uint64][][]byte),
		disconnects: make(map[uint64]string),
	}
}

func (f *fakeSender) SendTo(connID uint64, frame []byte) bool {
	f.mu.Lock()
	f.sent[connID] = append(f.sent[connID], frame)
	f.mu.Unlock()
	return true
}

func (f *fakeSender) Disconnect(connID uint64, reason string) {
	f.mu.Lock()
	if _, ok := f.disconnects[connID]; !ok {
		f.disconnects[connID] = reason
	}
	f.mu.Unlock()
}

func (f *fakeSender) framesFor(connID uint64) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[connID]...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(maxClients int) (*Router, *Roster, *FileTable, *fakeSender) {
	roster := NewRoster()
	files := NewFileTable()
	sender := newFakeSender()
	rt := NewRouter(roster, files, sender, testLogger(), maxClients)
	return rt, roster, files, sender
}

// splitFrame separa header e body de um frame emitido.
func splitFrame(t *testing.T, frame []byte) (protocol.Header, []byte) {
	t.Helper()
	if len(frame) < protocol.HeaderSize {
		t.Fatalf("frame shorter than header: %d bytes", len(frame))
	}
	return protocol.DecodeHeader(frame), frame[protocol.HeaderSize:]
}

func login(t *testing.T, rt *Router, roster *Roster, connID uint64, clientID, nick string) {
	t.Helper()
	roster.Add(connID, "test-addr")
	frame := protocol.EncodeLoginRequest(1, clientID, nick)
	rt.OnMessage(connID, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])
	sess, ok := roster.Get(connID)
	if !ok || !sess.Online {
		t.Fatalf("login of %q on conn %d did not stick", clientID, connID)
	}
}

func TestRouter_Heartbeat(t *testing.T) {
	rt, roster, _, sender := newTestRouter(10)
	roster.Add(1, "a")

	rt.OnMessage(1, protocol.Header{
		Magic:    protocol.MagicNumber,
		Version:  protocol.ProtocolVersion,
		MsgType:  protocol.MsgHeartbeatReq,
		Sequence: 42,
	}, nil)

	frames := sender.sent[1]
	if len(frames) != 1 {
		t.Fatalf("expected 1 heartbeat response, got %d", len(frames))
	}
	h, _ := splitFrame(t, frames[0])
	if h.MsgType != protocol.MsgHeartbeatRsp {
		t.Errorf("expected HEARTBEAT_RSP, got 0x%04x", h.MsgType)
	}
	if h.Sequence != 42 {
		t.Errorf("heartbeat must echo sequence: got %d", h.Sequence)
	}
}

func TestRouter_HeartbeatWithBodyIgnored(t *testing.T) {
	rt, roster, _, sender := newTestRouter(10)
	roster.Add(1, "a")

	rt.OnMessage(1, protocol.Header{
		Magic:      protocol.MagicNumber,
		Version:    protocol.ProtocolVersion,
		MsgType:    protocol.MsgHeartbeatReq,
		BodyLength: 4,
		Sequence:   1,
	}, []byte{1, 2, 3, 4})

	if len(sender.sent[1]) != 0 {
		t.Error("malformed heartbeat must not be answered")
	}
}

func TestRouter_LoginSuccess(t *testing.T) {
	rt, roster, _, sender := newTestRouter(10)
	roster.Add(1, "a")

	frame := protocol.EncodeLoginRequest(7, "alice", "Alice")
	rt.OnMessage(1, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])

	frames := sender.sent[1]
	if len(frames) != 2 {
		t.Fatalf("expected login response + user list push, got %d frames", len(frames))
	}

	h, body := splitFrame(t, frames[0])
	if h.MsgType != protocol.MsgLoginRsp || h.Sequence != 7 {
		t.Errorf("unexpected login response header: %+v", h)
	}
	rsp, err := protocol.DecodeLoginResponse(body)
	if err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if rsp.Result != protocol.LoginSuccess || rsp.Message != "OK" {
		t.Errorf("unexpected login response: %+v", rsp)
	}

	h, body = splitFrame(t, frames[1])
	if h.MsgType != protocol.MsgUserListRsp || h.Sequence != 0 {
		t.Errorf("expected unsolicited user list (seq 0), got %+v", h)
	}
	users, err := protocol.DecodeUserListResponse(body)
	if err != nil || len(users) != 1 || users[0].ClientID != "alice" {
		t.Errorf("unexpected user list: %v (err %v)", users, err)
	}
}

func TestRouter_LoginRejections(t *testing.T) {
	rt, roster, _, sender := newTestRouter(2)
	login(t, rt, roster, 1, "alice", "Alice")

	cases := []struct {
		name     string
		clientID string
		nickname string
		want     uint32
	}{
		{"empty client id", "", "Bob", protocol.LoginInvalidParam},
		{"empty nickname", "bob", "", protocol.LoginInvalidParam},
		{"duplicate client id", "alice", "Other", protocol.LoginAlreadyOnline},
		{"duplicate nickname", "bob", "Alice", protocol.LoginNicknameTaken},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			connID := uint64(100 + len(sender.sent))
			roster.Add(connID, "x")
			frame := protocol.EncodeLoginRequest(1, tc.clientID, tc.nickname)
			rt.OnMessage(connID, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])

			frames := sender.sent[connID]
			if len(frames) != 1 {
				t.Fatalf("expected only the rejection, got %d frames", len(frames))
			}
			_, body := splitFrame(t, frames[0])
			rsp, err := protocol.DecodeLoginResponse(body)
			if err != nil {
				t.Fatalf("decoding login response: %v", err)
			}
			if rsp.Result != tc.want {
				t.Errorf("result = %d, want %d (%s)", rsp.Result, tc.want, rsp.Message)
			}
			if sess, _ := roster.Get(connID); sess.Online {
				t.Error("rejected login must not bind identity")
			}
		})
	}
}

func TestRouter_ConcurrentLoginKeepsIdentityUnique(t *testing.T) {
	// Duas conexões disparam o mesmo LOGIN_REQ ao mesmo tempo, como as
	// goroutines de leitura fazem em produção. Exatamente uma pode vencer.
	for iter := 0; iter < 200; iter++ {
		rt, roster, _, sender := newTestRouter(10)
		roster.Add(1, "a")
		roster.Add(2, "b")

		frame := protocol.EncodeLoginRequest(1, "alice", "Alice")
		hdr := protocol.DecodeHeader(frame)
		body := frame[protocol.HeaderSize:]

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, conn := range []uint64{1, 2} {
			wg.Add(1)
			go func(conn uint64) {
				defer wg.Done()
				<-start
				rt.OnMessage(conn, hdr, body)
			}(conn)
		}
		close(start)
		wg.Wait()

		holders := 0
		for _, s := range roster.OnlineSnapshot() {
			if s.ClientID == "alice" {
				holders++
			}
		}
		if holders != 1 {
			t.Fatalf("iteration %d: %d online sessions share clientId \"alice\", want 1", iter, holders)
		}

		results := make(map[uint32]int)
		for _, conn := range []uint64{1, 2} {
			frames := sender.framesFor(conn)
			if len(frames) == 0 {
				t.Fatalf("iteration %d: conn %d got no login response", iter, conn)
			}
			_, rspBody := splitFrame(t, frames[0])
			rsp, err := protocol.DecodeLoginResponse(rspBody)
			if err != nil {
				t.Fatalf("iteration %d: decoding login response: %v", iter, err)
			}
			results[rsp.Result]++
		}
		if results[protocol.LoginSuccess] != 1 || results[protocol.LoginAlreadyOnline] != 1 {
			t.Fatalf("iteration %d: unexpected result split: %v", iter, results)
		}
	}
}

func TestRouter_LoginServerFull(t *testing.T) {
	rt, roster, _, sender := newTestRouter(1)
	login(t, rt, roster, 1, "alice", "Alice")

	roster.Add(2, "b")
	frame := protocol.EncodeLoginRequest(1, "bob", "Bob")
	rt.OnMessage(2, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])

	_, body := splitFrame(t, sender.sent[2][0])
	rsp, _ := protocol.DecodeLoginResponse(body)
	if rsp.Result != protocol.LoginServerFull {
		t.Errorf("expected SERVER_FULL, got %d", rsp.Result)
	}
}

func TestRouter_Logout(t *testing.T) {
	rt, roster, _, sender := newTestRouter(10)
	login(t, rt, roster, 1, "alice", "Alice")

	rt.OnMessage(1, protocol.Header{MsgType: protocol.MsgLogoutReq}, nil)
	if sender.disconnects[1] != "logout" {
		t.Errorf("expected logout disconnect, got %q", sender.disconnects[1])
	}
}

func TestRouter_GroupChatFanOut(t *testing.T) {
	rt, roster, _, sender := newTestRouter(10)
	login(t, rt, roster, 1, "alice", "Alice")
	login(t, rt, roster, 2, "bob", "Bob")
	login(t, rt, roster, 3, "carol", "Carol")

	// Zera o ruído dos pushes de login.
	sender.sent = make(map[uint64][][]byte)

	// Identidade forjada e timestamp zero: o server corrige os dois.
	frame := protocol.EncodeChatMessage(9, protocol.ChatMessage{
		Scope:    protocol.ChatGroup,
		FromID:   "mallory",
		FromNick: "Mallory",
		Text:     "hello all",
	})
	rt.OnMessage(1, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])

	if len(sender.sent[1]) != 0 {
		t.Error("group chat must not echo to the sender")
	}
	for _, peer := range []uint64{2, 3} {
		frames := sender.sent[peer]
		if len(frames) != 1 {
			t.Fatalf("peer %d: expected 1 frame, got %d", peer, len(frames))
		}
		h, body := splitFrame(t, frames[0])
		if h.Sequence != 9 {
			t.Errorf("peer %d: forwarded chat must keep sequence, got %d", peer, h.Sequence)
		}
		msg, err := protocol.DecodeChatMessage(body)
		if err != nil {
			t.Fatalf("peer %d: decoding chat: %v", peer, err)
		}
		if msg.FromID != "alice" || msg.FromNick != "Alice" {
			t.Errorf("peer %d: identity not substituted: %+v", peer, msg)
		}
		if msg.Timestamp == 0 {
			t.Errorf("peer %d: zero timestamp must be stamped by the server", peer)
		}
		if msg.Text != "hello all" {
			t.Errorf("peer %d: unexpected text %q", peer, msg.Text)
		}
	}
}

func TestRouter_PrivateChat(t *testing.T) {
	rt, roster, _, sender := newTestRouter(10)
	login(t, rt, roster, 1, "alice", "Alice")
	login(t, rt, roster, 2, "bob", "Bob")
	login(t, rt, roster, 3, "carol", "Carol")
	sender.sent = make(map[uint64][][]byte)

	frame := protocol.EncodeChatMessage(5, protocol.ChatMessage{
		Scope: protocol.ChatPrivate,
		ToID:  "bob",
		Text:  "psst",
	})
	rt.OnMessage(1, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])

	if len(sender.sent[2]) != 1 {
		t.Fatalf("expected private chat delivered to bob, got %d frames", len(sender.sent[2]))
	}
	if len(sender.sent[1]) != 0 || len(sender.sent[3]) != 0 {
		t.Error("private chat must reach only the target")
	}

	// Destino offline: drop silencioso, sem resposta de erro.
	frame = protocol.EncodeChatMessage(6, protocol.ChatMessage{
		Scope: protocol.ChatPrivate,
		ToID:  "nobody",
		Text:  "void",
	})
	rt.OnMessage(1, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])
	if len(sender.sent[1]) != 0 {
		t.Error("offline private target must be a silent drop")
	}
}

func TestRouter_ChatRequiresLogin(t *testing.T) {
	rt, roster, _, sender := newTestRouter(10)
	roster.Add(1, "a")

	frame := protocol.EncodeChatMessage(1, protocol.ChatMessage{
		Scope: protocol.ChatGroup,
		Text:  "anon",
	})
	rt.OnMessage(1, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])

	if len(sender.sent) != 0 {
		t.Error("chat before login must be ignored")
	}
}

func TestRouter_UserListRequest(t *testing.T) {
	rt, roster, _, sender := newTestRouter(10)
	login(t, rt, roster, 1, "alice", "Alice")
	login(t, rt, roster, 2, "bob", "Bob")
	sender.sent = make(map[uint64][][]byte)

	rt.OnMessage(1, protocol.Header{MsgType: protocol.MsgUserListReq, Sequence: 33}, nil)

	frames := sender.sent[1]
	if len(frames) != 1 {
		t.Fatalf("expected 1 user list response, got %d", len(frames))
	}
	h, body := splitFrame(t, frames[0])
	if h.Sequence != 33 {
		t.Errorf("reply must carry requester sequence, got %d", h.Sequence)
	}
	users, err := protocol.DecodeUserListResponse(body)
	if err != nil || len(users) != 2 {
		t.Errorf("unexpected user list: %v (err %v)", users, err)
	}
}

func TestRouter_FileOfferForwarded(t *testing.T) {
	rt, roster, files, sender := newTestRouter(10)
	login(t, rt, roster, 1, "alice", "Alice")
	login(t, rt, roster, 2, "bob", "Bob")
	sender.sent = make(map[uint64][][]byte)

	frame := protocol.EncodeFileOffer(3, protocol.FileOffer{
		FileID:   "uuid-1",
		FromID:   "forged",
		ToID:     "bob",
		FileSize: 1234,
		FileName: "notes.txt",
	})
	rt.OnMessage(1, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])

	frames := sender.sent[2]
	if len(frames) != 1 {
		t.Fatalf("expected offer forwarded to bob, got %d frames", len(frames))
	}
	_, body := splitFrame(t, frames[0])
	offer, err := protocol.DecodeFileOffer(body)
	if err != nil {
		t.Fatalf("decoding forwarded offer: %v", err)
	}
	if offer.FromID != "alice" || offer.FromNick != "Alice" {
		t.Errorf("offer identity not substituted: %+v", offer)
	}

	sess, ok := files.Get("uuid-1")
	if !ok || sess.SenderConn != 1 || sess.ReceiverConn != Unassigned {
		t.Errorf("unexpected pending session: %+v (ok %v)", sess, ok)
	}
}

func TestRouter_FileOfferRejections(t *testing.T) {
	rt, roster, files, sender := newTestRouter(10)
	login(t, rt, roster, 1, "alice", "Alice")
	sender.sent = make(map[uint64][][]byte)

	cases := []struct {
		name   string
		offer  protocol.FileOffer
		result uint32
	}{
		{"empty file id", protocol.FileOffer{ToID: "bob"}, protocol.FileOfferDecline},
		{"empty target", protocol.FileOffer{FileID: "u1"}, protocol.FileOfferDecline},
		{"target offline", protocol.FileOffer{FileID: "u2", ToID: "ghost"}, protocol.FileOfferBusy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender.sent = make(map[uint64][][]byte)
			frame := protocol.EncodeFileOffer(1, tc.offer)
			rt.OnMessage(1, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])

			frames := sender.sent[1]
			if len(frames) != 1 {
				t.Fatalf("expected rejection to sender, got %d frames", len(frames))
			}
			_, body := splitFrame(t, frames[0])
			rsp, err := protocol.DecodeFileOfferResponse(body)
			if err != nil {
				t.Fatalf("decoding offer response: %v", err)
			}
			if rsp.Result != tc.result {
				t.Errorf("result = %d, want %d (%s)", rsp.Result, tc.result, rsp.Message)
			}
			if files.Len() != 0 {
				t.Error("rejected offer must not create a session")
			}
		})
	}
}

func TestRouter_FileOfferResponseForwarded(t *testing.T) {
	rt, roster, files, sender := newTestRouter(10)
	login(t, rt, roster, 1, "alice", "Alice")
	login(t, rt, roster, 2, "bob", "Bob")
	files.Insert("uuid-1", 1)
	sender.sent = make(map[uint64][][]byte)

	frame := protocol.EncodeFileOfferResponse(4, "uuid-1", protocol.FileOfferAccept, "ok")
	rt.OnMessage(2, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])

	frames := sender.sent[1]
	if len(frames) != 1 {
		t.Fatalf("expected response forwarded to sender, got %d", len(frames))
	}
	_, body := splitFrame(t, frames[0])
	rsp, _ := protocol.DecodeFileOfferResponse(body)
	if rsp.Result != protocol.FileOfferAccept || rsp.FileID != "uuid-1" {
		t.Errorf("unexpected forwarded response: %+v", rsp)
	}

	sess, _ := files.Get("uuid-1")
	if sess.ReceiverConn != 2 {
		t.Errorf("accept must bind receiver, got %d", sess.ReceiverConn)
	}
}

func TestRouter_FileDataRelay(t *testing.T) {
	rt, roster, files, sender := newTestRouter(10)
	login(t, rt, roster, 1, "alice", "Alice")
	login(t, rt, roster, 2, "bob", "Bob")
	files.Insert("uuid-1", 1)
	files.Respond("uuid-1", 2, true)
	sender.sent = make(map[uint64][][]byte)

	payload := []byte("chunk-payload")
	frame := protocol.EncodeFileData(8, "uuid-1", 4096, payload)
	rt.OnMessage(1, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])

	frames := sender.sent[2]
	if len(frames) != 1 {
		t.Fatalf("expected chunk relayed to receiver, got %d frames", len(frames))
	}
	if !bytes.Equal(frames[0], frame) {
		t.Error("relayed FILE_DATA must be byte-identical to the original frame")
	}

	// ACK volta pelo caminho inverso.
	sender.sent = make(map[uint64][][]byte)
	ack := protocol.EncodeFileDataAck(8, "uuid-1", 4096, uint32(len(payload)))
	rt.OnMessage(2, protocol.DecodeHeader(ack), ack[protocol.HeaderSize:])
	if len(sender.sent[1]) != 1 {
		t.Fatalf("expected ack relayed to sender, got %d frames", len(sender.sent[1]))
	}

	// Conexão fora da sessão: drop.
	login(t, rt, roster, 3, "carol", "Carol")
	sender.sent = make(map[uint64][][]byte)
	rt.OnMessage(3, protocol.DecodeHeader(frame), frame[protocol.HeaderSize:])
	if len(sender.sent[1]) != 0 || len(sender.sent[2]) != 0 {
		t.Error("foreign connection must not relay file data")
	}
}

func TestRouter_UnknownTypeIgnored(t *testing.T) {
	rt, roster, _, sender := newTestRouter(10)
	roster.Add(1, "a")

	rt.OnMessage(1, protocol.Header{MsgType: 0x7777}, nil)
	if len(sender.sent) != 0 || len(sender.disconnects) != 0 {
		t.Error("unknown message type must be ignored")
	}
}
