// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/nishisan-dev/n-chat/internal/config"
	"github.com/nishisan-dev/n-chat/internal/protocol"
)

// chunkSize é o tamanho de cada frame FILE_DATA no upload.
const chunkSize = 32 * 1024

// upload é uma oferta enviada, aguardando aceite ou em streaming.
type upload struct {
	fileID string
	path   string
	name   string
	size   uint64
	toID   string
}

// download é uma transferência aceita, recebendo chunks.
type download struct {
	fileID   string
	file     *os.File
	path     string
	size     uint64
	received uint64
}

// TransferManager controla os dois sentidos de transferência: ofertas
// feitas (uploads) e ofertas aceitas (downloads). Os frames saem pela
// função send do client, compartilhando o sequence counter.
type TransferManager struct {
	cfg        *config.ClientConfig
	logger     *slog.Logger
	send       func([]byte) error
	nextSeq    func() uint32
	ctx        context.Context
	onProgress func(fileID string, transferred, total uint64)
	onDone     func(fileID, path string, bytes uint64)

	mu        sync.Mutex
	uploads   map[string]*upload
	downloads map[string]*download
	offers    map[string]protocol.FileOffer
}

func newTransferManager(cfg *config.ClientConfig, logger *slog.Logger,
	send func([]byte) error, nextSeq func() uint32, ctx context.Context,
	onProgress func(fileID string, transferred, total uint64),
	onDone func(fileID, path string, bytes uint64)) *TransferManager {
	return &TransferManager{
		cfg:        cfg,
		logger:     logger,
		send:       send,
		nextSeq:    nextSeq,
		ctx:        ctx,
		onProgress: onProgress,
		onDone:     onDone,
		uploads:    make(map[string]*upload),
		downloads:  make(map[string]*download),
		offers:     make(map[string]protocol.FileOffer),
	}
}

// reportProgress emite o callback de progresso, se configurado.
func (tm *TransferManager) reportProgress(fileID string, transferred, total uint64) {
	if tm.onProgress != nil {
		tm.onProgress(fileID, transferred, total)
	}
}

// OfferFile anuncia um arquivo local para o peer toID e retorna o fileId
// gerado. O conteúdo só começa a andar quando o peer aceita.
func (tm *TransferManager) OfferFile(path, toID string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stating %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}
	if toID == "" {
		return "", fmt.Errorf("target client id is required")
	}

	fileID := uuid.NewString()
	up := &upload{
		fileID: fileID,
		path:   path,
		name:   filepath.Base(path),
		size:   uint64(info.Size()),
		toID:   toID,
	}

	tm.mu.Lock()
	tm.uploads[fileID] = up
	tm.mu.Unlock()

	err = tm.send(protocol.EncodeFileOffer(tm.nextSeq(), protocol.FileOffer{
		FileID:   fileID,
		ToID:     toID,
		FileSize: up.size,
		FileName: up.name,
	}))
	if err != nil {
		tm.mu.Lock()
		delete(tm.uploads, fileID)
		tm.mu.Unlock()
		return "", err
	}

	tm.logger.Info("file offered", "file_id", fileID, "to", toID,
		"name", up.name, "size", up.size)
	return fileID, nil
}

// rememberOffer guarda uma oferta recebida até o usuário decidir.
func (tm *TransferManager) rememberOffer(offer protocol.FileOffer) {
	tm.mu.Lock()
	tm.offers[offer.FileID] = offer
	tm.mu.Unlock()
}

// AcceptOffer aceita uma oferta pendente: cria o arquivo de destino no
// download_dir e responde ACCEPT. Os chunks chegam em seguida.
func (tm *TransferManager) AcceptOffer(fileID string) error {
	tm.mu.Lock()
	offer, ok := tm.offers[fileID]
	tm.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending offer with id %s", fileID)
	}

	name := filepath.Base(offer.FileName)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return fmt.Errorf("offer %s carries an unusable file name %q", fileID, offer.FileName)
	}

	if err := os.MkdirAll(tm.cfg.Transfer.DownloadDir, 0755); err != nil {
		return fmt.Errorf("creating download dir: %w", err)
	}
	path := filepath.Join(tm.cfg.Transfer.DownloadDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	tm.mu.Lock()
	delete(tm.offers, fileID)
	tm.downloads[fileID] = &download{
		fileID: fileID,
		file:   f,
		path:   path,
		size:   offer.FileSize,
	}
	tm.mu.Unlock()

	if err := tm.send(protocol.EncodeFileOfferResponse(tm.nextSeq(), fileID, protocol.FileOfferAccept, "accepted")); err != nil {
		tm.closeDownload(fileID, false)
		return err
	}

	tm.logger.Info("file offer accepted", "file_id", fileID,
		"from", offer.FromID, "name", name, "size", offer.FileSize, "path", path)
	return nil
}

// DeclineOffer recusa uma oferta pendente.
func (tm *TransferManager) DeclineOffer(fileID string) error {
	tm.mu.Lock()
	_, ok := tm.offers[fileID]
	delete(tm.offers, fileID)
	tm.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending offer with id %s", fileID)
	}
	return tm.send(protocol.EncodeFileOfferResponse(tm.nextSeq(), fileID, protocol.FileOfferDecline, "declined"))
}

// handleOfferResponse reage à decisão do peer sobre uma oferta nossa.
// Aceite dispara o streaming em goroutine própria.
func (tm *TransferManager) handleOfferResponse(rsp protocol.FileOfferResponse) {
	tm.mu.Lock()
	up, ok := tm.uploads[rsp.FileID]
	if ok && rsp.Result != protocol.FileOfferAccept {
		delete(tm.uploads, rsp.FileID)
	}
	tm.mu.Unlock()
	if !ok {
		tm.logger.Warn("offer response for unknown upload", "file_id", rsp.FileID)
		return
	}

	if rsp.Result != protocol.FileOfferAccept {
		tm.logger.Info("file offer refused", "file_id", rsp.FileID,
			"result", rsp.Result, "message", rsp.Message)
		return
	}

	tm.logger.Info("file offer accepted by peer, streaming", "file_id", rsp.FileID)
	go tm.streamUpload(up)
}

// chunkSender embrulha o caminho de envio como io.Writer: cada Write vira
// um frame FILE_DATA no offset corrente.
type chunkSender struct {
	tm     *TransferManager
	fileID string
	offset uint64
	total  uint64
}

func (cs *chunkSender) Write(p []byte) (int, error) {
	frame := protocol.EncodeFileData(cs.tm.nextSeq(), cs.fileID, cs.offset, p)
	if err := cs.tm.send(frame); err != nil {
		return 0, err
	}
	cs.offset += uint64(len(p))
	cs.tm.reportProgress(cs.fileID, cs.offset, cs.total)
	return len(p), nil
}

// streamUpload lê o arquivo em chunks e envia pelo relay, respeitando o
// throttle de upload configurado.
func (tm *TransferManager) streamUpload(up *upload) {
	defer func() {
		tm.mu.Lock()
		delete(tm.uploads, up.fileID)
		tm.mu.Unlock()
	}()

	f, err := os.Open(up.path)
	if err != nil {
		tm.logger.Error("opening file for upload", "file_id", up.fileID, "error", err)
		return
	}
	defer f.Close()

	cs := &chunkSender{tm: tm, fileID: up.fileID, total: up.size}
	w := NewThrottledWriter(tm.ctx, cs, tm.cfg.Transfer.UploadBPS)

	sent, err := io.CopyBuffer(w, f, make([]byte, chunkSize))
	if err != nil {
		tm.logger.Error("upload interrupted", "file_id", up.fileID,
			"sent", sent, "error", err)
		return
	}

	tm.logger.Info("upload complete", "file_id", up.fileID, "bytes", sent)
	if tm.onDone != nil {
		tm.onDone(up.fileID, up.path, uint64(sent))
	}
}

// handleData grava um chunk recebido no offset indicado e confirma com ACK.
func (tm *TransferManager) handleData(hdr protocol.FileDataHeader, payload []byte) {
	tm.mu.Lock()
	dl, ok := tm.downloads[hdr.FileID]
	tm.mu.Unlock()
	if !ok {
		tm.logger.Warn("file data for unknown download", "file_id", hdr.FileID)
		return
	}

	if _, err := dl.file.WriteAt(payload, int64(hdr.Offset)); err != nil {
		tm.logger.Error("writing chunk", "file_id", hdr.FileID,
			"offset", hdr.Offset, "error", err)
		tm.closeDownload(hdr.FileID, false)
		return
	}
	dl.received += uint64(len(payload))
	tm.reportProgress(hdr.FileID, dl.received, dl.size)

	if err := tm.send(protocol.EncodeFileDataAck(tm.nextSeq(), hdr.FileID, hdr.Offset, hdr.ChunkSize)); err != nil {
		tm.logger.Warn("sending chunk ack", "file_id", hdr.FileID, "error", err)
	}

	if dl.received >= dl.size {
		tm.logger.Info("download complete", "file_id", hdr.FileID,
			"path", dl.path, "bytes", dl.received)
		tm.closeDownload(hdr.FileID, true)
	}
}

// handleAck registra o progresso confirmado pelo receptor.
func (tm *TransferManager) handleAck(hdr protocol.FileDataHeader) {
	tm.logger.Debug("chunk acknowledged", "file_id", hdr.FileID,
		"offset", hdr.Offset, "chunk_size", hdr.ChunkSize)
}

func (tm *TransferManager) closeDownload(fileID string, done bool) {
	tm.mu.Lock()
	dl, ok := tm.downloads[fileID]
	delete(tm.downloads, fileID)
	tm.mu.Unlock()
	if !ok {
		return
	}
	dl.file.Close()
	if done && tm.onDone != nil {
		tm.onDone(fileID, dl.path, dl.received)
	}
}
