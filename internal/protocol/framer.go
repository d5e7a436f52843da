// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

// compactThreshold limita quanto prefixo consumido o acumulador carrega
// antes de ser compactado.
const compactThreshold = 4096

// Framer remonta frames completos a partir de um stream de bytes de uma
// conexão. Não é thread-safe: cada conexão tem o seu, alimentado só pela
// goroutine de leitura.
type Framer struct {
	buf []byte
	off int
}

// Feed acrescenta data ao acumulador e chama emit para cada frame completo,
// na ordem de chegada. O body passado a emit só é válido durante a chamada.
//
// Em header inválido o acumulador inteiro é descartado e o erro retornado;
// a conexão continua aberta e o framer ressincroniza no próximo frame
// válido que aparecer no stream (política leniente, nunca mid-stream).
func (f *Framer) Feed(data []byte, emit func(h Header, body []byte)) error {
	f.buf = append(f.buf, data...)

	for len(f.buf)-f.off >= HeaderSize {
		h := DecodeHeader(f.buf[f.off:])
		if err := ValidateHeader(h); err != nil {
			f.buf = f.buf[:0]
			f.off = 0
			return err
		}

		total := HeaderSize + int(h.BodyLength)
		if len(f.buf)-f.off < total {
			break
		}

		body := f.buf[f.off+HeaderSize : f.off+total]
		emit(h, body)
		f.off += total
	}

	if f.off == len(f.buf) {
		f.buf = f.buf[:0]
		f.off = 0
	} else if f.off >= compactThreshold {
		n := copy(f.buf, f.buf[f.off:])
		f.buf = f.buf[:n]
		f.off = 0
	}
	return nil
}

// Pending retorna quantos bytes ainda não formaram um frame completo.
func (f *Framer) Pending() int {
	return len(f.buf) - f.off
}

// Reset descarta qualquer byte acumulado.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.off = 0
}
