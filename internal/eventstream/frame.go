// Package eventstream decodes the AWS event-stream binary framing used
// by the proprietary Kiro/CodeWhisperer sink dialect: each message is
//
//	[4-byte total length][4-byte headers length][4-byte prelude CRC]
//	[headers][payload][4-byte message CRC]
//
// Payload bytes are UTF-8 JSON. The parser is a pull-based scanner in
// the same style as the SSE line scanner used elsewhere for the text
// dialects, but operating on length-prefixed binary frames instead of
// newline-delimited text, and it must cope with a frame arriving split
// across multiple TCP reads.
package eventstream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

const (
	preludeLength = 12 // total-length(4) + headers-length(4) + prelude-crc(4)
	trailerLength = 4  // message CRC
	minFrameLength = preludeLength + trailerLength
	maxFrameLength = 16 << 20 // 16MiB guards against a corrupt length field stalling the reader forever
)

// ErrCRCMismatch is returned by Next when a frame's prelude or message
// CRC does not match its contents; the stream must be terminated, its
// framing can no longer be trusted.
var ErrCRCMismatch = errors.New("eventstream: crc mismatch")

// Message is one decoded event-stream frame.
type Message struct {
	Headers map[string]string
	Payload []byte // raw JSON bytes
}

// Scanner pulls Messages off an io.Reader, buffering partial frames
// across reads exactly like bufio.Reader does for lines.
type Scanner struct {
	r *bufio.Reader
}

// NewScanner wraps r for frame-by-frame decoding.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next decoded Message, or io.EOF when the
// underlying reader is exhausted cleanly between frames. A non-EOF
// error (including ErrCRCMismatch) means the stream is no longer
// trustworthy and must not be read further.
func (s *Scanner) Next() (*Message, error) {
	prelude := make([]byte, preludeLength)
	if _, err := io.ReadFull(s.r, prelude); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	totalLen := binary.BigEndian.Uint32(prelude[0:4])
	headersLen := binary.BigEndian.Uint32(prelude[4:8])
	preludeCRC := binary.BigEndian.Uint32(prelude[8:12])

	if totalLen < minFrameLength || totalLen > maxFrameLength || uint32(headersLen) > totalLen {
		return nil, errors.New("eventstream: invalid frame length")
	}
	if crc32.ChecksumIEEE(prelude[0:8]) != preludeCRC {
		return nil, ErrCRCMismatch
	}

	remaining := make([]byte, totalLen-preludeLength)
	if _, err := io.ReadFull(s.r, remaining); err != nil {
		return nil, err
	}

	bodyEnd := len(remaining) - trailerLength
	if bodyEnd < int(headersLen) {
		return nil, errors.New("eventstream: frame shorter than declared headers")
	}
	headerBytes := remaining[:headersLen]
	payload := remaining[headersLen:bodyEnd]
	msgCRC := binary.BigEndian.Uint32(remaining[bodyEnd:])

	full := make([]byte, 0, len(prelude)+len(remaining)-trailerLength)
	full = append(full, prelude...)
	full = append(full, remaining[:bodyEnd]...)
	if crc32.ChecksumIEEE(full) != msgCRC {
		return nil, ErrCRCMismatch
	}

	headers, err := decodeHeaders(headerBytes)
	if err != nil {
		return nil, err
	}

	return &Message{Headers: headers, Payload: payload}, nil
}
