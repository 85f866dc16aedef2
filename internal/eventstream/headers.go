package eventstream

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	headerTypeBoolTrue  = 0
	headerTypeBoolFalse = 1
	headerTypeByte      = 2
	headerTypeShort     = 3
	headerTypeInteger   = 4
	headerTypeLong      = 5
	headerTypeByteArray = 6
	headerTypeString    = 7
	headerTypeTimestamp = 8
	headerTypeUUID      = 9
)

// decodeHeaders parses the AWS event-stream header block: a sequence
// of [1-byte name length][name][1-byte type][type-specific value]
// entries filling the whole slice.
func decodeHeaders(b []byte) (map[string]string, error) {
	headers := make(map[string]string)
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, errors.New("eventstream: truncated header entry")
		}
		nameLen := int(b[0])
		b = b[1:]
		if len(b) < nameLen+1 {
			return nil, errors.New("eventstream: truncated header name")
		}
		name := string(b[:nameLen])
		b = b[nameLen:]
		typ := b[0]
		b = b[1:]

		switch typ {
		case headerTypeBoolTrue:
			headers[name] = "true"
		case headerTypeBoolFalse:
			headers[name] = "false"
		case headerTypeByte:
			if len(b) < 1 {
				return nil, errors.New("eventstream: truncated byte header")
			}
			headers[name] = fmt.Sprintf("%d", int8(b[0]))
			b = b[1:]
		case headerTypeShort:
			if len(b) < 2 {
				return nil, errors.New("eventstream: truncated short header")
			}
			headers[name] = fmt.Sprintf("%d", int16(binary.BigEndian.Uint16(b[:2])))
			b = b[2:]
		case headerTypeInteger:
			if len(b) < 4 {
				return nil, errors.New("eventstream: truncated integer header")
			}
			headers[name] = fmt.Sprintf("%d", int32(binary.BigEndian.Uint32(b[:4])))
			b = b[4:]
		case headerTypeLong, headerTypeTimestamp:
			if len(b) < 8 {
				return nil, errors.New("eventstream: truncated long/timestamp header")
			}
			headers[name] = fmt.Sprintf("%d", int64(binary.BigEndian.Uint64(b[:8])))
			b = b[8:]
		case headerTypeByteArray, headerTypeString:
			if len(b) < 2 {
				return nil, errors.New("eventstream: truncated string header length")
			}
			valLen := int(binary.BigEndian.Uint16(b[:2]))
			b = b[2:]
			if len(b) < valLen {
				return nil, errors.New("eventstream: truncated string header value")
			}
			headers[name] = string(b[:valLen])
			b = b[valLen:]
		case headerTypeUUID:
			if len(b) < 16 {
				return nil, errors.New("eventstream: truncated uuid header")
			}
			headers[name] = fmt.Sprintf("%x", b[:16])
			b = b[16:]
		default:
			return nil, fmt.Errorf("eventstream: unknown header type %d", typ)
		}
	}
	return headers, nil
}
