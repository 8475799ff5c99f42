package beast

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"
)

// maxBuffered bounds the bytes kept while waiting for the rest of a frame
const maxBuffered = 2048

// Decoder decodes Beast mode messages from a byte stream. A Decoder keeps
// partial frames between calls and must not be shared between connections.
type Decoder struct {
	logger *logrus.Logger
	buffer []byte
}

// NewDecoder creates a new Beast decoder
func NewDecoder(logger *logrus.Logger) *Decoder {
	return &Decoder{
		logger: logger,
		buffer: make([]byte, 0, 4096),
	}
}

type unescapeResult int

const (
	unescapeOK unescapeResult = iota
	unescapeNeedMore
	unescapeBroken
)

// Decode appends data to the stream and returns every complete message
func (d *Decoder) Decode(data []byte) []*Message {
	d.buffer = append(d.buffer, data...)

	var messages []*Message

	for {
		syncIndex := bytes.IndexByte(d.buffer, SyncByte)
		if syncIndex == -1 {
			d.buffer = d.buffer[:0]
			break
		}
		d.buffer = d.buffer[syncIndex:]

		if len(d.buffer) < 2 {
			break
		}

		messageType := d.buffer[1]
		if messageType == SyncByte {
			// Escaped data byte outside a frame
			d.buffer = d.buffer[2:]
			continue
		}

		payloadLen := payloadLength(messageType)
		if payloadLen == 0 {
			d.logger.WithFields(logrus.Fields{
				"message_type": fmt.Sprintf("0x%02x", messageType),
			}).Debug("Unknown message type, skipping")
			d.buffer = d.buffer[1:]
			continue
		}

		body, consumed, result := unescape(d.buffer[2:], headerLen+payloadLen)
		if result == unescapeNeedMore {
			break
		}
		if result == unescapeBroken {
			d.logger.WithFields(logrus.Fields{
				"message_type": fmt.Sprintf("0x%02x", messageType),
				"consumed":     consumed,
			}).Debug("Truncated Beast frame, resyncing")
			d.buffer = d.buffer[2+consumed:]
			continue
		}

		msg := &Message{
			MessageType: messageType,
			Signal:      body[timestampLen],
			Data:        body[headerLen:],
		}
		for i := 0; i < timestampLen; i++ {
			msg.MLAT = msg.MLAT<<8 | uint64(body[i])
		}
		messages = append(messages, msg)

		d.buffer = d.buffer[2+consumed:]
	}

	// A peer that never completes a frame must not grow the buffer forever
	if len(d.buffer) > maxBuffered {
		d.logger.WithFields(logrus.Fields{
			"buffer_size": len(d.buffer),
		}).Debug("Beast buffer overflow, clearing")
		d.buffer = d.buffer[:0]
	}

	return messages
}

// unescape reads n unescaped bytes from src. consumed is the number of src
// bytes used; for a broken frame it points at the sync byte that started the
// next frame.
func unescape(src []byte, n int) ([]byte, int, unescapeResult) {
	out := make([]byte, 0, n)
	i := 0

	for len(out) < n {
		if i >= len(src) {
			return nil, i, unescapeNeedMore
		}
		b := src[i]
		if b != SyncByte {
			out = append(out, b)
			i++
			continue
		}
		if i+1 >= len(src) {
			return nil, i, unescapeNeedMore
		}
		if src[i+1] != SyncByte {
			return nil, i, unescapeBroken
		}
		out = append(out, SyncByte)
		i += 2
	}

	return out, i, unescapeOK
}
