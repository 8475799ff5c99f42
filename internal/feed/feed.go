// Package feed reads Mode S frames from TCP peers in AVR text or Beast binary
// form and hands them to a Handler.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"ssrmixer/internal/beast"
)

// Format is the wire format of a feed
type Format string

const (
	FormatAVR   Format = "avr"
	FormatBeast Format = "beast"
)

// maxLineLength bounds one AVR line; longer lines drop the connection
const maxLineLength = 4096

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatAVR, FormatBeast:
		return f, nil
	default:
		return "", fmt.Errorf("unknown feed format %q", s)
	}
}

// Handler receives frames from every connection. Implementations must be
// safe for concurrent use.
type Handler interface {
	// HandleHex is called with a trimmed AVR line starting with '*' or '@'
	HandleHex(line string)
	// HandleFrame is called with a Mode S frame from a Beast stream
	HandleFrame(data []byte, mlat uint64, signal byte)
}

// Stream reads r until EOF and dispatches every frame found. A clean EOF
// returns nil.
func Stream(ctx context.Context, r io.Reader, format Format, h Handler, logger *logrus.Logger) error {
	switch format {
	case FormatAVR:
		return streamAVR(ctx, r, h, logger)
	case FormatBeast:
		return streamBeast(ctx, r, h, logger)
	default:
		return fmt.Errorf("unknown feed format %q", format)
	}
}

func streamAVR(ctx context.Context, r io.Reader, h Handler, logger *logrus.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), maxLineLength)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] != '*' && line[0] != '@' {
			logger.WithField("line", line).Debug("Ignoring non-frame line")
			continue
		}
		h.HandleHex(line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read AVR stream: %w", err)
	}
	return nil
}

func streamBeast(ctx context.Context, r io.Reader, h Handler, logger *logrus.Logger) error {
	decoder := beast.NewDecoder(logger)
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, msg := range decoder.Decode(buf[:n]) {
				if msg.IsModeS() {
					h.HandleFrame(msg.Data, msg.MLAT, msg.Signal)
				}
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read Beast stream: %w", err)
		}
	}
}
