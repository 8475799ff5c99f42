package adsb

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned for text frames that cannot be turned into a
// complete Mode S frame. Nothing is decoded from such a line.
var ErrMalformedFrame = errors.New("malformed frame")

// mlatDigits is the length of the timestamp after '@' in AVR lines.
const mlatDigits = 12

// HexFrame is a parsed AVR text line.
type HexFrame struct {
	Data []byte
	MLAT uint64 // 12 MHz counter from '@' lines, zero for '*' lines
}

func hexDigitVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}

// ParseHex converts an AVR line such as "*8D4840D6202CC371C32CE0576098;" or
// "@0000123456788D4840D6202CC371C32CE0576098;" into frame bytes. The payload
// must be a whole 56- or 112-bit frame at least as long as its downlink
// format requires.
func ParseHex(line string) (*HexFrame, error) {
	l := len(line)
	if l < 2 || line[l-1] != ';' {
		return nil, fmt.Errorf("%w: missing ';' terminator", ErrMalformedFrame)
	}

	frame := &HexFrame{}
	var hex string

	switch line[0] {
	case '*':
		hex = line[1 : l-1]
	case '@':
		if l-2 < mlatDigits {
			return nil, fmt.Errorf("%w: truncated timestamp", ErrMalformedFrame)
		}
		for i := 1; i <= mlatDigits; i++ {
			v := hexDigitVal(line[i])
			if v < 0 {
				return nil, fmt.Errorf("%w: invalid timestamp digit %q", ErrMalformedFrame, line[i])
			}
			frame.MLAT = frame.MLAT<<4 | uint64(v)
		}
		hex = line[1+mlatDigits : l-1]
	default:
		return nil, fmt.Errorf("%w: missing '*' or '@' marker", ErrMalformedFrame)
	}

	if len(hex)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of hex digits (%d)", ErrMalformedFrame, len(hex))
	}
	if len(hex) > LongMsgBytes*2 {
		return nil, fmt.Errorf("%w: %d hex digits exceeds %d", ErrMalformedFrame, len(hex), LongMsgBytes*2)
	}

	data := make([]byte, len(hex)/2)
	for j := 0; j < len(hex); j += 2 {
		high := hexDigitVal(hex[j])
		low := hexDigitVal(hex[j+1])
		if high < 0 || low < 0 {
			return nil, fmt.Errorf("%w: invalid hex digit at offset %d", ErrMalformedFrame, j)
		}
		data[j/2] = byte(high<<4 | low)
	}

	if len(data) != ShortMsgBytes && len(data) != LongMsgBytes {
		return nil, fmt.Errorf("%w: %d bytes is not a Mode S frame", ErrMalformedFrame, len(data))
	}
	if need := MessageLenByDF(int(data[0]>>3)) / 8; len(data) < need {
		return nil, fmt.Errorf("%w: DF%d needs %d bytes, got %d", ErrMalformedFrame, data[0]>>3, need, len(data))
	}

	frame.Data = data
	return frame, nil
}
