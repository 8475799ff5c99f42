package beast

// Beast mode message types
const (
	SyncByte   = 0x1A // Beast mode sync byte, doubled when it appears in a frame body
	ModeAC     = 0x31 // Mode A/C
	ModeS      = 0x32 // Mode S Short (56 bits)
	ModeSLong  = 0x33 // Mode S Long (112 bits)
	ModeStatus = 0x34 // Status
)

const (
	timestampLen = 6
	headerLen    = timestampLen + 1 // timestamp + signal
)

// Message represents a decoded Beast mode message
type Message struct {
	MessageType byte
	MLAT        uint64 // 48-bit 12 MHz receiver counter
	Signal      byte
	Data        []byte
}

// payloadLength returns the payload size for a message type, 0 if unknown
func payloadLength(messageType byte) int {
	switch messageType {
	case ModeAC, ModeStatus:
		return 2
	case ModeS:
		return 7
	case ModeSLong:
		return 14
	default:
		return 0
	}
}

// IsModeS reports whether the payload is a Mode S frame
func (msg *Message) IsModeS() bool {
	return (msg.MessageType == ModeS || msg.MessageType == ModeSLong) &&
		len(msg.Data) == payloadLength(msg.MessageType)
}

// DF extracts the downlink format from a Mode S payload
func (msg *Message) DF() int {
	if !msg.IsModeS() {
		return -1
	}
	return int(msg.Data[0] >> 3)
}

// SignalLevel returns the signal byte scaled to 0..1 power
func (msg *Message) SignalLevel() float64 {
	s := float64(msg.Signal) / 255
	return s * s
}

// Encode builds an escaped Beast frame
func Encode(messageType byte, mlat uint64, signal byte, data []byte) []byte {
	out := make([]byte, 0, 2+2*(headerLen+len(data)))
	out = append(out, SyncByte, messageType)

	appendEscaped := func(b byte) {
		out = append(out, b)
		if b == SyncByte {
			out = append(out, SyncByte)
		}
	}

	for i := timestampLen - 1; i >= 0; i-- {
		appendEscaped(byte(mlat >> (8 * i)))
	}
	appendEscaped(signal)
	for _, b := range data {
		appendEscaped(b)
	}
	return out
}
