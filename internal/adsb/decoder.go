package adsb

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrShortFrame is returned by DecodeFrame when the buffer is shorter than the
// length implied by its downlink format.
var ErrShortFrame = errors.New("frame shorter than downlink format length")

// Options controls error correction
type Options struct {
	// FixErrors enables single-bit correction for DF11 and DF17.
	FixErrors bool
	// Aggressive additionally enables two-bit correction for DF17. Each
	// uncorrectable frame then costs several thousand checksum evaluations.
	Aggressive bool
	// Clock overrides time.Now for the ICAO cache.
	Clock func() time.Time
}

// DefaultOptions matches the behavior of a live receiver.
func DefaultOptions() Options {
	return Options{FixErrors: true}
}

// Stats is a snapshot of decoder counters
type Stats struct {
	Frames        uint64
	Malformed     uint64
	Valid         uint64
	Invalid       uint64
	SingleBitFix  uint64
	TwoBitFix     uint64
	APRecovered   uint64
	CacheInserted uint64
}

// Decoder turns raw or hex-encoded Mode S frames into Messages. A Decoder is
// safe for concurrent use; its only shared state is the ICAO cache.
type Decoder struct {
	cache   *ICAOCache
	opts    Options
	logger  *logrus.Logger
	verbose bool

	frames        atomic.Uint64
	malformed     atomic.Uint64
	valid         atomic.Uint64
	invalid       atomic.Uint64
	singleBitFix  atomic.Uint64
	twoBitFix     atomic.Uint64
	apRecovered   atomic.Uint64
	cacheInserted atomic.Uint64
}

// NewDecoder creates a decoder backed by cache
func NewDecoder(cache *ICAOCache, opts Options, logger *logrus.Logger) *Decoder {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Decoder{
		cache:   cache,
		opts:    opts,
		logger:  logger,
		verbose: logger.IsLevelEnabled(logrus.DebugLevel),
	}
}

// Cache returns the ICAO cache used for address-parity recovery.
func (d *Decoder) Cache() *ICAOCache {
	return d.cache
}

// DecodeHex parses an AVR text line and decodes it.
func (d *Decoder) DecodeHex(line string) (*Message, error) {
	frame, err := ParseHex(line)
	if err != nil {
		d.malformed.Add(1)
		return nil, err
	}

	mm, err := d.DecodeFrame(frame.Data)
	if err != nil {
		return nil, err
	}
	mm.MLAT = frame.MLAT
	return mm, nil
}

// DecodeFrame decodes a raw frame. data is copied and never modified.
func (d *Decoder) DecodeFrame(data []byte) (*Message, error) {
	if len(data) == 0 {
		d.malformed.Add(1)
		return nil, fmt.Errorf("%w: empty frame", ErrShortFrame)
	}

	df := int(data[0] >> 3)
	bits := MessageLenByDF(df)
	if len(data) < bits/8 {
		d.malformed.Add(1)
		return nil, fmt.Errorf("%w: DF%d needs %d bytes, got %d", ErrShortFrame, df, bits/8, len(data))
	}

	d.frames.Add(1)

	mm := &Message{
		Data: append([]byte(nil), data[:bits/8]...),
		Bits: bits,
		DF:   df,
	}
	mm.CRCOK = ChecksumOK(mm.Data, bits)

	// Only DF11 and DF17 carry the checksum in the clear
	if !mm.CRCOK && d.opts.FixErrors && (df == DFAllCallReply || df == DFExtendedSquitter) {
		d.correct(mm)
	}
	mm.Checksum = ParityField(mm.Data, bits)

	d.resolveValidity(mm)
	d.decodeFields(mm)

	if mm.CRCOK {
		d.valid.Add(1)
	} else {
		d.invalid.Add(1)
	}

	if d.verbose {
		status := "ERR"
		if mm.CRCOK {
			status = "OK"
		}
		d.logger.WithFields(logrus.Fields{
			"crc":       status,
			"corrected": mm.CorrectedBits,
			"df":        mm.DF,
			"icao":      fmt.Sprintf("%06X", mm.ICAO),
			"metype":    mm.METype,
			"mesub":     mm.MESub,
		}).Debug("Got Mode-S message")
	}

	return mm, nil
}

// correct applies single-bit and, in aggressive mode, two-bit correction.
func (d *Decoder) correct(mm *Message) {
	if fixed, bit, ok := FixSingleBitError(mm.Data, mm.Bits); ok {
		mm.Data = fixed
		mm.CorrectedBits = []int{bit}
		mm.CRCOK = true
		d.singleBitFix.Add(1)
		return
	}

	if !d.opts.Aggressive || mm.DF != DFExtendedSquitter {
		return
	}

	if fixed, i, j, ok := FixTwoBitErrors(mm.Data, mm.Bits); ok {
		mm.Data = fixed
		mm.CorrectedBits = []int{i, j}
		mm.CRCOK = true
		d.twoBitFix.Add(1)
	}
}

// resolveValidity sets ICAO and the final CRCOK. DF11/17 feed the ICAO cache
// when they passed the checksum without correction; address-parity formats
// are validated against it.
func (d *Decoder) resolveValidity(mm *Message) {
	msg := mm.Data

	switch mm.DF {
	case DFAllCallReply, DFExtendedSquitter:
		mm.ICAO = uint32(msg[1])<<16 | uint32(msg[2])<<8 | uint32(msg[3])
		if mm.CRCOK && !mm.Corrected() {
			d.cache.Add(mm.ICAO, d.opts.Clock())
			d.cacheInserted.Add(1)
		}
		return
	case DFTISB:
		mm.ICAO = uint32(msg[1])<<16 | uint32(msg[2])<<8 | uint32(msg[3])
	}

	addr, ok := RecoverAddress(msg, mm.DF, mm.Bits, d.cache, d.opts.Clock())
	mm.CRCOK = ok
	if ok {
		mm.ICAO = addr
		d.apRecovered.Add(1)
	}
}

// decodeFields extracts every field the downlink format defines.
func (d *Decoder) decodeFields(mm *Message) {
	msg := mm.Data

	switch mm.DF {
	case DFAllCallReply, DFExtendedSquitter, DFTISB:
		mm.Capability = msg[0] & 7
	case DFSurveillanceAltitude, DFSurveillanceIdentity, DFCommBAltitude, DFCommBIdentity:
		mm.Surveillance = &SurveillanceReply{
			FlightStatus:    msg[0] & 7,
			DownlinkRequest: msg[1] >> 3 & 31,
			UtilityMessage:  (msg[1]&7)<<3 | msg[2]>>5,
		}
	}

	switch mm.DF {
	case DFSurveillanceIdentity, DFCommBIdentity:
		id := decodeIdentity(msg)
		mm.Identity = &id
	case DFShortAirSurveillance, DFSurveillanceAltitude, DFLongAirSurveillance, DFCommBAltitude:
		alt := decodeAC13Field(msg)
		mm.Altitude = &alt
	}

	if mm.DF != DFExtendedSquitter {
		return
	}

	mm.METype = int(msg[4] >> 3)
	mm.MESub = int(msg[4] & 7)

	switch {
	case mm.METype >= 1 && mm.METype <= 4:
		mm.ES = &Identification{
			Type:     mm.METype,
			Category: mm.METype - 1,
			Flight:   decodeFlight(msg),
		}
	case mm.METype >= 9 && mm.METype <= 18:
		pos := decodeAirbornePosition(msg, mm.METype)
		mm.ES = pos
		alt := pos.Altitude
		mm.Altitude = &alt
	case mm.METype == 19 && (mm.MESub == 1 || mm.MESub == 2):
		mm.ES = decodeGroundVelocity(msg, mm.MESub)
	case mm.METype == 19 && (mm.MESub == 3 || mm.MESub == 4):
		mm.ES = decodeAirspeed(msg, mm.MESub)
	}
}

// RecoverAddress recovers the sender address of a frame whose parity field is
// the checksum XORed with the address, and reports whether that address is a
// recently seen one. Formats without an address-parity field always fail.
func RecoverAddress(msg []byte, df, bits int, cache *ICAOCache, now time.Time) (uint32, bool) {
	switch df {
	case DFShortAirSurveillance, DFSurveillanceAltitude, DFSurveillanceIdentity,
		DFLongAirSurveillance, DFCommBAltitude, DFCommBIdentity, DFCommDELM:
	default:
		return 0, false
	}

	// (ADDR xor CRC) xor CRC = ADDR
	addr := ParityField(msg, bits) ^ Checksum(msg, bits)
	if !cache.RecentlySeen(addr, now) {
		return 0, false
	}
	return addr, true
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Frames:        d.frames.Load(),
		Malformed:     d.malformed.Load(),
		Valid:         d.valid.Load(),
		Invalid:       d.invalid.Load(),
		SingleBitFix:  d.singleBitFix.Load(),
		TwoBitFix:     d.twoBitFix.Load(),
		APRecovered:   d.apRecovered.Load(),
		CacheInserted: d.cacheInserted.Load(),
	}
}
