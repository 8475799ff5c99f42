package adsb

import (
	"fmt"
	"strings"
)

// Unit is the altitude unit reported by the transponder
type Unit int

const (
	UnitFeet Unit = iota
	UnitMeters
)

func (u Unit) String() string {
	if u == UnitMeters {
		return "m"
	}
	return "ft"
}

// Squawk is the Mode A identity code, stored as a base-10 number whose digits
// are the four octal digits of the code.
type Squawk int

func (s Squawk) String() string {
	return fmt.Sprintf("%04d", int(s))
}

// Altitude is a decoded AC12/AC13 altitude. Valid is false, and Feet 0, when
// the encoding is not supported (metric, or Gillham with Q clear).
type Altitude struct {
	Feet  int
	Unit  Unit
	Valid bool
}

// SurveillanceReply holds the header fields of DF4, DF5, DF20 and DF21.
type SurveillanceReply struct {
	FlightStatus    uint8
	DownlinkRequest uint8
	UtilityMessage  uint8
}

// Message is the decode result for one Mode S frame. Fields that the downlink
// format defines are populated even when CRCOK is false.
type Message struct {
	Data []byte // frame bytes after any correction
	Bits int
	DF   int

	Checksum      uint32 // 24-bit parity field as transmitted
	CRCOK         bool
	CorrectedBits []int

	// ICAO is read from the frame for DF11/17/18 and recovered from the AP
	// field for the address-parity formats. Zero when unknown.
	ICAO uint32

	// MLAT is the 48-bit receiver timestamp from '@' lines or Beast frames.
	MLAT uint64

	Capability   uint8 // DF11, DF17, DF18
	Surveillance *SurveillanceReply
	Identity     *Squawk
	Altitude     *Altitude

	// Extended squitter (DF17)
	METype int
	MESub  int
	ES     ExtendedSquitter
}

// Corrected reports whether bit flips were applied to pass the checksum.
func (m *Message) Corrected() bool {
	return len(m.CorrectedBits) > 0
}

// Hex returns the frame as upper-case hex.
func (m *Message) Hex() string {
	return fmt.Sprintf("%X", m.Data)
}

// Flight returns the trimmed callsign for identification messages.
func (m *Message) Flight() string {
	if id, ok := m.ES.(*Identification); ok {
		return strings.TrimRight(id.Flight, " ")
	}
	return ""
}

// ExtendedSquitter is implemented by the decoded DF17 payload variants.
type ExtendedSquitter interface {
	TypeCode() int
}

// Identification is ES type 1-4.
type Identification struct {
	Type     int
	Category int    // aircraft category set, metype-1
	Flight   string // 8 characters, space padded
}

func (i *Identification) TypeCode() int { return i.Type }

// AirbornePosition is ES type 9-18. Latitude and longitude are the raw 17-bit
// CPR values.
type AirbornePosition struct {
	Type         int
	OddFrame     bool
	UTCSync      bool
	Altitude     Altitude
	RawLatitude  uint32
	RawLongitude uint32
}

func (p *AirbornePosition) TypeCode() int { return p.Type }

// GroundVelocity is ES type 19, subtypes 1 and 2.
type GroundVelocity struct {
	Subtype        int
	EWDir          uint8 // 0 east, 1 west
	EWVelocity     int
	NSDir          uint8 // 0 north, 1 south
	NSVelocity     int
	VertRateSource uint8 // 0 GNSS, 1 barometric
	VertRateSign   uint8 // 0 up, 1 down
	VertRate       int   // raw 9-bit field
	Speed          int   // knots
	Heading        float64
}

func (v *GroundVelocity) TypeCode() int { return 19 }

// VerticalRateFPM converts the raw vertical rate field to feet per minute.
func (v *GroundVelocity) VerticalRateFPM() int {
	if v.VertRate == 0 {
		return 0
	}
	rate := (v.VertRate - 1) * 64
	if v.VertRateSign == 1 {
		rate = -rate
	}
	return rate
}

// Airspeed is ES type 19, subtypes 3 and 4. Only the heading is decoded.
type Airspeed struct {
	Subtype      int
	HeadingValid bool
	Heading      float64
}

func (a *Airspeed) TypeCode() int { return 19 }
