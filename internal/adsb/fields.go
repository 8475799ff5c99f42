package adsb

import (
	"math"
)

// decodeAC13Field decodes the 13-bit altitude of DF0/4/16/20 (bits 20-32).
// Only the 25 ft encoding (M=0, Q=1) is supported; anything else yields 0.
func decodeAC13Field(msg []byte) Altitude {
	mBit := msg[3] & (1 << 6)
	qBit := msg[3] & (1 << 4)

	if mBit != 0 {
		return Altitude{Unit: UnitMeters}
	}
	if qBit == 0 {
		return Altitude{Unit: UnitFeet}
	}

	// N is the 11 bit integer left after removing the Q and M bits
	n := int(msg[2]&31)<<6 |
		int(msg[3]&0x80)>>2 |
		int(msg[3]&0x20)>>1 |
		int(msg[3]&15)
	return Altitude{Feet: n*altitudeStepFeet - altitudeOffsetFeet, Unit: UnitFeet, Valid: true}
}

// decodeAC12Field decodes the 12-bit altitude of an airborne position
// squitter (ME bits 9-20). Q clear yields 0.
func decodeAC12Field(msg []byte) Altitude {
	if msg[5]&1 == 0 {
		return Altitude{Unit: UnitFeet}
	}

	n := int(msg[5]>>1)<<4 | int(msg[6]&0xF0)>>4
	return Altitude{Feet: n*altitudeStepFeet - altitudeOffsetFeet, Unit: UnitFeet, Valid: true}
}

// decodeIdentity reassembles the Gillham interleaved identity field
// (message bits 20-32: C1 A1 C2 A2 C4 A4 X B1 D1 B2 D2 B4 D4) into four
// octal digits.
func decodeIdentity(msg []byte) Squawk {
	a := int(msg[3]&0x80)>>5 |
		int(msg[2]&0x02) |
		int(msg[2]&0x08)>>3
	b := int(msg[3]&0x02)<<1 |
		int(msg[3]&0x08)>>2 |
		int(msg[3]&0x20)>>5
	c := int(msg[2]&0x01)<<2 |
		int(msg[2]&0x04)>>1 |
		int(msg[2]&0x10)>>4
	d := int(msg[3]&0x01)<<2 |
		int(msg[3]&0x04)>>1 |
		int(msg[3]&0x10)>>4

	return Squawk(a*1000 + b*100 + c*10 + d)
}

// decodeFlight maps the eight 6-bit characters of ME bits 9-56.
func decodeFlight(msg []byte) string {
	codes := [8]byte{
		msg[5] >> 2,
		(msg[5]&3)<<4 | msg[6]>>4,
		(msg[6]&15)<<2 | msg[7]>>6,
		msg[7] & 63,
		msg[8] >> 2,
		(msg[8]&3)<<4 | msg[9]>>4,
		(msg[9]&15)<<2 | msg[10]>>6,
		msg[10] & 63,
	}

	var flight [8]byte
	for i, code := range codes {
		flight[i] = ADSBCharset[code]
	}
	return string(flight[:])
}

func decodeAirbornePosition(msg []byte, metype int) *AirbornePosition {
	return &AirbornePosition{
		Type:     metype,
		OddFrame: msg[6]&(1<<2) != 0,
		UTCSync:  msg[6]&(1<<3) != 0,
		Altitude: decodeAC12Field(msg),
		RawLatitude: uint32(msg[6]&3)<<15 |
			uint32(msg[7])<<7 |
			uint32(msg[8])>>1,
		RawLongitude: uint32(msg[8]&1)<<16 |
			uint32(msg[9])<<8 |
			uint32(msg[10]),
	}
}

func decodeGroundVelocity(msg []byte, mesub int) *GroundVelocity {
	v := &GroundVelocity{
		Subtype:        mesub,
		EWDir:          (msg[5] & 4) >> 2,
		EWVelocity:     int(msg[5]&3)<<8 | int(msg[6]),
		NSDir:          (msg[7] & 0x80) >> 7,
		NSVelocity:     int(msg[7]&0x7f)<<3 | int(msg[8]&0xe0)>>5,
		VertRateSource: (msg[8] & 0x10) >> 4,
		VertRateSign:   (msg[8] & 0x8) >> 3,
		VertRate:       int(msg[8]&7)<<6 | int(msg[9]&0xfc)>>2,
	}

	v.Speed = int(math.Sqrt(float64(v.NSVelocity*v.NSVelocity + v.EWVelocity*v.EWVelocity)))
	if v.Speed == 0 {
		return v
	}

	ewv, nsv := v.EWVelocity, v.NSVelocity
	if v.EWDir == 1 {
		ewv = -ewv
	}
	if v.NSDir == 1 {
		nsv = -nsv
	}

	v.Heading = math.Atan2(float64(ewv), float64(nsv)) * 180 / math.Pi
	if v.Heading < 0 {
		v.Heading += 360
	}
	return v
}

// decodeAirspeed extracts the heading of subtype 3/4. Airspeed and its
// IAS/TAS type bit are left undecoded.
func decodeAirspeed(msg []byte, mesub int) *Airspeed {
	return &Airspeed{
		Subtype:      mesub,
		HeadingValid: msg[5]&(1<<2) != 0,
		Heading:      (360.0 / 128) * float64(int(msg[5]&3)<<5|int(msg[6]>>3)),
	}
}
