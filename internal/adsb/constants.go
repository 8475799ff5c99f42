package adsb

import "time"

// Frame lengths
const (
	ShortMsgBits  = 56
	LongMsgBits   = 112
	ShortMsgBytes = ShortMsgBits / 8
	LongMsgBytes  = LongMsgBits / 8
)

// Downlink formats
const (
	DFShortAirSurveillance = 0
	DFSurveillanceAltitude = 4
	DFSurveillanceIdentity = 5
	DFAllCallReply         = 11
	DFLongAirSurveillance  = 16
	DFExtendedSquitter     = 17
	DFTISB                 = 18
	DFMilitarySquitter     = 19
	DFCommBAltitude        = 20
	DFCommBIdentity        = 21
	DFCommDELM             = 24
)

// ICAO address cache defaults
const (
	DefaultICAOCacheSize = 1024 // must be a power of two
	DefaultICAOCacheTTL  = 60 * time.Second
)

// ADSBCharset maps the 6-bit identification characters. Codes with no
// assigned character decode to '?'.
const ADSBCharset = "?ABCDEFGHIJKLMNOPQRSTUVWXYZ????? ???????????????0123456789??????"

// Altitude encoding constants (N*25 - 1000 ft)
const (
	altitudeStepFeet   = 25
	altitudeOffsetFeet = 1000
)
