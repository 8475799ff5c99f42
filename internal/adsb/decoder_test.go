package adsb

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Address-parity frames for ICAO 4840D6
const (
	squawkFrameHex    = "28000339848B95"               // DF5, squawk 2345
	altitudeFrameHex  = "2000183859C38D"               // DF4, 38000 ft
	seaLevelFrameHex  = "20000098CFB0FD"               // DF4, 0 ft
	commBAltFrameHex  = "A0001838000000000000000B13EA" // DF20, 38000 ft
	tisbFrameHex      = "904840D6000000"               // DF18
	klmICAO           = uint32(0x4840D6)
	testEpochUnixSecs = 1700000000
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDecoder(t *testing.T, opts Options) (*Decoder, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(testEpochUnixSecs, 0)}
	opts.Clock = clock.Now
	return NewDecoder(newTestCache(t), opts, quietLogger()), clock
}

func flipped(t *testing.T, s string, bits ...int) []byte {
	t.Helper()
	msg := mustHex(t, s)
	for _, b := range bits {
		flipBit(msg, b)
	}
	return msg
}

func TestDecoder_Identification(t *testing.T) {
	d, clock := newTestDecoder(t, DefaultOptions())

	mm, err := d.DecodeHex("*" + identFrameHex + ";")
	require.NoError(t, err)

	assert.Equal(t, DFExtendedSquitter, mm.DF)
	assert.Equal(t, LongMsgBits, mm.Bits)
	assert.True(t, mm.CRCOK)
	assert.False(t, mm.Corrected())
	assert.Equal(t, klmICAO, mm.ICAO)
	assert.Equal(t, uint32(0x576098), mm.Checksum)
	assert.Equal(t, uint8(5), mm.Capability)
	assert.Equal(t, 4, mm.METype)
	assert.Equal(t, 0, mm.MESub)
	assert.Equal(t, identFrameHex, mm.Hex())

	id, ok := mm.ES.(*Identification)
	require.True(t, ok)
	assert.Equal(t, "KLM1023 ", id.Flight)
	assert.Equal(t, 3, id.Category)
	assert.Equal(t, 4, id.TypeCode())
	assert.Equal(t, "KLM1023", mm.Flight())

	assert.True(t, d.Cache().RecentlySeen(klmICAO, clock.Now()))
	assert.Equal(t, Stats{Frames: 1, Valid: 1, CacheInserted: 1}, d.Stats())
}

func TestDecoder_AllCallSeedsCache(t *testing.T) {
	d, clock := newTestDecoder(t, DefaultOptions())

	mm, err := d.DecodeFrame(mustHex(t, allCallFrameHex))
	require.NoError(t, err)

	assert.Equal(t, DFAllCallReply, mm.DF)
	assert.Equal(t, ShortMsgBits, mm.Bits)
	assert.True(t, mm.CRCOK)
	assert.Equal(t, klmICAO, mm.ICAO)
	assert.Equal(t, uint8(5), mm.Capability)
	assert.Nil(t, mm.ES)
	assert.True(t, d.Cache().RecentlySeen(klmICAO, clock.Now()))
}

func TestDecoder_SingleBitCorrection(t *testing.T) {
	d, clock := newTestDecoder(t, DefaultOptions())
	bad := flipped(t, identFrameHex, 59)
	snapshot := append([]byte(nil), bad...)

	mm, err := d.DecodeFrame(bad)
	require.NoError(t, err)

	assert.True(t, mm.CRCOK)
	assert.Equal(t, []int{59}, mm.CorrectedBits)
	assert.Equal(t, mustHex(t, identFrameHex), mm.Data)
	assert.Equal(t, snapshot, bad, "input must not be modified")
	assert.Equal(t, "KLM1023", mm.Flight())

	// Corrected frames are never trusted as a source of addresses
	assert.False(t, d.Cache().RecentlySeen(klmICAO, clock.Now()))

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.SingleBitFix)
	assert.Equal(t, uint64(0), stats.CacheInserted)
}

func TestDecoder_CorrectedFrameDoesNotUnlockAP(t *testing.T) {
	d, _ := newTestDecoder(t, DefaultOptions())

	_, err := d.DecodeFrame(flipped(t, identFrameHex, 59))
	require.NoError(t, err)

	mm, err := d.DecodeFrame(mustHex(t, squawkFrameHex))
	require.NoError(t, err)
	assert.False(t, mm.CRCOK)
	assert.Equal(t, uint32(0), mm.ICAO)
}

func TestDecoder_FixErrorsDisabled(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})
	bad := flipped(t, identFrameHex, 59)

	mm, err := d.DecodeFrame(bad)
	require.NoError(t, err)

	assert.False(t, mm.CRCOK)
	assert.False(t, mm.Corrected())
	assert.Equal(t, bad, mm.Data)
}

func TestDecoder_UncorrectableStillDecodesFields(t *testing.T) {
	d, clock := newTestDecoder(t, DefaultOptions())

	mm, err := d.DecodeFrame(flipped(t, identFrameHex, 103, 104))
	require.NoError(t, err)

	assert.False(t, mm.CRCOK)
	assert.False(t, mm.Corrected())
	assert.Equal(t, klmICAO, mm.ICAO)
	assert.Equal(t, 4, mm.METype)
	assert.Equal(t, "KLM1023", mm.Flight())
	assert.False(t, d.Cache().RecentlySeen(klmICAO, clock.Now()))
	assert.Equal(t, uint64(1), d.Stats().Invalid)
}

func TestDecoder_TwoBitCorrection(t *testing.T) {
	t.Run("normal mode leaves frame invalid", func(t *testing.T) {
		d, _ := newTestDecoder(t, DefaultOptions())
		bad := flipped(t, identFrameHex, 9, 78)

		mm, err := d.DecodeFrame(bad)
		require.NoError(t, err)
		assert.False(t, mm.CRCOK)
		assert.Equal(t, bad, mm.Data)
	})

	t.Run("aggressive mode repairs DF17", func(t *testing.T) {
		d, clock := newTestDecoder(t, Options{FixErrors: true, Aggressive: true})

		mm, err := d.DecodeFrame(flipped(t, identFrameHex, 9, 78))
		require.NoError(t, err)
		assert.True(t, mm.CRCOK)
		assert.Equal(t, []int{9, 78}, mm.CorrectedBits)
		assert.Equal(t, mustHex(t, identFrameHex), mm.Data)
		assert.False(t, d.Cache().RecentlySeen(klmICAO, clock.Now()))
		assert.Equal(t, uint64(1), d.Stats().TwoBitFix)
	})

	t.Run("aggressive mode skips DF11", func(t *testing.T) {
		d, _ := newTestDecoder(t, Options{FixErrors: true, Aggressive: true})

		mm, err := d.DecodeFrame(flipped(t, allCallFrameHex, 8, 40))
		require.NoError(t, err)
		assert.False(t, mm.CRCOK)
		assert.Equal(t, uint64(0), d.Stats().TwoBitFix)
	})
}

func TestDecoder_AddressParityRecovery(t *testing.T) {
	tests := []struct {
		name  string
		hex   string
		df    int
		check func(t *testing.T, mm *Message)
	}{
		{
			name: "DF5 identity",
			hex:  squawkFrameHex,
			df:   DFSurveillanceIdentity,
			check: func(t *testing.T, mm *Message) {
				require.NotNil(t, mm.Identity)
				assert.Equal(t, Squawk(2345), *mm.Identity)
				assert.Equal(t, "2345", mm.Identity.String())
				assert.Nil(t, mm.Altitude)
				require.NotNil(t, mm.Surveillance)
				assert.Equal(t, uint8(0), mm.Surveillance.FlightStatus)
			},
		},
		{
			name: "DF4 altitude",
			hex:  altitudeFrameHex,
			df:   DFSurveillanceAltitude,
			check: func(t *testing.T, mm *Message) {
				require.NotNil(t, mm.Altitude)
				assert.Equal(t, Altitude{Feet: 38000, Unit: UnitFeet, Valid: true}, *mm.Altitude)
				assert.Nil(t, mm.Identity)
			},
		},
		{
			name: "DF20 altitude",
			hex:  commBAltFrameHex,
			df:   DFCommBAltitude,
			check: func(t *testing.T, mm *Message) {
				assert.Equal(t, LongMsgBits, mm.Bits)
				require.NotNil(t, mm.Altitude)
				assert.Equal(t, 38000, mm.Altitude.Feet)
			},
		},
		{
			name: "DF4 sea level",
			hex:  seaLevelFrameHex,
			df:   DFSurveillanceAltitude,
			check: func(t *testing.T, mm *Message) {
				require.NotNil(t, mm.Altitude)
				assert.Equal(t, Altitude{Feet: 0, Unit: UnitFeet, Valid: true}, *mm.Altitude)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDecoder(t, DefaultOptions())
			frame := mustHex(t, tt.hex)

			before, err := d.DecodeFrame(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.df, before.DF)
			assert.False(t, before.CRCOK)
			assert.Equal(t, uint32(0), before.ICAO)
			tt.check(t, before)

			_, err = d.DecodeFrame(mustHex(t, identFrameHex))
			require.NoError(t, err)

			after, err := d.DecodeFrame(frame)
			require.NoError(t, err)
			assert.True(t, after.CRCOK)
			assert.Equal(t, klmICAO, after.ICAO)
			tt.check(t, after)

			assert.Equal(t, uint64(1), d.Stats().APRecovered)
		})
	}
}

func TestDecoder_AddressParityExpires(t *testing.T) {
	d, clock := newTestDecoder(t, DefaultOptions())

	_, err := d.DecodeFrame(mustHex(t, identFrameHex))
	require.NoError(t, err)

	clock.Advance(60 * time.Second)
	mm, err := d.DecodeFrame(mustHex(t, squawkFrameHex))
	require.NoError(t, err)
	assert.True(t, mm.CRCOK)

	clock.Advance(time.Second)
	mm, err = d.DecodeFrame(mustHex(t, squawkFrameHex))
	require.NoError(t, err)
	assert.False(t, mm.CRCOK)
	assert.Equal(t, uint32(0), mm.ICAO)
}

func TestDecoder_TISBNeverValid(t *testing.T) {
	d, _ := newTestDecoder(t, DefaultOptions())

	_, err := d.DecodeFrame(mustHex(t, identFrameHex))
	require.NoError(t, err)

	mm, err := d.DecodeFrame(mustHex(t, tisbFrameHex))
	require.NoError(t, err)
	assert.Equal(t, DFTISB, mm.DF)
	assert.Equal(t, ShortMsgBits, mm.Bits)
	assert.False(t, mm.CRCOK)
	assert.Equal(t, klmICAO, mm.ICAO)
}

func TestDecoder_GroundVelocity(t *testing.T) {
	d, _ := newTestDecoder(t, DefaultOptions())

	mm, err := d.DecodeFrame(mustHex(t, velocityFrameHex))
	require.NoError(t, err)
	assert.True(t, mm.CRCOK)
	assert.Equal(t, uint32(0x485020), mm.ICAO)
	assert.Equal(t, 19, mm.METype)
	assert.Equal(t, 1, mm.MESub)

	v, ok := mm.ES.(*GroundVelocity)
	require.True(t, ok)
	assert.Equal(t, uint8(1), v.EWDir)
	assert.Equal(t, 9, v.EWVelocity)
	assert.Equal(t, uint8(1), v.NSDir)
	assert.Equal(t, 160, v.NSVelocity)
	assert.Equal(t, uint8(0), v.VertRateSource)
	assert.Equal(t, uint8(1), v.VertRateSign)
	assert.Equal(t, 14, v.VertRate)
	assert.Equal(t, -832, v.VerticalRateFPM())
	assert.Equal(t, 160, v.Speed)
	assert.InDelta(t, 183.2195, v.Heading, 0.001)
	assert.Equal(t, "", mm.Flight())
}

func TestDecoder_AirbornePosition(t *testing.T) {
	d, _ := newTestDecoder(t, DefaultOptions())

	tests := []struct {
		name string
		hex  string
		odd  bool
		lat  uint32
		lon  uint32
	}{
		{name: "even", hex: evenPosFrameHex, lat: 93000, lon: 51372},
		{name: "odd", hex: oddPosFrameHex, odd: true, lat: 74158, lon: 50194},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mm, err := d.DecodeFrame(mustHex(t, tt.hex))
			require.NoError(t, err)
			assert.True(t, mm.CRCOK)
			assert.Equal(t, 11, mm.METype)

			pos, ok := mm.ES.(*AirbornePosition)
			require.True(t, ok)
			assert.Equal(t, tt.odd, pos.OddFrame)
			assert.False(t, pos.UTCSync)
			assert.Equal(t, tt.lat, pos.RawLatitude)
			assert.Equal(t, tt.lon, pos.RawLongitude)
			assert.Equal(t, 38000, pos.Altitude.Feet)

			require.NotNil(t, mm.Altitude)
			assert.Equal(t, 38000, mm.Altitude.Feet)
		})
	}
}

func TestDecoder_Airspeed(t *testing.T) {
	d, _ := newTestDecoder(t, DefaultOptions())

	mm, err := d.DecodeFrame(mustHex(t, airspeedFrameHex))
	require.NoError(t, err)
	assert.True(t, mm.CRCOK)
	assert.Equal(t, 19, mm.METype)
	assert.Equal(t, 3, mm.MESub)

	as, ok := mm.ES.(*Airspeed)
	require.True(t, ok)
	assert.True(t, as.HeadingValid)
	assert.InDelta(t, 241.875, as.Heading, 1e-9)
}

func TestDecoder_DecodeHexErrors(t *testing.T) {
	d, _ := newTestDecoder(t, DefaultOptions())

	for _, line := range []string{"8D4840D6;", "*8D48;", "*8DZZ40D6;"} {
		mm, err := d.DecodeHex(line)
		assert.ErrorIs(t, err, ErrMalformedFrame, line)
		assert.Nil(t, mm)
	}

	stats := d.Stats()
	assert.Equal(t, uint64(3), stats.Malformed)
	assert.Equal(t, uint64(0), stats.Frames)
}

func TestDecoder_DecodeHexTimestamp(t *testing.T) {
	d, _ := newTestDecoder(t, DefaultOptions())

	mm, err := d.DecodeHex("@00000123ABCD" + identFrameHex + ";")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x123ABCD), mm.MLAT)
	assert.Equal(t, "KLM1023", mm.Flight())
}

func TestDecoder_ShortFrame(t *testing.T) {
	d, _ := newTestDecoder(t, DefaultOptions())

	_, err := d.DecodeFrame(nil)
	assert.ErrorIs(t, err, ErrShortFrame)

	_, err = d.DecodeFrame(mustHex(t, identFrameHex)[:7])
	assert.ErrorIs(t, err, ErrShortFrame)

	assert.Equal(t, uint64(2), d.Stats().Malformed)
}

func TestDecoder_DebugLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	d := NewDecoder(newTestCache(t), DefaultOptions(), logger)
	_, err := d.DecodeFrame(mustHex(t, identFrameHex))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Got Mode-S message")
	assert.Contains(t, out, "icao=4840D6")
	assert.Contains(t, out, "crc=OK")
}

func TestDecoder_NeverMutatesInput(t *testing.T) {
	d := NewDecoder(newTestCache(t), Options{FixErrors: true, Aggressive: true}, quietLogger())

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.SampledFrom([]int{ShortMsgBytes, LongMsgBytes}).Draw(t, "len")
		frame := rapid.SliceOfN(rapid.Byte(), n, n).Draw(t, "frame")
		snapshot := append([]byte(nil), frame...)

		mm, err := d.DecodeFrame(frame)
		if !bytes.Equal(snapshot, frame) {
			t.Fatalf("input modified")
		}
		if err != nil {
			return
		}
		if mm.CRCOK && mm.ICAO == 0 && mm.DF != DFAllCallReply && mm.DF != DFExtendedSquitter {
			t.Fatalf("valid DF%d frame with no address", mm.DF)
		}
	})
}
