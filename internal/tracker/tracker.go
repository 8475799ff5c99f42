package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"ssrmixer/internal/adsb"
)

// CPRFrame is the raw position half of an odd/even pair
type CPRFrame struct {
	Latitude  uint32
	Longitude uint32
	Seen      time.Time
}

// Aircraft is the merged state of one transponder
type Aircraft struct {
	ICAO         uint32
	Flight       string
	Squawk       adsb.Squawk
	HasSquawk    bool
	Altitude     int
	HasAltitude  bool
	Even         *CPRFrame
	Odd          *CPRFrame
	Speed        int
	Heading      float64
	VerticalRate int // ft/min
	Messages     uint64
	FirstSeen    time.Time
	LastSeen     time.Time
}

// HexIdent returns the address as six hex digits
func (a Aircraft) HexIdent() string {
	return fmt.Sprintf("%06X", a.ICAO)
}

// Tracker keeps the aircraft heard within the last TTL
type Tracker struct {
	mu     sync.Mutex
	cache  *expirable.LRU[uint32, *Aircraft]
	logger *logrus.Logger
}

// New creates a tracker holding at most capacity aircraft
func New(capacity int, ttl time.Duration, logger *logrus.Logger) *Tracker {
	t := &Tracker{logger: logger}
	t.cache = expirable.NewLRU[uint32, *Aircraft](capacity, t.onEvict, ttl)
	return t
}

func (t *Tracker) onEvict(icao uint32, a *Aircraft) {
	t.logger.WithFields(logrus.Fields{
		"icao":     fmt.Sprintf("%06X", icao),
		"messages": a.Messages,
	}).Debug("Aircraft removed from tracker")
}

// Update merges a checksum-valid message and returns the updated state.
// Invalid messages and messages without an address are ignored.
func (t *Tracker) Update(mm *adsb.Message, now time.Time) (Aircraft, bool) {
	if !mm.CRCOK || mm.ICAO == 0 {
		return Aircraft{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.cache.Get(mm.ICAO)
	if !ok {
		a = &Aircraft{ICAO: mm.ICAO, FirstSeen: now}
		t.logger.WithField("icao", fmt.Sprintf("%06X", mm.ICAO)).Debug("New aircraft")
	}

	a.Messages++
	a.LastSeen = now

	if mm.Identity != nil {
		a.Squawk = *mm.Identity
		a.HasSquawk = true
	}
	if mm.Altitude != nil && mm.Altitude.Valid {
		a.Altitude = mm.Altitude.Feet
		a.HasAltitude = true
	}

	switch es := mm.ES.(type) {
	case *adsb.Identification:
		if flight := mm.Flight(); flight != "" {
			a.Flight = flight
		}
	case *adsb.AirbornePosition:
		frame := &CPRFrame{Latitude: es.RawLatitude, Longitude: es.RawLongitude, Seen: now}
		if es.OddFrame {
			a.Odd = frame
		} else {
			a.Even = frame
		}
	case *adsb.GroundVelocity:
		a.Speed = es.Speed
		a.Heading = es.Heading
		a.VerticalRate = es.VerticalRateFPM()
	case *adsb.Airspeed:
		if es.HeadingValid {
			a.Heading = es.Heading
		}
	}

	// Add refreshes the expiry
	t.cache.Add(mm.ICAO, a)
	return a.copy(), true
}

func (a *Aircraft) copy() Aircraft {
	c := *a
	if a.Even != nil {
		even := *a.Even
		c.Even = &even
	}
	if a.Odd != nil {
		odd := *a.Odd
		c.Odd = &odd
	}
	return c
}

// Get returns the state of one aircraft
func (t *Tracker) Get(icao uint32) (Aircraft, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.cache.Peek(icao)
	if !ok {
		return Aircraft{}, false
	}
	return a.copy(), true
}

// Flight returns the callsign last heard from icao
func (t *Tracker) Flight(icao uint32) string {
	a, ok := t.Get(icao)
	if !ok {
		return ""
	}
	return a.Flight
}

// Len returns the number of tracked aircraft
func (t *Tracker) Len() int {
	return t.cache.Len()
}

// Snapshot returns all tracked aircraft ordered by address
func (t *Tracker) Snapshot() []Aircraft {
	t.mu.Lock()
	values := t.cache.Values()
	out := make([]Aircraft, 0, len(values))
	for _, a := range values {
		out = append(out, a.copy())
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ICAO < out[j].ICAO })
	return out
}

// Purge drops every aircraft
func (t *Tracker) Purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Purge()
}
