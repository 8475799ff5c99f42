// Package publish sends decoded messages to a NATS subject.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"ssrmixer/internal/adsb"
)

// Supported encodings
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Record is the flat, wire-friendly form of a decoded message
type Record struct {
	ReceivedAt    time.Time `json:"received_at" msgpack:"received_at"`
	ICAO          string    `json:"icao" msgpack:"icao"`
	DF            int       `json:"df" msgpack:"df"`
	CRCOK         bool      `json:"crc_ok" msgpack:"crc_ok"`
	CorrectedBits []int     `json:"corrected_bits,omitempty" msgpack:"corrected_bits,omitempty"`
	MLAT          uint64    `json:"mlat,omitempty" msgpack:"mlat,omitempty"`
	METype        int       `json:"metype,omitempty" msgpack:"metype,omitempty"`
	MESub         int       `json:"mesub,omitempty" msgpack:"mesub,omitempty"`
	Flight        string    `json:"flight,omitempty" msgpack:"flight,omitempty"`
	Squawk        string    `json:"squawk,omitempty" msgpack:"squawk,omitempty"`
	Altitude      *int      `json:"altitude,omitempty" msgpack:"altitude,omitempty"`
	AltitudeUnit  string    `json:"altitude_unit,omitempty" msgpack:"altitude_unit,omitempty"`
	Speed         *int      `json:"speed,omitempty" msgpack:"speed,omitempty"`
	Heading       *float64  `json:"heading,omitempty" msgpack:"heading,omitempty"`
	VerticalRate  *int      `json:"vertical_rate,omitempty" msgpack:"vertical_rate,omitempty"`
	CPROdd        *bool     `json:"cpr_odd,omitempty" msgpack:"cpr_odd,omitempty"`
	CPRLatitude   uint32    `json:"cpr_lat,omitempty" msgpack:"cpr_lat,omitempty"`
	CPRLongitude  uint32    `json:"cpr_lon,omitempty" msgpack:"cpr_lon,omitempty"`
	Raw           string    `json:"raw" msgpack:"raw"`
}

// NewRecord flattens a message
func NewRecord(mm *adsb.Message, receivedAt time.Time) Record {
	r := Record{
		ReceivedAt:    receivedAt.UTC(),
		ICAO:          fmt.Sprintf("%06X", mm.ICAO),
		DF:            mm.DF,
		CRCOK:         mm.CRCOK,
		CorrectedBits: mm.CorrectedBits,
		MLAT:          mm.MLAT,
		METype:        mm.METype,
		MESub:         mm.MESub,
		Flight:        mm.Flight(),
		Raw:           mm.Hex(),
	}

	if mm.Identity != nil {
		r.Squawk = mm.Identity.String()
	}
	if mm.Altitude != nil && mm.Altitude.Valid {
		feet := mm.Altitude.Feet
		r.Altitude = &feet
		r.AltitudeUnit = mm.Altitude.Unit.String()
	}

	switch es := mm.ES.(type) {
	case *adsb.AirbornePosition:
		odd := es.OddFrame
		r.CPROdd = &odd
		r.CPRLatitude = es.RawLatitude
		r.CPRLongitude = es.RawLongitude
	case *adsb.GroundVelocity:
		speed, heading, rate := es.Speed, es.Heading, es.VerticalRateFPM()
		r.Speed = &speed
		r.Heading = &heading
		r.VerticalRate = &rate
	case *adsb.Airspeed:
		if es.HeadingValid {
			heading := es.Heading
			r.Heading = &heading
		}
	}

	return r
}

// Marshal encodes a record
func Marshal(r Record, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingJSON:
		return json.Marshal(r)
	case EncodingMsgpack:
		return msgpack.Marshal(r)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

// Unmarshal decodes a record
func Unmarshal(data []byte, encoding string, r *Record) error {
	switch encoding {
	case EncodingJSON:
		return json.Unmarshal(data, r)
	case EncodingMsgpack:
		return msgpack.Unmarshal(data, r)
	default:
		return fmt.Errorf("unknown encoding %q", encoding)
	}
}

// Conn is the subset of *nats.Conn used for publishing
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends records to a subject
type Publisher struct {
	conn     Conn
	subject  string
	encoding string
	logger   *logrus.Logger
	closer   func() error
}

// NewPublisher wraps an existing connection
func NewPublisher(conn Conn, subject, encoding string, logger *logrus.Logger) (*Publisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if encoding != EncodingJSON && encoding != EncodingMsgpack {
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}

	return &Publisher{
		conn:     conn,
		subject:  subject,
		encoding: encoding,
		logger:   logger,
		closer:   func() error { return nil },
	}, nil
}

// Connect dials a NATS server and returns a publisher on subject
func Connect(url, subject, encoding string, logger *logrus.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("ssrmixer"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	p, err := NewPublisher(nc, subject, encoding, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.closer = nc.Drain

	logger.WithFields(logrus.Fields{
		"url":      nc.ConnectedUrl(),
		"subject":  subject,
		"encoding": encoding,
	}).Info("Connected to NATS")

	return p, nil
}

// Publish encodes and sends one message
func (p *Publisher) Publish(mm *adsb.Message, receivedAt time.Time) error {
	data, err := Marshal(NewRecord(mm, receivedAt), p.encoding)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() error {
	return p.closer()
}
