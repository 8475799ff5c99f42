package basestation

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ssrmixer/internal/adsb"
)

// MessageMSG is the only BaseStation message type written; SEL, ID, AIR, STA
// and CLK come from operator actions and aircraft table changes
const MessageMSG = "MSG"

// BaseStation transmission types. Type 2, surface position, is not written
// since surface squitters are not decoded.
const (
	TransmissionESIdentification = 1 // Extended Squitter Aircraft ID and Category
	TransmissionESAirborne       = 3 // Extended Squitter Airborne Position
	TransmissionESVelocity       = 4 // Extended Squitter Airborne Velocity
	TransmissionSurveillanceAlt  = 5 // Surveillance Alt, Squawk change
	TransmissionSurveillanceID   = 6 // Surveillance ID change
	TransmissionAirToAir         = 7 // Air-to-Air Message
	TransmissionAllCall          = 8 // All Call Reply
)

// ErrNotSupported is returned for messages with no SBS representation
var ErrNotSupported = errors.New("message has no BaseStation representation")

// Message represents a BaseStation format message
type Message struct {
	MessageType      string
	TransmissionType int
	SessionID        int
	AircraftID       int
	HexIdent         string
	FlightID         int
	Generated        time.Time
	Logged           time.Time
	Callsign         string
	Altitude         string
	GroundSpeed      string
	Track            string
	Latitude         string
	Longitude        string
	VerticalRate     string
	Squawk           string
	Alert            string
	Emergency        string
	SPI              string
	IsOnGround       string
}

// FlightLookup supplies callsigns learned from earlier identification messages
type FlightLookup interface {
	Flight(icao uint32) string
}

// Writer writes messages in BaseStation format
type Writer struct {
	out        io.Writer
	flights    FlightLookup
	logger     *logrus.Logger
	sessionID  int
	aircraftID int
}

// NewWriter creates a BaseStation writer; flights may be nil
func NewWriter(out io.Writer, flights FlightLookup, logger *logrus.Logger) *Writer {
	return &Writer{
		out:        out,
		flights:    flights,
		logger:     logger,
		sessionID:  1,
		aircraftID: 1,
	}
}

// WriteMessage writes one checksum-valid message as an SBS line
func (w *Writer) WriteMessage(mm *adsb.Message, now time.Time) error {
	if mm == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if !mm.CRCOK {
		return fmt.Errorf("invalid message")
	}

	sbs, err := w.Convert(mm, now)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(w.out, sbs.Format()+"\n"); err != nil {
		return fmt.Errorf("failed to write to log: %w", err)
	}
	return nil
}

// Convert maps a decoded message onto the SBS fields
func (w *Writer) Convert(mm *adsb.Message, now time.Time) (*Message, error) {
	sbs := &Message{
		MessageType: MessageMSG,
		SessionID:   w.sessionID,
		AircraftID:  w.aircraftID,
		FlightID:    w.aircraftID,
		HexIdent:    fmt.Sprintf("%06X", mm.ICAO),
		Generated:   now,
		Logged:      now,
	}

	switch mm.DF {
	case adsb.DFAllCallReply:
		sbs.TransmissionType = TransmissionAllCall

	case adsb.DFShortAirSurveillance, adsb.DFLongAirSurveillance:
		sbs.TransmissionType = TransmissionAirToAir
		setAltitude(sbs, mm.Altitude)

	case adsb.DFSurveillanceAltitude, adsb.DFCommBAltitude:
		sbs.TransmissionType = TransmissionSurveillanceAlt
		setAltitude(sbs, mm.Altitude)
		setFlightStatus(sbs, mm.Surveillance)

	case adsb.DFSurveillanceIdentity, adsb.DFCommBIdentity:
		sbs.TransmissionType = TransmissionSurveillanceID
		if mm.Identity != nil {
			sbs.Squawk = mm.Identity.String()
			sbs.Emergency = flag(isEmergency(*mm.Identity))
		}
		setFlightStatus(sbs, mm.Surveillance)

	case adsb.DFExtendedSquitter:
		switch es := mm.ES.(type) {
		case *adsb.Identification:
			sbs.TransmissionType = TransmissionESIdentification
			sbs.Callsign = mm.Flight()
		case *adsb.AirbornePosition:
			// Positions stay CPR encoded, only the altitude is reported
			sbs.TransmissionType = TransmissionESAirborne
			setAltitude(sbs, &es.Altitude)
		case *adsb.GroundVelocity:
			sbs.TransmissionType = TransmissionESVelocity
			sbs.GroundSpeed = strconv.Itoa(es.Speed)
			sbs.Track = strconv.FormatFloat(es.Heading, 'f', 1, 64)
			sbs.VerticalRate = strconv.Itoa(es.VerticalRateFPM())
		case *adsb.Airspeed:
			sbs.TransmissionType = TransmissionESVelocity
			if es.HeadingValid {
				sbs.Track = strconv.FormatFloat(es.Heading, 'f', 1, 64)
			}
		default:
			return nil, ErrNotSupported
		}

	default:
		return nil, ErrNotSupported
	}

	if sbs.Callsign == "" && w.flights != nil {
		sbs.Callsign = w.flights.Flight(mm.ICAO)
	}

	return sbs, nil
}

func setAltitude(sbs *Message, alt *adsb.Altitude) {
	if alt == nil || !alt.Valid {
		return
	}
	sbs.Altitude = strconv.Itoa(alt.Feet)
}

// setFlightStatus fills the alert, SPI and ground flags from the FS field
func setFlightStatus(sbs *Message, sr *adsb.SurveillanceReply) {
	if sr == nil {
		return
	}
	fs := sr.FlightStatus
	sbs.Alert = flag(fs >= 2 && fs <= 4)
	sbs.SPI = flag(fs == 4 || fs == 5)
	sbs.IsOnGround = flag(fs == 1 || fs == 3)
}

func isEmergency(squawk adsb.Squawk) bool {
	switch squawk {
	case 7500, 7600, 7700:
		return true
	}
	return false
}

// flag renders an SBS boolean, -1 for true
func flag(v bool) string {
	if v {
		return "-1"
	}
	return "0"
}

// Format formats a BaseStation message as CSV
func (msg *Message) Format() string {
	fields := []string{
		msg.MessageType,
		strconv.Itoa(msg.TransmissionType),
		strconv.Itoa(msg.SessionID),
		strconv.Itoa(msg.AircraftID),
		msg.HexIdent,
		strconv.Itoa(msg.FlightID),
		msg.Generated.Format("2006/01/02"),
		msg.Generated.Format("15:04:05.000"),
		msg.Logged.Format("2006/01/02"),
		msg.Logged.Format("15:04:05.000"),
		msg.Callsign,
		msg.Altitude,
		msg.GroundSpeed,
		msg.Track,
		msg.Latitude,
		msg.Longitude,
		msg.VerticalRate,
		msg.Squawk,
		msg.Alert,
		msg.Emergency,
		msg.SPI,
		msg.IsOnGround,
	}

	return strings.Join(fields, ",")
}
