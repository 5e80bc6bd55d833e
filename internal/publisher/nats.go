// Package publisher fans bus state changes out over NATS.
package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"shuttle-tracker/internal/tracking"
)

type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("shuttle-tracker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected url=%s", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// EventMessage is the JSON body published for every committed bus state
// change.
type EventMessage struct {
	Kind              tracking.EventKind `json:"kind"`
	BusID             string             `json:"busId"`
	StopID            int                `json:"stopId"`
	StopName          string             `json:"stopName"`
	StopIndex         int                `json:"stopIndex"`
	Lat               float64            `json:"lat"`
	Lon               float64            `json:"lon"`
	Status            tracking.Status    `json:"status,omitempty"`
	Source            tracking.Source    `json:"source,omitempty"`
	Accuracy          *float64           `json:"accuracy,omitempty"`
	LastArrivalTime   *time.Time         `json:"lastArrivalTime,omitempty"`
	LastDepartureTime *time.Time         `json:"lastDepartureTime,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

func NewEventMessage(ev tracking.StateEvent) EventMessage {
	return EventMessage{
		Kind:              ev.Kind,
		BusID:             ev.BusID,
		StopID:            ev.Stop.ID,
		StopName:          ev.Stop.Name,
		StopIndex:         ev.State.StopIndex,
		Lat:               ev.State.Lat,
		Lon:               ev.State.Lon,
		Status:            ev.State.Status,
		Source:            ev.State.LocationSource,
		Accuracy:          ev.State.LocationAccuracy,
		LastArrivalTime:   ev.State.LastArrivalTime,
		LastDepartureTime: ev.State.LastDepartureTime,
		Timestamp:         ev.At,
	}
}

// Subject returns the subject events for busID are published on.
func Subject(prefix, busID string) string {
	if prefix == "" {
		return fmt.Sprintf("%s.state", subjectToken(busID))
	}
	return fmt.Sprintf("%s.%s.state", prefix, subjectToken(busID))
}

func (p *NATSPublisher) PublishEvent(ev tracking.StateEvent) error {
	subject := Subject(p.prefix, ev.BusID)
	b, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s kind=%s", subject, ev.Kind)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
