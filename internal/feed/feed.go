// Package feed exports bus states as a GTFS-Realtime VehiclePositions feed.
package feed

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"shuttle-tracker/internal/fusion"
	"shuttle-tracker/internal/tracking"
)

const gtfsRealtimeVersion = "2.0"

// Build returns a full-dataset feed with one vehicle entity per bus.
func Build(views []fusion.View, now time.Time) *gtfs.FeedMessage {
	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}
	for _, v := range views {
		ts := v.UpdatedAt
		if ts.IsZero() {
			ts = now
		}
		msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
			Id: proto.String(v.BusID),
			Vehicle: &gtfs.VehiclePosition{
				Vehicle: &gtfs.VehicleDescriptor{
					Id:    proto.String(v.BusID),
					Label: proto.String(v.BusID),
				},
				Position: &gtfs.Position{
					Latitude:  proto.Float32(float32(v.Lat)),
					Longitude: proto.Float32(float32(v.Lon)),
				},
				CurrentStopSequence: proto.Uint32(uint32(v.StopIndex)),
				StopId:              proto.String(strconv.Itoa(v.Stop.ID)),
				CurrentStatus:       stopStatus(v.Status).Enum(),
				Timestamp:           proto.Uint64(uint64(ts.Unix())),
			},
		})
	}
	return msg
}

func stopStatus(s tracking.Status) gtfs.VehiclePosition_VehicleStopStatus {
	switch s {
	case tracking.StatusArrived:
		return gtfs.VehiclePosition_STOPPED_AT
	case tracking.StatusDeparting:
		return gtfs.VehiclePosition_IN_TRANSIT_TO
	default:
		return gtfs.VehiclePosition_INCOMING_AT
	}
}

type StateSource interface {
	States(ctx context.Context) ([]fusion.View, error)
}

// Handler serves the feed as protobuf, or as JSON with ?format=json.
func Handler(src StateSource, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := src.States(r.Context())
		if err != nil {
			log.Printf("gtfs-rt feed error: %v", err)
			http.Error(w, "feed unavailable", http.StatusInternalServerError)
			return
		}
		msg := Build(views, now())

		var body []byte
		if r.URL.Query().Get("format") == "json" {
			body, err = protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
			w.Header().Set("Content-Type", "application/json")
		} else {
			body, err = proto.Marshal(msg)
			w.Header().Set("Content-Type", "application/x-protobuf")
		}
		if err != nil {
			log.Printf("gtfs-rt marshal error: %v", err)
			http.Error(w, "feed unavailable", http.StatusInternalServerError)
			return
		}
		w.Write(body)
	}
}
