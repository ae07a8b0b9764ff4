package parser

import (
	"fmt"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/transitlive/livemap/pkg/core"
)

const metersPerSecondToKmh = 3.6

// ParseGTFSRealtime decodes a GTFS-Realtime FeedMessage and keeps its
// VehiclePosition entities. A DIFFERENTIAL feed yields a partial snapshot
// whose deleted entities are listed in Removed.
func (p *Parser) ParseGTFSRealtime(data []byte) (core.Snapshot, error) {
	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(data, &fm); err != nil {
		return core.Snapshot{}, fmt.Errorf("decode GTFS-RT feed: %w", err)
	}

	header := fm.GetHeader()
	snap := core.Snapshot{
		ReceivedAt: p.now(),
		Partial:    header.GetIncrementality() == gtfsrtpb.FeedHeader_DIFFERENTIAL,
	}

	for i, entity := range fm.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil {
			continue
		}
		id := vp.GetVehicle().GetId()

		if entity.GetIsDeleted() {
			if id == "" {
				id = entity.GetId()
			}
			snap.Removed = append(snap.Removed, id)
			continue
		}

		pos := vp.GetPosition()
		if pos == nil {
			snap.Rejected = append(snap.Rejected, core.Rejection{Index: i, ID: id, Reason: "vehicle position without coordinates"})
			continue
		}
		coords := core.Position{Lat: float64(pos.GetLatitude()), Lng: float64(pos.GetLongitude())}
		if !coords.Valid() {
			snap.Rejected = append(snap.Rejected, core.Rejection{Index: i, ID: id, Reason: errCoordinates.Error()})
			continue
		}

		route := vp.GetTrip().GetRouteId()
		rec := core.VehicleRecord{
			ID:          id,
			Type:        LineType(route),
			Coordinates: coords,
			RouteID:     route,
			Label:       vp.GetVehicle().GetLabel(),
		}
		if pos.Bearing != nil {
			b := float64(pos.GetBearing())
			rec.Bearing = &b
		}
		if pos.Speed != nil {
			s := float64(pos.GetSpeed()) * metersPerSecondToKmh
			rec.Speed = &s
		}

		ts := vp.GetTimestamp()
		if ts == 0 {
			ts = header.GetTimestamp()
		}
		if ts > 0 {
			rec.LastUpdated = time.Unix(int64(ts), 0).UTC()
		}

		snap.Records = append(snap.Records, rec)
	}

	for _, rej := range snap.Rejected {
		p.logger.Debug("vehicle rejected", "index", rej.Index, "id", rej.ID, "reason", rej.Reason)
	}
	return snap, nil
}
