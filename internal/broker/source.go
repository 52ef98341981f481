package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"fleetdash/internal/events"
	"fleetdash/internal/store"
)

type (
	// Source is the backend the broker reads snapshots from and writes
	// vehicle commands to
	Source interface {
		List(ctx context.Context, d events.Domain) ([]store.Entity, error)
		Update(
			ctx context.Context, d events.Domain, id string, fields store.Entity,
		) (store.Entity, error)
		DashboardStats(ctx context.Context) (store.Stats, error)
		RecentRides(ctx context.Context) ([]store.Entity, error)
	}

	// Publisher fans events out into rooms
	Publisher interface {
		Publish(room, event string, payload any) (int, error)
	}
)

var ErrInvalidCommand = errors.New("invalid command")

// SnapshotRefresher answers refresh-data from src. Models that fail are
// skipped and reported together in the error
func SnapshotRefresher(src Source) RefreshFunc {
	return func(
		ctx context.Context, models []events.Domain,
	) ([]Snapshot, error) {
		var snaps []Snapshot
		var errs []error
		for _, d := range models {
			s, err := snapshotsFor(ctx, src, d)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", d, err))
				continue
			}
			snaps = append(snaps, s...)
		}
		return snaps, errors.Join(errs...)
	}
}

func snapshotsFor(
	ctx context.Context, src Source, d events.Domain,
) ([]Snapshot, error) {
	switch d {
	case events.Dashboard:
		stats, err := src.DashboardStats(ctx)
		if err != nil {
			return nil, err
		}
		rides, err := src.RecentRides(ctx)
		if err != nil {
			return nil, err
		}
		return []Snapshot{
			{Event: "dashboardStats", Data: stats},
			{Event: "recentRidesUpdate", Data: nonNil(rides)},
		}, nil

	case events.Reports:
		return nil, nil
	}

	name, ok := events.SnapshotEvent(d)
	if !ok {
		return nil, nil
	}
	list, err := src.List(ctx, d)
	if err != nil {
		return nil, err
	}
	return []Snapshot{{Event: name, Data: nonNil(list)}}, nil
}

// VehicleCommands handles updateVehicleStatus by writing through src and
// announcing the change in the vehicles room, and getLatestVehicles by
// answering the caller with the current list
func VehicleCommands(src Source, pub Publisher) CommandFunc {
	return func(
		ctx context.Context, c *Client, event string, data json.RawMessage,
	) error {
		switch event {
		case events.EventUpdateVehicleStatus:
			id := gjson.GetBytes(data, "id").String()
			status := gjson.GetBytes(data, "status").String()
			if id == "" || status == "" {
				return fmt.Errorf("%w: %s needs id and status",
					ErrInvalidCommand, event)
			}
			if _, err := src.Update(ctx, events.Vehicles, id,
				store.Entity{"status": status}); err != nil {
				return fmt.Errorf("update vehicle %s: %w", id, err)
			}
			_, err := pub.Publish(events.Vehicles.Room(),
				events.EventVehicleStatusChanged,
				map[string]string{"vehicleId": id, "status": status})
			return err

		case events.EventGetLatestVehicles:
			list, err := src.List(ctx, events.Vehicles)
			if err != nil {
				return fmt.Errorf("list vehicles: %w", err)
			}
			name, _ := events.SnapshotEvent(events.Vehicles)
			c.Send(name, nonNil(list))
			return nil

		default:
			return fmt.Errorf("%w: %s", ErrInvalidCommand, event)
		}
	}
}

func nonNil(list []store.Entity) []store.Entity {
	if list == nil {
		return []store.Entity{}
	}
	return list
}
