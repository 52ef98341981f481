package screen

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"fleetdash/internal/events"
	"fleetdash/internal/store"
)

// Vehicles is the vehicle list screen. It also announces status changes
// and can change a vehicle's status over the push channel
type Vehicles struct {
	*ListScreen
}

func NewVehicles(deps Deps) *Vehicles {
	v := &Vehicles{ListScreen: NewList(events.Vehicles, deps)}
	v.onEvent = v.announce
	return v
}

// UpdateStatus sends the new status over the push channel, falling back
// to the REST backend when the channel is down
func (v *Vehicles) UpdateStatus(ctx context.Context, id, status string) error {
	if v.deps.Channel.Emit(events.EventUpdateVehicleStatus,
		events.VehicleStatus{ID: id, Status: status}) {
		return nil
	}
	return v.Update(ctx, id, store.Entity{"status": status})
}

// RequestLatest asks the server to push the current vehicle list
func (v *Vehicles) RequestLatest() bool {
	return v.deps.Channel.Emit(events.EventGetLatestVehicles, nil)
}

func (v *Vehicles) announce(
	_ events.Kind, eventType string, data json.RawMessage,
) {
	if eventType != events.TypeStatusChanged {
		return
	}
	status := gjson.GetBytes(data, "status").String()
	id := events.EntityID(data, events.Vehicles)
	v.deps.Toasts.Success(
		fmt.Sprintf("Vehicle %s status changed to %s", id, status),
	)
}
