package events

import (
	"encoding/json"
	"strings"
)

type (
	// Domain tags the business entity category an event belongs to
	Domain string

	// Kind is the tag of the InboundEvent union
	Kind int

	// InboundEvent is a validated push-channel event attributed to exactly
	// one domain
	InboundEvent struct {
		Raw    string
		Domain Domain
		Type   string
		Kind   Kind
		Data   json.RawMessage
	}
)

const (
	Vehicles  Domain = "vehicles"
	Drivers   Domain = "drivers"
	Admins    Domain = "admins"
	Rides     Domain = "rides"
	Billing   Domain = "billing"
	Dashboard Domain = "dashboard"
	Reports   Domain = "reports"
)

const (
	KindCreated Kind = iota
	KindUpdated
	KindDeleted
	KindSnapshot
	KindStats
	KindError
)

// Outbound and lifecycle event names of the push channel
const (
	EventConnect              = "connect"
	EventClientConnected      = "client-connected"
	EventJoinRoom             = "join-room"
	EventLeaveRoom            = "leave-room"
	EventHeartbeat            = "client-heartbeat"
	EventRefreshData          = "refresh-data"
	EventUpdateVehicleStatus  = "updateVehicleStatus"
	EventGetLatestVehicles    = "getLatestVehicles"
	EventDirectDBChange       = "directDbChange"
	EventError                = "error"
	EventVehicleStatusChanged = "vehicleStatusChanged"
)

type (
	// Greeting is sent by the server as the first frame of a connection
	Greeting struct {
		ClientID string `json:"clientId"`
	}

	ClientConnected struct {
		Page      string `json:"page"`
		Timestamp int64  `json:"timestamp"`
	}

	Heartbeat struct {
		Timestamp int64  `json:"timestamp"`
		ClientID  string `json:"clientId"`
	}

	RefreshRequest struct {
		Models []Domain `json:"models"`
	}

	VehicleStatus struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	DBChange struct {
		Collection    string `json:"collection"`
		OperationType string `json:"operationType,omitempty"`
	}

	ErrorNotice struct {
		Message string `json:"message"`
	}
)

// DefaultRefreshModels are re-requested after every reconnect
var DefaultRefreshModels = []Domain{Vehicles, Drivers, Rides, Admins}

var allDomains = []Domain{
	Vehicles, Drivers, Admins, Rides, Billing, Dashboard, Reports,
}

var rooms = map[Domain]string{
	Vehicles:  "vehicles",
	Drivers:   "drivers",
	Admins:    "admin-management",
	Rides:     "rides",
	Billing:   "billing",
	Dashboard: "dashboard",
	Reports:   "reports",
}

var collections = map[string]Domain{
	"vehicles": Vehicles,
	"vehicle":  Vehicles,
	"drivers":  Drivers,
	"driver":   Drivers,
	"admins":   Admins,
	"admin":    Admins,
	"rides":    Rides,
	"ride":     Rides,
	"trips":    Rides,
	"invoices": Billing,
	"invoice":  Billing,
	"billing":  Billing,
	"reports":  Reports,
}

var idKeys = map[Domain]string{
	Vehicles: "vehicleId",
	Drivers:  "driverId",
	Admins:   "adminId",
	Rides:    "rideId",
	Billing:  "invoiceId",
	Reports:  "reportId",
}

// Domains returns every known domain tag
func Domains() []Domain {
	res := make([]Domain, len(allDomains))
	copy(res, allDomains)
	return res
}

// Valid reports whether d is a known domain tag
func (d Domain) Valid() bool {
	_, ok := rooms[d]
	return ok
}

// Room returns the room a screen joins to receive events for the domain
func (d Domain) Room() string {
	return rooms[d]
}

// IDKeys returns the payload keys that may carry an entity id, in order of
// preference
func (d Domain) IDKeys() []string {
	keys := []string{"_id", "id"}
	if k, ok := idKeys[d]; ok {
		keys = append(keys, k)
	}
	return keys
}

// DomainForCollection maps a backend collection name to its domain
func DomainForCollection(name string) (Domain, bool) {
	d, ok := collections[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindUpdated:
		return "updated"
	case KindDeleted:
		return "deleted"
	case KindSnapshot:
		return "snapshot"
	case KindStats:
		return "stats"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}
