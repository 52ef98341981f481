package events

// Route maps one raw server event name to its domain and canonical type
type Route struct {
	Raw    string
	Domain Domain
	Type   string
	Kind   Kind
}

// Canonical event types handed to screen callbacks
const (
	TypeUpdate        = "update"
	TypeAdded         = "added"
	TypeCreated       = "created"
	TypeUpdated       = "updated"
	TypeDeleted       = "deleted"
	TypeStatusChanged = "status-changed"
	TypeStats         = "stats"
	TypeRides         = "rides"
	TypeRevenue       = "revenue"
	TypeError         = "error"
)

var routes = []Route{
	{"vehiclesUpdate", Vehicles, TypeUpdate, KindSnapshot},
	{"Vehicles:insert", Vehicles, TypeAdded, KindCreated},
	{"Vehicles:update", Vehicles, TypeUpdated, KindUpdated},
	{"Vehicles:delete", Vehicles, TypeDeleted, KindDeleted},
	{EventVehicleStatusChanged, Vehicles, TypeStatusChanged, KindUpdated},

	{"driversUpdate", Drivers, TypeUpdate, KindSnapshot},
	{"Drivers:insert", Drivers, TypeCreated, KindCreated},
	{"Drivers:update", Drivers, TypeUpdated, KindUpdated},
	{"Drivers:delete", Drivers, TypeDeleted, KindDeleted},
	{"driver:created", Drivers, TypeCreated, KindCreated},
	{"driver:updated", Drivers, TypeUpdated, KindUpdated},
	{"driver:deleted", Drivers, TypeDeleted, KindDeleted},

	{"adminsUpdate", Admins, TypeUpdate, KindSnapshot},
	{"admin:created", Admins, TypeCreated, KindCreated},
	{"Admins:insert", Admins, TypeCreated, KindCreated},
	{"admin:updated", Admins, TypeUpdated, KindUpdated},
	{"Admins:update", Admins, TypeUpdated, KindUpdated},
	{"admin:deleted", Admins, TypeDeleted, KindDeleted},
	{"Admins:delete", Admins, TypeDeleted, KindDeleted},

	{"ridesUpdate", Rides, TypeUpdate, KindSnapshot},
	{"Rides:insert", Rides, TypeCreated, KindCreated},
	{"Rides:update", Rides, TypeUpdated, KindUpdated},
	{"Rides:delete", Rides, TypeDeleted, KindDeleted},

	{"dashboardStats", Dashboard, TypeStats, KindStats},
	{"recentRidesUpdate", Dashboard, TypeRides, KindSnapshot},
	{"revenueDataUpdate", Dashboard, TypeRevenue, KindSnapshot},

	{"invoicesUpdate", Billing, TypeUpdate, KindSnapshot},
	{"invoiceCreated", Billing, TypeCreated, KindCreated},
	{"invoiceUpdated", Billing, TypeUpdated, KindUpdated},
	{"invoiceDeleted", Billing, TypeDeleted, KindDeleted},

	{"reportsUpdate", Reports, TypeUpdate, KindSnapshot},
}

var (
	byRaw    = map[string]Route{}
	byDomain = map[Domain][]Route{}
)

// change events the ingest side publishes for each domain and operation
var changeEvents = map[Domain]map[string]string{
	Vehicles: {
		"insert": "Vehicles:insert",
		"update": "Vehicles:update",
		"delete": "Vehicles:delete",
	},
	Drivers: {
		"insert": "Drivers:insert",
		"update": "Drivers:update",
		"delete": "Drivers:delete",
	},
	Admins: {
		"insert": "Admins:insert",
		"update": "Admins:update",
		"delete": "Admins:delete",
	},
	Rides: {
		"insert": "Rides:insert",
		"update": "Rides:update",
		"delete": "Rides:delete",
	},
	Billing: {
		"insert": "invoiceCreated",
		"update": "invoiceUpdated",
		"delete": "invoiceDeleted",
	},
}

// snapshot events pushed in answer to refresh-data
var snapshotEvents = map[Domain]string{
	Vehicles: "vehiclesUpdate",
	Drivers:  "driversUpdate",
	Admins:   "adminsUpdate",
	Rides:    "ridesUpdate",
	Billing:  "invoicesUpdate",
	Reports:  "reportsUpdate",
}

func init() {
	for _, r := range routes {
		byRaw[r.Raw] = r
		byDomain[r.Domain] = append(byDomain[r.Domain], r)
	}
}

// Lookup returns the route registered for a raw server event name
func Lookup(raw string) (Route, bool) {
	r, ok := byRaw[raw]
	return r, ok
}

// ForDomain returns every route of a domain in registration order
func ForDomain(d Domain) []Route {
	src := byDomain[d]
	res := make([]Route, len(src))
	copy(res, src)
	return res
}

// KindFor returns the union tag a canonical type carries within a domain
func KindFor(d Domain, eventType string) (Kind, bool) {
	if eventType == TypeError {
		return KindError, true
	}
	for _, r := range byDomain[d] {
		if r.Type == eventType {
			return r.Kind, true
		}
	}
	return 0, false
}

// ChangeEvent returns the raw event name announcing a single-document change
func ChangeEvent(d Domain, op string) (string, bool) {
	ops, ok := changeEvents[d]
	if !ok {
		return "", false
	}
	name, ok := ops[normalizeOp(op)]
	return name, ok
}

// SnapshotEvent returns the raw event name carrying a full list for d
func SnapshotEvent(d Domain) (string, bool) {
	name, ok := snapshotEvents[d]
	return name, ok
}

func normalizeOp(op string) string {
	switch op {
	case "insert", "create", "created":
		return "insert"
	case "update", "replace", "updated":
		return "update"
	case "delete", "remove", "deleted":
		return "delete"
	default:
		return op
	}
}
