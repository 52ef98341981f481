package main

import (
	"context"
	"fmt"

	"fleetdash/internal/render"
	"fleetdash/internal/screen"
)

// view pairs a mounted screen with how it is drawn. list is set for the
// screens that accept create, update and delete commands
type view struct {
	name     string
	screen   screen.Screen
	list     *screen.ListScreen
	sections func(rows int) []render.Section
}

func mountScreens(
	ctx context.Context, names []string, deps screen.Deps,
	api screen.DashboardAPI,
) ([]view, error) {
	var views []view
	for _, name := range names {
		v, err := newView(name, deps, api)
		if err != nil {
			return nil, err
		}
		// a failed first fetch is already toasted; pushes still arrive
		_ = v.screen.Mount(ctx)
		views = append(views, v)
	}
	return views, nil
}

func newView(
	name string, deps screen.Deps, api screen.DashboardAPI,
) (view, error) {
	list := func(s *screen.ListScreen) view {
		return view{
			name:   name,
			screen: s,
			list:   s,
			sections: func(rows int) []render.Section {
				return []render.Section{render.ListSection(s.Title(), s.List(), rows)}
			},
		}
	}

	switch name {
	case "dashboard":
		d := screen.NewDashboard(api, deps)
		return view{
			name:   name,
			screen: d,
			sections: func(rows int) []render.Section {
				return []render.Section{
					render.StatsSection("dashboard", d.Stats()),
					render.ListSection("recent rides", d.Rides(), rows),
				}
			},
		}, nil
	case "vehicles":
		v := screen.NewVehicles(deps)
		res := list(v.ListScreen)
		res.screen = v
		return res, nil
	case "drivers":
		return list(screen.NewDrivers(deps)), nil
	case "admins":
		return list(screen.NewAdmins(deps)), nil
	case "rides":
		return list(screen.NewRides(deps)), nil
	case "billing", "invoices":
		return list(screen.NewBilling(deps)), nil
	default:
		return view{}, fmt.Errorf("unknown screen %q", name)
	}
}
