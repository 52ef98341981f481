package rest

import (
	"context"
	"fmt"
	"net/http"

	"fleetdash/internal/events"
	"fleetdash/internal/store"
)

type resource struct {
	list   string
	create string
	update string
	remove string
}

var resources = map[events.Domain]resource{
	events.Admins: {
		list:   "/admins",
		create: "/admins",
		update: "/admins/",
		remove: "/admins/",
	},
	events.Drivers: {
		list:   "/driver",
		create: "/driver/add",
		update: "/driver/edit/",
	},
	events.Vehicles: {
		list:   "/vehicles",
		create: "/vehicles",
		update: "/vehicles/",
		remove: "/vehicles/",
	},
	events.Billing: {
		list: "/invoices",
	},
	events.Rides: {
		list: "/dashboard/recent-rides",
	},
}

const (
	routeStats       = "/dashboard/stats"
	routeRecentRides = "/dashboard/recent-rides"
	routeRevenue     = "/dashboard/revenue-data"
	routeSendOTP     = "/auth/send-otp"
	routeVerifyOTP   = "/auth/verify-otp"
)

// Supports reports whether the backend has a list endpoint for d
func Supports(d events.Domain) bool {
	r, ok := resources[d]
	return ok && r.list != ""
}

// List fetches every entity of the domain
func (c *Client) List(ctx context.Context, d events.Domain) ([]store.Entity, error) {
	r := resources[d]
	if r.list == "" {
		return nil, fmt.Errorf("%w: list %s", ErrUnsupported, d)
	}
	return c.getList(ctx, r.list)
}

// Create posts a new entity and returns the stored version
func (c *Client) Create(
	ctx context.Context, d events.Domain, e store.Entity,
) (store.Entity, error) {
	r := resources[d]
	if r.create == "" {
		return nil, fmt.Errorf("%w: create %s", ErrUnsupported, d)
	}
	b, err := c.do(ctx, http.MethodPost, r.create, e)
	if err != nil {
		return nil, err
	}
	return entityOr(b, e), nil
}

// Update sends changed fields of one entity
func (c *Client) Update(
	ctx context.Context, d events.Domain, id string, fields store.Entity,
) (store.Entity, error) {
	r := resources[d]
	if r.update == "" {
		return nil, fmt.Errorf("%w: update %s", ErrUnsupported, d)
	}
	b, err := c.do(ctx, http.MethodPut, r.update+escape(id), fields)
	if err != nil {
		return nil, err
	}
	return entityOr(b, fields), nil
}

func (c *Client) Delete(ctx context.Context, d events.Domain, id string) error {
	r := resources[d]
	if r.remove == "" {
		return fmt.Errorf("%w: delete %s", ErrUnsupported, d)
	}
	_, err := c.do(ctx, http.MethodDelete, r.remove+escape(id), nil)
	return err
}

// DashboardStats fetches the dashboard counters
func (c *Client) DashboardStats(ctx context.Context) (store.Stats, error) {
	b, err := c.do(ctx, http.MethodGet, routeStats, nil)
	if err != nil {
		return nil, err
	}
	return store.DecodeStats(b)
}

func (c *Client) RecentRides(ctx context.Context) ([]store.Entity, error) {
	return c.getList(ctx, routeRecentRides)
}

func (c *Client) RevenueData(ctx context.Context) ([]store.Entity, error) {
	return c.getList(ctx, routeRevenue)
}

func (c *Client) getList(ctx context.Context, path string) ([]store.Entity, error) {
	b, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return store.DecodeList(b)
}

func entityOr(b []byte, fallback store.Entity) store.Entity {
	if e, err := store.DecodeEntity(b); err == nil {
		return e
	}
	return fallback
}
