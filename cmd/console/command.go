package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fleetdash/internal/screen"
	"fleetdash/internal/store"
)

type command struct {
	op     string
	screen string
	id     string
	status string
	fields store.Entity
}

const usage = "r | f | l | s <vehicle> <status> | c <screen> k=v... | " +
	"u <screen> <id> k=v... | d <screen> <id>"

var errBadCommand = errors.New("bad command")

// parseCommand reads one console line:
//
//	r                       reconnect
//	f                       refetch every screen
//	l                       ask the server for the latest vehicles
//	s <vehicle> <status>    change a vehicle's status
//	c <screen> k=v...       create
//	u <screen> <id> k=v...  update
//	d <screen> <id>         delete
func parseCommand(line string) (command, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return command{}, fmt.Errorf("%w: empty line", errBadCommand)
	}
	cmd := command{op: strings.ToLower(args[0])}
	args = args[1:]

	var err error
	switch cmd.op {
	case "r", "f", "l":
		if len(args) != 0 {
			return command{}, badUsage(cmd.op)
		}
	case "s":
		if len(args) != 2 {
			return command{}, badUsage(cmd.op)
		}
		cmd.id, cmd.status = args[0], args[1]
	case "d":
		if len(args) != 2 {
			return command{}, badUsage(cmd.op)
		}
		cmd.screen, cmd.id = strings.ToLower(args[0]), args[1]
	case "u":
		if len(args) < 3 {
			return command{}, badUsage(cmd.op)
		}
		cmd.screen, cmd.id = strings.ToLower(args[0]), args[1]
		cmd.fields, err = parseFields(args[2:])
	case "c":
		if len(args) < 2 {
			return command{}, badUsage(cmd.op)
		}
		cmd.screen = strings.ToLower(args[0])
		cmd.fields, err = parseFields(args[1:])
	default:
		return command{}, fmt.Errorf("%w: unknown %q (%s)", errBadCommand, cmd.op, usage)
	}
	if err != nil {
		return command{}, err
	}
	return cmd, nil
}

func badUsage(op string) error {
	return fmt.Errorf("%w: %s takes different arguments (%s)", errBadCommand, op, usage)
}

// parseFields turns k=v pairs into entity fields. Numbers and booleans
// keep their JSON type
func parseFields(pairs []string) (store.Entity, error) {
	fields := store.Entity{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: field %q is not k=v", errBadCommand, p)
		}
		switch f, err := strconv.ParseFloat(v, 64); {
		case err == nil:
			fields[k] = f
		case v == "true" || v == "false":
			fields[k] = v == "true"
		default:
			fields[k] = v
		}
	}
	return fields, nil
}

type connector interface {
	Connect()
}

// execute runs cmd against the mounted views. Backend failures are toasted
// by the screens; lookup failures come back wrapping errBadCommand
func execute(ctx context.Context, cmd command, conn connector, views []view) error {
	switch cmd.op {
	case "r":
		conn.Connect()
		return nil
	case "f":
		for _, v := range views {
			_ = v.screen.Refresh(ctx)
		}
		return nil
	case "l", "s":
		veh := findVehicles(views)
		if veh == nil {
			return fmt.Errorf("%w: vehicles screen is not mounted", errBadCommand)
		}
		if cmd.op == "l" {
			if !veh.RequestLatest() {
				return fmt.Errorf("%w: push channel is not connected", errBadCommand)
			}
			return nil
		}
		return veh.UpdateStatus(ctx, cmd.id, cmd.status)
	}

	l, err := findList(views, cmd.screen)
	if err != nil {
		return err
	}
	switch cmd.op {
	case "c":
		return l.Create(ctx, cmd.fields)
	case "u":
		return l.Update(ctx, cmd.id, cmd.fields)
	case "d":
		return l.Delete(ctx, cmd.id)
	}
	return fmt.Errorf("%w: unknown %q", errBadCommand, cmd.op)
}

func findVehicles(views []view) *screen.Vehicles {
	for _, v := range views {
		if veh, ok := v.screen.(*screen.Vehicles); ok {
			return veh
		}
	}
	return nil
}

func findList(views []view, name string) (*screen.ListScreen, error) {
	for _, v := range views {
		if v.list != nil && (v.name == name || v.list.Title() == name) {
			return v.list, nil
		}
	}
	return nil, fmt.Errorf("%w: no list screen %q mounted", errBadCommand, name)
}
