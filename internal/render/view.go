// Package render draws the console: connection badge, latest error, one
// table per mounted screen and the most recent toasts
package render

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"fleetdash/internal/channel"
	"fleetdash/internal/events"
	"fleetdash/internal/screen"
	"fleetdash/internal/store"
)

type (
	// ViewModel is everything one frame shows
	ViewModel struct {
		Now     time.Time
		PushURL string
		Status  channel.Status
		Rooms   []channel.Membership
		Session string
		Screens []Section
		Toasts  []screen.Toast
	}

	// Section is one titled table
	Section struct {
		Title   string
		Headers []string
		Rows    [][]string
		Total   int
	}
)

const ruleWidth = 80

// columns shown per domain, the id column first
var columns = map[events.Domain][]string{
	events.Vehicles: {"licensePlate", "model", "type", "status"},
	events.Drivers:  {"name", "email", "phone", "status"},
	events.Admins:   {"name", "email", "role"},
	events.Rides:    {"pickup", "dropoff", "driver", "status", "fare"},
	events.Billing:  {"customer", "amount", "status", "dueDate"},
}

// ListSection turns a list into a table of at most maxRows rows
func ListSection(title string, l *store.List, maxRows int) Section {
	d := l.Domain()
	items := l.Items()
	cols := columns[d]
	if len(cols) == 0 && len(items) > 0 {
		cols = inferColumns(items[0])
	}

	sec := Section{
		Title:   title,
		Headers: append([]string{"ID"}, upper(cols)...),
		Total:   len(items),
	}
	for i, e := range items {
		if maxRows > 0 && i >= maxRows {
			break
		}
		row := []string{e.ID(d)}
		for _, c := range cols {
			row = append(row, e.String(c))
		}
		sec.Rows = append(sec.Rows, row)
	}
	return sec
}

// StatsSection lists the dashboard counters in key order
func StatsSection(title string, stats store.Stats) Section {
	sec := Section{
		Title:   title,
		Headers: []string{"METRIC", "VALUE"},
		Total:   len(stats),
	}
	for _, k := range slices.Sorted(maps.Keys(stats)) {
		sec.Rows = append(sec.Rows, []string{
			k, strconv.FormatFloat(stats[k], 'f', -1, 64),
		})
	}
	return sec
}

// Render formats the frame
func Render(vm ViewModel) string {
	var b bytes.Buffer

	b.WriteString(strings.Repeat("=", ruleWidth) + "\n")
	fmt.Fprintf(&b, "Push: %s   [%s]", vm.PushURL, screen.Badge(vm.Status))
	if vm.Status.ClientID != "" {
		fmt.Fprintf(&b, "   client=%s", vm.Status.ClientID)
	}
	if vm.Status.ReconnectAttempts > 0 {
		fmt.Fprintf(&b, "   attempt=%d", vm.Status.ReconnectAttempts)
	}
	b.WriteString("\n")
	if vm.Session != "" {
		fmt.Fprintf(&b, "Signed in as %s\n", vm.Session)
	}
	if msg := vm.Status.ErrorMessage(); msg != "" {
		fmt.Fprintf(&b, "Error: %s (%s ago)\n", msg, since(vm.Now, vm.Status.Err.At))
	}
	if len(vm.Rooms) > 0 {
		names := make([]string, 0, len(vm.Rooms))
		for _, r := range vm.Rooms {
			n := r.Name
			if r.JoinedAt.IsZero() {
				n += "*"
			}
			names = append(names, n)
		}
		fmt.Fprintf(&b, "Rooms: %s\n", strings.Join(names, " "))
	}
	b.WriteString(strings.Repeat("-", ruleWidth) + "\n")

	for _, s := range vm.Screens {
		if len(s.Rows) == 0 {
			fmt.Fprintf(&b, "[%s] (waiting...)\n", s.Title)
		} else {
			fmt.Fprintf(&b, "[%s] showing %d of %d\n", s.Title, len(s.Rows), s.Total)
			b.WriteString(Table(s.Headers, s.Rows))
		}
		b.WriteString(strings.Repeat("-", ruleWidth) + "\n")
	}

	for _, t := range vm.Toasts {
		fmt.Fprintf(&b, "%s %-7s %s\n", t.At.Format(time.TimeOnly), t.Level, t.Text)
	}
	return b.String()
}

func inferColumns(e store.Entity) []string {
	var cols []string
	for _, k := range slices.Sorted(maps.Keys(e)) {
		if k == "_id" || k == "id" || strings.HasPrefix(k, "__") {
			continue
		}
		cols = append(cols, k)
		if len(cols) == 4 {
			break
		}
	}
	return cols
}

func upper(cols []string) []string {
	res := make([]string, len(cols))
	for i, c := range cols {
		res[i] = strings.ToUpper(c)
	}
	return res
}

func since(now, t time.Time) time.Duration {
	if now.IsZero() {
		now = time.Now()
	}
	return now.Sub(t).Truncate(time.Second)
}
