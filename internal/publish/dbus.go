package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

const (
	dbusServiceName = "nl.zuidwest.LevelWatch"
	dbusObjectPath  = "/nl/zuidwest/LevelWatch"
	dbusInterface   = "nl.zuidwest.LevelWatch"
)

// ErrNameTaken is returned when another process owns the bus name.
var ErrNameTaken = errors.New("d-bus name already taken")

// DBus emits level and alert signals on the session or system bus.
type DBus struct {
	conn *dbus.Conn

	mu   sync.RWMutex
	last types.LevelReport
}

// dbusObject is the exported object; only its methods are callable over the bus.
type dbusObject struct {
	d *DBus
}

// State returns the alert state, level and ambient floor of the last tick.
func (o dbusObject) State() (alert bool, level, ambient float64, derr *dbus.Error) {
	r := o.d.Last()
	return r.State.IsAlert(), r.LevelDBFS, r.AmbientDBFS, nil
}

// NewDBus connects to the named bus ("session" or "system") and exports the service.
func NewDBus(bus string) (*DBus, error) {
	var conn *dbus.Conn
	var err error
	switch bus {
	case "system":
		conn, err = dbus.ConnectSystemBus()
	default:
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s bus: %w", bus, err)
	}

	d := &DBus{conn: conn}
	if err := d.export(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	slog.Info("d-bus service started", "name", dbusServiceName, "bus", bus)
	return d, nil
}

func (d *DBus) export() error {
	reply, err := d.conn.RequestName(dbusServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return ErrNameTaken
	}

	if err := d.conn.Export(dbusObject{d: d}, dbusObjectPath, dbusInterface); err != nil {
		return fmt.Errorf("export object: %w", err)
	}

	node := &introspect.Node{
		Name: dbusObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: dbusInterface,
				Methods: []introspect.Method{{
					Name: "State",
					Args: []introspect.Arg{
						{Name: "alert", Type: "b", Direction: "out"},
						{Name: "level", Type: "d", Direction: "out"},
						{Name: "ambient", Type: "d", Direction: "out"},
					},
				}},
				Signals: []introspect.Signal{
					{
						Name: "Level",
						Args: []introspect.Arg{
							{Name: "alert", Type: "b"},
							{Name: "level", Type: "d"},
							{Name: "ambient", Type: "d"},
						},
					},
					{
						Name: "Alert",
						Args: []introspect.Arg{
							{Name: "active", Type: "b"},
							{Name: "level", Type: "d"},
							{Name: "id", Type: "s"},
						},
					},
				},
			},
		},
	}
	if err := d.conn.Export(introspect.NewIntrospectable(node), dbusObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspectable: %w", err)
	}
	return nil
}

// Last returns the most recently published report.
func (d *DBus) Last() types.LevelReport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// PublishLevel stores the report and emits the Level signal.
func (d *DBus) PublishLevel(_ context.Context, r *types.LevelReport) error {
	d.mu.Lock()
	d.last = *r
	d.mu.Unlock()
	return d.emit("Level", r.State.IsAlert(), r.LevelDBFS, r.AmbientDBFS)
}

// PublishTransition emits the Alert signal.
func (d *DBus) PublishTransition(_ context.Context, t *types.Transition) error {
	return d.emit("Alert", t.To.IsAlert(), t.LevelDBFS, t.ID)
}

func (d *DBus) emit(name string, args ...any) error {
	if d.conn == nil {
		return nil
	}
	if err := d.conn.Emit(dbusObjectPath, dbusInterface+"."+name, args...); err != nil {
		return fmt.Errorf("emit %s: %w", name, err)
	}
	return nil
}

// Close releases the bus connection.
func (d *DBus) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
