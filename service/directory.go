package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"mobilecontrol/models"
)

// DefaultPollInterval is used when NewDirectory is given a non-positive interval.
const DefaultPollInterval = 3 * time.Second

// ErrDeviceNotFound is returned for ids the directory has never seen.
var ErrDeviceNotFound = errors.New("device not found")

// Enumerator lists the devices of one backend (adb, simctl, usbmuxd).
type Enumerator interface {
	Name() string
	ListDevices(ctx context.Context) ([]models.Device, error)
}

// Broadcaster receives lifecycle and command events. The realtime hub
// implements it and filters per subscription.
type Broadcaster interface {
	Broadcast(event models.Event)
}

type trackedDevice struct {
	device models.Device
	source string // enumerator that last reported it
}

// Directory aggregates enumerators, tracks connect/disconnect deltas and
// notifies watchers. Devices are never removed: a device that stops being
// reported stays as a disconnected tombstone.
type Directory struct {
	enumerators []Enumerator
	interval    time.Duration
	broadcaster Broadcaster

	mu      sync.Mutex
	devices map[string]*trackedDevice
	order   []string

	watchMu     sync.Mutex
	watchers    map[int]func([]models.Device)
	nextWatcher int
	cancelPoll  context.CancelFunc

	// Commits with changes are numbered under mu and delivered in that order.
	commits    uint64
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	delivered  uint64
}

func NewDirectory(broadcaster Broadcaster, interval time.Duration, enumerators ...Enumerator) *Directory {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	d := &Directory{
		enumerators: enumerators,
		interval:    interval,
		broadcaster: broadcaster,
		devices:     make(map[string]*trackedDevice),
		watchers:    make(map[int]func([]models.Device)),
	}
	d.notifyCond = sync.NewCond(&d.notifyMu)
	return d
}

type deviceChange struct {
	device    models.Device
	eventType string
}

// ListDevices enumerates every backend and commits the result. A failing
// enumerator is skipped and the devices it reported before keep their state;
// the error is returned only when every enumerator failed.
func (d *Directory) ListDevices(ctx context.Context) ([]models.Device, error) {
	type batch struct {
		source  string
		devices []models.Device
	}

	var (
		batches []batch
		failed  = make(map[string]bool)
		errs    []error
	)
	for _, e := range d.enumerators {
		devices, err := e.ListDevices(ctx)
		if err != nil {
			log.WithField("enumerator", e.Name()).Warnf("Device enumeration failed: %v", err)
			failed[e.Name()] = true
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		batches = append(batches, batch{source: e.Name(), devices: devices})
	}
	if len(d.enumerators) > 0 && len(batches) == 0 {
		return nil, fmt.Errorf("all device enumerators failed: %w", errors.Join(errs...))
	}

	now := time.Now().Unix()

	// Reading the previous set and committing the new one happen under one lock.
	d.mu.Lock()
	var changes []deviceChange
	seen := make(map[string]bool)
	for _, b := range batches {
		for _, dev := range b.devices {
			if dev.ID == "" || seen[dev.ID] {
				continue
			}
			seen[dev.ID] = true

			dev.Status = models.StatusConnected
			dev.LastSeen = now
			if dev.Name == "" {
				dev.Name = dev.ID
			}

			prev, known := d.devices[dev.ID]
			if !known {
				d.order = append(d.order, dev.ID)
			}
			if !known || prev.device.Status != models.StatusConnected {
				changes = append(changes, deviceChange{device: *dev.Clone(), eventType: models.EventDeviceConnected})
			}
			d.devices[dev.ID] = &trackedDevice{device: *dev.Clone(), source: b.source}
		}
	}
	for _, id := range d.order {
		t := d.devices[id]
		if seen[id] || failed[t.source] || t.device.Status != models.StatusConnected {
			continue
		}
		t.device.Status = models.StatusDisconnected
		changes = append(changes, deviceChange{device: *t.device.Clone(), eventType: models.EventDeviceDisconnected})
	}
	snapshot := d.snapshotLocked()
	var seq uint64
	if len(changes) > 0 {
		seq = d.nextCommitLocked()
	}
	d.mu.Unlock()

	if len(changes) > 0 {
		d.deliver(seq, snapshot, changes)
	}
	return snapshot, nil
}

func (d *Directory) snapshotLocked() []models.Device {
	list := make([]models.Device, 0, len(d.order))
	for _, id := range d.order {
		list = append(list, *d.devices[id].device.Clone())
	}
	return list
}

// Devices returns the last committed list without enumerating.
func (d *Directory) Devices() []models.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Get returns a copy of a tracked device, or nil.
func (d *Directory) Get(id string) *models.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.devices[id]
	if !ok {
		return nil
	}
	return t.device.Clone()
}

// SetStatus changes a tracked device's liveness and fans out like a poll.
func (d *Directory) SetStatus(id string, status models.DeviceStatus) error {
	if status != models.StatusConnected && status != models.StatusDisconnected {
		return fmt.Errorf("invalid device status %q", status)
	}

	d.mu.Lock()
	t, ok := d.devices[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if t.device.Status == status {
		d.mu.Unlock()
		return nil
	}
	t.device.Status = status
	eventType := models.EventDeviceConnected
	if status == models.StatusDisconnected {
		eventType = models.EventDeviceDisconnected
	}
	change := deviceChange{device: *t.device.Clone(), eventType: eventType}
	snapshot := d.snapshotLocked()
	seq := d.nextCommitLocked()
	d.mu.Unlock()

	d.deliver(seq, snapshot, []deviceChange{change})
	return nil
}

func (d *Directory) nextCommitLocked() uint64 {
	d.commits++
	return d.commits
}

// deliver waits for every earlier commit to be delivered, so a stale
// snapshot can never reach watchers after a newer one. d.mu is not held,
// so readers are not blocked by slow watchers.
func (d *Directory) deliver(seq uint64, snapshot []models.Device, changes []deviceChange) {
	d.notifyMu.Lock()
	for d.delivered != seq-1 {
		d.notifyCond.Wait()
	}
	d.notifyMu.Unlock()

	defer func() {
		d.notifyMu.Lock()
		d.delivered = seq
		d.notifyCond.Broadcast()
		d.notifyMu.Unlock()
	}()
	d.notify(snapshot, changes)
}

func (d *Directory) notify(snapshot []models.Device, changes []deviceChange) {
	for _, c := range changes {
		log.WithField("device", c.device.ID).Infof("Device %s (%s)", c.device.Status, c.device.Name)
		if d.broadcaster != nil {
			d.broadcaster.Broadcast(models.Event{
				Type: c.eventType,
				Data: models.DeviceEvent{Device: c.device, Timestamp: models.Now()},
			})
		}
	}

	d.watchMu.Lock()
	callbacks := make([]func([]models.Device), 0, len(d.watchers))
	for _, cb := range d.watchers {
		callbacks = append(callbacks, cb)
	}
	d.watchMu.Unlock()

	for _, cb := range callbacks {
		cb(snapshot)
	}
}

// Watch registers cb for change notifications. The first watcher starts the
// background poller and the last unwatch stops it. The returned func is safe
// to call more than once. cb must not change device status synchronously.
func (d *Directory) Watch(cb func([]models.Device)) (unwatch func()) {
	d.watchMu.Lock()
	id := d.nextWatcher
	d.nextWatcher++
	d.watchers[id] = cb
	if len(d.watchers) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		d.cancelPoll = cancel
		go d.poll(ctx)
		log.WithField("interval", d.interval).Debug("Device polling started")
	}
	d.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.watchMu.Lock()
			defer d.watchMu.Unlock()
			delete(d.watchers, id)
			if len(d.watchers) == 0 && d.cancelPoll != nil {
				d.cancelPoll()
				d.cancelPoll = nil
				log.Debug("Device polling stopped")
			}
		})
	}
}

// Polling reports whether the background poller is running.
func (d *Directory) Polling() bool {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	return d.cancelPoll != nil
}

func (d *Directory) poll(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.ListDevices(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("Device poll failed: %v", err)
			}
		}
	}
}
