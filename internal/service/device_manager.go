// internal/service/device_manager.go
package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/message"
	"actuator-hub/internal/utils"
	"actuator-hub/pkg/driver"
)

// ErrManagerStopped is returned once the manager has shut down
var ErrManagerStopped = errors.New("device manager stopped")

const mailboxSize = 256

// managerEvent is one entry of the manager mailbox
type managerEvent interface{}

type deviceFoundEvent struct {
	device driver.Device
}

type deviceRemovedEvent struct {
	device driver.Device
}

type scannerFinishedEvent struct {
	scanner driver.Scanner
}

// scanStartedEvent re-arms the ScanningFinished notification. It goes
// through the mailbox so it is ordered before the finish events it governs.
type scanStartedEvent struct{}

// scanCheckEvent follows the start calls. Scanners that failed to start
// never report back, so the aggregate is checked once here.
type scanCheckEvent struct{}

type deviceEntry struct {
	device driver.Device
	logger *utils.DeviceLogger
}

// DeviceManager owns every connected device. Scanner and device events are
// applied by a single loop; readers take the table lock.
type DeviceManager struct {
	config *config.DeviceConfig
	logger *utils.ServiceLogger
	events *EventBus

	scannersMu sync.RWMutex
	scanners   []driver.Scanner

	mu           sync.RWMutex
	devices      map[uint32]*deviceEntry
	byIdentifier map[string]uint32

	nextIndex atomic.Uint32

	// sentFinished is only touched by the loop
	sentFinished bool

	mailbox  chan managerEvent
	done     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewDeviceManager creates a manager publishing its notifications on events
func NewDeviceManager(cfg *config.DeviceConfig, events *EventBus, logger *zap.Logger) *DeviceManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceManager{
		config:       cfg,
		logger:       utils.NewServiceLogger(logger, "device-manager"),
		events:       events,
		devices:      make(map[uint32]*deviceEntry),
		byIdentifier: make(map[string]uint32),
		sentFinished: true,
		mailbox:      make(chan managerEvent, mailboxSize),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
}

// AddScanner registers a scanner and subscribes to its events
func (dm *DeviceManager) AddScanner(s driver.Scanner) {
	dm.scannersMu.Lock()
	dm.scanners = append(dm.scanners, s)
	dm.scannersMu.Unlock()

	s.Subscribe(dm)
	dm.logger.Info("Scanner registered", zap.String("scanner", s.Name()))
}

// Scanners returns the registered scanner names
func (dm *DeviceManager) Scanners() []string {
	dm.scannersMu.RLock()
	defer dm.scannersMu.RUnlock()

	names := make([]string, len(dm.scanners))
	for i, s := range dm.scanners {
		names[i] = s.Name()
	}
	return names
}

func (dm *DeviceManager) scannerList() []driver.Scanner {
	dm.scannersMu.RLock()
	defer dm.scannersMu.RUnlock()
	return append([]driver.Scanner(nil), dm.scanners...)
}

// DeviceFound implements driver.ScannerEvents
func (dm *DeviceManager) DeviceFound(d driver.Device) {
	if d == nil {
		return
	}
	if !dm.post(deviceFoundEvent{device: d}) {
		d.Disconnect()
	}
}

// ScanningFinished implements driver.ScannerEvents
func (dm *DeviceManager) ScanningFinished(s driver.Scanner) {
	dm.post(scannerFinishedEvent{scanner: s})
}

func (dm *DeviceManager) post(ev managerEvent) bool {
	select {
	case <-dm.done:
		return false
	default:
	}
	select {
	case dm.mailbox <- ev:
		return true
	case <-dm.done:
		return false
	}
}

// Run applies mailbox events until ctx is done or Shutdown is called.
// Only the first call runs the loop.
func (dm *DeviceManager) Run(ctx context.Context) {
	if !dm.started.CompareAndSwap(false, true) {
		return
	}
	defer close(dm.loopDone)
	select {
	case <-dm.done:
		return
	default:
	}

	dm.running.Store(true)
	defer dm.running.Store(false)

	dm.logger.Info("Device manager loop started")
	for {
		select {
		case ev := <-dm.mailbox:
			dm.apply(ev)
		case <-ctx.Done():
			dm.logger.Info("Device manager loop stopped", zap.Error(ctx.Err()))
			return
		case <-dm.done:
			dm.logger.Info("Device manager loop stopped")
			return
		}
	}
}

// Running reports whether the event loop is active
func (dm *DeviceManager) Running() bool {
	return dm.running.Load()
}

func (dm *DeviceManager) apply(ev managerEvent) {
	switch e := ev.(type) {
	case deviceFoundEvent:
		dm.addDevice(e.device)
	case deviceRemovedEvent:
		dm.removeDevice(e.device)
	case scannerFinishedEvent:
		dm.checkFinished(e.scanner.Name())
	case scanStartedEvent:
		dm.sentFinished = false
	case scanCheckEvent:
		dm.checkFinished("")
	}
}

func (dm *DeviceManager) addDevice(d driver.Device) {
	select {
	case <-d.Removed():
		dm.logger.Debug("Ignoring device removed before registration",
			zap.String("device_identifier", d.Identifier()))
		return
	default:
	}

	dm.mu.Lock()
	if idx, ok := dm.byIdentifier[d.Identifier()]; ok {
		registered := dm.devices[idx].device
		dm.mu.Unlock()
		dm.logger.Debug("Already have device, dropping duplicate",
			zap.String("device_identifier", d.Identifier()),
			zap.String("device_name", d.Name()),
			zap.Uint32("device_index", idx),
		)
		if registered != d {
			d.Disconnect()
		}
		return
	}

	index := dm.nextIndex.Add(1)
	d.SetIndex(index)
	entry := &deviceEntry{
		device: d,
		logger: utils.NewDeviceLogger(dm.logger.Logger, d.Identifier(), d.Name(), index),
	}
	dm.devices[index] = entry
	dm.byIdentifier[d.Identifier()] = index
	added := &message.DeviceAdded{
		DeviceMessageInfo: message.DeviceMessageInfo{
			DeviceName:     d.Name(),
			DeviceIndex:    index,
			DeviceMessages: d.AllowedMessages(),
		},
	}
	dm.mu.Unlock()

	entry.logger.LogLifecycle("added")
	dm.watchRemoval(d)
	dm.events.Publish(added)
}

func (dm *DeviceManager) watchRemoval(d driver.Device) {
	dm.wg.Add(1)
	go func() {
		defer dm.wg.Done()
		select {
		case <-d.Removed():
			dm.post(deviceRemovedEvent{device: d})
		case <-dm.done:
		}
	}()
}

func (dm *DeviceManager) removeDevice(d driver.Device) {
	dm.mu.Lock()
	index, ok := dm.byIdentifier[d.Identifier()]
	if !ok || dm.devices[index].device != d {
		dm.mu.Unlock()
		dm.logger.Debug("Removal for device not in table",
			zap.String("device_identifier", d.Identifier()))
		return
	}
	entry := dm.devices[index]
	delete(dm.devices, index)
	delete(dm.byIdentifier, d.Identifier())
	dm.mu.Unlock()

	entry.logger.LogLifecycle("removed")
	dm.events.Publish(&message.DeviceRemoved{DeviceIndex: index})
}

func (dm *DeviceManager) checkFinished(scanner string) {
	if dm.sentFinished {
		return
	}
	for _, s := range dm.scannerList() {
		if s.IsScanning() {
			if scanner != "" {
				dm.logger.Debug("Scanner finished, others still scanning",
					zap.String("scanner", scanner))
			}
			return
		}
	}
	dm.sentFinished = true
	dm.logger.Info("All scanners finished")
	dm.events.Publish(&message.ScanningFinished{})
}

// StartScanning starts every registered scanner
func (dm *DeviceManager) StartScanning(ctx context.Context) error {
	if !dm.post(scanStartedEvent{}) {
		return ErrManagerStopped
	}
	for _, s := range dm.scannerList() {
		if err := s.StartScanning(ctx); err != nil {
			dm.logger.Warn("Scanner failed to start",
				zap.String("scanner", s.Name()),
				zap.Error(err),
			)
		}
	}
	dm.post(scanCheckEvent{})
	return nil
}

// StopScanning stops every registered scanner
func (dm *DeviceManager) StopScanning() {
	for _, s := range dm.scannerList() {
		if err := s.StopScanning(); err != nil {
			dm.logger.Warn("Scanner failed to stop",
				zap.String("scanner", s.Name()),
				zap.Error(err),
			)
		}
	}
}

// DeviceList returns a snapshot of the table sorted by index
func (dm *DeviceManager) DeviceList() []message.DeviceMessageInfo {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	out := make([]message.DeviceMessageInfo, 0, len(dm.devices))
	for index, e := range dm.devices {
		out = append(out, message.DeviceMessageInfo{
			DeviceName:     e.device.Name(),
			DeviceIndex:    index,
			DeviceMessages: e.device.AllowedMessages(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceIndex < out[j].DeviceIndex })
	return out
}

// DeviceCount returns the number of connected devices
func (dm *DeviceManager) DeviceCount() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return len(dm.devices)
}

func (dm *DeviceManager) lookup(index uint32) (*deviceEntry, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	e, ok := dm.devices[index]
	return e, ok
}

// SendMessage handles the manager level requests and routes device
// commands by DeviceIndex. Every outcome is a protocol message.
func (dm *DeviceManager) SendMessage(ctx context.Context, msg message.Message) message.Message {
	id := msg.ID()
	switch m := msg.(type) {
	case *message.StartScanning:
		if err := dm.StartScanning(ctx); err != nil {
			return message.ErrorFrom(id, message.ErrorUnknown, err)
		}
		return message.NewOk(id)

	case *message.StopScanning:
		dm.StopScanning()
		return message.NewOk(id)

	case *message.StopAllDevices:
		return dm.StopAllDevices(ctx, id)

	case *message.RequestDeviceList:
		return message.NewDeviceList(id, dm.DeviceList())

	case message.DeviceMessage:
		return dm.route(ctx, m)
	}

	dm.logger.Warn("Unhandled message", zap.String("kind", msg.Kind().String()))
	return message.NewError(id, message.ErrorMsg, "Message type %s unhandled by this server.", msg.Kind())
}

func (dm *DeviceManager) route(ctx context.Context, msg message.DeviceMessage) message.Message {
	entry, ok := dm.lookup(msg.DeviceIndex())
	if !ok {
		dm.logger.Warn("Dropping message for unknown device index",
			zap.Uint32("device_index", msg.DeviceIndex()),
			zap.String("kind", msg.Kind().String()),
		)
		return message.NewError(msg.ID(), message.ErrorDevice,
			"Dropping message for unknown device index %d", msg.DeviceIndex())
	}
	return dm.dispatch(ctx, entry, msg)
}

func (dm *DeviceManager) dispatch(ctx context.Context, entry *deviceEntry, msg message.DeviceMessage) message.Message {
	if dm.config != nil && dm.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dm.config.CommandTimeout)
		defer cancel()
	}

	start := time.Now()
	reply := entry.device.ParseMessage(ctx, msg)
	if reply == nil {
		reply = message.NewError(msg.ID(), message.ErrorDevice, "%s returned no reply", entry.device.Name())
	}

	errMsg := ""
	if e, ok := reply.(*message.Error); ok {
		errMsg = e.ErrorMessage
	}
	entry.logger.LogCommand(msg.Kind().String(), msg.ID(), time.Since(start), errMsg)
	return reply
}

// StopAllDevices sends StopDeviceCmd to every device. Failures are joined
// into a single Error.
func (dm *DeviceManager) StopAllDevices(ctx context.Context, id uint32) message.Message {
	dm.mu.RLock()
	entries := make([]*deviceEntry, 0, len(dm.devices))
	for _, e := range dm.devices {
		entries = append(entries, e)
	}
	dm.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].device.Index() < entries[j].device.Index() })

	var sb strings.Builder
	for _, e := range entries {
		reply := dm.dispatch(ctx, e, message.NewStopDeviceCmd(id, e.device.Index()))
		if failed, ok := reply.(*message.Error); ok {
			dm.logger.Warn("Device failed to stop",
				zap.Uint32("device_index", e.device.Index()),
				zap.String("error", failed.ErrorMessage),
			)
			sb.WriteString(failed.ErrorMessage)
			sb.WriteString("; ")
		}
	}

	if sb.Len() > 0 {
		return message.NewError(id, message.ErrorDevice, "%s", sb.String())
	}
	return message.NewOk(id)
}

// Shutdown stops scanning, ends the loop and disconnects every device
func (dm *DeviceManager) Shutdown(ctx context.Context) error {
	dm.StopScanning()

	dm.stopOnce.Do(func() { close(dm.done) })

	// the loop may be inside apply; the table is final once it has left
	if dm.started.Load() {
		select {
		case <-dm.loopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	dm.mu.Lock()
	entries := make([]*deviceEntry, 0, len(dm.devices))
	for _, e := range dm.devices {
		entries = append(entries, e)
	}
	dm.devices = make(map[uint32]*deviceEntry)
	dm.byIdentifier = make(map[string]uint32)
	dm.mu.Unlock()

	pending := dm.drainFound()

	finished := make(chan struct{})
	go func() {
		for _, e := range entries {
			e.device.Disconnect()
			e.logger.LogLifecycle("shutdown")
		}
		for _, d := range pending {
			d.Disconnect()
		}
		for _, s := range dm.scannerList() {
			if c, ok := s.(io.Closer); ok {
				if err := c.Close(); err != nil {
					dm.logger.Warn("Failed to close scanner", zap.String("scanner", s.Name()), zap.Error(err))
				}
			}
		}
		dm.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		dm.logger.Info("Device manager shut down", zap.Int("devices", len(entries)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainFound empties the mailbox and returns the devices found but never
// registered
func (dm *DeviceManager) drainFound() []driver.Device {
	var found []driver.Device
	for {
		select {
		case ev := <-dm.mailbox:
			if e, ok := ev.(deviceFoundEvent); ok {
				found = append(found, e.device)
			}
		default:
			return found
		}
	}
}
