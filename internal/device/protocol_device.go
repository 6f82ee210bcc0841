// internal/device/protocol_device.go
package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"actuator-hub/internal/message"
	"actuator-hub/pkg/driver"
)

// stopTimeout bounds the stop write issued while disconnecting
const stopTimeout = 2 * time.Second

// ProtocolDevice drives hardware that accepts line commands described by a Profile
type ProtocolDevice struct {
	*driver.Base
	profile *Profile
	writer  *driver.Writer

	mu       sync.Mutex
	position float64
}

var _ driver.Device = (*ProtocolDevice)(nil)

// NewProtocolDevice creates a device for profile talking over endpoint
func NewProtocolDevice(identifier string, profile *Profile, endpoint driver.Endpoint, logger *zap.Logger) *ProtocolDevice {
	var limiter *rate.Limiter
	if profile.WriteRate > 0 {
		burst := int(math.Ceil(profile.WriteRate))
		limiter = rate.NewLimiter(rate.Limit(profile.WriteRate), burst)
	}

	d := &ProtocolDevice{
		Base:    driver.NewBase(identifier, profile.Name, logger),
		profile: profile,
		writer:  driver.NewWriter(endpoint, limiter),
	}

	if profile.Vibrators > 0 {
		d.AddHandler(message.KindSingleMotorVibrateCmd, message.Attributes{}, d.handleSingleMotorVibrateCmd)
		d.AddHandler(message.KindVibrateCmd, message.Attributes{FeatureCount: profile.Vibrators}, d.handleVibrateCmd)
	}
	if profile.Rotators > 0 {
		d.AddHandler(message.KindRotateCmd, message.Attributes{FeatureCount: profile.Rotators}, d.handleRotateCmd)
		d.AddHandler(message.KindVorzeA10CycloneCmd, message.Attributes{}, d.handleVorzeA10CycloneCmd)
	}
	if profile.Linear > 0 {
		d.AddHandler(message.KindLinearCmd, message.Attributes{FeatureCount: profile.Linear}, d.handleLinearCmd)
		d.AddHandler(message.KindFleshlightLaunchFW12Cmd, message.Attributes{}, d.handleFleshlightLaunchFW12Cmd)
	}
	d.AddHandler(message.KindStopDeviceCmd, message.Attributes{}, d.handleStopDeviceCmd)

	d.OnDisconnect(d.release)
	return d
}

// Profile returns the profile the device was built from
func (d *ProtocolDevice) Profile() *Profile { return d.profile }

func (d *ProtocolDevice) write(ctx context.Context, actuator driver.ActuatorType, tmpl string, cmd command) error {
	return d.writer.Write(ctx, actuator.Key(cmd.index), render(tmpl, d.profile.Scale, cmd))
}

// reply turns the outcome of a command into Ok or Error
func (d *ProtocolDevice) reply(msg message.DeviceMessage, err error) message.Message {
	if err == nil {
		return message.NewOk(msg.ID())
	}
	if !errors.Is(err, driver.ErrDeviceRemoved) {
		d.Logger().Error("Device write failed", zap.String("kind", msg.Kind().String()), zap.Error(err))
	}
	return message.ErrorFrom(msg.ID(), message.ErrorDevice, fmt.Errorf("%s: %w", d.Name(), err))
}

func (d *ProtocolDevice) handleStopDeviceCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	return d.reply(msg, d.stop(ctx))
}

func (d *ProtocolDevice) stop(ctx context.Context) error {
	if d.profile.Commands.Stop != "" {
		return d.writer.Write(ctx, "stop", render(d.profile.Commands.Stop, d.profile.Scale, command{}))
	}
	var errs []error
	for i := uint32(0); i < d.profile.Vibrators; i++ {
		errs = append(errs, d.write(ctx, driver.ActuatorVibrate, d.profile.Commands.Vibrate, command{index: i}))
	}
	for i := uint32(0); i < d.profile.Rotators; i++ {
		errs = append(errs, d.write(ctx, driver.ActuatorRotate, d.profile.Commands.Rotate, command{index: i}))
	}
	return errors.Join(errs...)
}

func (d *ProtocolDevice) handleSingleMotorVibrateCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.SingleMotorVibrateCmd)

	var errs []error
	for i := uint32(0); i < d.profile.Vibrators; i++ {
		errs = append(errs, d.write(ctx, driver.ActuatorVibrate, d.profile.Commands.Vibrate,
			command{index: i, speed: cmd.Speed}))
	}
	return d.reply(msg, errors.Join(errs...))
}

// Multi-feature commands apply every in-range entry and report an error
// if any entry named a feature the device lacks.

func (d *ProtocolDevice) handleVibrateCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.VibrateCmd)

	var bad []uint32
	var errs []error
	for _, s := range cmd.Speeds {
		if s.Index >= d.profile.Vibrators {
			bad = append(bad, s.Index)
			continue
		}
		errs = append(errs, d.write(ctx, driver.ActuatorVibrate, d.profile.Commands.Vibrate,
			command{index: s.Index, speed: s.Speed}))
	}
	if len(bad) > 0 {
		return driver.FeatureIndexError(msg.ID(), d.Name(), msg.Kind(), d.profile.Vibrators, bad)
	}
	return d.reply(msg, errors.Join(errs...))
}

func (d *ProtocolDevice) handleRotateCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.RotateCmd)

	var bad []uint32
	var errs []error
	for _, r := range cmd.Rotations {
		if r.Index >= d.profile.Rotators {
			bad = append(bad, r.Index)
			continue
		}
		errs = append(errs, d.write(ctx, driver.ActuatorRotate, d.profile.Commands.Rotate,
			command{index: r.Index, speed: r.Speed, clockwise: r.Clockwise}))
	}
	if len(bad) > 0 {
		return driver.FeatureIndexError(msg.ID(), d.Name(), msg.Kind(), d.profile.Rotators, bad)
	}
	return d.reply(msg, errors.Join(errs...))
}

func (d *ProtocolDevice) handleLinearCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.LinearCmd)

	var bad []uint32
	var errs []error
	for _, v := range cmd.Vectors {
		if v.Index >= d.profile.Linear {
			bad = append(bad, v.Index)
			continue
		}
		errs = append(errs, d.move(ctx, v.Index, v.Position, v.Duration))
	}
	if len(bad) > 0 {
		return driver.FeatureIndexError(msg.ID(), d.Name(), msg.Kind(), d.profile.Linear, bad)
	}
	return d.reply(msg, errors.Join(errs...))
}

func (d *ProtocolDevice) handleFleshlightLaunchFW12Cmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.FleshlightLaunchFW12Cmd)

	target := float64(cmd.Position) / 99
	d.mu.Lock()
	distance := math.Abs(target - d.position)
	d.mu.Unlock()

	return d.reply(msg, d.move(ctx, 0, target, legacyDuration(distance, cmd.Speed)))
}

func (d *ProtocolDevice) handleVorzeA10CycloneCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.VorzeA10CycloneCmd)

	return d.reply(msg, d.write(ctx, driver.ActuatorRotate, d.profile.Commands.Rotate,
		command{index: 0, speed: float64(cmd.Speed) / 99, clockwise: cmd.Clockwise}))
}

func (d *ProtocolDevice) move(ctx context.Context, index uint32, position float64, duration uint32) error {
	err := d.write(ctx, driver.ActuatorLinear, d.profile.Commands.Linear,
		command{index: index, position: position, duration: duration})
	if err == nil && index == 0 {
		d.mu.Lock()
		d.position = position
		d.mu.Unlock()
	}
	return err
}

// release stops the hardware and closes the link
func (d *ProtocolDevice) release() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := d.stop(ctx); err != nil && !errors.Is(err, driver.ErrDeviceRemoved) {
		d.Logger().Warn("Failed to stop device on disconnect", zap.Error(err))
	}
	if err := d.writer.Close(); err != nil {
		d.Logger().Warn("Failed to close device link", zap.Error(err))
	}
}
