// internal/discovery/simulator/device.go
package simulator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"actuator-hub/internal/message"
	"actuator-hub/pkg/driver"
)

// Device is a device living in the simulator. Commands become simulator
// lines sent over the scanner's connection.
type Device struct {
	*driver.Base
	simID      string
	vibrators  uint32
	hasLinear  bool
	hasRotator bool
	writer     *driver.Writer
}

var _ driver.Device = (*Device)(nil)

// endpoint forwards device writes to the scanner connection
type endpoint struct {
	scanner *Scanner
}

func (e endpoint) Write(ctx context.Context, data []byte) error { return e.scanner.write(ctx, data) }
func (e endpoint) Close() error                                 { return nil }

func newDevice(s *Scanner, da *DeviceAdded, logger *zap.Logger) *Device {
	d := &Device{
		Base:       driver.NewBase("simulator:"+da.ID, da.Name, logger),
		simID:      da.ID,
		vibrators:  da.VibratorCount,
		hasLinear:  da.HasLinear,
		hasRotator: da.HasRotator,
		writer:     driver.NewWriter(endpoint{scanner: s}, nil),
	}

	if d.hasLinear {
		d.AddHandler(message.KindFleshlightLaunchFW12Cmd, message.Attributes{}, d.handleFleshlightLaunchFW12Cmd)
		d.AddHandler(message.KindLinearCmd, message.Attributes{FeatureCount: 1}, d.handleLinearCmd)
	}
	if d.vibrators > 0 {
		d.AddHandler(message.KindSingleMotorVibrateCmd, message.Attributes{}, d.handleSingleMotorVibrateCmd)
		d.AddHandler(message.KindVibrateCmd, message.Attributes{FeatureCount: d.vibrators}, d.handleVibrateCmd)
	}
	if d.hasRotator {
		d.AddHandler(message.KindVorzeA10CycloneCmd, message.Attributes{}, d.handleVorzeA10CycloneCmd)
		d.AddHandler(message.KindRotateCmd, message.Attributes{FeatureCount: 1}, d.handleRotateCmd)
	}
	d.AddHandler(message.KindStopDeviceCmd, message.Attributes{}, d.handleStopDeviceCmd)

	d.OnDisconnect(func() { _ = d.writer.Close() })
	return d
}

// SimulatorID returns the id the simulator uses for the device
func (d *Device) SimulatorID() string { return d.simID }

func (d *Device) send(ctx context.Context, key, name string, body any) error {
	line, err := encode(name, body)
	if err != nil {
		return err
	}
	return d.writer.Write(ctx, key, line)
}

func (d *Device) reply(msg message.DeviceMessage, err error) message.Message {
	if err == nil {
		return message.NewOk(msg.ID())
	}
	return message.ErrorFrom(msg.ID(), message.ErrorDevice, fmt.Errorf("%s: %w", d.Name(), err))
}

func (d *Device) vibrate(ctx context.Context, index uint32, speed float64) error {
	return d.send(ctx, driver.ActuatorVibrate.Key(index), "Vibrate", vibrate{ID: d.simID, Index: index, Speed: speed})
}

func (d *Device) handleStopDeviceCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	return d.reply(msg, d.send(ctx, "stop", "StopDevice", stopDevice{ID: d.simID}))
}

func (d *Device) handleSingleMotorVibrateCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.SingleMotorVibrateCmd)
	var errs []error
	for i := uint32(0); i < d.vibrators; i++ {
		errs = append(errs, d.vibrate(ctx, i, cmd.Speed))
	}
	return d.reply(msg, errors.Join(errs...))
}

func (d *Device) handleVibrateCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.VibrateCmd)
	var bad []uint32
	var errs []error
	for _, s := range cmd.Speeds {
		if s.Index >= d.vibrators {
			bad = append(bad, s.Index)
			continue
		}
		errs = append(errs, d.vibrate(ctx, s.Index, s.Speed))
	}
	if len(bad) > 0 {
		return driver.FeatureIndexError(msg.ID(), d.Name(), msg.Kind(), d.vibrators, bad)
	}
	return d.reply(msg, errors.Join(errs...))
}

func (d *Device) handleRotateCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.RotateCmd)
	indices := make([]uint32, len(cmd.Rotations))
	for i, r := range cmd.Rotations {
		indices[i] = r.Index
	}
	if bad := driver.InvalidIndices(1, indices...); len(bad) > 0 {
		return driver.FeatureIndexError(msg.ID(), d.Name(), msg.Kind(), 1, bad)
	}

	r := cmd.Rotations[len(cmd.Rotations)-1]
	return d.reply(msg, d.send(ctx, driver.ActuatorRotate.Key(0), "Rotate",
		rotate{ID: d.simID, Speed: r.Speed, Clockwise: r.Clockwise}))
}

func (d *Device) handleVorzeA10CycloneCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.VorzeA10CycloneCmd)
	return d.reply(msg, d.send(ctx, driver.ActuatorRotate.Key(0), "Rotate",
		rotate{ID: d.simID, Speed: float64(cmd.Speed) / 99, Clockwise: cmd.Clockwise}))
}

func (d *Device) handleLinearCmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.LinearCmd)
	indices := make([]uint32, len(cmd.Vectors))
	for i, v := range cmd.Vectors {
		indices[i] = v.Index
	}
	if bad := driver.InvalidIndices(1, indices...); len(bad) > 0 {
		return driver.FeatureIndexError(msg.ID(), d.Name(), msg.Kind(), 1, bad)
	}

	v := cmd.Vectors[len(cmd.Vectors)-1]
	return d.reply(msg, d.send(ctx, driver.ActuatorLinear.Key(0), "Linear",
		linear{ID: d.simID, Position: v.Position, Duration: v.Duration}))
}

func (d *Device) handleFleshlightLaunchFW12Cmd(ctx context.Context, msg message.DeviceMessage) message.Message {
	cmd := msg.(*message.FleshlightLaunchFW12Cmd)
	return d.reply(msg, d.send(ctx, driver.ActuatorLinear.Key(0), "Linear",
		linear{ID: d.simID, Position: float64(cmd.Position) / 99, Speed: float64(cmd.Speed) / 99}))
}
