// internal/message/types.go
package message

// Fields are serialized in declaration order. Every field without
// omitempty must be present when a message is decoded.

// Ok acknowledges a request that has no other reply
type Ok struct {
	Header
}

func (*Ok) Kind() Kind { return KindOk }

// NewOk returns an Ok answering request id
func NewOk(id uint32) *Ok {
	return &Ok{Header{id}}
}

// Ping keeps a session alive when the server enforces MaxPingTime
type Ping struct {
	Header
}

func (*Ping) Kind() Kind { return KindPing }

// Test is echoed back to the sender
type Test struct {
	TestString string `json:"TestString" validate:"excludes=Error"`
	Header
}

func (*Test) Kind() Kind { return KindTest }

// Log levels accepted by RequestLog
const (
	LogLevelOff   = "Off"
	LogLevelFatal = "Fatal"
	LogLevelError = "Error"
	LogLevelWarn  = "Warn"
	LogLevelInfo  = "Info"
	LogLevelDebug = "Debug"
	LogLevelTrace = "Trace"
)

// RequestLog asks the server to stream its log output at LogLevel or above
type RequestLog struct {
	LogLevel string `json:"LogLevel" validate:"oneof=Off Fatal Error Warn Info Debug Trace"`
	Header
}

func (*RequestLog) Kind() Kind { return KindRequestLog }

// Log carries one streamed server log line
type Log struct {
	LogLevel   string `json:"LogLevel"`
	LogMessage string `json:"LogMessage"`
	Header
}

func (*Log) Kind() Kind { return KindLog }

// RequestServerInfo is the handshake a client must send first
type RequestServerInfo struct {
	ClientName     string `json:"ClientName"`
	MessageVersion uint32 `json:"MessageVersion,omitempty"`
	Header
}

func (*RequestServerInfo) Kind() Kind { return KindRequestServerInfo }

// ServerInfo answers the handshake
type ServerInfo struct {
	ServerName     string `json:"ServerName"`
	MessageVersion uint32 `json:"MessageVersion"`
	MajorVersion   uint32 `json:"MajorVersion"`
	MinorVersion   uint32 `json:"MinorVersion"`
	BuildVersion   uint32 `json:"BuildVersion"`
	MaxPingTime    uint32 `json:"MaxPingTime"`
	Header
}

func (*ServerInfo) Kind() Kind { return KindServerInfo }

type StartScanning struct {
	Header
}

func (*StartScanning) Kind() Kind { return KindStartScanning }

type StopScanning struct {
	Header
}

func (*StopScanning) Kind() Kind { return KindStopScanning }

// ScanningFinished is sent once every scanner has stopped
type ScanningFinished struct {
	Header
}

func (*ScanningFinished) Kind() Kind { return KindScanningFinished }

type RequestDeviceList struct {
	Header
}

func (*RequestDeviceList) Kind() Kind { return KindRequestDeviceList }

// DeviceMessageInfo describes one connected device
type DeviceMessageInfo struct {
	DeviceName     string          `json:"DeviceName"`
	DeviceIndex    uint32          `json:"DeviceIndex"`
	DeviceMessages AllowedMessages `json:"DeviceMessages"`
}

// DeviceList answers RequestDeviceList
type DeviceList struct {
	Devices []DeviceMessageInfo `json:"Devices"`
	Header
}

func (*DeviceList) Kind() Kind { return KindDeviceList }

// NewDeviceList returns a DeviceList that never serializes Devices as null
func NewDeviceList(id uint32, devices []DeviceMessageInfo) *DeviceList {
	if devices == nil {
		devices = []DeviceMessageInfo{}
	}
	return &DeviceList{Devices: devices, Header: Header{id}}
}

// DeviceAdded announces a newly registered device
type DeviceAdded struct {
	DeviceMessageInfo
	Header
}

func (*DeviceAdded) Kind() Kind { return KindDeviceAdded }

// DeviceRemoved announces that a device index is no longer valid
type DeviceRemoved struct {
	DeviceIndex uint32 `json:"DeviceIndex"`
	Header
}

func (*DeviceRemoved) Kind() Kind { return KindDeviceRemoved }

type StopAllDevices struct {
	Header
}

func (*StopAllDevices) Kind() Kind { return KindStopAllDevices }

// StopDeviceCmd halts every actuator of one device
type StopDeviceCmd struct {
	Target
	Header
}

func (*StopDeviceCmd) Kind() Kind { return KindStopDeviceCmd }

// NewStopDeviceCmd returns a StopDeviceCmd for index with request id
func NewStopDeviceCmd(id, index uint32) *StopDeviceCmd {
	return &StopDeviceCmd{Target{index}, Header{id}}
}

// SingleMotorVibrateCmd sets every vibrator of a device to the same speed
type SingleMotorVibrateCmd struct {
	Speed float64 `json:"Speed" validate:"gte=0,lte=1"`
	Target
	Header
}

func (*SingleMotorVibrateCmd) Kind() Kind { return KindSingleMotorVibrateCmd }

// VibrateSubcommand addresses one vibrator
type VibrateSubcommand struct {
	Index uint32  `json:"Index"`
	Speed float64 `json:"Speed" validate:"gte=0,lte=1"`
}

// VibrateCmd sets individual vibrator speeds
type VibrateCmd struct {
	Speeds []VibrateSubcommand `json:"Speeds" validate:"min=1,dive"`
	Target
	Header
}

func (*VibrateCmd) Kind() Kind { return KindVibrateCmd }

// RotateSubcommand addresses one rotator
type RotateSubcommand struct {
	Index     uint32  `json:"Index"`
	Speed     float64 `json:"Speed" validate:"gte=0,lte=1"`
	Clockwise bool    `json:"Clockwise"`
}

// RotateCmd sets individual rotator speeds and directions
type RotateCmd struct {
	Rotations []RotateSubcommand `json:"Rotations" validate:"min=1,dive"`
	Target
	Header
}

func (*RotateCmd) Kind() Kind { return KindRotateCmd }

// VectorSubcommand moves one linear actuator to Position over Duration ms
type VectorSubcommand struct {
	Index    uint32  `json:"Index"`
	Duration uint32  `json:"Duration"`
	Position float64 `json:"Position" validate:"gte=0,lte=1"`
}

// LinearCmd moves individual linear actuators
type LinearCmd struct {
	Vectors []VectorSubcommand `json:"Vectors" validate:"min=1,dive"`
	Target
	Header
}

func (*LinearCmd) Kind() Kind { return KindLinearCmd }

// FleshlightLaunchFW12Cmd is the legacy linear command with 0-99 ranges
type FleshlightLaunchFW12Cmd struct {
	Speed    uint32 `json:"Speed" validate:"lte=99"`
	Position uint32 `json:"Position" validate:"lte=99"`
	Target
	Header
}

func (*FleshlightLaunchFW12Cmd) Kind() Kind { return KindFleshlightLaunchFW12Cmd }

// VorzeA10CycloneCmd is the legacy rotation command with a 0-99 speed
type VorzeA10CycloneCmd struct {
	Speed     uint32 `json:"Speed" validate:"lte=99"`
	Clockwise bool   `json:"Clockwise"`
	Target
	Header
}

func (*VorzeA10CycloneCmd) Kind() Kind { return KindVorzeA10CycloneCmd }
