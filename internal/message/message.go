// internal/message/message.go
package message

import "sort"

// CurrentVersion is the newest message schema version this server speaks
const CurrentVersion uint32 = 1

// SystemID is the Id carried by messages the server originates on its own
const SystemID uint32 = 0

// Kind identifies a message type. Its value is the name used on the wire.
type Kind string

const (
	KindOk                      Kind = "Ok"
	KindError                   Kind = "Error"
	KindPing                    Kind = "Ping"
	KindTest                    Kind = "Test"
	KindRequestLog              Kind = "RequestLog"
	KindLog                     Kind = "Log"
	KindRequestServerInfo       Kind = "RequestServerInfo"
	KindServerInfo              Kind = "ServerInfo"
	KindStartScanning           Kind = "StartScanning"
	KindStopScanning            Kind = "StopScanning"
	KindScanningFinished        Kind = "ScanningFinished"
	KindRequestDeviceList       Kind = "RequestDeviceList"
	KindDeviceList              Kind = "DeviceList"
	KindDeviceAdded             Kind = "DeviceAdded"
	KindDeviceRemoved           Kind = "DeviceRemoved"
	KindStopAllDevices          Kind = "StopAllDevices"
	KindStopDeviceCmd           Kind = "StopDeviceCmd"
	KindSingleMotorVibrateCmd   Kind = "SingleMotorVibrateCmd"
	KindVibrateCmd              Kind = "VibrateCmd"
	KindRotateCmd               Kind = "RotateCmd"
	KindLinearCmd               Kind = "LinearCmd"
	KindFleshlightLaunchFW12Cmd Kind = "FleshlightLaunchFW12Cmd"
	KindVorzeA10CycloneCmd      Kind = "VorzeA10CycloneCmd"
)

// kindInfo describes how a kind behaves on the wire
type kindInfo struct {
	version  uint32
	outgoing bool
	create   func() Message
}

var kinds = map[Kind]kindInfo{
	KindOk:                      {0, true, func() Message { return &Ok{} }},
	KindError:                   {0, true, func() Message { return &Error{} }},
	KindPing:                    {0, false, func() Message { return &Ping{} }},
	KindTest:                    {0, false, func() Message { return &Test{} }},
	KindRequestLog:              {0, false, func() Message { return &RequestLog{} }},
	KindLog:                     {0, true, func() Message { return &Log{} }},
	KindRequestServerInfo:       {0, false, func() Message { return &RequestServerInfo{} }},
	KindServerInfo:              {0, true, func() Message { return &ServerInfo{} }},
	KindStartScanning:           {0, false, func() Message { return &StartScanning{} }},
	KindStopScanning:            {0, false, func() Message { return &StopScanning{} }},
	KindScanningFinished:        {0, true, func() Message { return &ScanningFinished{} }},
	KindRequestDeviceList:       {0, false, func() Message { return &RequestDeviceList{} }},
	KindDeviceList:              {0, true, func() Message { return &DeviceList{} }},
	KindDeviceAdded:             {0, true, func() Message { return &DeviceAdded{} }},
	KindDeviceRemoved:           {0, true, func() Message { return &DeviceRemoved{} }},
	KindStopAllDevices:          {0, false, func() Message { return &StopAllDevices{} }},
	KindStopDeviceCmd:           {0, false, func() Message { return &StopDeviceCmd{} }},
	KindSingleMotorVibrateCmd:   {0, false, func() Message { return &SingleMotorVibrateCmd{} }},
	KindFleshlightLaunchFW12Cmd: {0, false, func() Message { return &FleshlightLaunchFW12Cmd{} }},
	KindVorzeA10CycloneCmd:      {0, false, func() Message { return &VorzeA10CycloneCmd{} }},
	KindVibrateCmd:              {1, false, func() Message { return &VibrateCmd{} }},
	KindRotateCmd:               {1, false, func() Message { return &RotateCmd{} }},
	KindLinearCmd:               {1, false, func() Message { return &LinearCmd{} }},
}

// Known reports whether k is part of the protocol
func (k Kind) Known() bool {
	_, ok := kinds[k]
	return ok
}

// Version returns the schema version that introduced k
func (k Kind) Version() uint32 {
	return kinds[k].version
}

// Outgoing reports whether k may only travel from server to client
func (k Kind) Outgoing() bool {
	return kinds[k].outgoing
}

func (k Kind) String() string {
	return string(k)
}

// Kinds returns every known kind sorted by name
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New returns an empty message of kind k, or nil if k is unknown
func New(k Kind) Message {
	info, ok := kinds[k]
	if !ok {
		return nil
	}
	return info.create()
}

// Message is implemented by every protocol message
type Message interface {
	Kind() Kind
	ID() uint32
	SetID(id uint32)
}

// DeviceMessage is a message addressed to a single device
type DeviceMessage interface {
	Message
	DeviceIndex() uint32
	SetDeviceIndex(index uint32)
}

// Header carries the message Id. Embed it last so Id is written last.
type Header struct {
	MsgID uint32 `json:"Id"`
}

// ID returns the message Id
func (h *Header) ID() uint32 { return h.MsgID }

// SetID sets the message Id
func (h *Header) SetID(id uint32) { h.MsgID = id }

// Target carries the device index of device-addressed messages
type Target struct {
	Index uint32 `json:"DeviceIndex"`
}

// DeviceIndex returns the addressed device index
func (t *Target) DeviceIndex() uint32 { return t.Index }

// SetDeviceIndex sets the addressed device index
func (t *Target) SetDeviceIndex(index uint32) { t.Index = index }

// Attributes are the capability parameters a device declares per message kind
type Attributes struct {
	FeatureCount uint32 `json:"FeatureCount,omitempty"`
}

// AllowedMessages maps each accepted kind to its attributes
type AllowedMessages map[Kind]Attributes

// Names returns the accepted kinds sorted by name
func (a AllowedMessages) Names() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy that can be handed out without sharing the map
func (a AllowedMessages) Clone() AllowedMessages {
	out := make(AllowedMessages, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
