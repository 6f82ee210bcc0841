package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeSingleMessage(t *testing.T) {
	p := NewParser(nil)

	out, err := p.Serialize(CurrentVersion, &Test{TestString: "ThisIsATest"})
	require.NoError(t, err)
	assert.Equal(t, `[{"Test":{"TestString":"ThisIsATest","Id":0}}]`, string(out))
}

func TestSerializeBatch(t *testing.T) {
	p := NewParser(nil)

	out, err := p.Serialize(CurrentVersion,
		&Test{TestString: "a", Header: Header{1}},
		NewOk(2),
		NewError(3, ErrorDevice, "boom"),
	)
	require.NoError(t, err)
	assert.Equal(t,
		`[{"Test":{"TestString":"a","Id":1}},{"Ok":{"Id":2}},{"Error":{"ErrorMessage":"boom","ErrorCode":4,"Id":3}}]`,
		string(out))
}

func TestSerializeDeviceCommandFieldOrder(t *testing.T) {
	p := NewParser(nil)

	cmd := &VibrateCmd{
		Speeds: []VibrateSubcommand{{Index: 0, Speed: 0.5}},
		Target: Target{2},
		Header: Header{7},
	}
	out, err := p.Serialize(CurrentVersion, cmd)
	require.NoError(t, err)
	assert.Equal(t, `[{"VibrateCmd":{"Speeds":[{"Index":0,"Speed":0.5}],"DeviceIndex":2,"Id":7}}]`, string(out))
}

func testDeviceList() *DeviceList {
	return NewDeviceList(3, []DeviceMessageInfo{
		{
			DeviceName:     "testDev0",
			DeviceIndex:    0,
			DeviceMessages: AllowedMessages{KindVibrateCmd: {FeatureCount: 2}},
		},
		{
			DeviceName:     "testDev5",
			DeviceIndex:    5,
			DeviceMessages: AllowedMessages{KindLinearCmd: {FeatureCount: 1}},
		},
	})
}

func TestSerializeDowngrade(t *testing.T) {
	p := NewParser(nil)

	tests := []struct {
		name    string
		version uint32
		want    string
	}{
		{
			name:    "current schema keeps attributes",
			version: 1,
			want:    `[{"DeviceList":{"Devices":[{"DeviceName":"testDev0","DeviceIndex":0,"DeviceMessages":{"VibrateCmd":{"FeatureCount":2}}},{"DeviceName":"testDev5","DeviceIndex":5,"DeviceMessages":{"LinearCmd":{"FeatureCount":1}}}],"Id":3}}]`,
		},
		{
			name:    "schema zero lists names",
			version: 0,
			want:    `[{"DeviceList":{"Devices":[{"DeviceName":"testDev0","DeviceIndex":0,"DeviceMessages":["VibrateCmd"]},{"DeviceName":"testDev5","DeviceIndex":5,"DeviceMessages":["LinearCmd"]}],"Id":3}}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Serialize(tt.version, testDeviceList())
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestSerializeDowngradeDeviceAdded(t *testing.T) {
	p := NewParser(nil)
	added := &DeviceAdded{DeviceMessageInfo: DeviceMessageInfo{
		DeviceName:  "dev",
		DeviceIndex: 1,
		DeviceMessages: AllowedMessages{
			KindVibrateCmd:    {FeatureCount: 2},
			KindStopDeviceCmd: {},
		},
	}}

	v1, err := p.Serialize(1, added)
	require.NoError(t, err)
	assert.Equal(t,
		`[{"DeviceAdded":{"DeviceName":"dev","DeviceIndex":1,"DeviceMessages":{"StopDeviceCmd":{},"VibrateCmd":{"FeatureCount":2}},"Id":0}}]`,
		string(v1))

	v0, err := p.Serialize(0, added)
	require.NoError(t, err)
	assert.Equal(t,
		`[{"DeviceAdded":{"DeviceName":"dev","DeviceIndex":1,"DeviceMessages":["StopDeviceCmd","VibrateCmd"],"Id":0}}]`,
		string(v0))
}

func TestSerializeIsDeterministic(t *testing.T) {
	p := NewParser(nil)

	first, err := p.Serialize(1, testDeviceList())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := p.Serialize(1, testDeviceList())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSerializeRejectsKindNewerThanVersion(t *testing.T) {
	p := NewParser(nil)

	_, err := p.Serialize(0, &LinearCmd{Vectors: []VectorSubcommand{{Position: 1}}})
	require.Error(t, err)
	assert.True(t, IsVersionError(err))
}

func TestSerializeDoesNotEscapeHTML(t *testing.T) {
	p := NewParser(nil)

	out, err := p.Serialize(1, &Test{TestString: "<a&b>"})
	require.NoError(t, err)
	assert.Equal(t, `[{"Test":{"TestString":"<a&b>","Id":0}}]`, string(out))
}

func TestDeserializeCorrectMessage(t *testing.T) {
	p := NewParser(nil)

	msgs := p.Deserialize([]byte(`[{"Test":{"TestString":"Test","Id":0}}]`))
	require.Len(t, msgs, 1)
	test, ok := msgs[0].(*Test)
	require.True(t, ok)
	assert.Equal(t, "Test", test.TestString)
	assert.Equal(t, uint32(0), test.ID())
}

func TestDeserializeBadMessages(t *testing.T) {
	p := NewParser(nil)

	inputs := []string{
		"not a json message",
		"{}",
		"[]",
		"null",
		`[{"NotAMessage":{}}]`,
		`[{"Test":[]}]`,
		`[{"Test":{}}]`,
		`[{"Test":null}]`,
		`[{"Test":{"TestString":"Error","Id":0}}]`,
		`[{"Test":{"TestString":"Test","NotAField":"NotAValue","Id":0}}]`,
		`[{"Test":{"TestString":"Test"}}]`,
		`[{"Test":{"TestString":"Test","Id":-1}}]`,
		`[{"Test":{"TestString":"Test","Id":1},"Ok":{"Id":2}}]`,
		`["Test"]`,
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			msgs := p.Deserialize([]byte(in))
			require.Len(t, msgs, 1)
			class, ok := IsError(msgs[0])
			require.True(t, ok, "expected an Error for %s", in)
			assert.Equal(t, ErrorMsg, class)
		})
	}
}

func TestDeserializeKeepsIdOfMalformedElement(t *testing.T) {
	p := NewParser(nil)

	msgs := p.Deserialize([]byte(`[{"VibrateCmd":{"Speeds":[{"Index":0,"Speed":1.5}],"DeviceIndex":1,"Id":12}}]`))
	require.Len(t, msgs, 1)
	e, ok := msgs[0].(*Error)
	require.True(t, ok)
	assert.Equal(t, uint32(12), e.ID())
	assert.Equal(t, ErrorMsg, e.ErrorCode)
}

func TestDeserializeMixedBatch(t *testing.T) {
	p := NewParser(nil)

	msgs := p.Deserialize([]byte(`[
		{"Ping":{"Id":1}},
		{"Bogus":{"Id":2}},
		{"StopDeviceCmd":{"DeviceIndex":4,"Id":3}}
	]`))
	require.Len(t, msgs, 3)

	assert.Equal(t, KindPing, msgs[0].Kind())
	assert.Equal(t, KindError, msgs[1].Kind())

	stop, ok := msgs[2].(*StopDeviceCmd)
	require.True(t, ok)
	assert.Equal(t, uint32(4), stop.DeviceIndex())
	assert.Equal(t, uint32(3), stop.ID())
}

func TestDeserializeOptionalFields(t *testing.T) {
	p := NewParser(nil)

	msgs := p.Deserialize([]byte(`[{"RequestServerInfo":{"ClientName":"c","Id":1}}]`))
	require.Len(t, msgs, 1)
	rsi, ok := msgs[0].(*RequestServerInfo)
	require.True(t, ok)
	assert.Equal(t, uint32(0), rsi.MessageVersion)
}

func TestRoundTripCurrentVersion(t *testing.T) {
	p := NewParser(nil)

	in := []Message{
		&RotateCmd{Rotations: []RotateSubcommand{{Index: 1, Speed: 0.25, Clockwise: true}}, Target: Target{3}, Header: Header{5}},
		&LinearCmd{Vectors: []VectorSubcommand{{Index: 0, Duration: 500, Position: 0.75}}, Target: Target{3}, Header: Header{6}},
		&FleshlightLaunchFW12Cmd{Speed: 50, Position: 99, Target: Target{1}, Header: Header{7}},
		&VorzeA10CycloneCmd{Speed: 10, Clockwise: true, Target: Target{2}, Header: Header{8}},
		&RequestLog{LogLevel: LogLevelDebug, Header: Header{9}},
		testDeviceList(),
	}

	data, err := p.Serialize(CurrentVersion, in...)
	require.NoError(t, err)

	out := p.Deserialize(data)
	assert.Equal(t, in, out)
}

func TestRoundTripSchemaZeroIsLossy(t *testing.T) {
	p := NewParser(nil)

	data, err := p.Serialize(0, testDeviceList())
	require.NoError(t, err)

	// v0 device lists cannot be read back as the current shape
	out := p.Deserialize(data)
	require.Len(t, out, 1)
	class, ok := IsError(out[0])
	require.True(t, ok)
	assert.Equal(t, ErrorMsg, class)
}

func TestDeserializeRejectsIncompleteSubcommands(t *testing.T) {
	p := NewParser(nil)

	cases := []struct {
		name    string
		in      string
		missing string
	}{
		{"vibrate without speed", `[{"VibrateCmd":{"Speeds":[{"Index":0}],"DeviceIndex":1,"Id":2}}]`, "Speeds[0].Speed"},
		{"vibrate without index", `[{"VibrateCmd":{"Speeds":[{"Speed":0.5}],"DeviceIndex":1,"Id":2}}]`, "Speeds[0].Index"},
		{"second vibrate element", `[{"VibrateCmd":{"Speeds":[{"Index":0,"Speed":0.5},{"Index":1}],"DeviceIndex":1,"Id":2}}]`, "Speeds[1].Speed"},
		{"rotate without direction", `[{"RotateCmd":{"Rotations":[{"Index":0,"Speed":0.5}],"DeviceIndex":1,"Id":2}}]`, "Rotations[0].Clockwise"},
		{"linear without duration", `[{"LinearCmd":{"Vectors":[{"Index":0,"Position":0.5}],"DeviceIndex":1,"Id":2}}]`, "Vectors[0].Duration"},
		{"linear without position", `[{"LinearCmd":{"Vectors":[{"Index":0,"Duration":300}],"DeviceIndex":1,"Id":2}}]`, "Vectors[0].Position"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgs := p.Deserialize([]byte(tc.in))
			require.Len(t, msgs, 1)
			e, ok := msgs[0].(*Error)
			require.True(t, ok, "expected an Error, got %#v", msgs[0])
			assert.Equal(t, ErrorMsg, e.ErrorCode)
			assert.Equal(t, uint32(2), e.ID())
			assert.Contains(t, e.ErrorMessage, tc.missing)
		})
	}
}

func TestDeserializeAcceptsCompleteSubcommands(t *testing.T) {
	p := NewParser(nil)

	msgs := p.Deserialize([]byte(`[{"LinearCmd":{"Vectors":[{"Index":0,"Duration":300,"Position":0.5}],"DeviceIndex":1,"Id":2}}]`))
	require.Len(t, msgs, 1)
	linear, ok := msgs[0].(*LinearCmd)
	require.True(t, ok, "got %#v", msgs[0])
	assert.Equal(t, []VectorSubcommand{{Index: 0, Duration: 300, Position: 0.5}}, linear.Vectors)
}

func TestDeserializeUnknownKindKeepsId(t *testing.T) {
	p := NewParser(nil)

	cases := map[string]uint32{
		`[{"NotAMessage":{"Id":7}}]`:                         7,
		`[{"NotAMessage":{}}]`:                               SystemID,
		`[{"Test":{"TestString":"a","Id":4},"Ok":{"Id":4}}]`: 4,
		`[{"Test":{"TestString":"a","Id":4},"Ok":{"Id":5}}]`: SystemID,
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			msgs := p.Deserialize([]byte(in))
			require.Len(t, msgs, 1)
			e, ok := msgs[0].(*Error)
			require.True(t, ok)
			assert.Equal(t, ErrorMsg, e.ErrorCode)
			assert.Equal(t, want, e.ID())
		})
	}
}
