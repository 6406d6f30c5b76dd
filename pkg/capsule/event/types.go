package event

// Type classifies an event.
type Type uint8

const (
	TypeNothing Type = iota
	TypeKeyDown
	TypeKeyUp
	TypeMouseMove
	TypeMouseDown
	TypeMouseUp
	TypeMouseDoubleClick
	TypeJoystickMove
	TypeJoystickDown
	TypeJoystickUp
	TypeCommand
	TypeBroadcast
	TypeNetwork
)

var typeNames = [...]string{
	TypeNothing:          "nothing",
	TypeKeyDown:          "key_down",
	TypeKeyUp:            "key_up",
	TypeMouseMove:        "mouse_move",
	TypeMouseDown:        "mouse_down",
	TypeMouseUp:          "mouse_up",
	TypeMouseDoubleClick: "mouse_double_click",
	TypeJoystickMove:     "joystick_move",
	TypeJoystickDown:     "joystick_down",
	TypeJoystickUp:       "joystick_up",
	TypeCommand:          "command",
	TypeBroadcast:        "broadcast",
	TypeNetwork:          "network",
}

// String returns the type name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// Mask is a set of event types. Listeners register with a mask and only
// receive events whose type is in it, broadcasts aside.
type Mask uint32

// MaskOf returns the mask containing only t.
func MaskOf(t Type) Mask {
	return 1 << t
}

const (
	MaskNothing   = Mask(1 << TypeNothing)
	MaskKeyboard  = Mask(1<<TypeKeyDown | 1<<TypeKeyUp)
	MaskMouse     = Mask(1<<TypeMouseMove | 1<<TypeMouseDown | 1<<TypeMouseUp | 1<<TypeMouseDoubleClick)
	MaskJoystick  = Mask(1<<TypeJoystickMove | 1<<TypeJoystickDown | 1<<TypeJoystickUp)
	MaskInput     = MaskKeyboard | MaskMouse | MaskJoystick
	MaskCommand   = Mask(1 << TypeCommand)
	MaskBroadcast = Mask(1 << TypeBroadcast)
	MaskNetwork   = Mask(1 << TypeNetwork)
	MaskAll       = ^Mask(0)
)

// Has reports whether t is in the mask.
func (m Mask) Has(t Type) bool {
	return m&MaskOf(t) != 0
}

// Flags carries per-event flags.
type Flags uint8

// FlagBroadcast marks an event that every listener receives and that no
// listener can consume.
const FlagBroadcast Flags = 0x1

// Ticks is a timestamp in milliseconds on the runtime's monotonic clock.
type Ticks uint32

// Input is the fixed payload of input and command events. Its slots are
// shared by the different event families:
//
//	keyboard: Number=key code, X=character, Modifiers
//	mouse:    X, Y, Button, Modifiers
//	joystick: Number=stick, X, Y, Button, Modifiers
//	command:  Number=command code
type Input struct {
	Number    int32
	X         int32
	Y         int32
	Button    int32
	Modifiers int32
}

// Command codes broadcast by the runtime.
const (
	CommandNothing     uint32 = 0
	CommandSystemOpen  uint32 = 1
	CommandSystemClose uint32 = 2
	CommandQuit        uint32 = 3
	CommandPreProcess  uint32 = 4
	CommandPostProcess uint32 = 5

	// CommandUser is the first code free for applications.
	CommandUser uint32 = 0x100
)
