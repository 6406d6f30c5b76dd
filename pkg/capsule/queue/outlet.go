package queue

import (
	"context"

	"github.com/randalmurphal/capsule/pkg/capsule/event"
)

// Outlet is a producer's handle on a queue. Events posted through one
// outlet are delivered in the order they were posted.
type Outlet struct {
	q    *Queue
	name string
}

// Name returns the outlet name.
func (o *Outlet) Name() string { return o.name }

// Queue returns the owning queue.
func (o *Outlet) Queue() *Queue { return o.q }

// CreateEvent returns an unposted event stamped with the queue clock.
func (o *Outlet) CreateEvent(t event.Type, opts ...event.Option) *event.Event {
	opts = append([]event.Option{event.WithTime(o.q.clock.Now())}, opts...)
	return event.New(t, opts...)
}

// Post enqueues e.
func (o *Outlet) Post(e *event.Event) error {
	return o.q.Post(e)
}

// Key posts a key press or release. Input.Number carries the key code
// and Input.X the character.
func (o *Outlet) Key(code, char, modifiers int32, down bool) error {
	t := event.TypeKeyUp
	if down {
		t = event.TypeKeyDown
	}
	return o.Post(o.CreateEvent(t, event.WithInput(event.Input{
		Number:    code,
		X:         char,
		Modifiers: modifiers,
	})))
}

// Mouse posts a mouse event. Button 0 is a move; other buttons are a press
// or release.
func (o *Outlet) Mouse(button int32, down bool, x, y, modifiers int32) error {
	t := event.TypeMouseMove
	switch {
	case button != 0 && down:
		t = event.TypeMouseDown
	case button != 0:
		t = event.TypeMouseUp
	}
	return o.Post(o.CreateEvent(t, event.WithInput(event.Input{
		X:         x,
		Y:         y,
		Button:    button,
		Modifiers: modifiers,
	})))
}

// Joystick posts a joystick event for stick number. Button 0 is a move.
func (o *Outlet) Joystick(number, button int32, down bool, x, y, modifiers int32) error {
	t := event.TypeJoystickMove
	switch {
	case button != 0 && down:
		t = event.TypeJoystickDown
	case button != 0:
		t = event.TypeJoystickUp
	}
	return o.Post(o.CreateEvent(t, event.WithInput(event.Input{
		Number:    number,
		X:         x,
		Y:         y,
		Button:    button,
		Modifiers: modifiers,
	})))
}

// Command posts a command event. Unlike a broadcast it can be consumed.
func (o *Outlet) Command(code uint32, info any) error {
	return o.Post(o.CreateEvent(event.TypeCommand, event.WithCommand(code, info)))
}

// Broadcast posts a broadcast event carrying code and info.
func (o *Outlet) Broadcast(code uint32, info any) error {
	return o.Post(o.CreateEvent(event.TypeBroadcast, event.WithCommand(code, info)))
}

// ImmediateBroadcast delivers a broadcast to every listener before
// returning, ignoring trigger masks.
func (o *Outlet) ImmediateBroadcast(ctx context.Context, code uint32, info any) error {
	return o.q.Dispatch(ctx, o.CreateEvent(event.TypeBroadcast, event.WithCommand(code, info)))
}
