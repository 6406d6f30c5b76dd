package benchmarks

import (
	"testing"

	"github.com/randalmurphal/capsule/pkg/capsule/event"
)

func createLargeEvent(b *testing.B) *event.Event {
	b.Helper()
	e := event.New(event.TypeCommand, event.WithCommand(event.CommandUser, nil))
	must := func(err error) {
		if err != nil {
			b.Fatal(err)
		}
	}
	must(e.AddInt32("count", 42))
	must(e.AddString("name", "benchmark"))
	must(e.AddBuffer("payload", make([]byte, 512)))
	must(e.AddFloat64("ratio", 0.5))

	nested := event.New(event.TypeKeyDown, event.WithInput(event.Input{Number: 'x'}))
	must(nested.AddString("origin", "keyboard"))
	must(e.AddEvent("cause", nested))
	return e
}

// BenchmarkFlatten measures serializing an event with a nested event.
func BenchmarkFlatten(b *testing.B) {
	e := createLargeEvent(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Flatten()
	}
}

// BenchmarkUnflatten measures decoding the same event.
func BenchmarkUnflatten(b *testing.B) {
	data, err := createLargeEvent(b).Flatten()
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = event.Unflatten(data)
	}
}

// BenchmarkAttributeLookup measures a widening typed read.
func BenchmarkAttributeLookup(b *testing.B) {
	e := createLargeEvent(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Int64("count")
	}
}
