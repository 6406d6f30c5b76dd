package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/capsule/pkg/capsule/class"
	"github.com/randalmurphal/capsule/pkg/capsule/iface"
	"github.com/randalmurphal/capsule/pkg/capsule/journal"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
)

type greeter interface{ Greet() string }

type widget struct {
	*object.Base
}

func (widget) Greet() string { return "hello" }

var widgetTable = object.NewTable(iface.NewRegistry()).
	Implements("bench.iGreeter", iface.V(1, 2, 0), nil)

func newWidget() *widget {
	w := &widget{}
	w.Base = object.New(w, widgetTable)
	return w
}

// BenchmarkQueryInterface measures a versioned interface lookup.
func BenchmarkQueryInterface(b *testing.B) {
	w := newWidget()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g, err := object.Query[greeter](w, "bench.iGreeter", iface.V(1, 0, 0))
		if err != nil {
			b.Fatal(err)
		}
		_ = g.Greet()
		w.Release()
	}
}

// BenchmarkAddRefRelease measures a reference pair.
func BenchmarkAddRefRelease(b *testing.B) {
	w := newWidget()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.AddRef()
		w.Release()
	}
}

// BenchmarkCreateInstance measures creating and releasing a registered class.
func BenchmarkCreateInstance(b *testing.B) {
	r := class.New()
	err := r.RegisterFactoryFunc("bench.widget", func(context.Context) (object.Capability, error) {
		return newWidget(), nil
	})
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := r.CreateInstance(ctx, "bench.widget")
		if err != nil {
			b.Fatal(err)
		}
		c.Release()
	}
}

// BenchmarkMemoryJournal_AppendDelete measures one journal round trip.
func BenchmarkMemoryJournal_AppendDelete(b *testing.B) {
	store := journal.NewMemoryStore()
	data := make([]byte, 256)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		seq := uint64(i)
		_ = store.Append("bench", seq, data)
		_ = store.Delete("bench", seq)
	}
}
