package mirror

import (
	"context"
	"errors"
	"testing"
)

type fakeSink struct {
	puts map[string][]byte
	err  error
}

func newFakeSink() *fakeSink { return &fakeSink{puts: make(map[string][]byte)} }

func (f *fakeSink) Put(ctx context.Context, key string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.puts[key] = data
	return nil
}

func TestSetFansOutToAllSinks(t *testing.T) {
	a, b := newFakeSink(), newFakeSink()
	set := NewSet(map[string]Sink{"a": a, "b": b})

	if err := set.Put(context.Background(), "block-1", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if string(a.puts["block-1"]) != "hello" || string(b.puts["block-1"]) != "hello" {
		t.Fatalf("expected both sinks to receive the block: a=%v b=%v", a.puts, b.puts)
	}
}

func TestSetReturnsFirstErrorButStillTriesOthers(t *testing.T) {
	failing := newFakeSink()
	failing.err = errors.New("boom")
	ok := newFakeSink()

	set := NewSet(map[string]Sink{"failing": failing, "ok": ok})
	err := set.Put(context.Background(), "block-1", []byte("hello"))
	if err == nil {
		t.Fatal("expected an error to be returned")
	}
	if string(ok.puts["block-1"]) != "hello" {
		t.Fatal("expected the healthy sink to still receive the block")
	}
}

func TestEmptySetIsNoop(t *testing.T) {
	set := NewSet(nil)
	if err := set.Put(context.Background(), "block-1", []byte("hello")); err != nil {
		t.Fatal(err)
	}
}
