package facts

import (
	"context"
	"errors"
	"testing"

	"github.com/solatis/tripwire/internal/types"
)

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterFunc("balance.available", func(_ context.Context, params map[string]any) (any, error) {
		if params["account"] == "chk" {
			return 150, nil
		}
		return nil, types.ErrInvalidParams
	})
	if err != nil {
		t.Fatalf("RegisterFunc() error = %v", err)
	}

	got, err := r.Resolve(context.Background(), "balance.available", map[string]any{"account": "chk"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != 150 {
		t.Errorf("Resolve() = %v, want 150", got)
	}

	_, err = r.Resolve(context.Background(), "balance.available", map[string]any{"account": "x"})
	if !errors.Is(err, types.ErrInvalidParams) {
		t.Errorf("Resolve() error = %v, want ErrInvalidParams", err)
	}
}

func TestRegistry_UnknownFact(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(context.Background(), "nope", nil)
	if !errors.Is(err, types.ErrFactNotFound) {
		t.Errorf("Resolve() error = %v, want ErrFactNotFound", err)
	}
}

func TestRegistry_Fallback(t *testing.T) {
	r := NewRegistry()
	local := 0
	_ = r.RegisterFunc("local", func(context.Context, map[string]any) (any, error) {
		local++
		return 1, nil
	})
	fb := NewRegistry()
	_ = fb.RegisterFunc("remote", func(context.Context, map[string]any) (any, error) { return 2, nil })
	r.SetFallback(fb)

	if got, err := r.Resolve(context.Background(), "remote", nil); err != nil || got != 2 {
		t.Errorf("Resolve(remote) = (%v, %v), want (2, nil)", got, err)
	}
	if got, err := r.Resolve(context.Background(), "local", nil); err != nil || got != 1 {
		t.Errorf("Resolve(local) = (%v, %v), want (1, nil)", got, err)
	}
	if local != 1 {
		t.Errorf("local handler calls = %d, want 1", local)
	}
	if _, err := r.Resolve(context.Background(), "missing", nil); !errors.Is(err, types.ErrFactNotFound) {
		t.Errorf("Resolve(missing) error = %v, want ErrFactNotFound", err)
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()
	h := Func(func(context.Context, map[string]any) (any, error) { return 0, nil })

	if err := r.Register("", h); err == nil {
		t.Error("Register(\"\") error = nil, want error")
	}
	if err := r.Register("a", nil); err == nil {
		t.Error("Register(nil handler) error = nil, want error")
	}
	if err := r.Register("a", h); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("a", h); err == nil {
		t.Error("duplicate Register() error = nil, want error")
	}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != "a" {
		t.Errorf("IDs() = %v, want [a]", ids)
	}
}
