package connections

import (
	"context"
	"testing"
)

func TestDispatcherIdempotentRegistration(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	delivered := 0
	handler := func(ctx context.Context, n Notification) { delivered++ }

	d.AddHandler("alpha", CategoryToolListChanged, handler)
	d.AddHandler("alpha", CategoryToolListChanged, handler)
	if count := d.HandlerCount("alpha", CategoryToolListChanged); count != 1 {
		t.Fatalf("HandlerCount = %d, expected 1 after duplicate registration", count)
	}

	d.Dispatch(context.Background(), Notification{Server: "alpha", Category: CategoryToolListChanged})
	if delivered != 1 {
		t.Fatalf("delivered = %d, expected exactly one delivery", delivered)
	}
}

func TestDispatcherRoutesByServerAndCategory(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var got []string
	d.AddHandler("alpha", CategoryResourceUpdated, func(ctx context.Context, n Notification) {
		got = append(got, "alpha/"+string(n.Category))
	})
	d.AddHandler("beta", CategoryResourceUpdated, func(ctx context.Context, n Notification) {
		got = append(got, "beta/"+string(n.Category))
	})

	d.Dispatch(context.Background(), Notification{Server: "alpha", Category: CategoryResourceUpdated})
	d.Dispatch(context.Background(), Notification{Server: "alpha", Category: CategoryProgress})

	if len(got) != 1 || got[0] != "alpha/resources/updated" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestDispatcherIsolatesPanickingHandler(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	delivered := false
	d.AddHandler("alpha", CategoryProgress, func(ctx context.Context, n Notification) {
		panic("broken listener")
	})
	d.AddHandler("alpha", CategoryProgress, func(ctx context.Context, n Notification) {
		delivered = true
	})

	d.Dispatch(context.Background(), Notification{Server: "alpha", Category: CategoryProgress})
	if !delivered {
		t.Fatalf("panicking handler suppressed delivery to the next handler")
	}
}

func TestDispatcherClearServer(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	d.AddHandler("alpha", CategoryToolListChanged, func(ctx context.Context, n Notification) {})
	d.AddHandler("alpha", CategoryProgress, func(ctx context.Context, n Notification) {})
	d.AddHandler("beta", CategoryProgress, func(ctx context.Context, n Notification) {})

	d.ClearServer("alpha")
	if count := d.HandlerCount("alpha", CategoryToolListChanged); count != 0 {
		t.Fatalf("expected alpha registrations cleared, got %d", count)
	}
	if count := d.HandlerCount("alpha", CategoryProgress); count != 0 {
		t.Fatalf("expected alpha registrations cleared, got %d", count)
	}
	if count := d.HandlerCount("beta", CategoryProgress); count != 1 {
		t.Fatalf("beta registrations should survive, got %d", count)
	}
}
