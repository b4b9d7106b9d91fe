package connections

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
)

// Category identifies a class of server-pushed notification.
type Category string

const (
	CategoryToolListChanged     Category = "tools/list_changed"
	CategoryPromptListChanged   Category = "prompts/list_changed"
	CategoryResourceListChanged Category = "resources/list_changed"
	CategoryResourceUpdated     Category = "resources/updated"
	CategoryProgress            Category = "progress"
)

// Notification carries one server-pushed event to handlers. Payload holds the
// SDK request associated with the notification for handlers that need the
// full params.
type Notification struct {
	Server   string
	Category Category
	Payload  any
}

// Handler receives dispatched notifications. Handlers run synchronously with
// the delivering connection's read loop and must not block indefinitely.
type Handler func(context.Context, Notification)

type handlerEntry struct {
	id uintptr
	fn Handler
}

// Dispatcher fans notifications out to handlers registered per (server,
// category) pair. One Dispatcher is constructed per Registry; there is no
// process-wide state, so independent registries can coexist in one process.
type Dispatcher struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	handlers map[string]map[Category][]handlerEntry
}

// NewDispatcher constructs an empty dispatcher. A nil logger falls back to
// slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[string]map[Category][]handlerEntry),
	}
}

// AddHandler registers handler for notifications from server in the given
// category. Registering the same function twice is a no-op, so duplicate
// registration never causes duplicate delivery.
func (d *Dispatcher) AddHandler(server string, category Category, handler Handler) {
	if handler == nil {
		return
	}
	id := reflect.ValueOf(handler).Pointer()
	d.mu.Lock()
	defer d.mu.Unlock()
	byCategory, ok := d.handlers[server]
	if !ok {
		byCategory = make(map[Category][]handlerEntry)
		d.handlers[server] = byCategory
	}
	for _, entry := range byCategory[category] {
		if entry.id == id {
			return
		}
	}
	byCategory[category] = append(byCategory[category], handlerEntry{id: id, fn: handler})
}

// Dispatch delivers n to every handler registered for its server and
// category. A panicking handler is recovered and logged so it cannot
// suppress delivery to the remaining handlers.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	d.mu.RLock()
	var entries []handlerEntry
	if byCategory, ok := d.handlers[n.Server]; ok {
		entries = append(entries, byCategory[n.Category]...)
	}
	d.mu.RUnlock()

	for _, entry := range entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("notification handler panicked",
						"server", n.Server, "category", string(n.Category), "panic", r)
				}
			}()
			entry.fn(ctx, n)
		}()
	}
}

// ClearServer removes every registration for the named server. The registry
// calls this as part of disconnection.
func (d *Dispatcher) ClearServer(server string) {
	d.mu.Lock()
	delete(d.handlers, server)
	d.mu.Unlock()
}

// HandlerCount reports how many handlers are registered for the pair. It
// exists so teardown behavior is observable.
func (d *Dispatcher) HandlerCount(server string, category Category) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if byCategory, ok := d.handlers[server]; ok {
		return len(byCategory[category])
	}
	return 0
}
