package main

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

type handlerFunc func(payload M)

// Dispatcher routes enriched payloads to subscribers. Event names are
// lowercase; once-subscriptions run before always-subscriptions and are
// dropped after their first firing. A panicking subscriber never takes the
// read loop down with it.
type Dispatcher struct {
	mu     sync.Mutex
	always map[string][]handlerFunc
	once   map[string][]handlerFunc

	commands []*HandlerModule
	supports []*HandlerModule

	log *zap.SugaredLogger
}

func NewDispatcher(log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		always: make(map[string][]handlerFunc),
		once:   make(map[string][]handlerFunc),
		log:    log,
	}
}

// On subscribes fn to every firing of trigger.
func (d *Dispatcher) On(trigger string, fn handlerFunc) {
	trigger = strings.ToLower(trigger)
	d.mu.Lock()
	d.always[trigger] = append(d.always[trigger], fn)
	d.mu.Unlock()
}

// Once subscribes fn to the next firing of trigger only. Once-handlers are
// prepended: they observe the payload before any always-handler mutates it.
func (d *Dispatcher) Once(trigger string, fn handlerFunc) {
	trigger = strings.ToLower(trigger)
	d.mu.Lock()
	d.once[trigger] = append([]handlerFunc{fn}, d.once[trigger]...)
	d.mu.Unlock()
}

// Emit fires trigger with payload. Handler panics are logged and isolated
// per subscriber.
func (d *Dispatcher) Emit(trigger string, payload M) {
	trigger = strings.ToLower(trigger)

	d.mu.Lock()
	onceRun := d.once[trigger]
	delete(d.once, trigger)
	alwaysRun := make([]handlerFunc, len(d.always[trigger]))
	copy(alwaysRun, d.always[trigger])
	d.mu.Unlock()

	for _, fn := range onceRun {
		d.invoke(trigger, fn, payload)
	}
	for _, fn := range alwaysRun {
		d.invoke(trigger, fn, payload)
	}
}

func (d *Dispatcher) invoke(trigger string, fn handlerFunc, payload M) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("handler panicked", "trigger", trigger, "panic", r)
		}
	}()
	fn(payload)
}

// Triggers lists the triggers with at least one live subscription.
func (d *Dispatcher) Triggers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := []string{}
	for name := range d.always {
		names = append(names, name)
	}
	for name := range d.once {
		if !containsString(names, name) {
			names = append(names, name)
		}
	}
	return names
}

func (d *Dispatcher) RegisterCommand(mod *HandlerModule) {
	d.mu.Lock()
	d.commands = append(d.commands, mod)
	d.mu.Unlock()
}

// RegisterSupport adds support content, replacing any module already
// registered under the same filename so hot reloads don't stack duplicates.
func (d *Dispatcher) RegisterSupport(mod *HandlerModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.supports {
		if existing.Filename == mod.Filename {
			d.supports[i] = mod
			return
		}
	}
	d.supports = append(d.supports, mod)
}

func (d *Dispatcher) CommandCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commands)
}

func (d *Dispatcher) SupportCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.supports)
}

// ExecCommand runs every registered command whose name matches the
// interaction's data.name.
func (d *Dispatcher) ExecCommand(data, dispatch M) {
	name := getS(data, "name")
	if name == "" {
		return
	}

	d.mu.Lock()
	pool := make([]*HandlerModule, len(d.commands))
	copy(pool, d.commands)
	d.mu.Unlock()

	for _, mod := range pool {
		if mod.Name != name || mod.Execute == nil {
			continue
		}
		d.invoke(name, func(p M) { mod.Execute(p) }, dispatch)
	}
}

// ExecSupport routes a component or modal interaction by its custom_id. The
// custom_id is dot-delimited: the leading token names the support module and
// the remaining tokens are passed as positional arguments.
func (d *Dispatcher) ExecSupport(data, dispatch M) {
	parts := strings.Split(getS(data, "custom_id"), ".")
	if len(parts) == 0 || parts[0] == "" {
		return
	}
	args := parts[1:]

	d.mu.Lock()
	pool := make([]*HandlerModule, len(d.supports))
	copy(pool, d.supports)
	d.mu.Unlock()

	for _, mod := range pool {
		if mod.Filename != parts[0] || mod.Execute == nil {
			continue
		}
		d.invoke(parts[0], func(p M) { mod.Execute(p, args...) }, dispatch)
	}
}
