// Package host decouples the pipeline from whatever fires it. A Trigger
// accepts handlers; activation, command dispatch and schedules are the
// sources this program ships with.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fatgo/runner"
)

// AnalyzeCommand is the command identifier that starts a firmware analysis
const AnalyzeCommand = "fat.analyzeFirmware"

// ErrUnknownCommand is returned when dispatching a command nobody registered
var ErrUnknownCommand = errors.New("unknown command")

// Handler reacts to a trigger
type Handler func(ctx context.Context) error

// Trigger is the capability a host exposes: register a handler to be
// invoked whenever the trigger fires.
type Trigger interface {
	OnTrigger(h Handler)
}

// handlers is a concurrency-safe handler list shared by the triggers below
type handlers struct {
	mu   sync.RWMutex
	list []Handler
}

func (hs *handlers) add(h Handler) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.list = append(hs.list, h)
}

func (hs *handlers) snapshot() []Handler {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return append([]Handler(nil), hs.list...)
}

// fire invokes every handler in registration order and joins their errors
func (hs *handlers) fire(ctx context.Context) error {
	var errs []error
	for _, h := range hs.snapshot() {
		if err := h(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bind wires a trigger to the orchestrator. The workspace is resolved anew
// on every firing.
func Bind(t Trigger, o *runner.Orchestrator, resolve runner.WorkspaceResolver) {
	t.OnTrigger(func(ctx context.Context) error {
		_, err := o.Execute(ctx, resolve())
		return err
	})
}

// Activation fires once when the host starts
type Activation struct {
	handlers
}

// NewActivation creates an activation trigger
func NewActivation() *Activation {
	return &Activation{}
}

// OnTrigger registers a handler
func (a *Activation) OnTrigger(h Handler) {
	a.add(h)
}

// Start fires every registered handler
func (a *Activation) Start(ctx context.Context) error {
	return a.fire(ctx)
}

// Commands is a registry of named commands, dispatched explicitly
type Commands struct {
	mu       sync.RWMutex
	commands map[string]*command
}

// NewCommands creates an empty command registry
func NewCommands() *Commands {
	return &Commands{commands: make(map[string]*command)}
}

type command struct {
	handlers
}

func (c *command) OnTrigger(h Handler) {
	c.add(h)
}

// Register returns the trigger for a command identifier, creating it on first use
func (c *Commands) Register(id string) Trigger {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd, ok := c.commands[id]
	if !ok {
		cmd = &command{}
		c.commands[id] = cmd
	}
	return cmd
}

// Dispatch invokes the handlers registered for a command
func (c *Commands) Dispatch(ctx context.Context, id string) error {
	c.mu.RLock()
	cmd, ok := c.commands[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	return cmd.fire(ctx)
}
