package flow

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v4"
)

// Factory returns a fresh Logic. Checkpointed state is decoded into the
// value it returns.
type Factory func() Logic

// AsyncOperation is an operation a flow awaits outside of its fiber, such as
// notarisation. It must be safe to run more than once for the same payload.
type AsyncOperation func(ctx context.Context, payload []byte) ([]byte, error)

// Registry maps logic names to factories, initiating flow names to their
// responders, and operation names to AsyncOperations. It is built once when a
// node starts and then only read.
type Registry struct {
	sync.RWMutex

	factories  map[string]Factory
	names      map[reflect.Type]string
	responders map[string]string
	operations map[string]AsyncOperation
}

// NewRegistry ...
func NewRegistry() *Registry {
	return &Registry{
		factories:  make(map[string]Factory),
		names:      make(map[reflect.Type]string),
		responders: make(map[string]string),
		operations: make(map[string]AsyncOperation),
	}
}

// Register adds a logic under a name. The name is what checkpoints and
// session init messages refer to, so it must not change between releases.
func (r *Registry) Register(name string, factory Factory) error {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("flow %s already registered", name)
	}

	t := reflect.TypeOf(factory())
	if other, ok := r.names[t]; ok {
		return fmt.Errorf("type %s already registered as %s", t, other)
	}

	r.factories[name] = factory
	r.names[t] = name

	return nil
}

// RegisterResponder registers the logic started when a counterparty opens a
// session from the flow named initiator.
func (r *Registry) RegisterResponder(initiator, name string, factory Factory) error {
	if err := r.Register(name, factory); err != nil {
		return err
	}

	r.Lock()
	defer r.Unlock()

	r.responders[initiator] = name

	return nil
}

// RegisterOperation registers an AsyncOperation.
func (r *Registry) RegisterOperation(name string, op AsyncOperation) {
	r.Lock()
	defer r.Unlock()
	r.operations[name] = op
}

// Responder returns the name of the responder to initiator.
func (r *Registry) Responder(initiator string) (string, bool) {
	r.RLock()
	defer r.RUnlock()
	name, ok := r.responders[initiator]
	return name, ok
}

// Operation returns the AsyncOperation registered under name.
func (r *Registry) Operation(name string) (AsyncOperation, bool) {
	r.RLock()
	defer r.RUnlock()
	op, ok := r.operations[name]
	return op, ok
}

// NameOf returns the name a logic is registered under.
func (r *Registry) NameOf(l Logic) (string, error) {
	r.RLock()
	defer r.RUnlock()
	name, ok := r.names[reflect.TypeOf(l)]
	if !ok {
		return "", fmt.Errorf("flow type %T not registered", l)
	}
	return name, nil
}

// Encode turns a logic into a Frame.
func (r *Registry) Encode(l Logic) (Frame, error) {
	name, err := r.NameOf(l)
	if err != nil {
		return Frame{}, err
	}
	data, err := msgpack.Marshal(l)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding flow %s: %w", name, err)
	}
	return Frame{Name: name, State: data}, nil
}

// Decode rebuilds the logic of a Frame from its factory.
func (r *Registry) Decode(f Frame) (Logic, error) {
	r.RLock()
	factory, ok := r.factories[f.Name]
	r.RUnlock()
	if !ok {
		return nil, fmt.Errorf("flow %s not registered", f.Name)
	}
	l := factory()
	if len(f.State) > 0 {
		if err := msgpack.Unmarshal(f.State, l); err != nil {
			return nil, fmt.Errorf("decoding flow %s: %w", f.Name, err)
		}
	}
	return l, nil
}
