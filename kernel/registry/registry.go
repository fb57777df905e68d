// Package registry implements the Tool Registry (C1): a name-keyed map of
// immutable tool contracts with secondary indexes by risk class and tag.
// Grounded on the teacher's registry/store/memory store (RWMutex-guarded
// map, ErrNotFound sentinel, tag-index helpers).
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/autonomy-kernel/kernel/types"
)

// ErrNotFound is returned by Get/Unregister for an unknown tool name.
var ErrNotFound = errors.New("registry: tool not found")

// ErrAlreadyRegistered is returned by Register when name is already taken.
var ErrAlreadyRegistered = errors.New("registry: tool already registered")

// entry pairs a contract with its compiled schema so the Validator can
// reuse compilation work done once at registration time.
type entry struct {
	contract types.ToolContract
	schema   *jsonschema.Schema
}

// Registry is the concrete, thread-safe Tool Registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds contract to the registry. It rejects a duplicate name
// unless the tool was explicitly unregistered first, rejects contracts
// that fail their own invariants, and compiles ParamsSchema eagerly so a
// malformed schema is caught here rather than at first call.
func (r *Registry) Register(contract types.ToolContract) error {
	if err := contract.Validate(); err != nil {
		return fmt.Errorf("registry: invalid contract: %w", err)
	}
	schema, err := compileSchema(contract.Name, contract.ParamsSchema)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[contract.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, contract.Name)
	}
	r.tools[contract.Name] = &entry{contract: contract, schema: schema}
	return nil
}

// Get returns the contract registered under name.
func (r *Registry) Get(name string) (types.ToolContract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return types.ToolContract{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.contract, nil
}

// Schema returns the compiled JSON Schema for name, for use by the
// Validator.
func (r *Registry) Schema(name string) (*jsonschema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.schema, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns every registered contract, in no particular order. Used by
// the postcondition-coverage CLI to enumerate contracts needing Verifier
// coverage.
func (r *Registry) List() []types.ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolContract, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.contract)
	}
	return out
}

// GetByRiskClass returns every registered contract with the given risk
// class, in no particular order.
func (r *Registry) GetByRiskClass(rc types.RiskClass) []types.ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.ToolContract
	for _, e := range r.tools {
		if e.contract.RiskClass == rc {
			out = append(out, e.contract)
		}
	}
	return out
}

// GetByTag returns every registered contract carrying tag.
func (r *Registry) GetByTag(tag string) []types.ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.ToolContract
	for _, e := range r.tools {
		for _, t := range e.contract.SideEffects {
			if t == tag {
				out = append(out, e.contract)
				break
			}
		}
		for _, t := range e.contract.Tags {
			if t == tag {
				out = append(out, e.contract)
				break
			}
		}
	}
	return out
}

// Unregister removes name, allowing it to be re-registered afterwards.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.tools, name)
	return nil
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("registry: parse schema for %s: %w", name, err)
	}
	resource := "mem://" + name + "/params.schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("registry: add schema resource for %s: %w", name, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("registry: compile schema for %s: %w", name, err)
	}
	return schema, nil
}
