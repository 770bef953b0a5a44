package engine

import "fmt"

// RegisterModel appends a named (model, optimizer, scheduler) unit to the
// registry. Registering on an engine whose storage has not been initialized
// (a zero-value Engine instead of one from New) is a programmer error. The
// first registered unit becomes the main unit: never frozen and the sole
// source of externally returned metrics. When auxiliary freezing is enabled,
// every later unit is recorded as freeze-eligible; that set is fixed for the
// engine's lifetime.
func (e *Engine) RegisterModel(name string, model Model, optim Optimizer, sched Scheduler, kind SchedulerKind) error {
	if e.units == nil {
		return ErrNotInitialized
	}
	if _, exists := e.units[name]; exists {
		return fmt.Errorf("engine: model %q already registered", name)
	}

	e.units[name] = &ModelUnit{
		Name:      name,
		Model:     model,
		Optim:     optim,
		Sched:     sched,
		SchedKind: kind,
	}
	e.names = append(e.names, name)

	if len(e.names) == 1 {
		e.mainName = name
	} else if e.freezeAux {
		e.freezeNames = append(e.freezeNames, name)
	}
	return nil
}

// RegisterAll registers parallel model/optimizer/scheduler collections under
// generated names model_0..model_n. Mismatched lengths are a configuration
// error.
func (e *Engine) RegisterAll(models []Model, optims []Optimizer, scheds []Scheduler, kinds []SchedulerKind) error {
	if len(optims) != len(models) || len(scheds) != len(models) || len(kinds) != len(models) {
		return fmt.Errorf("engine: collection length mismatch: %d models, %d optimizers, %d schedulers, %d kinds",
			len(models), len(optims), len(scheds), len(kinds))
	}
	for i := range models {
		name := fmt.Sprintf("model_%d", i)
		if err := e.RegisterModel(name, models[i], optims[i], scheds[i], kinds[i]); err != nil {
			return err
		}
	}
	return nil
}

// ModelNames returns all registered names in registration order, or validates
// that every requested name exists and returns the request unchanged.
func (e *Engine) ModelNames(subset ...string) ([]string, error) {
	if len(subset) == 0 {
		out := make([]string, len(e.names))
		copy(out, e.names)
		return out, nil
	}
	for _, name := range subset {
		if _, ok := e.units[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
		}
	}
	return subset, nil
}

// Unit returns the registered unit for name.
func (e *Engine) Unit(name string) (*ModelUnit, error) {
	unit, ok := e.units[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return unit, nil
}

// mainUnit returns the main unit after checking the main-equals-first
// contract instead of assuming it from insertion order.
func (e *Engine) mainUnit() (*ModelUnit, error) {
	if len(e.names) == 0 {
		return nil, ErrNoModels
	}
	if e.mainName != e.names[0] {
		return nil, fmt.Errorf("%w: main %q, first %q", ErrMainUnit, e.mainName, e.names[0])
	}
	return e.units[e.mainName], nil
}

// currentLR reports the main unit's learning rate in effect right now.
func (e *Engine) currentLR() float64 {
	unit, err := e.mainUnit()
	if err != nil {
		return 0
	}
	return unit.Optim.LR()
}

// setModeAll switches every registered model to the given mode.
func (e *Engine) setModeAll(mode Mode) {
	for _, name := range e.names {
		e.units[name].Model.SetMode(mode)
	}
}
