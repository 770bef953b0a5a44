// Package optim provides a reference CPU optimizer implementing the engine's
// Optimizer contract. Real training setups may substitute any optimizer that
// satisfies the same interface.
package optim

import (
	"fmt"
	"sort"

	"github.com/openvinotoolkit/deep-object-reid/checkpoints"
)

// GradSource exposes named parameter and gradient buffers. Parameter slices
// are updated in place by the optimizer.
type GradSource interface {
	Parameters() map[string][]float32
	Gradients() map[string][]float32
}

// SGD is stochastic gradient descent with momentum and weight decay.
type SGD struct {
	src         GradSource
	lr          float64
	momentum    float64
	weightDecay float64
	velocity    map[string][]float32
}

// NewSGD creates an SGD optimizer over src's parameters.
func NewSGD(src GradSource, lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		src:         src,
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		velocity:    make(map[string][]float32),
	}
}

// Step applies one update to every parameter that has a gradient.
func (o *SGD) Step() error {
	params := o.src.Parameters()
	grads := o.src.Gradients()

	for name, p := range params {
		g, ok := grads[name]
		if !ok {
			continue
		}
		if len(g) != len(p) {
			return fmt.Errorf("gradient size mismatch for %q: %d vs %d", name, len(g), len(p))
		}
		v := o.velocity[name]
		if v == nil {
			v = make([]float32, len(p))
			o.velocity[name] = v
		}
		for i := range p {
			grad := float64(g[i]) + o.weightDecay*float64(p[i])
			vel := o.momentum*float64(v[i]) + grad
			v[i] = float32(vel)
			p[i] -= float32(o.lr * vel)
		}
	}
	return nil
}

// ZeroGrad clears all gradient buffers.
func (o *SGD) ZeroGrad() {
	for _, g := range o.src.Gradients() {
		for i := range g {
			g[i] = 0
		}
	}
}

// LR returns the current learning rate.
func (o *SGD) LR() float64 { return o.lr }

// SetLR replaces the learning rate; schedulers call this.
func (o *SGD) SetLR(lr float64) { o.lr = lr }

// StateDict returns the serializable optimizer state.
func (o *SGD) StateDict() checkpoints.OptimizerState {
	names := make([]string, 0, len(o.velocity))
	for name := range o.velocity {
		names = append(names, name)
	}
	sort.Strings(names)

	buffers := make([]checkpoints.StateTensor, 0, len(names))
	for _, name := range names {
		buf := make([]float32, len(o.velocity[name]))
		copy(buf, o.velocity[name])
		buffers = append(buffers, checkpoints.StateTensor{Name: name, Data: buf})
	}
	return checkpoints.OptimizerState{
		Type: "SGD",
		LR:   o.lr,
		Parameters: map[string]float64{
			"momentum":     o.momentum,
			"weight_decay": o.weightDecay,
		},
		Buffers: buffers,
	}
}

// LoadStateDict restores momentum buffers and the learning rate.
func (o *SGD) LoadStateDict(state checkpoints.OptimizerState) error {
	if state.Type != "SGD" {
		return fmt.Errorf("optimizer state type %q, want SGD", state.Type)
	}
	o.lr = state.LR
	o.velocity = make(map[string][]float32, len(state.Buffers))
	for _, buf := range state.Buffers {
		data := make([]float32, len(buf.Data))
		copy(data, buf.Data)
		o.velocity[buf.Name] = data
	}
	return nil
}
