// Package glow composes invertible transforms into normalizing flow steps,
// threading a running log-determinant alongside the data.
package glow

import (
	"github.com/gorgonia/glow/layer"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// A Transform is one invertible stage of a flow.
type Transform interface {
	// Apply maps a (batch, channel, height, width) grid to a same-shaped
	// grid and folds the stage's log-determinant into logdet: added when
	// going forward, subtracted in reverse.
	Apply(grid *tensor.Dense, logdet float64, reverse bool) (*tensor.Dense, float64, error)

	// Channels is the channel count the transform operates on.
	Channels() int

	// Parameters exposes the learnable parameter tensors for an optimizer.
	Parameters() []*tensor.Dense
}

// Flow is an ordered chain of transforms over a shared channel count. A
// forward Apply runs the steps first to last; a reverse Apply runs them last
// to first with each step reversed, so a forward pass followed by a reverse
// pass restores both the grid and the log-determinant accumulator.
//
// Flow is itself a Transform, so flows nest.
type Flow struct {
	steps []Transform
	c     int

	lumberjack
}

// Compose chains transforms into a flow. All steps must agree on the
// channel count.
func Compose(steps ...Transform) (*Flow, error) {
	if len(steps) == 0 {
		return nil, errors.New("a flow needs at least one transform")
	}
	c := steps[0].Channels()
	for i, step := range steps[1:] {
		if step.Channels() != c {
			return nil, errors.Wrapf(layer.ErrShapeMismatch, "step %d works on %d channels, the flow on %d", i+1, step.Channels(), c)
		}
	}
	retVal := &Flow{
		steps:      steps,
		c:          c,
		lumberjack: makeLumberJack(),
	}
	go retVal.start()
	return retVal, nil
}

// New builds a flow of conf.Depth (ActNorm, InvConv) step pairs, the Glow
// arrangement: normalize, then mix channels.
func New(conf Config) (*Flow, error) {
	if !conf.IsValid() {
		return nil, errors.Errorf("invalid configuration %#v", conf)
	}
	steps := make([]Transform, 0, 2*conf.Depth)
	for i := 0; i < conf.Depth; i++ {
		norm, err := layer.NewActNorm(conf.Channels)
		if err != nil {
			return nil, err
		}
		var mix Transform
		if conf.UseLU {
			mix, err = layer.NewInvConvLU(conf.Channels)
		} else {
			mix, err = layer.NewInvConv(conf.Channels)
		}
		if err != nil {
			return nil, err
		}
		steps = append(steps, norm, mix)
	}
	return Compose(steps...)
}

// Apply threads the grid and the log-determinant accumulator through every
// step. With reverse set, the chain runs backwards and every step is
// reversed.
func (f *Flow) Apply(grid *tensor.Dense, logdet float64, reverse bool) (*tensor.Dense, float64, error) {
	var err error
	if reverse {
		for i := len(f.steps) - 1; i >= 0; i-- {
			if grid, logdet, err = f.steps[i].Apply(grid, logdet, true); err != nil {
				return nil, 0, errors.Wrapf(err, "reversing flow step %d", i)
			}
			f.trace(i, true, logdet)
		}
		return grid, logdet, nil
	}
	for i, step := range f.steps {
		if grid, logdet, err = step.Apply(grid, logdet, false); err != nil {
			return nil, 0, errors.Wrapf(err, "flow step %d", i)
		}
		f.trace(i, false, logdet)
	}
	return grid, logdet, nil
}

// Channels is the channel count every step of the flow operates on.
func (f *Flow) Channels() int { return f.c }

// Len returns the number of steps in the flow.
func (f *Flow) Len() int { return len(f.steps) }

// Parameters returns the learnable parameters of every step, in step order.
func (f *Flow) Parameters() []*tensor.Dense {
	retVal := make([]*tensor.Dense, 0, 2*len(f.steps))
	for _, step := range f.steps {
		retVal = append(retVal, step.Parameters()...)
	}
	return retVal
}
