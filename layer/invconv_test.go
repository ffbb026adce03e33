package layer

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

// setIdentity overwrites a (C, C) weight with the identity matrix.
func setIdentity(w *tensor.Dense) {
	c := w.Shape()[0]
	eye := make([]float64, c*c)
	for i := 0; i < c; i++ {
		eye[i*c+i] = 1
	}
	fillF64(w, eye)
}

func TestInvConvOrthogonalInit(t *testing.T) {
	assert := assert.New(t)
	l, err := NewInvConv(6)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.InDelta(0, logAbsDet(l.Weight), 1e-8, "an orthogonal weight has |det| = 1")

	_, logdet, err := l.Apply(randGrid(2, 6, 5, 7), 0, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.InDelta(0, logdet, 1e-6, "a fresh transform contributes nothing to the accumulator")
}

func TestInvConvIdentity(t *testing.T) {
	assert := assert.New(t)
	l, err := NewInvConv(3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	setIdentity(l.Weight)

	x := randGrid(2, 3, 4, 4)
	for _, reverse := range []bool{false, true} {
		out, logdet, err := l.Apply(x, 0, reverse)
		if err != nil {
			t.Fatalf("reverse=%v: %+v", reverse, err)
		}
		assert.Equal(x.Data(), out.Data(), "an identity weight must pass the grid through untouched (reverse=%v)", reverse)
		assert.Equal(0.0, logdet, "an identity weight has zero log determinant (reverse=%v)", reverse)
	}
}

func TestInvConvRoundTrip(t *testing.T) {
	assert := assert.New(t)
	l, err := NewInvConv(5)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	x := randGrid(2, 5, 4, 3)

	y, logdet, err := l.Apply(x, 1.5, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.NotEqual(x.Data(), y.Data(), "a random orthogonal weight should actually mix the channels")

	back, logdet, err := l.Apply(y, logdet, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.InDelta(0, maxAbsDiff(x, back), 1e-9, "reverse must undo forward")
	assert.InDelta(1.5, logdet, 1e-9, "reverse must restore the accumulator")
}

func TestInvConvSingularWeight(t *testing.T) {
	l, err := NewInvConv(3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// zero a whole row: it comes through elimination untouched, so the
	// factorization ends on an exactly zero pivot
	w := l.Weight.Data().([]float64)
	w[3], w[4], w[5] = 0, 0, 0

	x := randGrid(1, 3, 2, 2)
	if _, _, err := l.Apply(x, 0, true); err == nil {
		t.Fatal("expected reversing through a singular weight to fail")
	} else if errors.Cause(err) != ErrSingularWeight {
		t.Fatalf("expected ErrSingularWeight, got %+v", err)
	}

	// forward still runs, the accumulator sinks to -Inf
	_, logdet, err := l.Apply(x, 0, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !math.IsInf(logdet, -1) {
		t.Fatalf("expected a -Inf log determinant through a singular weight, got %v", logdet)
	}
}

// a duplicated row drifts the weight into singularity without guaranteeing
// an exactly zero pivot: partial pivoting can leave one on the order of
// machine epsilon instead. Forward still runs, and the accumulator must
// collapse whether or not it reaches -Inf.
func TestInvConvDriftedWeight(t *testing.T) {
	l, err := NewInvConv(3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	w := l.Weight.Data().([]float64)
	copy(w[3:6], w[0:3])

	x := randGrid(1, 3, 2, 2)
	_, logdet, err := l.Apply(x, 0, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	area := float64(2 * 2)
	if !math.IsInf(logdet, -1) && logdet > -30*area {
		t.Fatalf("expected the log determinant to collapse, got %v", logdet)
	}
}

func TestInvConvBadGrid(t *testing.T) {
	l, err := NewInvConv(3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, c := range badGrids {
		if _, _, err := l.Apply(c.grid, 0, false); errors.Cause(err) != ErrShapeMismatch {
			t.Errorf("%v: expected ErrShapeMismatch, got %v", c.name, err)
		}
	}
}

func TestInvConvFloat32(t *testing.T) {
	old := Float
	Float = tensor.Float32
	defer func() { Float = old }()

	assert := assert.New(t)
	l, err := NewInvConv(4)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(tensor.Float32, l.Weight.Dtype())

	x := randGrid(2, 4, 3, 3)
	y, logdet, err := l.Apply(x, 0, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	back, logdet, err := l.Apply(y, logdet, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.InDelta(0, maxAbsDiff(x, back), 1e-4)
	assert.InDelta(0, logdet, 1e-4)
}
