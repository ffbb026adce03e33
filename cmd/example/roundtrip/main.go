package main

import (
	"fmt"
	"log"
	"math"

	"github.com/gorgonia/glow"
	"github.com/gorgonia/glow/layer"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func main() {
	conf := glow.DefaultConf(4)
	conf.Depth = 2
	conf.UseLU = true
	f, err := glow.New(conf)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	x := tensor.New(
		tensor.WithShape(8, 4, 16, 16),
		tensor.WithBacking(G.Gaussian(0, 1)(layer.Float, 8, 4, 16, 16)),
	)

	z, logdet, err := f.Apply(x, 0, false)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	fmt.Printf("forward: logdet %.4f\n", logdet)
	// the actnorm steps have just seeded themselves on this batch, so the
	// grid now has roughly zero mean and unit std per channel

	back, logdet, err := f.Apply(z, logdet, true)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	fmt.Printf("reverse: logdet %.4f\n", logdet)

	var worst float64
	xs := x.Data().([]float64)
	bs := back.Data().([]float64)
	for i := range xs {
		if d := math.Abs(xs[i] - bs[i]); d > worst {
			worst = d
		}
	}
	fmt.Printf("round trip error: %g\n", worst)
}
