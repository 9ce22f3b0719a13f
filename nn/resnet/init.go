package resnet

import (
	"math"

	"resnet_lib/nn/layers"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// KaimingStd is the fan-out Kaiming normal standard deviation for a ReLU
// network: sqrt(2) / sqrt(outChannels*k*k).
func KaimingStd(c *layers.Conv2D) float64 {
	return math.Sqrt2 / math.Sqrt(float64(c.FanOut()))
}

// KaimingNormal fills the weights of c from N(0, KaimingStd(c)^2).
func KaimingNormal(c *layers.Conv2D, src rand.Source) {
	dist := distuv.Normal{Mu: 0, Sigma: KaimingStd(c), Src: src}
	for i := range c.W.Data {
		c.W.Data[i] = dist.Rand()
	}
}

// UniformLinear applies the usual fully-connected default: weight and bias
// drawn from U(-1/sqrt(inDim), 1/sqrt(inDim)).
func UniformLinear(l *layers.Linear, src rand.Source) {
	bound := 1 / math.Sqrt(float64(l.InDim()))
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	for i := range l.W.Data {
		l.W.Data[i] = dist.Rand()
	}
	for i := range l.B.Data {
		l.B.Data[i] = dist.Rand()
	}
}

// initParameters re-initializes every convolution, resets batch norms and
// draws the head. Only convolutions get the Kaiming scheme.
func (r *ResNet) initParameters(seed int64) {
	src := rand.NewSource(uint64(seed))
	for _, c := range r.convs {
		KaimingNormal(c, src)
	}
	for _, m := range r.Modules() {
		if bn, ok := m.Module.(*layers.BatchNorm2D); ok {
			bn.Reset()
		}
	}
	if r.FC != nil {
		UniformLinear(r.FC, src)
	}
}
