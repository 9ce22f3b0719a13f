package layers

import (
	"fmt"

	"resnet_lib/nn"
	"resnet_lib/tensor"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Conv2D is a 2D convolutional layer with square kernels, stride and zero padding.
//
// The forward pass lowers each image to an im2col matrix of shape
// [inChan*k*k, outH*outW] and multiplies it by the weights viewed as
// [outChan, inChan*k*k], writing straight into the NCHW output.
type Conv2D struct {
	inChan, outChan int
	k               int // kernel height and width
	stride, padding int

	W *tensor.Tensor // weights: [outChan, inChan, k, k]
	B *tensor.Tensor // bias: [outChan], nil when the layer has no bias
}

// NewConv2D creates a new Conv2D layer with zero weights.
func NewConv2D(inChan, outChan, k, stride, padding int, bias bool) *Conv2D {
	c := &Conv2D{
		inChan:  inChan,
		outChan: outChan,
		k:       k,
		stride:  stride,
		padding: padding,
		W:       tensor.New(outChan, inChan, k, k),
	}
	if bias {
		c.B = tensor.New(outChan)
	}
	return c
}

func (c *Conv2D) InChannels() int  { return c.inChan }
func (c *Conv2D) OutChannels() int { return c.outChan }
func (c *Conv2D) Kernel() int      { return c.k }
func (c *Conv2D) Stride() int      { return c.stride }
func (c *Conv2D) Padding() int     { return c.padding }

// FanOut is outChan*k*k, the fan used by fan-out initialization.
func (c *Conv2D) FanOut() int { return c.outChan * c.k * c.k }

// FanIn is inChan*k*k.
func (c *Conv2D) FanIn() int { return c.inChan * c.k * c.k }

// GetOutputShape returns the output dimensions for given input dimensions.
// A dimension is 0 when the padded input is smaller than the kernel.
func (c *Conv2D) GetOutputShape(inH, inW int) (outH, outW int) {
	return windowCount(inH, c.k, c.stride, c.padding), windowCount(inW, c.k, c.stride, c.padding)
}

// windowCount is the number of k-wide windows at the given stride over an
// input of size in padded by padding on both sides.
func windowCount(in, k, stride, padding int) int {
	if in <= 0 || in+2*padding < k {
		return 0
	}
	return (in+2*padding-k)/stride + 1
}

// Forward convolves a [batch, inChan, H, W] input (a 3-D [inChan, H, W]
// input is treated as a batch of one).
func (c *Conv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	var batchSize, channels, height, width int
	switch len(input.Shape) {
	case 4:
		batchSize, channels, height, width = input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	case 3:
		batchSize = 1
		channels, height, width = input.Shape[0], input.Shape[1], input.Shape[2]
	default:
		return nil, ErrType
	}
	if channels != c.inChan {
		return nil, fmt.Errorf("%s: expected %d input channels, got %d: %w", c.Tag(), c.inChan, channels, ErrShape)
	}
	outH, outW := c.GetOutputShape(height, width)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("%s: input %dx%d too small: %w", c.Tag(), height, width, ErrShape)
	}

	output := tensor.New(batchSize, c.outChan, outH, outW)
	kk := c.inChan * c.k * c.k
	n := outH * outW
	inSize := c.inChan * height * width
	outSize := c.outChan * n

	weights := mat.NewDense(c.outChan, kk, c.W.Data)
	pointwise := c.k == 1 && c.stride == 1 && c.padding == 0

	var colBuf []float64
	if !pointwise {
		colBuf = make([]float64, kk*n)
	}
	for b := 0; b < batchSize; b++ {
		img := input.Data[b*inSize : (b+1)*inSize]
		var cols *mat.Dense
		if pointwise {
			// A 1x1 stride-1 convolution reads the image directly as [inChan, H*W].
			cols = mat.NewDense(c.inChan, n, img)
		} else {
			c.im2col(img, height, width, outH, outW, colBuf)
			cols = mat.NewDense(kk, n, colBuf)
		}
		out := mat.NewDense(c.outChan, n, output.Data[b*outSize:(b+1)*outSize])
		out.Mul(weights, cols)

		if c.B != nil {
			for oc := 0; oc < c.outChan; oc++ {
				row := output.Data[b*outSize+oc*n : b*outSize+(oc+1)*n]
				floats.AddConst(c.B.Data[oc], row)
			}
		}
	}
	return output, nil
}

// im2col fills cols ([inChan*k*k, outH*outW], row-major) with the receptive
// field of every output position. Out-of-bounds taps read as zero.
func (c *Conv2D) im2col(img []float64, height, width, outH, outW int, cols []float64) {
	n := outH * outW
	for ic := 0; ic < c.inChan; ic++ {
		plane := img[ic*height*width : (ic+1)*height*width]
		for dy := 0; dy < c.k; dy++ {
			for dx := 0; dx < c.k; dx++ {
				row := cols[((ic*c.k+dy)*c.k+dx)*n : ((ic*c.k+dy)*c.k+dx+1)*n]
				for y := 0; y < outH; y++ {
					iy := y*c.stride - c.padding + dy
					dst := row[y*outW : (y+1)*outW]
					if iy < 0 || iy >= height {
						for i := range dst {
							dst[i] = 0
						}
						continue
					}
					src := plane[iy*width : (iy+1)*width]
					for x := 0; x < outW; x++ {
						ix := x*c.stride - c.padding + dx
						if ix < 0 || ix >= width {
							dst[x] = 0
						} else {
							dst[x] = src[ix]
						}
					}
				}
			}
		}
	}
}

func (c *Conv2D) Params() []nn.Param {
	params := []nn.Param{{Name: "weight", Value: c.W, Learnable: true}}
	if c.B != nil {
		params = append(params, nn.Param{Name: "bias", Value: c.B, Learnable: true})
	}
	return params
}

func (c *Conv2D) Tag() string {
	return fmt.Sprintf("Conv2D(%d->%d,k%d,s%d,p%d)", c.inChan, c.outChan, c.k, c.stride, c.padding)
}
