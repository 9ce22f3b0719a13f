package layers

import (
	"fmt"
	"math"

	"resnet_lib/nn"
	"resnet_lib/tensor"

	"gonum.org/v1/gonum/floats"
)

func dims4(x *tensor.Tensor) (b, c, h, w int, err error) {
	if len(x.Shape) != 4 {
		return 0, 0, 0, 0, ErrType
	}
	return x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3], nil
}

// MaxPool2D takes the maximum over square windows. Padded positions never
// win: they behave as -Inf.
type MaxPool2D struct {
	kernel, stride, padding int
}

func NewMaxPool2D(kernel, stride, padding int) *MaxPool2D {
	return &MaxPool2D{kernel: kernel, stride: stride, padding: padding}
}

// GetOutputShape returns the output dimensions for given input dimensions.
// A dimension is 0 when the padded input is smaller than the window.
func (p *MaxPool2D) GetOutputShape(inH, inW int) (outH, outW int) {
	return windowCount(inH, p.kernel, p.stride, p.padding), windowCount(inW, p.kernel, p.stride, p.padding)
}

func (p *MaxPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	B, C, H, W, err := dims4(x)
	if err != nil {
		return nil, err
	}
	outH, outW := p.GetOutputShape(H, W)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("%s: input %dx%d too small: %w", p.Tag(), H, W, ErrShape)
	}
	out := tensor.New(B, C, outH, outW)
	for bc := 0; bc < B*C; bc++ {
		plane := x.Data[bc*H*W : (bc+1)*H*W]
		dst := out.Data[bc*outH*outW : (bc+1)*outH*outW]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				w0 := max(ow*p.stride-p.padding, 0)
				w1 := min(ow*p.stride-p.padding+p.kernel, W)
				best := math.Inf(-1)
				for ph := 0; ph < p.kernel; ph++ {
					ih := oh*p.stride - p.padding + ph
					if ih < 0 || ih >= H || w0 >= w1 {
						continue
					}
					best = math.Max(best, floats.Max(plane[ih*W+w0:ih*W+w1]))
				}
				dst[oh*outW+ow] = best
			}
		}
	}
	return out, nil
}

func (p *MaxPool2D) Params() []nn.Param { return nil }

func (p *MaxPool2D) Tag() string {
	return fmt.Sprintf("MaxPool2D(k%d,s%d,p%d)", p.kernel, p.stride, p.padding)
}

// AdaptiveAvgPool2D averages each plane into a fixed outH x outW grid.
// Cell (i, j) covers rows [floor(i*H/outH), ceil((i+1)*H/outH)) and the
// analogous columns, so cells may overlap when H is not a multiple of outH.
type AdaptiveAvgPool2D struct {
	outH, outW int
}

func NewAdaptiveAvgPool2D(outH, outW int) *AdaptiveAvgPool2D {
	return &AdaptiveAvgPool2D{outH: outH, outW: outW}
}

func (a *AdaptiveAvgPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	B, C, H, W, err := dims4(x)
	if err != nil {
		return nil, err
	}
	if H == 0 || W == 0 {
		return nil, fmt.Errorf("%s: empty input plane: %w", a.Tag(), ErrShape)
	}
	out := tensor.New(B, C, a.outH, a.outW)
	for bc := 0; bc < B*C; bc++ {
		plane := x.Data[bc*H*W : (bc+1)*H*W]
		dst := out.Data[bc*a.outH*a.outW : (bc+1)*a.outH*a.outW]
		for oh := 0; oh < a.outH; oh++ {
			h0, h1 := oh*H/a.outH, ((oh+1)*H+a.outH-1)/a.outH
			for ow := 0; ow < a.outW; ow++ {
				w0, w1 := ow*W/a.outW, ((ow+1)*W+a.outW-1)/a.outW
				sum := 0.0
				for ih := h0; ih < h1; ih++ {
					sum += floats.Sum(plane[ih*W+w0 : ih*W+w1])
				}
				dst[oh*a.outW+ow] = sum / float64((h1-h0)*(w1-w0))
			}
		}
	}
	return out, nil
}

func (a *AdaptiveAvgPool2D) Params() []nn.Param { return nil }

func (a *AdaptiveAvgPool2D) Tag() string {
	return fmt.Sprintf("AdaptiveAvgPool2D(%dx%d)", a.outH, a.outW)
}
