// Package resnet builds ResNet bottleneck networks (ResNet-50 and its deeper
// companions) on top of the layers package.
package resnet

import (
	"errors"
	"fmt"
	"time"

	"resnet_lib/nn"
	"resnet_lib/nn/layers"
	"resnet_lib/tensor"
	"resnet_lib/utils"
)

var (
	// ErrInvalidConfig reports an unusable network or block configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrShape is the shape-mismatch error shared with the layers package.
	ErrShape = layers.ErrShape
)

const (
	// InputChannels is the number of image channels the stem expects.
	InputChannels = 3
	// FeatureDim is the width of the pooled feature vector.
	FeatureDim = 512 * Expansion
	// DefaultNumClasses is the ImageNet class count.
	DefaultNumClasses = 1000
	// DefaultSeed seeds parameter initialization when none is given.
	DefaultSeed = 1
)

var (
	stageWidths  = [4]int{64, 128, 256, 512}
	stageStrides = [4]int{1, 2, 2, 2}
)

// Architectures maps the supported names to their per-stage block counts.
var Architectures = map[string][]int{
	"resnet50":  {3, 4, 6, 3},
	"resnet101": {3, 4, 23, 3},
	"resnet152": {3, 8, 36, 3},
}

// Config describes a bottleneck ResNet.
type Config struct {
	BlocksPerStage []int
	NumClasses     int
	IncludeHead    bool
	Seed           int64
}

// DefaultConfig returns the ResNet-50 ImageNet configuration.
func DefaultConfig() Config {
	return Config{
		BlocksPerStage: append([]int(nil), Architectures["resnet50"]...),
		NumClasses:     DefaultNumClasses,
		IncludeHead:    true,
		Seed:           DefaultSeed,
	}
}

func (c Config) validate() error {
	if len(c.BlocksPerStage) != len(stageWidths) {
		return fmt.Errorf("%d stage block counts given, need %d: %w", len(c.BlocksPerStage), len(stageWidths), ErrInvalidConfig)
	}
	for i, n := range c.BlocksPerStage {
		if n <= 0 {
			return fmt.Errorf("stage %d has %d blocks: %w", i+1, n, ErrInvalidConfig)
		}
	}
	if c.IncludeHead && c.NumClasses <= 0 {
		return fmt.Errorf("head with %d classes: %w", c.NumClasses, ErrInvalidConfig)
	}
	return nil
}

// ResNet is a bottleneck residual network. All computation is inference
// mode: batch normalization uses running statistics.
type ResNet struct {
	cfg Config

	Conv1   *layers.Conv2D
	BN1     *layers.BatchNorm2D
	relu    *layers.ReLU
	MaxPool *layers.MaxPool2D

	// Stages[i] holds the blocks of layer{i+1}.
	Stages [4][]*Bottleneck

	AvgPool *layers.AdaptiveAvgPool2D
	flatten *layers.Flatten
	FC      *layers.Linear // nil without head

	convs    []*layers.Conv2D
	inplanes int

	// Stats accumulates per-phase forward timings when non-nil.
	Stats *utils.TimingStats
}

// New builds and initializes a network for cfg.
func New(cfg Config) (*ResNet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &ResNet{
		cfg:      cfg,
		Conv1:    layers.NewConv2D(InputChannels, 64, 7, 2, 3, false),
		BN1:      layers.NewBatchNorm2D(64),
		relu:     layers.NewReLU(),
		MaxPool:  layers.NewMaxPool2D(3, 2, 1),
		AvgPool:  layers.NewAdaptiveAvgPool2D(1, 1),
		flatten:  layers.NewFlatten(),
		inplanes: 64,
	}
	r.convs = append(r.convs, r.Conv1)

	for i := range r.Stages {
		blocks, err := r.makeStage(stageWidths[i], cfg.BlocksPerStage[i], stageStrides[i])
		if err != nil {
			return nil, fmt.Errorf("layer%d: %w", i+1, err)
		}
		r.Stages[i] = blocks
	}
	if cfg.IncludeHead {
		r.FC = layers.NewLinear(FeatureDim, cfg.NumClasses)
	}

	r.initParameters(cfg.Seed)
	return r, nil
}

// makeStage builds one stage and advances the running channel count.
func (r *ResNet) makeStage(width, blocks, stride int) ([]*Bottleneck, error) {
	var ds *Downsample
	if stride != 1 || r.inplanes != width*Expansion {
		ds = NewDownsample(r.inplanes, width*Expansion, stride)
	}
	first, err := NewBottleneck(r.inplanes, width, stride, ds)
	if err != nil {
		return nil, err
	}
	stage := []*Bottleneck{first}
	r.convs = append(r.convs, first.convs()...)
	r.inplanes = width * Expansion

	for j := 1; j < blocks; j++ {
		b, err := NewBottleneck(r.inplanes, width, 1, nil)
		if err != nil {
			return nil, err
		}
		stage = append(stage, b)
		r.convs = append(r.convs, b.convs()...)
	}
	return stage, nil
}

// ResNet50 builds the [3, 4, 6, 3] network.
func ResNet50(numClasses int, includeHead bool) (*ResNet, error) {
	return ByName("resnet50", numClasses, includeHead, DefaultSeed)
}

// ResNet101 builds the [3, 4, 23, 3] network.
func ResNet101(numClasses int, includeHead bool) (*ResNet, error) {
	return ByName("resnet101", numClasses, includeHead, DefaultSeed)
}

// ResNet152 builds the [3, 8, 36, 3] network.
func ResNet152(numClasses int, includeHead bool) (*ResNet, error) {
	return ByName("resnet152", numClasses, includeHead, DefaultSeed)
}

// ByName builds one of the named Architectures.
func ByName(arch string, numClasses int, includeHead bool, seed int64) (*ResNet, error) {
	blocks, ok := Architectures[arch]
	if !ok {
		return nil, fmt.Errorf("unknown architecture %q: %w", arch, ErrInvalidConfig)
	}
	return New(Config{
		BlocksPerStage: append([]int(nil), blocks...),
		NumClasses:     numClasses,
		IncludeHead:    includeHead,
		Seed:           seed,
	})
}

// Config returns the configuration the network was built with.
func (r *ResNet) Config() Config { return r.cfg }

// HasHead reports whether the classifier head is present.
func (r *ResNet) HasHead() bool { return r.FC != nil }

func (r *ResNet) checkInput(x *tensor.Tensor) error {
	if len(x.Shape) != 4 {
		return fmt.Errorf("input shape %v is not [batch, %d, height, width]: %w", x.Shape, InputChannels, layers.ErrType)
	}
	if x.Shape[1] != InputChannels {
		return fmt.Errorf("input has %d channels, want %d: %w", x.Shape[1], InputChannels, ErrShape)
	}
	if x.Shape[2] <= 0 || x.Shape[3] <= 0 {
		return fmt.Errorf("input plane %dx%d is empty: %w", x.Shape[2], x.Shape[3], ErrShape)
	}
	return nil
}

func (r *ResNet) timed(d *time.Duration, start time.Time) {
	if r.Stats != nil {
		*d += time.Since(start)
	}
}

func (r *ResNet) stem(x *tensor.Tensor) (*tensor.Tensor, error) {
	if r.Stats != nil {
		defer r.timed(&r.Stats.StemTime, time.Now())
	}
	y, err := r.Conv1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("conv1: %w", err)
	}
	if y, err = r.BN1.Forward(y); err != nil {
		return nil, fmt.Errorf("bn1: %w", err)
	}
	tensor.ReluInPlace(y)
	if y, err = r.MaxPool.Forward(y); err != nil {
		return nil, fmt.Errorf("maxpool: %w", err)
	}
	return y, nil
}

func (r *ResNet) stage(i int, x *tensor.Tensor) (*tensor.Tensor, error) {
	if r.Stats != nil {
		defer r.timed(&r.Stats.StageTimes[i], time.Now())
	}
	var err error
	for j, b := range r.Stages[i] {
		if x, err = b.Forward(x); err != nil {
			return nil, fmt.Errorf("layer%d.%d: %w", i+1, j, err)
		}
	}
	return x, nil
}

// ForwardStages runs the backbone and returns the output of every stage.
func (r *ResNet) ForwardStages(x *tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := r.checkInput(x); err != nil {
		return nil, err
	}
	y, err := r.stem(x)
	if err != nil {
		return nil, err
	}
	outs := make([]*tensor.Tensor, 0, len(r.Stages))
	for i := range r.Stages {
		if y, err = r.stage(i, y); err != nil {
			return nil, err
		}
		outs = append(outs, y)
	}
	return outs, nil
}

func (r *ResNet) backbone(x *tensor.Tensor) (*tensor.Tensor, error) {
	outs, err := r.ForwardStages(x)
	if err != nil {
		return nil, err
	}
	return outs[len(outs)-1], nil
}

func (r *ResNet) pool(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := r.AvgPool.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("avgpool: %w", err)
	}
	return r.flatten.Forward(y)
}

// Features returns the pooled [batch, 2048] feature vectors, with or
// without a head.
func (r *ResNet) Features(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := r.backbone(x)
	if err != nil {
		return nil, err
	}
	if r.Stats != nil {
		defer r.timed(&r.Stats.HeadTime, time.Now())
	}
	return r.pool(y)
}

// Forward maps [batch, 3, H, W] images to [batch, NumClasses] logits, or to
// the [batch, 2048, H/32, W/32] feature map when the head is excluded.
func (r *ResNet) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if r.Stats != nil {
		defer r.timed(&r.Stats.ForwardPassTime, time.Now())
	}
	if !r.HasHead() {
		return r.backbone(x)
	}
	feats, err := r.Features(x)
	if err != nil {
		return nil, err
	}
	if r.Stats != nil {
		defer r.timed(&r.Stats.HeadTime, time.Now())
	}
	logits, err := r.FC.Forward(feats)
	if err != nil {
		return nil, fmt.Errorf("fc: %w", err)
	}
	return logits, nil
}

// NamedModule pairs a leaf layer with its state-dict prefix.
type NamedModule struct {
	Name   string
	Module nn.Module
}

// Modules lists the network's leaf layers in execution order. Stateless
// layers are included so the list reads as the network's structure.
func (r *ResNet) Modules() []NamedModule {
	mods := []NamedModule{
		{"conv1", r.Conv1}, {"bn1", r.BN1}, {"relu", r.relu}, {"maxpool", r.MaxPool},
	}
	for i, stage := range r.Stages {
		for j, b := range stage {
			p := fmt.Sprintf("layer%d.%d", i+1, j)
			mods = append(mods,
				NamedModule{p + ".conv1", b.Conv1}, NamedModule{p + ".bn1", b.BN1},
				NamedModule{p + ".conv2", b.Conv2}, NamedModule{p + ".bn2", b.BN2},
				NamedModule{p + ".conv3", b.Conv3}, NamedModule{p + ".bn3", b.BN3},
			)
			if b.Downsample != nil {
				mods = append(mods,
					NamedModule{p + ".downsample.0", b.Downsample.Conv},
					NamedModule{p + ".downsample.1", b.Downsample.BN},
				)
			}
		}
	}
	if r.HasHead() {
		mods = append(mods, NamedModule{"avgpool", r.AvgPool}, NamedModule{"flatten", r.flatten}, NamedModule{"fc", r.FC})
	}
	return mods
}

// ResolveBlocks returns the block counts for an architecture name, or the
// parsed override when blocks is non-empty.
func ResolveBlocks(arch, blocks string) ([]int, error) {
	if blocks != "" {
		return utils.ParseBlocks(blocks)
	}
	counts, ok := Architectures[arch]
	if !ok {
		return nil, fmt.Errorf("unknown architecture %q: %w", arch, ErrInvalidConfig)
	}
	return append([]int(nil), counts...), nil
}

// FromRunConfig validates a command-line run configuration and builds its
// network.
func FromRunConfig(rc *utils.Config) (*ResNet, error) {
	if err := utils.ValidateConfig(rc); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidConfig)
	}
	return New(Config{
		BlocksPerStage: rc.BlocksPerStage,
		NumClasses:     rc.NumClasses,
		IncludeHead:    rc.IncludeHead,
		Seed:           rc.Seed,
	})
}
