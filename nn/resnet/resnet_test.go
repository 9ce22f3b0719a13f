package resnet

import (
	"errors"
	"math/rand"
	"testing"

	"resnet_lib/nn/layers"
	"resnet_lib/tensor"
	"resnet_lib/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyConfig(head bool) Config {
	return Config{BlocksPerStage: []int{1, 1, 1, 1}, NumClasses: 7, IncludeHead: head, Seed: 11}
}

func newTiny(t testing.TB, head bool) *ResNet {
	t.Helper()
	r, err := New(tinyConfig(head))
	require.NoError(t, err)
	return r
}

func randomInput(seed int64, shape ...int) *tensor.Tensor {
	x := tensor.New(shape...)
	fill(rand.New(rand.NewSource(seed)), x)
	return x
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := map[string]Config{
		"three stages":   {BlocksPerStage: []int{3, 4, 6}, NumClasses: 10, IncludeHead: true},
		"five stages":    {BlocksPerStage: []int{1, 1, 1, 1, 1}, NumClasses: 10, IncludeHead: true},
		"empty stage":    {BlocksPerStage: []int{3, 0, 6, 3}, NumClasses: 10, IncludeHead: true},
		"negative stage": {BlocksPerStage: []int{3, 4, -6, 3}, NumClasses: 10, IncludeHead: true},
		"zero classes":   {BlocksPerStage: []int{3, 4, 6, 3}, NumClasses: 0, IncludeHead: true},
	}
	for name, cfg := range cases {
		_, err := New(cfg)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "%s: got %v", name, err)
	}

	// Classes are irrelevant without a head.
	_, err := New(Config{BlocksPerStage: []int{1, 1, 1, 1}, NumClasses: 0})
	assert.NoError(t, err)

	_, err = ByName("resnet18", 10, true, 1)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestShapeLaw(t *testing.T) {
	withHead := newTiny(t, true)
	backbone := newTiny(t, false)
	for _, hw := range [][2]int{{32, 32}, {64, 32}, {32, 96}} {
		x := randomInput(1, 2, 3, hw[0], hw[1])

		y, err := withHead.Forward(x)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 7}, y.Shape, "head %v", hw)

		f, err := backbone.Forward(x)
		require.NoError(t, err)
		assert.Equal(t, []int{2, FeatureDim, hw[0] / 32, hw[1] / 32}, f.Shape, "backbone %v", hw)
	}
}

func TestResNet50ChannelProgression(t *testing.T) {
	r, err := ResNet50(10, false)
	require.NoError(t, err)

	outs, err := r.ForwardStages(randomInput(2, 1, 3, 64, 64))
	require.NoError(t, err)
	require.Len(t, outs, 4)
	assert.Equal(t, []int{1, 256, 16, 16}, outs[0].Shape)
	assert.Equal(t, []int{1, 512, 8, 8}, outs[1].Shape)
	assert.Equal(t, []int{1, 1024, 4, 4}, outs[2].Shape)
	assert.Equal(t, []int{1, 2048, 2, 2}, outs[3].Shape)

	for i, stage := range r.Stages {
		assert.Len(t, stage, Architectures["resnet50"][i])
		assert.NotNil(t, stage[0].Downsample, "layer%d.0", i+1)
		for _, b := range stage[1:] {
			assert.Nil(t, b.Downsample)
		}
	}
}

func TestForwardDeterministic(t *testing.T) {
	r := newTiny(t, true)
	x := randomInput(5, 2, 3, 32, 32)
	before := x.Clone()

	y1, err := r.Forward(x)
	require.NoError(t, err)
	y2, err := r.Forward(x)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(y1, y2))
	assert.True(t, tensor.Equal(before, x), "input modified")

	// Same seed, same network.
	y3, err := newTiny(t, true).Forward(x)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(y1, y3))
}

func TestForwardRejectsBadInput(t *testing.T) {
	r := newTiny(t, true)

	_, err := r.Forward(tensor.New(1, 4, 32, 32))
	assert.True(t, errors.Is(err, ErrShape), "got %v", err)

	_, err = r.Forward(tensor.New(3, 32, 32))
	assert.True(t, errors.Is(err, layers.ErrType), "got %v", err)

	_, err = r.Features(tensor.New(1, 1, 32, 32))
	assert.Error(t, err)

	_, err = r.Forward(tensor.New(1, 3, 0, 0))
	assert.True(t, errors.Is(err, ErrShape), "got %v", err)
	_, err = r.Forward(tensor.New(1, 3, 32, 0))
	assert.True(t, errors.Is(err, ErrShape), "got %v", err)
}

func TestForwardEmptyBatch(t *testing.T) {
	r := newTiny(t, true)
	y, err := r.Forward(tensor.New(0, 3, 32, 32))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 7}, y.Shape)
	assert.Empty(t, y.Data)

	feats, err := newTiny(t, false).Forward(tensor.New(0, 3, 32, 32))
	require.NoError(t, err)
	assert.Equal(t, []int{0, FeatureDim, 1, 1}, feats.Shape)
}

func TestFeaturesFeedHead(t *testing.T) {
	r := newTiny(t, true)
	x := randomInput(9, 2, 3, 64, 64)

	feats, err := r.Features(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, FeatureDim}, feats.Shape)

	want, err := r.FC.Forward(feats)
	require.NoError(t, err)
	got, err := r.Forward(x)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(want, got))
}

func TestResNet50ParamCount(t *testing.T) {
	full, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 25557032, full.ParamCount())
	assert.Equal(t, 1000, full.FC.OutDim())

	backbone, err := ResNet50(DefaultNumClasses, false)
	require.NoError(t, err)
	assert.Equal(t, 23508032, backbone.ParamCount())
	assert.Nil(t, backbone.FC)

	small, err := ResNet50(10, true)
	require.NoError(t, err)
	assert.Equal(t, 2048*10+10, small.ParamCount()-backbone.ParamCount())
}

func TestDeeperArchitecturesParamCount(t *testing.T) {
	if testing.Short() {
		t.Skip("builds 100M+ parameters")
	}
	r101, err := ResNet101(DefaultNumClasses, true)
	require.NoError(t, err)
	assert.Equal(t, 44549160, r101.ParamCount())

	r152, err := ResNet152(DefaultNumClasses, true)
	require.NoError(t, err)
	assert.Equal(t, 60192808, r152.ParamCount())
}

func TestResNet50ZeroImages(t *testing.T) {
	if testing.Short() {
		t.Skip("full-resolution forward pass")
	}
	r, err := ResNet50(10, true)
	require.NoError(t, err)

	y, err := r.Forward(tensor.Zeros(2, 3, 224, 224))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 10}, y.Shape)
	assert.True(t, y.AllFinite())
	assert.InDeltaSlice(t, y.Data[:10], y.Data[10:], 1e-12, "identical images gave different logits")
}

func TestForwardRecordsTiming(t *testing.T) {
	r := newTiny(t, true)
	r.Stats = &utils.TimingStats{}
	_, err := r.Forward(randomInput(1, 1, 3, 32, 32))
	require.NoError(t, err)

	assert.True(t, r.Stats.ForwardPassTime > 0)
	assert.True(t, r.Stats.StemTime > 0)
	for i, d := range r.Stats.StageTimes {
		assert.True(t, d > 0, "stage %d", i+1)
	}
	assert.True(t, r.Stats.StemTime+r.Stats.StageTimes[0] <= r.Stats.ForwardPassTime)
}

func TestModulesOrder(t *testing.T) {
	r := newTiny(t, true)
	mods := r.Modules()
	var names []string
	for _, m := range mods {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"conv1", "bn1", "relu", "maxpool", "layer1.0.conv1"}, names[:5])
	assert.Equal(t, "fc", names[len(names)-1])
	assert.Contains(t, names, "layer3.0.downsample.0")

	noHead := newTiny(t, false).Modules()
	assert.Len(t, noHead, len(mods)-3)
}

func TestResolveBlocksAndRunConfig(t *testing.T) {
	blocks, err := ResolveBlocks("resnet101", "")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 23, 3}, blocks)

	blocks, err = ResolveBlocks("resnet50", "1,1,1,1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 1}, blocks)

	_, err = ResolveBlocks("vgg16", "")
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	rc := &utils.Config{BlocksPerStage: blocks, NumClasses: 3, IncludeHead: true, InputSize: 32, BatchSize: 1, Seed: 2}
	r, err := FromRunConfig(rc)
	require.NoError(t, err)
	assert.Equal(t, 3, r.FC.OutDim())

	rc.InputSize = 8
	_, err = FromRunConfig(rc)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
