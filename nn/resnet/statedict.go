package resnet

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"resnet_lib/nn"
	"resnet_lib/tensor"
	"resnet_lib/utils"
)

// StateDict returns every parameter and buffer with its conventional name,
// in registration order. Values alias the network's tensors.
func (r *ResNet) StateDict() []nn.Param {
	var out []nn.Param
	out = append(out, nn.Prefix("conv1", r.Conv1.Params())...)
	out = append(out, nn.Prefix("bn1", r.BN1.Params())...)
	for i, stage := range r.Stages {
		for j, b := range stage {
			out = append(out, nn.Prefix(fmt.Sprintf("layer%d.%d", i+1, j), b.Params())...)
		}
	}
	if r.FC != nil {
		out = append(out, nn.Prefix("fc", r.FC.Params())...)
	}
	return out
}

// State returns the state dict keyed by name.
func (r *ResNet) State() map[string]*tensor.Tensor {
	params := r.StateDict()
	m := make(map[string]*tensor.Tensor, len(params))
	for _, p := range params {
		m[p.Name] = p.Value
	}
	return m
}

// ParamCount returns the number of learnable scalars. Batch-norm running
// statistics are not counted.
func (r *ResNet) ParamCount() int {
	return nn.CountLearnable(r.StateDict())
}

// LoadStateDict copies tensors into the network by name. Shapes must match
// exactly. With strict set, names missing from state and names the network
// does not own are errors; num_batches_tracked counters are always ignored.
func (r *ResNet) LoadStateDict(state map[string]*tensor.Tensor, strict bool) error {
	params := r.StateDict()
	known := make(map[string]bool, len(params))
	var missing []string
	for _, p := range params {
		known[p.Name] = true
		src, ok := state[p.Name]
		if !ok {
			missing = append(missing, p.Name)
			continue
		}
		if src == nil {
			return fmt.Errorf("%s: checkpoint tensor is nil: %w", p.Name, ErrShape)
		}
		if !tensor.SameShape(src, p.Value) {
			return fmt.Errorf("%s: checkpoint shape %v, model shape %v: %w", p.Name, src.Shape, p.Value.Shape, ErrShape)
		}
		if len(src.Data) != len(p.Value.Data) {
			return fmt.Errorf("%s: checkpoint holds %d values for shape %v: %w", p.Name, len(src.Data), src.Shape, ErrShape)
		}
	}

	if strict {
		var unexpected []string
		for name := range state {
			if !known[name] && !strings.HasSuffix(name, "num_batches_tracked") {
				unexpected = append(unexpected, name)
			}
		}
		sort.Strings(unexpected)
		if len(missing) > 0 || len(unexpected) > 0 {
			return fmt.Errorf("state dict mismatch: missing %v, unexpected %v", missing, unexpected)
		}
	}

	// Nothing is written until every tensor has been checked.
	for _, p := range params {
		if src, ok := state[p.Name]; ok {
			copy(p.Value.Data, src.Data)
		}
	}
	return nil
}

// ExportState is State plus a zero num_batches_tracked scalar for every
// batch norm, the full key set strict PyTorch loaders expect.
func (r *ResNet) ExportState() map[string]*tensor.Tensor {
	state := r.State()
	for _, p := range r.StateDict() {
		if bn, ok := strings.CutSuffix(p.Name, ".running_mean"); ok {
			state[bn+".num_batches_tracked"] = tensor.New()
		}
	}
	return state
}

// ReadStateFile reads a checkpoint by extension: .safetensors, otherwise
// the JSON weights format.
func ReadStateFile(path string) (map[string]*tensor.Tensor, error) {
	if strings.EqualFold(filepath.Ext(path), ".safetensors") {
		return utils.ReadSafetensors(path)
	}
	mw, err := utils.LoadWeights(path)
	if err != nil {
		return nil, err
	}
	return mw.State(), nil
}

// LoadFile loads a checkpoint written by SaveFile or exported from another
// framework under the same names.
func (r *ResNet) LoadFile(path string, strict bool) error {
	state, err := ReadStateFile(path)
	if err != nil {
		return err
	}
	if err := r.LoadStateDict(state, strict); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// SaveFile writes ExportState, as safetensors (F32) when path ends in
// .safetensors and as JSON otherwise.
func (r *ResNet) SaveFile(path string) error {
	state := r.ExportState()
	if strings.EqualFold(filepath.Ext(path), ".safetensors") {
		return utils.WriteSafetensors(path, state)
	}
	return utils.SaveWeights(path, utils.NewModelWeights(state))
}
