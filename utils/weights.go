package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"resnet_lib/tensor"
)

// WeightsVersion is written into every saved weights file.
const WeightsVersion = "resnet-json-1"

// WeightData represents serializable data for one named tensor
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights represents a full state dict keyed by parameter name
type ModelWeights struct {
	Version string                 `json:"version"`
	Tensors map[string]*WeightData `json:"tensors"`
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	for name, wd := range weights.Tensors {
		if want := tensor.Numel(wd.Shape); want != len(wd.Data) {
			return nil, fmt.Errorf("tensor %s: shape %v needs %d values, got %d", name, wd.Shape, want, len(wd.Data))
		}
	}
	return &weights, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: append([]int{}, t.Shape...),
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) *tensor.Tensor {
	t := tensor.New(wd.Shape...)
	copy(t.Data, wd.Data)
	return t
}

// NewModelWeights wraps a name->tensor map for saving.
func NewModelWeights(state map[string]*tensor.Tensor) *ModelWeights {
	mw := &ModelWeights{Version: WeightsVersion, Tensors: make(map[string]*WeightData, len(state))}
	for name, t := range state {
		mw.Tensors[name] = TensorToWeightData(name, t)
	}
	return mw
}

// State converts the weights back into a name->tensor map.
func (mw *ModelWeights) State() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor, len(mw.Tensors))
	for name, wd := range mw.Tensors {
		state[name] = WeightDataToTensor(wd)
	}
	return state
}

// SortedNames returns the keys of state in lexical order.
func SortedNames(state map[string]*tensor.Tensor) []string {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
