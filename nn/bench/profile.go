// Package bench times the layers of a ResNet forward pass and the
// encrypted classifier head.
package bench

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"time"

	"resnet_lib/nn"
	"resnet_lib/nn/layers"
	"resnet_lib/nn/resnet"
	"resnet_lib/tensor"
	"resnet_lib/utils"
)

// LayerTiming is the average forward time of one layer on the input it
// sees inside the network.
type LayerTiming struct {
	Name     string
	Tag      string
	InShape  []int
	OutShape []int
	Fwd      time.Duration
}

type profiler struct {
	runs    int
	timings []LayerTiming
}

// time runs m runs times on x and records the average.
func (p *profiler) time(name string, m nn.Module, x *tensor.Tensor) (*tensor.Tensor, error) {
	var out *tensor.Tensor
	var err error
	start := time.Now()
	for i := 0; i < p.runs; i++ {
		if out, err = m.Forward(x); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	p.timings = append(p.timings, LayerTiming{
		Name:     name,
		Tag:      m.Tag(),
		InShape:  append([]int(nil), x.Shape...),
		OutShape: append([]int(nil), out.Shape...),
		Fwd:      time.Since(start) / time.Duration(p.runs),
	})
	return out, nil
}

// Profile runs the network layer by layer on x, timing each leaf layer
// over runs repetitions. Skip additions are not timed.
func Profile(model *resnet.ResNet, x *tensor.Tensor, runs int) ([]LayerTiming, error) {
	if runs <= 0 {
		runs = 1
	}
	p := &profiler{runs: runs}
	relu := layers.NewReLU()

	y, err := p.time("conv1", model.Conv1, x)
	if err != nil {
		return nil, err
	}
	if y, err = p.time("bn1", model.BN1, y); err != nil {
		return nil, err
	}
	if y, err = p.time("relu", relu, y); err != nil {
		return nil, err
	}
	if y, err = p.time("maxpool", model.MaxPool, y); err != nil {
		return nil, err
	}

	for i, stage := range model.Stages {
		for j, b := range stage {
			prefix := fmt.Sprintf("layer%d.%d.", i+1, j)
			if b.Downsample != nil {
				if _, err := p.time(prefix+"downsample", b.Downsample, y); err != nil {
					return nil, err
				}
			}
			steps := []struct {
				name string
				m    nn.Module
			}{
				{"conv1", b.Conv1}, {"bn1", b.BN1}, {"relu1", relu},
				{"conv2", b.Conv2}, {"bn2", b.BN2}, {"relu2", relu},
				{"conv3", b.Conv3}, {"bn3", b.BN3},
			}
			h := y
			for _, s := range steps {
				if h, err = p.time(prefix+s.name, s.m, h); err != nil {
					return nil, err
				}
			}
			if y, err = b.Forward(y); err != nil {
				return nil, fmt.Errorf("%s: %w", prefix, err)
			}
		}
	}

	if model.HasHead() {
		for _, m := range []resnet.NamedModule{{Name: "avgpool", Module: model.AvgPool}, {Name: "flatten", Module: layers.NewFlatten()}, {Name: "fc", Module: model.FC}} {
			if y, err = p.time(m.Name, m.Module, y); err != nil {
				return nil, err
			}
		}
	}
	return p.timings, nil
}

// TagSummary aggregates timings of layers with the same configuration.
type TagSummary struct {
	Tag   string
	Count int
	Total time.Duration
}

// Aggregate groups timings by layer tag, most expensive first.
func Aggregate(timings []LayerTiming) []TagSummary {
	byTag := map[string]*TagSummary{}
	var order []string
	for _, t := range timings {
		s, ok := byTag[t.Tag]
		if !ok {
			s = &TagSummary{Tag: t.Tag}
			byTag[t.Tag] = s
			order = append(order, t.Tag)
		}
		s.Count++
		s.Total += t.Fwd
	}
	out := make([]TagSummary, len(order))
	for i, tag := range order {
		out[i] = *byTag[tag]
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Total > out[b].Total })
	return out
}

// WriteCSV writes one row per layer: net,index,name,tag,in,out,cores,fwd_us.
func WriteCSV(w io.Writer, netName string, timings []LayerTiming) error {
	if _, err := fmt.Fprintln(w, "net,index,name,layer,in_shape,out_shape,cores,fwd_us"); err != nil {
		return err
	}
	cores := runtime.GOMAXPROCS(0)
	for i, t := range timings {
		_, err := fmt.Fprintf(w, "%s,%d,%s,%q,%q,%q,%d,%.3f\n",
			netName, i, t.Name, t.Tag, fmt.Sprint(t.InShape), fmt.Sprint(t.OutShape), cores, utils.DurationUS(t.Fwd))
		if err != nil {
			return err
		}
	}
	return nil
}

// PrintTable prints timings and the per-tag aggregate to utils.Output.
// Respects utils.Verbose.
func PrintTable(timings []LayerTiming) {
	if !utils.Verbose {
		return
	}
	fmt.Fprintf(utils.Output, "%-28s | %-32s | %-18s | %12s\n", "Layer", "Type", "Output", "Fwd (µs)")
	var total time.Duration
	for _, t := range timings {
		fmt.Fprintf(utils.Output, "%-28s | %-32s | %-18s | %12.1f\n", t.Name, t.Tag, fmt.Sprint(t.OutShape), utils.DurationUS(t.Fwd))
		total += t.Fwd
	}
	fmt.Fprintf(utils.Output, "\nTotal: %v\n\nBy layer type:\n", total)
	for _, s := range Aggregate(timings) {
		fmt.Fprintf(utils.Output, "  %-32s x%-3d %v\n", s.Tag, s.Count, s.Total)
	}
}
