// resnet-infer: plaintext ResNet inference on synthetic images
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"resnet_lib/core/ckkswrapper"
	"resnet_lib/nn"
	"resnet_lib/nn/bench"
	"resnet_lib/nn/resnet"
	"resnet_lib/tensor"
	"resnet_lib/utils"
)

var (
	arch        = flag.String("arch", "resnet50", "Architecture: resnet50, resnet101, resnet152")
	blocks      = flag.String("blocks", "", "Override block counts per stage, e.g. \"3,4,6,3\"")
	weightsFile = flag.String("weights", "", "Weights file (.json or .safetensors)")
	saveFile    = flag.String("save", "", "Write the model's weights to this file (.json or .safetensors)")
	classes     = flag.Int("classes", resnet.DefaultNumClasses, "Number of classes")
	size        = flag.Int("size", 224, "Input height and width")
	batch       = flag.Int("batch", 1, "Batch size")
	seed        = flag.Int64("seed", 42, "Seed for initialization and input")
	zeros       = flag.Bool("zeros", false, "Use all-zero images instead of random ones")
	topK        = flag.Int("topk", 5, "Top predictions to show")
	noHead      = flag.Bool("no-head", false, "Drop the classifier head and print the feature map shape")
	profile     = flag.Int("profile", 0, "Time every layer over this many runs")
	csvFile     = flag.String("csv", "", "Write per-layer timings to this CSV file (with -profile)")
	heHead      = flag.Bool("he", false, "Also evaluate the head on encrypted features of the first image")
	logN        = flag.Int("logN", ckkswrapper.DefaultLogN, "Ring dimension log2 (with -he)")
	verbose     = flag.Bool("verbose", true, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                   ResNet Inference                           ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	counts, err := resnet.ResolveBlocks(*arch, *blocks)
	if err != nil {
		return err
	}
	cfg := &utils.Config{
		Arch:           *arch,
		BlocksPerStage: counts,
		NumClasses:     *classes,
		IncludeHead:    !*noHead,
		InputSize:      *size,
		BatchSize:      *batch,
		Seed:           *seed,
	}
	stats := &utils.TimingStats{}
	total := time.Now()

	start := time.Now()
	model, err := resnet.FromRunConfig(cfg)
	if err != nil {
		return err
	}
	stats.ModelInitTime = time.Since(start)
	fmt.Printf("Model: %s %v, head=%v, %d learnable parameters\n", cfg.Arch, cfg.BlocksPerStage, cfg.IncludeHead, model.ParamCount())

	if *weightsFile != "" {
		start = time.Now()
		if err := model.LoadFile(*weightsFile, model.HasHead()); err != nil {
			return fmt.Errorf("loading weights: %w", err)
		}
		stats.WeightsLoadTime = time.Since(start)
		utils.Logf("Loaded weights from %s\n", *weightsFile)
	}
	if *saveFile != "" {
		if err := model.SaveFile(*saveFile); err != nil {
			return fmt.Errorf("saving weights: %w", err)
		}
		utils.Logf("Saved weights to %s\n", *saveFile)
	}

	x := tensor.New(cfg.BatchSize, resnet.InputChannels, cfg.InputSize, cfg.InputSize)
	if !*zeros {
		rng := rand.New(rand.NewSource(cfg.Seed))
		for i := range x.Data {
			x.Data[i] = rng.NormFloat64()
		}
	}
	fmt.Printf("Input: %v\n", x.Shape)

	fmt.Println("\nRunning inference...")
	model.Stats = stats
	y, err := model.Forward(x)
	if err != nil {
		return err
	}
	stats.TotalTime = time.Since(total)
	fmt.Printf("Output: %v (finite=%v)\n", y.Shape, y.AllFinite())

	if model.HasHead() {
		probs, err := nn.SoftmaxRows(y)
		if err != nil {
			return err
		}
		showResults(probs, *topK)
	}
	utils.PrintTimingStats(stats, 1)

	if *profile > 0 {
		model.Stats = nil
		if err := runProfile(model, x); err != nil {
			return err
		}
	}
	if *heHead && model.HasHead() {
		if err := runEncryptedHead(model, x); err != nil {
			return err
		}
	}
	return nil
}

func runProfile(model *resnet.ResNet, x *tensor.Tensor) error {
	fmt.Printf("\nProfiling layers (%d runs each)...\n", *profile)
	timings, err := bench.Profile(model, x, *profile)
	if err != nil {
		return err
	}
	bench.PrintTable(timings)
	if *csvFile == "" {
		return nil
	}
	f, err := os.Create(*csvFile)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := bench.WriteCSV(f, *arch, timings); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", *csvFile)
	return nil
}

func runEncryptedHead(model *resnet.ResNet, x *tensor.Tensor) error {
	feats, err := model.Features(x)
	if err != nil {
		return err
	}
	heCtx, err := ckkswrapper.NewHeContextWithLogN(*logN)
	if err != nil {
		return err
	}
	ht, err := bench.TimeEncryptedHead(heCtx, model.FC, feats.Data[:resnet.FeatureDim])
	if err != nil {
		return err
	}
	fmt.Printf("\nEncrypted head (%s)\n", ht.Params)
	fmt.Printf("  Encrypt: %v, head: %v, decrypt: %v\n", ht.Encrypt, ht.Fwd, ht.Decrypt)
	fmt.Printf("  Rotations: %d, multiplications: %d\n", ht.Rot, ht.Mul)
	fmt.Printf("  Max logit error vs plaintext: %.3e\n", ht.MaxErr)
	return nil
}

func showResults(probs *tensor.Tensor, k int) {
	n := probs.Shape[1]
	for b := 0; b < probs.Shape[0]; b++ {
		row := probs.Data[b*n : (b+1)*n]
		indices := nn.TopK(row, k)
		fmt.Printf("\nImage %d, top %d predictions:\n", b, len(indices))
		for i, idx := range indices {
			fmt.Printf("  %d. Class %d: %.4f\n", i+1, idx, row[idx])
		}
	}
}
