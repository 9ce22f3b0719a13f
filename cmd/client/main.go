// resnet-client: runs the backbone locally and the classifier head on an
// encrypted-head server
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net"
	"os"
	"time"

	"resnet_lib/core/ckkswrapper"
	"resnet_lib/nn"
	"resnet_lib/nn/resnet"
	"resnet_lib/split"
	"resnet_lib/tensor"
	"resnet_lib/utils"
)

var (
	addr        = flag.String("addr", "127.0.0.1:9000", "Server address")
	arch        = flag.String("arch", "resnet50", "Architecture: resnet50, resnet101, resnet152")
	blocks      = flag.String("blocks", "", "Override block counts per stage, e.g. \"3,4,6,3\"")
	classes     = flag.Int("classes", resnet.DefaultNumClasses, "Number of classes (for -check)")
	weightsFile = flag.String("weights", "", "Weights file (.json or .safetensors)")
	size        = flag.Int("size", 224, "Input height and width")
	batch       = flag.Int("batch", 1, "Batch size")
	logN        = flag.Int("logN", ckkswrapper.DefaultLogN, "Ring dimension log2")
	seed        = flag.Int64("seed", 42, "Seed for initialization and input")
	check       = flag.Bool("check", false, "Also run the head locally and report the largest logit error")
	topK        = flag.Int("topk", 5, "Top predictions to show")
	verbose     = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

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
		IncludeHead:    *check,
		InputSize:      *size,
		BatchSize:      *batch,
		Seed:           *seed,
	}
	stats := &utils.TimingStats{}
	total := time.Now()

	log("Client starting (arch=%s, logN=%d)", cfg.Arch, *logN)
	start := time.Now()
	model, err := resnet.FromRunConfig(cfg)
	if err != nil {
		return err
	}
	stats.ModelInitTime = time.Since(start)
	if *weightsFile != "" {
		start = time.Now()
		if err := model.LoadFile(*weightsFile, false); err != nil {
			return err
		}
		stats.WeightsLoadTime = time.Since(start)
		log("Loaded weights from %s", *weightsFile)
	}

	heCtx, err := ckkswrapper.NewHeContextWithLogN(*logN)
	if err != nil {
		return err
	}
	log("HE context ready (%d slots)", heCtx.MaxSlots())

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	client, err := split.NewHeadClient(heCtx, conn, resnet.FeatureDim)
	if err != nil {
		return err
	}
	client.Stats = stats
	log("Connected to %s", *addr)

	rng := rand.New(rand.NewSource(cfg.Seed))
	x := tensor.New(cfg.BatchSize, resnet.InputChannels, cfg.InputSize, cfg.InputSize)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}

	model.Stats = stats
	start = time.Now()
	feats, err := model.Features(x)
	if err != nil {
		return err
	}
	stats.ForwardPassTime += time.Since(start)
	log("Features %v computed", feats.Shape)

	logits, err := client.ClassifyBatch(feats)
	if err != nil {
		return err
	}
	if err := client.Close(); err != nil {
		return err
	}
	stats.TotalTime = time.Since(total)

	probs, err := nn.SoftmaxRows(logits)
	if err != nil {
		return err
	}
	n := probs.Shape[1]
	for b := 0; b < probs.Shape[0]; b++ {
		row := probs.Data[b*n : (b+1)*n]
		fmt.Printf("\nImage %d, top predictions:\n", b)
		for i, idx := range nn.TopK(row, *topK) {
			fmt.Printf("  %d. Class %d: %.4f\n", i+1, idx, row[idx])
		}
	}

	if *check {
		plain, err := model.FC.Forward(feats)
		if err != nil {
			return err
		}
		if len(plain.Data) != len(logits.Data) {
			return fmt.Errorf("server head has %d classes, local head %d", logits.Shape[1], plain.Shape[1])
		}
		maxErr := 0.0
		for i := range plain.Data {
			maxErr = math.Max(maxErr, math.Abs(plain.Data[i]-logits.Data[i]))
		}
		fmt.Printf("\nMax |encrypted - plaintext| logit error: %.3e\n", maxErr)
	}

	utils.PrintTimingStats(stats, 1)
	return nil
}

func log(format string, args ...interface{}) {
	if *verbose {
		fmt.Fprintf(os.Stderr, "[CLIENT] "+format+"\n", args...)
	}
}
