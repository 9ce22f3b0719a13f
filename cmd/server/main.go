// resnet-server: serves the encrypted classifier head over TCP
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"resnet_lib/nn/resnet"
	"resnet_lib/split"
	"resnet_lib/utils"
)

var (
	addr        = flag.String("addr", "127.0.0.1:9000", "Listen address")
	arch        = flag.String("arch", "resnet50", "Architecture: resnet50, resnet101, resnet152")
	blocks      = flag.String("blocks", "", "Override block counts per stage, e.g. \"3,4,6,3\"")
	classes     = flag.Int("classes", resnet.DefaultNumClasses, "Number of classes")
	weightsFile = flag.String("weights", "", "Weights file (.json or .safetensors)")
	seed        = flag.Int64("seed", 42, "Seed for initialization when no weights are given")
	verbose     = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	log("Server starting (arch=%s, classes=%d)", *arch, *classes)

	counts, err := resnet.ResolveBlocks(*arch, *blocks)
	if err != nil {
		fatal(err)
	}
	model, err := resnet.New(resnet.Config{BlocksPerStage: counts, NumClasses: *classes, IncludeHead: true, Seed: *seed})
	if err != nil {
		fatal(err)
	}
	if *weightsFile != "" {
		if err := model.LoadFile(*weightsFile, true); err != nil {
			fatal(err)
		}
		log("Loaded weights from %s", *weightsFile)
	}
	log("Head ready: %s", model.FC.Tag())

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "Listening on %s\n", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			log("Accept error: %v", err)
			continue
		}
		go func(conn net.Conn) {
			defer conn.Close()
			log("Client %s connected", conn.RemoteAddr())
			srv := split.NewHeadServer(model.FC)
			if err := srv.Serve(conn); err != nil {
				log("Client %s: %v", conn.RemoteAddr(), err)
				return
			}
			log("Client %s done", conn.RemoteAddr())
		}(conn)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func log(format string, args ...interface{}) {
	if *verbose {
		fmt.Fprintf(os.Stderr, "[SERVER] "+format+"\n", args...)
	}
}
