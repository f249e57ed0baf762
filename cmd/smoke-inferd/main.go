package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"remember2.co/relay/internal/inference"
	"remember2.co/relay/internal/obs"
)

func main() {
	addr := os.Getenv("RELAY_INFERENCE_ENDPOINT")
	if addr == "" {
		addr = "localhost:9091"
	}

	backend, err := inference.DialGRPC(addr, 32)
	if err != nil {
		log.Fatalf("dial inferd at %s: %v", addr, err)
	}
	defer backend.Close()

	gw, err := inference.NewGateway("grpc", backend, nil)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	prompt := fmt.Sprintf("smoke-%d: reply with one word", time.Now().Unix())
	reply, err := gw.Generate(ctx, prompt)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	if strings.TrimSpace(reply) == "" {
		log.Fatalf("empty reply for %q", prompt)
	}

	fmt.Printf("✅ inferd smoke test passed: %q\n", obs.Truncate(reply, 80))
}
