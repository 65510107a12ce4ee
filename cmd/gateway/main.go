package main

import (
	"cmp"
	"context"
	"log"
	"os"

	"github.com/cxdexx/codex-passport/internal/app/bootstrap"
)

func main() {
	ctx := context.Background()
	cfgPath := cmp.Or(os.Getenv("CONFIG_PATH"), "configs/default.yaml")

	rt, err := bootstrap.NewRuntime(ctx, cfgPath)
	if err != nil {
		log.Fatalf("gateway bootstrap: %v", err)
	}
	if err := rt.RunAPI(ctx); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}
