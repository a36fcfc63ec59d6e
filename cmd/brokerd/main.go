// Command brokerd runs the IPC broker as a standalone process. Process
// entry point and configuration loading are explicitly out of scope for
// THE CORE (spec §1), but a complete Go repo still needs a runnable
// binary; this follows cellorg/cmd/orchestrator/main.go's config-priority
// and signal-handling shape.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/LorenzoLeonardo/ipc-server/internal/broker"
	"github.com/LorenzoLeonardo/ipc-server/internal/config"
)

func main() {
	var cfg *config.Config
	var source string

	if len(os.Args) >= 2 {
		loaded, err := config.Load(os.Args[1])
		if err != nil {
			log.Fatalf("brokerd: failed to load config from %s: %v", os.Args[1], err)
		}
		cfg = loaded
		source = "config file: " + os.Args[1]
	} else if _, err := os.Stat("config/broker.yaml"); err == nil {
		loaded, loadErr := config.Load("config/broker.yaml")
		if loadErr != nil {
			log.Printf("brokerd: config/broker.yaml exists but failed to load: %v", loadErr)
			log.Printf("brokerd: using hardcoded defaults instead")
			cfg = config.Default()
			source = "hardcoded defaults (config/broker.yaml failed to parse)"
		} else {
			cfg = loaded
			source = "config/broker.yaml (default)"
		}
	} else {
		cfg = config.Default()
		source = "hardcoded defaults"
	}

	log.Printf("brokerd: starting using %s", source)
	if cfg.Debug {
		log.Printf("brokerd: debug enabled for app %s", cfg.AppName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broker.New(cfg.Broker.Address, cfg.Broker.Debug)

	done := make(chan error, 1)
	go func() {
		done <- b.Start(ctx)
	}()

	log.Printf("brokerd: broker listening on %s", cfg.Broker.Address)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("brokerd: received signal %s, shutting down", sig)
		cancel()
		if err := <-done; err != nil {
			log.Printf("brokerd: shutdown error: %v", err)
		}
	case err := <-done:
		if err != nil {
			log.Printf("brokerd: broker exited with error: %v", err)
		}
	}
}
