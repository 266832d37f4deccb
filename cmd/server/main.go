// Command server runs the storage kernel's HTTP admin surface.
package main

import (
	"flag"
	"log"

	"github.com/etushar89/rdbms-core/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	host := flag.String("host", "", "listen host (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	flag.Parse()

	cfg := server.DefaultConfig()
	if *configPath != "" {
		loaded, err := server.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	if err := srv.Run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
