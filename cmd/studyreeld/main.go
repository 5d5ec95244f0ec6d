package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"studyreel/internal/config"
	"studyreel/internal/daemonrun"
)

func main() {
	var configPath string
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" || args[i] == "-c":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--help" || args[i] == "-h":
			fmt.Println("Usage: studyreeld [--config PATH]")
			return
		}
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg); err != nil {
		log.Fatalf("studyreeld: %v", err)
	}
}
