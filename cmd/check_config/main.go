package main

import (
	"fmt"
	"os"

	"github.com/blockdaemon/programfilter/pkg/programfilter"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("missing argument: filePath")
		os.Exit(1)
	}
	filePath := os.Args[1]
	config, err := programfilter.LoadConfig(filePath)

	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Parsed: %d ignored, %d allowlisted programs, allowlist url %q every %v\n\n",
		len(config.ProgramIgnores), len(config.ProgramAllowlist),
		config.ProgramAllowlistURL, config.ProgramAllowlistUpdateInterval)

	errors := config.Check()
	if len(errors) > 0 {
		for _, e := range errors {
			fmt.Println(e)
		}
		os.Exit(1)
	}

	os.Exit(0)
}
