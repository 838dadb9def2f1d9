package main

import (
	"log"

	"github.com/thiagokokada/branchwise/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("branchwise: %v", err)
	}
}
