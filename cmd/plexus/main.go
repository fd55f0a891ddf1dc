// Package main provides the Plexus CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/plexus-ml/plexus/graph"
	"github.com/plexus-ml/plexus/network"
)

const version = "v0.0.1-dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("Plexus %s\n", version)
			return
		case "analyze":
			if len(os.Args) < 3 {
				fmt.Fprintln(os.Stderr, "usage: plexus analyze <graph.json>")
				os.Exit(2)
			}
			os.Exit(analyze(os.Args[2]))
		}
	}

	fmt.Println("Plexus - Layer Networks for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version              Show version")
	fmt.Println("  analyze <graph.json> Validate a network graph")
}

func analyze(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plexus: %v\n", err)
		return 1
	}

	var spec graph.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		fmt.Fprintf(os.Stderr, "plexus: %s is not a valid graph: %v\n", path, err)
		return 1
	}

	net, result, err := network.Compile(&spec)
	if result != nil {
		for _, issue := range result.Errors() {
			fmt.Println(issue)
		}
		for _, issue := range result.Warnings() {
			fmt.Println(issue)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "plexus: %v\n", err)
		return 1
	}

	fmt.Printf("%s: %d layers, ok", path, len(net.Layers()))
	if w := len(result.Warnings()); w > 0 {
		fmt.Printf(" (%d warnings)", w)
	}
	fmt.Println()
	return 0
}
