// Package cli provides the command-line interface for extending and
// inspecting XAdES signatures.
package cli

import (
	"fmt"
	"os"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "extend":
		ExtendCommand(args)
	case "inspect":
		InspectCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
		osExit(2)
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("goxades - XAdES signature extension tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  extend   Extend the signatures of an XML document to a higher XAdES level")
	fmt.Println("  inspect  Report the level and evidence consistency of each signature")
	fmt.Println("  version  Show version information")
	fmt.Println("  help     Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s extend -config goxades.yaml signed.xml extended.xml\n", os.Args[0])
	fmt.Printf("  %s extend -config goxades.yaml -level A signed.xml archived.xml\n", os.Args[0])
	fmt.Printf("  %s inspect -json extended.xml\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("goxades version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}
