// Command kettled compiles and runs pipeline documents.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

// These variables are populated via the Go linker.
var (
	version string
	commit  string
)

func init() {
	// If commit is not set, make that clear.
	if commit == "" {
		commit = "unknown"
	}
	if version == "" {
		version = "dev"
	}
}

func main() {
	m := NewMain()
	if err := m.Run(os.Args...); err != nil {
		fmt.Fprintln(m.Stderr, err)
		if ec, ok := err.(cli.ExitCoder); ok {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}

// Main represents the program execution.
type Main struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewMain return a new instance of Main.
func NewMain() *Main {
	return &Main{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run runs the command named by args[1].
func (m *Main) Run(args ...string) error {
	return m.App().Run(args)
}

// App builds the command line application.
func (m *Main) App() *cli.App {
	return &cli.App{
		Name:                 "kettled",
		Usage:                "Compile and run data pipelines",
		UsageText:            "kettled [command]",
		Version:              fmt.Sprintf("%s (commit %s)", version, commit),
		EnableBashCompletion: true,
		Reader:               m.Stdin,
		Writer:               m.Stdout,
		ErrWriter:            m.Stderr,
		// Errors are printed by main.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			m.newRunCmd(),
			m.newCompileCmd(),
			m.newExportCmd(),
			m.newRunsCmd(),
			m.newConfigCmd(),
		},
	}
}
