// Package cmds implements the command line interface of mcudbg.
package cmds

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcudbg/mcudbg/pkg/config"
	"github.com/mcudbg/mcudbg/pkg/debug"
	"github.com/mcudbg/mcudbg/pkg/logflags"
	"github.com/mcudbg/mcudbg/pkg/target/sim"
	"github.com/mcudbg/mcudbg/pkg/terminal"
	"github.com/mcudbg/mcudbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// initFile is the path to initialization file.
	initFile string
	// fpu is whether the simulated core has a floating point unit.
	fpu bool

	conf *config.Config
)

const mcudbgCommandLongDesc = `mcudbg is a register level debugger for ARM Cortex-M targets.

It keeps a write-through cache of the core register file so that
repeated register reads between halts cost no probe traffic, and it
understands the composite registers (cfbp, xpsr, iapsr, eapsr, iepsr)
that the architecture assembles from several physical registers.

This build drives a simulated core. Start it and type "help" at the
prompt for the list of commands.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand := &cobra.Command{
		Use:   "mcudbg",
		Short: "mcudbg is a debugger for ARM Cortex-M targets.",
		Long:  mcudbgCommandLongDesc,
		Run:   rootCmd,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (regcache,simcore,terminal)`)
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.Flags().BoolVar(&fpu, "fpu", true, "Simulate a core with a floating point unit.")

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcudbg Debugger\n%s\n", version.MCUDbgVersion)
			fmt.Printf("Build Details: %s\n", version.BuildInfo())
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func rootCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute())
}

func execute() int {
	if err := logflags.Setup(log, logOutput); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	core := sim.New(fpu)
	cache := debug.NewRegisterCache(core)

	term := terminal.New(cache, core, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
