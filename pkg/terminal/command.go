// Package terminal implements functions for responding to user
// input and dispatching to the register access layer of the debugger.
package terminal

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/mcudbg/mcudbg/pkg/config"
	"github.com/mcudbg/mcudbg/pkg/cortexm"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases []string
	group   commandGroup
	helpMsg string
	cmdFn   cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the mcudbg terminal process.
type Commands struct {
	cmds []command
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"regs"}, group: dataCmds, cmdFn: regs, helpMsg: `Print contents of core registers.

	regs [-a]

Argument -a includes the floating point register file.`},
		{aliases: []string{"read", "rd"}, group: dataCmds, cmdFn: readRegisters, helpMsg: `Read registers by name.

	read <register> [<register> ...]

Composite registers (cfbp, xpsr, iapsr, eapsr, iepsr) are recomposed
from their backing registers. Values come from the register cache;
the probe is only contacted for registers not read since the target
last ran.`},
		{aliases: []string{"write", "w"}, group: dataCmds, cmdFn: writeRegisters, helpMsg: `Write registers by name.

	write <register> <value> [<register> <value> ...]

Values are parsed as Go integer literals (42, 0x2a). A value with a
decimal point written to an s-register stores the bit pattern of the
single precision float. Writes go through the register cache to the
target immediately.`},
		{aliases: []string{"invalidate", "inv"}, group: dataCmds, cmdFn: invalidate, helpMsg: `Drop all cached register values.

	invalidate

The next register access fetches fresh values from the target. Only
needed when target state changed through a channel the debugger does
not track.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: cont, helpMsg: `Run the target.

	continue [count]

Executes count instructions (default 100) and halts. Running the
target invalidates the register cache.`},
		{aliases: []string{"step-instruction", "si"}, group: runCmds, cmdFn: stepInstruction, helpMsg: "Single step a single cpu instruction."},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk.

	config alias <command> <alias>

Defines <alias> as an alias of <command>.

	config <parameter> <value>

Changes the value of a configuration parameter.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the debugger."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// Merge adds aliases defined in the configuration file to the default
// aliases of each command.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will replay the last command.
func (c *Commands) Find(cmdstr string) cmdfunc {
	// If <enter> use last command, if there was one.
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call runs the command in cmdstr.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 0, '-', 0)
	for _, group := range commandGroupDescriptions {
		fmt.Fprintf(w, "\n%s:\n", group.description)
		for _, cmd := range c.cmds {
			if cmd.group != group.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// formatRegister renders one register value the way the regs and read
// commands print it: zero padded hex, with the float interpretation
// appended for the s-registers.
func formatRegister(reg cortexm.Reg, value uint32) string {
	if reg >= cortexm.S0 && reg < cortexm.S0+32 {
		return fmt.Sprintf("0x%06x (%g)", value, cortexm.RawToFloat32(value))
	}
	return fmt.Sprintf("0x%06x", value)
}

func regs(t *Term, args string) error {
	all := t.conf != nil && t.conf.ShowFPURegisters
	switch args {
	case "":
	case "-a":
		all = true
	default:
		return fmt.Errorf("wrong argument: %q", args)
	}
	if all && !t.cache.HasFPU() {
		return errors.New("target has no FPU")
	}

	names := cortexm.RegisterNames(all)
	values, err := t.cache.ReadNamedRegistersRaw(names)
	if err != nil {
		return err
	}
	for i, name := range names {
		reg, _ := cortexm.LookupRegister(name)
		t.Println(fmt.Sprintf("%9s = ", name), formatRegister(reg, values[i]))
	}
	return nil
}

func readRegisters(t *Term, args string) error {
	names := config.SplitQuotedFields(args, '\'')
	if len(names) == 0 {
		return errors.New("not enough arguments")
	}
	values, err := t.cache.ReadNamedRegistersRaw(names)
	if err != nil {
		return err
	}
	for i, name := range names {
		reg, _ := cortexm.LookupRegister(name)
		t.Println(fmt.Sprintf("%9s = ", name), formatRegister(reg, values[i]))
	}
	return nil
}

func writeRegisters(t *Term, args string) error {
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return fmt.Errorf("illegal argument list '%s'", args)
	}
	fields := v[0]
	if len(fields) == 0 || len(fields)%2 != 0 {
		return errors.New("write expects register and value pairs")
	}

	names := make([]string, 0, len(fields)/2)
	values := make([]uint32, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		value, err := parseRegisterValue(fields[i], fields[i+1])
		if err != nil {
			return err
		}
		names = append(names, fields[i])
		values = append(values, value)
	}
	return t.cache.WriteNamedRegistersRaw(names, values)
}

// parseRegisterValue parses a value argument of the write command. A
// float literal targeting an s-register is stored by bit pattern.
func parseRegisterValue(name, arg string) (uint32, error) {
	if strings.Contains(arg, ".") {
		reg, err := cortexm.LookupRegister(name)
		if err != nil {
			return 0, err
		}
		if !cortexm.IsFPURegister(reg) || reg == cortexm.FPSCR {
			return 0, fmt.Errorf("float value %q for non float register %s", arg, name)
		}
		f, err := strconv.ParseFloat(arg, 32)
		if err != nil {
			return 0, err
		}
		return cortexm.Float32ToRaw(float32(f)), nil
	}
	value, err := strconv.ParseUint(arg, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(value), nil
}

func invalidate(t *Term, args string) error {
	t.cache.Invalidate()
	return nil
}

func cont(t *Term, args string) error {
	count := 100
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil {
			return fmt.Errorf("wrong argument: %q", args)
		}
		count = n
	}
	t.runner.Resume(count)
	return printStopped(t)
}

func stepInstruction(t *Term, args string) error {
	t.runner.Resume(1)
	return printStopped(t)
}

// printStopped reports where the target halted. Reading pc here goes
// through the cache, which notices the run token change and refetches.
func printStopped(t *Term) error {
	pc, err := t.cache.ReadRegister("pc")
	if err != nil {
		return err
	}
	t.Println("> ", fmt.Sprintf("halted at pc = 0x%06x", pc))
	return nil
}

func configureCmd(t *Term, args string) error {
	switch {
	case args == "-list":
		return configureList(t)
	case args == "-save":
		return config.SaveConfig(t.conf)
	case strings.HasPrefix(args, "alias "):
		return configureSetAlias(t, strings.TrimPrefix(args, "alias "))
	case args == "":
		return errors.New("wrong number of arguments to \"config\"")
	default:
		return configureSet(t, args)
	}
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "register-name-color\t%d\n", t.conf.RegisterNameColor)
	fmt.Fprintf(w, "show-fpu-registers\t%v\n", t.conf.ShowFPURegisters)
	fmt.Fprintf(w, "aliases\t%v\n", t.conf.Aliases)
	return w.Flush()
}

func configureSetAlias(t *Term, args string) error {
	argv := config.SplitQuotedFields(args, '"')
	if len(argv) != 2 {
		return fmt.Errorf("wrong number of arguments to alias: %d", len(argv))
	}
	if t.conf.Aliases == nil {
		t.conf.Aliases = make(map[string][]string)
	}
	t.conf.Aliases[argv[0]] = append(t.conf.Aliases[argv[0]], argv[1])
	t.cmds.Merge(map[string][]string{argv[0]: {argv[1]}})
	return nil
}

func configureSet(t *Term, args string) error {
	argv := config.SplitQuotedFields(args, '"')
	if len(argv) != 2 {
		return fmt.Errorf("wrong number of arguments to \"config\"")
	}
	switch argv[0] {
	case "register-name-color":
		n, err := strconv.Atoi(argv[1])
		if err != nil {
			return err
		}
		t.conf.RegisterNameColor = n
	case "show-fpu-registers":
		b, err := strconv.ParseBool(argv[1])
		if err != nil {
			return err
		}
		t.conf.ShowFPURegisters = b
	default:
		return fmt.Errorf("unknown configuration parameter %q", argv[0])
	}
	return nil
}

// ExitRequestError is returned when the user
// exits mcudbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}
