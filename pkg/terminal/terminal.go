package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/mcudbg/mcudbg/pkg/config"
	"github.com/mcudbg/mcudbg/pkg/cortexm"
	"github.com/mcudbg/mcudbg/pkg/debug"
	"github.com/mcudbg/mcudbg/pkg/logflags"
)

const (
	historyFile                 string = ".mcudbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack   = 30
	ansiBlue    = 34
	ansiBrWhite = 97
)

// Runner is the run control surface of a target. The simulated core
// implements it; the register cache deliberately does not, run control
// is not its business.
type Runner interface {
	// Resume executes steps instructions and halts. Implementations
	// must advance the run token.
	Resume(steps int)
}

// Term represents the terminal running mcudbg.
type Term struct {
	cache    *debug.RegisterCache
	runner   Runner
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   io.Writer
	log      *logrus.Entry
	InitFile string

	cmdCompls *trie.Trie
	regCompls *trie.Trie
}

// New returns a new Term.
func New(cache *debug.RegisterCache, runner Runner, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := !isatty.IsTerminal(os.Stdout.Fd()) || strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	if conf.RegisterNameColor < ansiBlack || conf.RegisterNameColor > ansiBrWhite {
		conf.RegisterNameColor = ansiBlue
	}

	t := &Term{
		cache:  cache,
		runner: runner,
		conf:   conf,
		prompt: "(mcudbg) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: w,
		log:    logflags.TerminalLogger(),
	}

	t.cmdCompls = trie.New()
	for _, cmd := range cmds.cmds {
		for _, alias := range cmd.aliases {
			t.cmdCompls.Add(alias, nil)
		}
	}
	t.regCompls = trie.New()
	for _, name := range cortexm.AllNames() {
		t.regCompls.Add(name, nil)
	}

	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		fmt.Fprintln(t.stdout, "received SIGINT, type 'exit' to quit")
	}
}

// complete suggests completions for line: command names for the first
// word, register names afterwards.
func (t *Term) complete(line string) []string {
	idx := strings.LastIndex(line, " ")
	if idx < 0 {
		return t.cmdCompls.PrefixSearch(strings.ToLower(line))
	}
	prefix := line[:idx+1]
	c := t.regCompls.PrefixSearch(strings.ToLower(line[idx+1:]))
	r := make([]string, len(c))
	for i := range c {
		r[i] = prefix + c[i]
	}
	return r
}

// Run begins running mcudbg in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		t.log.Debugf("command: %q", cmdstr)
		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Println prints a line to the terminal, with the prefix highlighted.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, t.conf.RegisterNameColor)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

// executeFile runs each line of path as a command. Empty lines and
// lines starting with # are skipped.
func (c *Commands) executeFile(t *Term, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s:%d: %v\n", path, i+1, err)
		}
	}
	return nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}
	return 0, nil
}
