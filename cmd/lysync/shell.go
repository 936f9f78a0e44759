package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/lysync/internal/bridge"
	"github.com/srg/lysync/internal/console"
	"github.com/srg/lysync/internal/protocol"
	"github.com/srg/lysync/internal/registry"
	"github.com/srg/lysync/internal/scan"
	"golang.org/x/term"
)

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive scan and update shell",
	Long: `Start an interactive shell. Scans and updates run in the background while
the prompt stays responsive; their log lines are printed as they arrive.

When stdin is not a terminal, commands are read one per line, which allows
scripting:

  printf 'scan 5\nwait\nlist\nupdate t 0 2 C\nwait\n' | lysync shell`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

const collectorStopTimeout = 5 * time.Second

type shellCommand struct {
	name    string
	syntax  string
	summary string
	run     func(s *shell, args []string) error
}

var shellCommands []shellCommand

func init() {
	shellCommands = []shellCommand{
		{name: "scan", syntax: "scan [seconds]", summary: "Scan for a fixed time", run: (*shell).cmdScan},
		{name: "watch", syntax: "watch", summary: "Scan continuously until 'stop'", run: (*shell).cmdWatch},
		{name: "stop", syntax: "stop", summary: "Stop the running scan", run: (*shell).cmdStop},
		{name: "list", syntax: "list [query]", summary: "List discovered devices", run: (*shell).cmdList},
		{name: "update", syntax: "update <t|o> <index> [tz] [C|F] [half]", summary: "Write time and unit to a listed device", run: (*shell).cmdUpdate},
		{name: "wait", syntax: "wait", summary: "Wait for submitted scans and updates to finish", run: (*shell).cmdWait},
		{name: "history", syntax: "history", summary: "Show recent log lines", run: (*shell).cmdHistory},
		{name: "clear", syntax: "clear", summary: "Clear the log history", run: (*shell).cmdClear},
		{name: "forget", syntax: "forget", summary: "Forget all discovered devices", run: (*shell).cmdForget},
		{name: "help", syntax: "help", summary: "Show this help", run: (*shell).cmdHelp},
		{name: "exit", syntax: "exit", summary: "Leave the shell", run: (*shell).cmdExit},
	}
}

// shell is the foreground: it submits work to the bridge and renders events
type shell struct {
	app       *app
	out       *plainWriter
	collector *console.Collector

	// pending counts submitted operations whose terminal event has not been rendered
	pending sync.WaitGroup
	exit    bool
}

func newShell(a *app, w io.Writer) *shell {
	return &shell{app: a, out: &plainWriter{w: w}}
}

// onEvent is the collector sink; it runs on the collector goroutine
func (s *shell) onEvent(ev bridge.Event) {
	switch ev.Kind {
	case bridge.LogLine:
		s.out.Println(ev.Line)
	case bridge.ScanCompleted:
		s.out.Println(ev.Text())
		s.pending.Done()
	case bridge.UpdateFinished:
		paint := color.New(color.FgGreen).SprintFunc()
		if ev.Outcome == nil || !ev.Outcome.OK() {
			paint = color.New(color.FgRed).SprintFunc()
		}
		s.out.Println(paint(ev.Text()))
		s.pending.Done()
	}
}

func (s *shell) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return
	}

	name := strings.ToLower(fields[0])
	if name == "quit" {
		name = "exit"
	}
	for _, c := range shellCommands {
		if c.name == name {
			if err := c.run(s, fields[1:]); err != nil {
				s.out.Println(color.RedString("Error: %s", FormatUserError(err)))
			}
			return
		}
	}
	s.out.Println(fmt.Sprintf("Unknown command %q, type 'help' for usage", fields[0]))
}

// submit wraps a bridge submission so that wait covers it
func (s *shell) submit(fn func() error) error {
	s.pending.Add(1)
	if err := fn(); err != nil {
		s.pending.Done()
		return err
	}
	return nil
}

func (s *shell) cmdScan(args []string) error {
	d := s.app.cfg.ScanDuration
	if len(args) > 0 {
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid scan duration %q: expected a positive number of seconds", args[0])
		}
		d = time.Duration(secs) * time.Second
	}
	return s.submit(func() error { return s.app.bridge.SubmitScan(scan.Bounded(d)) })
}

func (s *shell) cmdWatch(_ []string) error {
	return s.submit(func() error { return s.app.bridge.SubmitScan(scan.Continuous()) })
}

func (s *shell) cmdStop(_ []string) error {
	if s.app.bridge.ScanState() != scan.Running {
		s.out.Println("No scan running.")
		return nil
	}
	s.app.bridge.StopScan()
	return nil
}

func (s *shell) cmdList(args []string) error {
	var b strings.Builder
	if err := renderDeviceTable(&b, listDevices(s.app.registry, strings.Join(args, " "))); err != nil {
		return err
	}
	s.out.Println(strings.TrimSuffix(b.String(), "\n"))
	return nil
}

func (s *shell) cmdUpdate(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: update <t|o> <index> [tz] [C|F] [half]")
	}
	partition, err := registry.ParsePartition(args[0])
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[1])
	}

	cfg := s.app.cfg
	offset, unitText, halfHour := cfg.Offset, cfg.Unit, cfg.HalfHour
	for _, arg := range args[2:] {
		switch strings.ToLower(arg) {
		case "half", "+30":
			halfHour = true
		case "c", "f", "celsius", "fahrenheit":
			unitText = arg
		default:
			tz, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("invalid argument %q: expected a UTC offset, C|F or half", arg)
			}
			offset = tz
		}
	}
	unit, err := protocol.ParseUnit(unitText)
	if err != nil {
		return err
	}

	rec, err := s.app.registry.Get(partition, index)
	if err != nil {
		return err
	}

	req := protocol.NewRequest(rec.ID, time.Now(), offset, unit, halfHour)
	if err := s.submit(func() error { return s.app.bridge.SubmitUpdate(req) }); err != nil {
		return err
	}
	s.out.Println(fmt.Sprintf("Update queued for %s: epoch %d, UTC%+d, unit %s", rec, req.Epoch, offset, unit))
	return nil
}

func (s *shell) cmdWait(_ []string) error {
	s.pending.Wait()
	return nil
}

func (s *shell) cmdHistory(_ []string) error {
	history := s.collector.History()
	if len(history) == 0 {
		s.out.Println("History is empty.")
		return nil
	}
	for _, rec := range history {
		s.out.Println(rec.String())
	}
	return nil
}

func (s *shell) cmdClear(_ []string) error {
	s.collector.Clear()
	s.out.Println("History cleared.")
	return nil
}

func (s *shell) cmdForget(_ []string) error {
	s.app.registry.Clear()
	s.out.Println("Discovered devices cleared.")
	return nil
}

func (s *shell) cmdHelp(_ []string) error {
	for _, c := range shellCommands {
		s.out.Println(fmt.Sprintf("  %-40s %s", c.syntax, c.summary))
	}
	return nil
}

func (s *shell) cmdExit(_ []string) error {
	s.exit = true
	return nil
}

// complete suggests command names, then partitions and indexes for update
func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	words := strings.Fields(text)
	if strings.HasSuffix(text, " ") {
		words = append(words, "")
	}

	switch {
	case len(words) <= 1:
		suggestions := make([]prompt.Suggest, 0, len(shellCommands))
		for _, c := range shellCommands {
			suggestions = append(suggestions, prompt.Suggest{Text: c.name, Description: c.summary})
		}
		return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)

	case words[0] == "update" && len(words) == 2:
		return prompt.FilterHasPrefix([]prompt.Suggest{
			{Text: "t", Description: s.app.registry.Marker() + " devices"},
			{Text: "o", Description: "other devices"},
		}, d.GetWordBeforeCursor(), true)

	case words[0] == "update" && len(words) == 3:
		partition, err := registry.ParsePartition(words[1])
		if err != nil {
			return nil
		}
		listing := listDevices(s.app.registry, "")
		rows := listing.Other
		if partition == registry.TargetModel {
			rows = listing.Target
		}
		suggestions := make([]prompt.Suggest, 0, len(rows))
		for _, r := range rows {
			suggestions = append(suggestions, prompt.Suggest{Text: strconv.Itoa(r.Index), Description: fmt.Sprintf("%s [%s]", r.Name, r.Address)})
		}
		return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), false)
	}
	return nil
}

func (s *shell) runPrompt() {
	s.out.Println("type 'help' for usage, 'exit' to leave")
	p := prompt.New(
		s.execute,
		s.complete,
		prompt.OptionPrefix("lysync> "),
		prompt.OptionTitle("lysync"),
		prompt.OptionPrefixTextColor(prompt.Cyan),
		prompt.OptionSetExitCheckerOnInput(func(_ string, breakline bool) bool {
			return breakline && s.exit
		}),
	)
	p.Run()
}

func (s *shell) runScript(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.execute(scanner.Text())
		if s.exit {
			break
		}
	}
	return scanner.Err()
}

func runShell(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	sh := newShell(a, cmd.OutOrStdout())
	collector, err := console.NewCollector(a.bridge.Events(), a.cfg.HistorySize, sh.onEvent)
	if err != nil {
		_ = a.Close()
		return err
	}
	sh.collector = collector
	if err := collector.Start(); err != nil {
		_ = a.Close()
		return err
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		sh.runPrompt()
	} else {
		err = sh.runScript(in)
	}

	// Closing the bridge stops any scan, lets queued work finish and closes
	// the event channel, which ends the collector after the last event.
	_ = a.Close()
	if waitErr := collector.Wait(collectorStopTimeout); waitErr != nil && err == nil {
		err = waitErr
	}
	return err
}
