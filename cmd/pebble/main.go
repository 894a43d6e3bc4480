// Pebble CLI - an interactive front end for the Pebble VM and its collector
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/pebble/manifest"
	"github.com/chazu/pebble/trace"
	"github.com/chazu/pebble/vm"
)

func main() {
	interactive := flag.Bool("i", false, "Start interactive REPL")
	script := flag.String("e", "", "Evaluate a semicolon-separated command script and exit")
	capacity := flag.Int("stack", 0, "Root stack capacity (overrides pebble.toml)")
	threshold := flag.Int("threshold", 0, "Initial collection threshold (overrides pebble.toml)")
	tracePath := flag.String("trace", "", "Record collections to this SQLite database")
	loadPath := flag.String("load", "", "Restore the heap from a snapshot file before starting")
	verbose := flag.Int("v", 0, "Log verbosity")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pebble [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the Pebble VM, a stack machine with a mark-and-sweep collector.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pebble -i                            # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  pebble -e 'push 1; push 2; pair; collect; stats'\n")
		fmt.Fprintf(os.Stderr, "  pebble -i -trace gc.db               # Record every collection\n")
		fmt.Fprintf(os.Stderr, "  pebble -i -load heap.cbor            # Resume from a snapshot\n")
	}
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	// Manifest settings apply first; flags override.
	cfg := vm.Config{}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading pebble.toml: %v\n", err)
		os.Exit(1)
	}
	if m != nil {
		cfg.StackCapacity = m.VM.StackCapacity
		cfg.InitialThreshold = m.VM.InitialThreshold
		cfg.MaxObjects = m.VM.MaxObjects
		if *tracePath == "" && m.Trace.Enabled {
			*tracePath = m.TracePath()
		}
	}
	if *capacity > 0 {
		cfg.StackCapacity = *capacity
	}
	if *threshold > 0 {
		cfg.InitialThreshold = *threshold
	}

	var vmInst *vm.VM
	if *loadPath != "" {
		vmInst, err = vm.ReadSnapshotFile(*loadPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading snapshot: %v\n", err)
			os.Exit(1)
		}
	} else {
		vmInst = vm.NewVMWithConfig(cfg)
	}

	session := &session{vm: vmInst, out: os.Stdout}
	// The session VM can be swapped by 'load'; close whichever is live.
	defer func() { session.vm.Close() }()

	if *tracePath != "" {
		recorder, err := trace.Open(*tracePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening trace database: %v\n", err)
			os.Exit(1)
		}
		defer recorder.Close()
		session.recorder = recorder
		session.runID = trace.NewRunID()
	}

	if *script != "" {
		if err := session.runScript(*script); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *interactive || flag.NArg() == 0 {
		session.runREPL()
	}
}

// session holds the state shared by the REPL and script runner.
type session struct {
	vm       *vm.VM
	recorder *trace.Recorder
	runID    string
	out      io.Writer
}

// runScript evaluates a semicolon-separated command string.
func (s *session) runScript(script string) error {
	for _, cmd := range strings.Split(script, ";") {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if err := s.eval(cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return nil
}

// runREPL starts an interactive read-eval-print loop.
func (s *session) runREPL() {
	fmt.Fprintln(s.out, "Pebble REPL (type 'exit' to quit, 'help' for commands)")
	fmt.Fprintln(s.out)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(s.out, ">> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := s.eval(line); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// eval executes a single REPL command.
func (s *session) eval(line string) error {
	fields := strings.Fields(line)
	verb, args := fields[0], fields[1:]

	switch verb {
	case "help":
		s.printHelp()
		return nil

	case "push":
		if len(args) != 1 {
			return fmt.Errorf("usage: push N")
		}
		n, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		obj, err := s.vm.PushInt(int32(n))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "pushed %s\n", obj)
		return nil

	case "pair":
		obj, err := s.vm.PushPair()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "pushed %s\n", obj)
		return nil

	case "pop":
		obj, err := s.vm.Pop()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "popped %s\n", obj)
		return nil

	case "collect":
		stats := s.vm.Collect()
		fmt.Fprintf(s.out, "reclaimed %d, remaining %d (next threshold %d)\n",
			stats.Reclaimed, stats.Remaining, stats.Threshold)
		if s.recorder != nil {
			if err := s.recorder.Record(s.runID, stats); err != nil {
				return fmt.Errorf("recording collection: %w", err)
			}
		}
		return nil

	case "stats":
		heap := vm.NewInspector(s.vm).Stats()
		fmt.Fprintf(s.out, "stack %d/%d  live %d (ints %d, pairs %d)  reachable %d  threshold %d  collections %d\n",
			s.vm.StackSize(), s.vm.StackCapacity(), heap.Total, heap.Ints, heap.Pairs,
			heap.Reachable, s.vm.Threshold(), s.vm.CollectionCount())
		return nil

	case "inspect":
		inspector := vm.NewInspector(s.vm)
		roots := s.vm.Roots()
		if len(roots) == 0 {
			fmt.Fprintln(s.out, "stack empty")
			return nil
		}
		// Top of stack last, matching push order.
		for _, root := range roots {
			fmt.Fprint(s.out, inspector.Inspect(root).Render())
		}
		return nil

	case "save":
		if len(args) != 1 {
			return fmt.Errorf("usage: save FILE")
		}
		if err := s.vm.WriteSnapshotFile(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "saved %d objects to %s\n", s.vm.LiveCount(), args[0])
		return nil

	case "load":
		if len(args) != 1 {
			return fmt.Errorf("usage: load FILE")
		}
		restored, err := vm.ReadSnapshotFile(args[0])
		if err != nil {
			return err
		}
		s.vm.Close()
		s.vm = restored
		fmt.Fprintf(s.out, "loaded %d objects from %s\n", s.vm.LiveCount(), args[0])
		return nil

	default:
		return fmt.Errorf("unknown command %q (try 'help')", verb)
	}
}

func (s *session) printHelp() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  push N      allocate an integer and push it")
	fmt.Fprintln(s.out, "  pair        pop two operands into a new pair (top becomes head)")
	fmt.Fprintln(s.out, "  pop         pop the top of the stack")
	fmt.Fprintln(s.out, "  collect     run a full mark-and-sweep collection")
	fmt.Fprintln(s.out, "  stats       show stack, heap, and collector statistics")
	fmt.Fprintln(s.out, "  inspect     show the structure of every stack root")
	fmt.Fprintln(s.out, "  save FILE   write a CBOR heap snapshot")
	fmt.Fprintln(s.out, "  load FILE   replace the heap with a saved snapshot")
	fmt.Fprintln(s.out, "  exit        quit")
}
