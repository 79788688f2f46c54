package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"nestkbd/internal/ime"
	"nestkbd/internal/keystate"
)

// console reads gesture commands and drives the keyboard with them. It
// stands in for the renderer: every command maps to one pointer gesture.
type console struct {
	app *app
	out io.Writer
}

func newConsole(a *app, out io.Writer) *console {
	return &console{app: a, out: out}
}

// Run executes lines from in until quit, EOF or ctx is done.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case line := <-lines:
			if quit := c.exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// exec runs one command line. It reports whether the console should stop.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]
	kb := c.app.kb

	needKey := func() (string, bool) {
		if len(args) != 1 {
			fmt.Fprintf(c.out, "usage: %s <key>\n", cmd)
			return "", false
		}
		return args[0], true
	}

	switch cmd {
	case "quit", "exit":
		return true

	case "help":
		fmt.Fprintln(c.out, "commands: press release tap type hover label state disable enable keys ime health journal quit")

	case "press", "release", "tap", "disable", "enable":
		id, ok := needKey()
		if !ok {
			return false
		}
		var err error
		switch cmd {
		case "press":
			err = kb.Press(ctx, id)
		case "release":
			err = kb.Release(ctx, id)
		case "tap":
			if err = kb.Press(ctx, id); err == nil {
				err = kb.Release(ctx, id)
			}
		case "disable":
			err = kb.Disable(id)
		case "enable":
			err = kb.Enable(id)
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		c.printState(id)

	case "type":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), cmd))
		if text == "" {
			fmt.Fprintln(c.out, "usage: type <text>")
			return false
		}
		keys, err := kb.Type(ctx, text)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintf(c.out, "typed %q\n", keys)

	case "hover":
		id, ok := needKey()
		if !ok {
			return false
		}
		if id == "-" {
			id = ""
		}
		if err := kb.Hover(id); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		if id != "" {
			c.printState(id)
		}

	case "label":
		id, ok := needKey()
		if !ok {
			return false
		}
		fmt.Fprintf(c.out, "%s: %s\n", id, kb.Label(id))

	case "state":
		id, ok := needKey()
		if !ok {
			return false
		}
		hist, err := kb.History(id)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		names := make([]string, len(hist))
		for i, s := range hist {
			names[i] = s.String()
		}
		c.printState(id)
		fmt.Fprintf(c.out, "  history: %s\n", strings.Join(names, " "))

	case "keys":
		ids := kb.Keys()
		if len(args) == 1 {
			want, err := keystate.ParseState(args[0])
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
				return false
			}
			matched := ids[:0]
			for _, id := range ids {
				if s, err := kb.State(id); err == nil && s == want {
					matched = append(matched, id)
				}
			}
			ids = matched
		}
		fmt.Fprintln(c.out, strings.Join(ids, " "))

	case "ime":
		e := kb.Engine()
		h := e.Health()
		fmt.Fprintf(c.out, "ime: %s (%s, failures=%d, context=%q)\n",
			e.Mode(), e.SyncState(), h.ConsecutiveFailures, string(h.LastContext))

	case "health":
		report := c.app.checker.Report(ctx, true)
		fmt.Fprintf(c.out, "health: %s\n", report.Status)
		for _, name := range c.app.checker.Names() {
			r, ok := report.Components[name]
			if !ok {
				continue
			}
			fmt.Fprintf(c.out, "  %s: %s %s\n", name, r.Status, r.Message)
		}

	case "journal":
		n := 5
		if len(args) == 1 {
			v, err := strconv.Atoi(args[0])
			if err != nil || v <= 0 {
				fmt.Fprintln(c.out, "usage: journal [count]")
				return false
			}
			n = v
		}
		c.printJournal(n)

	default:
		fmt.Fprintf(c.out, "unknown command %q (try help)\n", cmd)
	}
	return false
}

func (c *console) printState(id string) {
	kb := c.app.kb
	s, err := kb.State(id)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	color, _ := kb.Color(id)
	flags := ""
	if kb.IsActive(id) && s != keystate.Pressed && s != keystate.Locked {
		flags = " active"
	}
	fmt.Fprintf(c.out, "%s: %s %s label=%q%s\n", id, s, color, kb.Label(id), flags)
}

// printJournal prints this run's event counts and the latest n events of
// every run.
func (c *console) printJournal(n int) {
	j := c.app.journal
	if j == nil {
		fmt.Fprintln(c.out, "journal disabled")
		return
	}
	counts, err := j.CountByKind()
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[ime.EventKind(k)])
	}
	fmt.Fprintf(c.out, "journal run %s: %s\n", j.RunID(), strings.Join(parts, " "))

	entries, err := j.RecentAll(n)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	for _, e := range entries {
		run := "prev"
		if e.RunID == j.RunID() {
			run = "this"
		}
		line := fmt.Sprintf("  %s %s %s %s failures=%d",
			e.Timestamp.Format(time.RFC3339), run, e.Kind, e.Mode, e.Failures)
		if e.Error != "" {
			line += " error=" + strconv.Quote(e.Error)
		}
		fmt.Fprintln(c.out, line)
	}
}
