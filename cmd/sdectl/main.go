// Command sdectl is an operator inspector for a running composition
// core: it puts the controlling terminal into raw mode and lets an
// operator step through pipe/rotator state one keypress at a time, the
// same "terminal host" shape the engine's own debug console used.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/sdecore/sde/internal/display"
	"github.com/sdecore/sde/internal/pipe"
	"github.com/sdecore/sde/sde"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("sdectl: stdin is not a terminal")
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("sdectl: raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	w, h, err := term.GetSize(fd)
	if err != nil {
		w, h = 80, 24
	}

	engine := sde.New(pipe.Inventory{VIG: 4, RGB: 2, DMA: 2, Cursor: 1, SplashPipes: 1}, 2, 2, nil, display.DefaultNeedsResolver)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	fmt.Fprintf(out, "sdectl: %dx%d terminal, q to quit, p to print pipes, r to print rotators\r\n", w, h)
	out.Flush()

	buf := make([]byte, 1)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil || n == 0 {
			return err
		}
		switch buf[0] {
		case 'q', 3: // q or Ctrl-C
			return nil
		case 'p':
			printPipes(out, engine)
		case 'r':
			printRotators(out, engine)
		}
		out.Flush()
	}
}

func printPipes(out *bufio.Writer, e *sde.Engine) {
	for _, p := range e.Pipes() {
		fmt.Fprintf(out, "pipe %d type=%d prio=%d state=%d\r\n", p.ID, p.Type, p.Priority, p.State)
	}
}

func printRotators(out *bufio.Writer, e *sde.Engine) {
	for _, s := range e.Rotators() {
		fmt.Fprintf(out, "%s\r\n", s)
	}
}
