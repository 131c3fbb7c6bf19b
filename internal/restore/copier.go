package restore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/atotto/clipboard"
)

// ErrNoHTMLTool is returned when an HTML-only selection cannot be copied
// because no HTML-capable clipboard command is installed.
var ErrNoHTMLTool = errors.New("no HTML clipboard command (install wl-copy or xclip)")

const commandWaitDelay = 500 * time.Millisecond

// CommandCopier is the legacy copier for desktop systems. HTML goes through
// wl-copy or xclip fed from the helper file; plain text goes through the
// portable text clipboard.
type CommandCopier struct {
	// htmlCommand returns the argv that reads HTML on stdin, or nil.
	htmlCommand func() []string
	writeText   func(string) error
	run         func(ctx context.Context, argv []string, stdinPath string) error
}

// NewCommandCopier returns a copier for the current platform.
func NewCommandCopier() *CommandCopier {
	return &CommandCopier{
		htmlCommand: htmlCommand,
		writeText:   writeSystemText,
		run:         runCommand,
	}
}

// Copy writes sel. HTML is preferred; text is used when there is no HTML or
// the HTML command fails.
func (c *CommandCopier) Copy(ctx context.Context, sel Selection, helper string) error {
	if sel.HTML != "" {
		argv := c.htmlCommand()
		switch {
		case argv != nil:
			err := c.run(ctx, argv, helper)
			if err == nil {
				return nil
			}
			if sel.Text == "" {
				return fmt.Errorf("%s: %w", argv[0], err)
			}
		case sel.Text == "":
			return ErrNoHTMLTool
		}
	}
	if err := c.writeText(sel.Text); err != nil {
		return fmt.Errorf("write text: %w", err)
	}
	return nil
}

func writeSystemText(s string) error {
	if clipboard.Unsupported {
		return errors.New("no system clipboard available")
	}
	return clipboard.WriteAll(s)
}

func htmlCommand() []string {
	if runtime.GOOS != "linux" && runtime.GOOS != "freebsd" {
		return nil
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		if _, err := exec.LookPath("wl-copy"); err == nil {
			return []string{"wl-copy", "--type", "text/html"}
		}
	}
	if _, err := exec.LookPath("xclip"); err == nil {
		return []string{"xclip", "-selection", "clipboard", "-t", "text/html", "-i"}
	}
	return nil
}

func runCommand(ctx context.Context, argv []string, stdinPath string) error {
	in, err := os.Open(stdinPath)
	if err != nil {
		return err
	}
	defer in.Close()
	// xclip forks a child that owns the selection and inherits stderr.
	// WaitDelay bounds how long Wait waits for that pipe to close.
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = in
	cmd.Stderr = &stderr
	cmd.WaitDelay = commandWaitDelay
	err = cmd.Run()
	if errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
