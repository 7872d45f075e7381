package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/terminald/internal/client"
	"github.com/srg/terminald/internal/console"
	"github.com/srg/terminald/internal/termios"
	"github.com/srg/terminald/internal/userfile"
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Use a new terminal from this console",
	Long: `Creates a terminal and becomes its master. Keystrokes go to the
terminal's line discipline and its output is shown on this console. The
console's window size is kept in sync with the terminal.

The slave file name is printed so that other processes can open it, e.g.
with "terminald stty <name>".

Press the escape key (Ctrl+] by default) to detach, which closes the
terminal.`,
	Args: cobra.NoArgs,
	RunE: runAttach,
}

var (
	attachEscape  string
	attachVerbose bool
)

func init() {
	attachCmd.Flags().StringVar(&attachEscape, "escape", "^]", "Detach key in caret notation, or \"none\"")
	attachCmd.Flags().BoolVar(&attachVerbose, "verbose", false, "Enable debug logging")
}

// parseEscape reads a detach key such as "^]". "none" disables it.
func parseEscape(s string) (byte, bool, error) {
	switch {
	case s == "none" || s == "":
		return 0, false, nil
	case len(s) == 2 && s[0] == '^':
		if s[1] == '?' {
			return 0x7f, true, nil
		}
		return termios.Control(s[1]), true, nil
	case len(s) == 1:
		return s[0], true, nil
	default:
		return 0, false, fmt.Errorf("invalid escape key %q", s)
	}
}

func runAttach(cmd *cobra.Command, _ []string) error {
	escape, hasEscape, err := parseEscape(attachEscape)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Logs would garble a raw console, so they stay quiet unless asked for.
	logger, err := configureLogger(cmd, "verbose", logrus.ErrorLevel)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	opts := clientOptions(cfg, logger)

	var slave *client.Slave
	con, err := console.New(console.Options{
		In:     os.Stdin,
		Out:    os.Stdout,
		Logger: logger,
		OnResize: func(ws termios.Winsize) {
			resizeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := slave.SetWinsize(resizeCtx, ws); err != nil {
				logger.WithError(err).Debug("Failed to forward window size")
			}
		},
	})
	if err != nil {
		return err
	}
	defer con.Close()

	master, err := client.DialMaster(ctx, opts, func(data []byte) { _, _ = con.Write(data) })
	if err != nil {
		return err
	}
	defer master.Close()

	token, err := master.OpenHandle(ctx, userfile.AccessRead|userfile.AccessWrite)
	if err != nil {
		return fmt.Errorf("failed to open slave handle: %w", err)
	}

	slave, err = client.DialToken(ctx, opts, token)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", token.File, err)
	}
	defer slave.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "Attached to %s (detach with %s)\r\n", master.File(), attachEscape)

	if con.IsTerminal() {
		if err := con.MakeRaw(); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	gone := make(chan struct{})
	go func() {
		select {
		case <-master.Done():
			close(gone)
			cancel()
		case <-runCtx.Done():
		}
	}()

	err = con.Run(runCtx, func(ctx context.Context, data []byte) error {
		if hasEscape {
			if i := bytes.IndexByte(data, escape); i >= 0 {
				if i > 0 {
					if err := master.Input(ctx, data[:i]); err != nil {
						return err
					}
				}
				return ErrDetached
			}
		}
		return master.Input(ctx, data)
	})
	_ = con.Restore()

	select {
	case <-gone:
		fmt.Fprintln(cmd.ErrOrStderr())
		return ErrTerminalGone
	default:
	}

	if errors.Is(err, ErrDetached) {
		fmt.Fprintln(cmd.ErrOrStderr(), "\nDetached")
		return nil
	}
	return err
}
