package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/terminald/internal/client"
	"github.com/srg/terminald/internal/termios"
	"github.com/srg/terminald/internal/userfile"
)

var sttyCmd = &cobra.Command{
	Use:   "stty <terminal> [settings...]",
	Short: "Print or change terminal settings",
	Long: `Prints or changes the settings of a terminal, addressed by its slave
file name as printed by "terminald attach".

Settings:
  raw | sane         switch to raw mode, or back to the defaults
  [-]<flag>          turn a flag on or off, e.g. -echo, icanon, ixon
  rows N | cols N    set the window size
  size               print the window size

Examples:
  # Show all settings
  terminald stty terminal-1 -a

  # Turn echo off
  terminald stty terminal-1 -echo

  # Resize
  terminald stty terminal-1 rows 50 cols 132`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStty,
}

var (
	sttyAll     bool
	sttyTimeout time.Duration
)

func init() {
	sttyCmd.Flags().BoolVarP(&sttyAll, "all", "a", false, "Print all settings")
	sttyCmd.Flags().DurationVar(&sttyTimeout, "timeout", 5*time.Second, "Request timeout")

	// Settings such as -echo follow the terminal name and are not flags.
	sttyCmd.Flags().SetInterspersed(false)
}

// sttyChanges is the outcome of parsing stty settings.
type sttyChanges struct {
	termios   bool // termios was modified
	winsize   bool // winsize was modified
	printSize bool
	printAll  bool
}

// applySettings applies stty-style settings to tio and ws.
func applySettings(tio *termios.Termios, ws *termios.Winsize, args []string) (sttyChanges, error) {
	var ch sttyChanges

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "raw":
			tio.MakeRaw()
			ch.termios = true
		case "sane":
			*tio = termios.Default()
			ch.termios = true
		case "size":
			ch.printSize = true
		case "-a", "--all":
			ch.printAll = true
		case "rows", "cols":
			if i+1 >= len(args) {
				return ch, fmt.Errorf("missing argument to %s", arg)
			}
			i++
			n, err := strconv.ParseUint(args[i], 10, 16)
			if err != nil {
				return ch, fmt.Errorf("invalid %s %q", arg, args[i])
			}
			if arg == "rows" {
				ws.Row = uint16(n)
			} else {
				ws.Col = uint16(n)
			}
			ch.winsize = true
		default:
			name, on := strings.TrimPrefix(arg, "-"), !strings.HasPrefix(arg, "-")
			if !tio.SetFlag(name, on) {
				return ch, fmt.Errorf("invalid argument %q", arg)
			}
			ch.termios = true
		}
	}

	return ch, nil
}

func runStty(cmd *cobra.Command, args []string) error {
	file, settings := args[0], args[1:]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "", cfg.Level())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sttyTimeout)
	defer cancel()

	slave, err := client.DialSlave(ctx, clientOptions(cfg, logger), file, userfile.AccessRead|userfile.AccessWrite)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer slave.Close()

	tio, err := slave.GetAttr(ctx)
	if err != nil {
		return err
	}
	ws, err := slave.GetWinsize(ctx)
	if err != nil {
		return err
	}

	changes, err := applySettings(&tio, &ws, settings)
	if err != nil {
		return err
	}

	if changes.termios {
		if err := slave.SetAttr(ctx, termios.TCSADRAIN, tio); err != nil {
			return err
		}
	}
	if changes.winsize {
		if err := slave.SetWinsize(ctx, ws); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	switch {
	case changes.printSize:
		fmt.Fprintf(out, "%d %d\n", ws.Row, ws.Col)
	case sttyAll || changes.printAll || len(settings) == 0:
		fmt.Fprintf(out, "rows %d; columns %d;\n%s\n", ws.Row, ws.Col, tio)
	}
	return nil
}
