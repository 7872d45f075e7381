package main

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/srg/terminald/internal/client"
	"github.com/srg/terminald/internal/status"
)

// Command-level errors
var (
	// ErrDetached is returned when the user leaves an attached terminal with
	// the escape key; attach reports it as a clean exit.
	ErrDetached = errors.New("detached")

	// ErrTerminalGone indicates the terminal hung up while attached.
	ErrTerminalGone = errors.New("terminal closed")
)

// FormatUserError turns err into a one-line message for the user.
func FormatUserError(err error) string {
	var st status.Status

	switch {
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Sprintf("terminald is not running (%v)", err)
	case errors.Is(err, client.ErrClosed):
		return "connection to terminald was closed"
	case errors.As(err, &st):
		return fmt.Sprintf("%v (errno %d)", err, int(st.Errno()))
	default:
		return err.Error()
	}
}
