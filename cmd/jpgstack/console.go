package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// console writes status lines, colored only when writing to a terminal.
type console struct {
	w     io.Writer
	color bool
}

func newConsole(w io.Writer) *console {
	c := &console{w: w}
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		c.color = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return c
}

func (c *console) line(color, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if c.color {
		msg = color + msg + ansiReset
	}
	fmt.Fprintln(c.w, msg)
}

func (c *console) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.w, format, args...)
}

func (c *console) Success(format string, args ...interface{}) {
	c.line(ansiGreen, format, args...)
}

func (c *console) Warning(format string, args ...interface{}) {
	c.line(ansiYellow, format, args...)
}

func (c *console) Error(format string, args ...interface{}) {
	c.line(ansiRed, format, args...)
}
