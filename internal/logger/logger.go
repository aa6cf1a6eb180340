package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

// colorEnabled reports whether stdout is a terminal. Checked per call since
// tests swap os.Stdout.
func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func paint(color, s string) string {
	if !colorEnabled() {
		return s
	}
	return color + s + reset
}

func line(level, color, tag, msg string) {
	ts := time.Now().Format("15:04:05")
	fmt.Fprintf(os.Stdout, "%s %s %s %s\n",
		paint(dim, ts), paint(color, fmt.Sprintf("%-5s", level)), paint(bold, "["+tag+"]"), msg)
}

// Info logs a neutral message.
func Info(tag, msg string) { line("INFO", cyan, tag, msg) }

// Success logs a completed step.
func Success(tag, msg string) { line("OK", green, tag, msg) }

// Warn logs a recoverable problem.
func Warn(tag, msg string) { line("WARN", yellow, tag, msg) }

// Error logs a failure.
func Error(tag, msg string) { line("ERROR", red, tag, msg) }

// Banner prints the startup banner.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	title := "Albion Flipper " + version
	bar := strings.Repeat("=", len(title)+4)
	fmt.Fprintln(os.Stdout, paint(cyan, bar))
	fmt.Fprintln(os.Stdout, paint(bold+cyan, "  "+title))
	fmt.Fprintln(os.Stdout, paint(cyan, bar))
}

// Section prints a section header.
func Section(title string) {
	fmt.Fprintf(os.Stdout, "\n%s\n", paint(bold, "-- "+title+" --"))
}

// Stats prints an aligned key/value line.
func Stats(key string, value interface{}) {
	fmt.Fprintf(os.Stdout, "  %-22s %v\n", key+":", value)
}

// Server announces the listening address.
func Server(addr string) {
	Success("Server", fmt.Sprintf("Listening on http://%s", addr))
}
