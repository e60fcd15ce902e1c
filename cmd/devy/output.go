package main

import (
	"fmt"
	"os"
)

// ANSI codes for CLI feedback. Suppressed by the --no-color flag.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBold   = "\033[1m"
)

func paint(code, s string) string {
	if noColor {
		return s
	}
	return code + s + ansiReset
}

func printTagged(code, tag, format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(code, tag+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) {
	printTagged(ansiGreen, "✓", format, args...)
}

func printError(format string, args ...any) {
	printTagged(ansiRed, "✗", format, args...)
}

func printWarning(format string, args ...any) {
	printTagged(ansiYellow, "⚠", format, args...)
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
