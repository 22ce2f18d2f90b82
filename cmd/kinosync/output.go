package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette
var (
	accent    = lipgloss.Color("#ED1C24")
	dimGray   = lipgloss.Color("#6B7280")
	lightGray = lipgloss.Color("#9CA3AF")
	white     = lipgloss.Color("#F9FAFB")
	green     = lipgloss.Color("#10B981")
	red       = lipgloss.Color("#EF4444")
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(white).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(dimGray)
	labelStyle   = lipgloss.NewStyle().Foreground(lightGray).Width(18)
	accentStyle  = lipgloss.NewStyle().Foreground(accent)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	successStyle = lipgloss.NewStyle().Foreground(green)
	codeStyle    = lipgloss.NewStyle().Foreground(accent).Bold(true)
	headerStyle  = lipgloss.NewStyle().
			Foreground(white).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(dimGray)
)

const (
	watchedChar   = "✓"
	unwatchedChar = "●"
	inProgressChr = "◐"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// clearSpinnerLine clears the spinner line from the terminal
const clearSpinnerLine = "\r                                        \r"

func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// withSpinner runs fn while drawing a spinner with label. Nothing is drawn
// when stdout is not a terminal.
func withSpinner(label string, fn func() error) error {
	if !interactive() {
		return fn()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	frame := 0
	fmt.Printf("\r%s %s", accentStyle.Render(spinnerFrames[frame]), label)

	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			fmt.Print(clearSpinnerLine)
			return err
		case <-ticker.C:
			frame++
			fmt.Printf("\r%s %s", accentStyle.Render(spinnerFrames[frame%len(spinnerFrames)]), label)
		}
	}
}

func printHeader(s string) {
	fmt.Println(headerStyle.Render(s))
}

func printField(label string, value any) {
	fmt.Printf("%s %v\n", labelStyle.Render(label), value)
}

func printOK(format string, args ...any) {
	fmt.Println(successStyle.Render("✓ ") + fmt.Sprintf(format, args...))
}

func printFailed(format string, args ...any) {
	fmt.Println(errorStyle.Render("✗ ") + fmt.Sprintf(format, args...))
}

func watchedMark(watched bool) string {
	if watched {
		return successStyle.Render(watchedChar)
	}
	return accentStyle.Render(unwatchedChar)
}

// formatAge renders how long ago t was, coarsely.
func formatAge(now, t time.Time) string {
	if t.IsZero() {
		return dimStyle.Render("never")
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func yearSuffix(year int) string {
	if year == 0 {
		return ""
	}
	return dimStyle.Render(fmt.Sprintf(" (%d)", year))
}
