package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

// Display periodically renders tracker status to a terminal
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a new progress display writing to stdout
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      os.Stdout,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the display and prints the final summary
func (d *Display) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, d.render(d.tracker.GetStatus(), false))
		case <-d.stopCh:
			fmt.Fprintln(d.out, d.render(d.tracker.GetStatus(), true))
			return
		}
	}
}

func (d *Display) render(status Status, final bool) string {
	title := "Archiving"
	if final {
		title = "Archive run finished"
	}

	dropped := fmt.Sprintf("%d", status.ObjectsDropped)
	if status.ObjectsDropped > 0 {
		dropped = warnStyle.Render(dropped)
	}

	lines := []string{
		titleStyle.Render(title),
		line("pages", fmt.Sprintf("%d processed, %d skipped", status.PagesProcessed, status.PagesSkipped)),
		line("objects", fmt.Sprintf("%s packed, %s dropped, %d discarded",
			okStyle.Render(fmt.Sprintf("%d", status.ObjectsPacked)), dropped, status.ObjectsDiscarded)),
		line("chunks", fmt.Sprintf("%d uploaded, %d skipped", status.ChunksUploaded, status.ChunksSkipped)),
		line("data", FormatBytes(status.PackedBytes)),
		line("speed", fmt.Sprintf("%s now, %s avg", FormatSpeed(status.CurrentSpeed), FormatSpeed(status.AverageSpeed))),
		line("elapsed", FormatDuration(time.Since(status.StartTime))),
	}
	return strings.Join(lines, "\n")
}

func line(label, value string) string {
	return fmt.Sprintf("  %s %s", labelStyle.Render(fmt.Sprintf("%-8s", label)), value)
}

// IsTerminalSupported checks if stdout is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatSpeed formats speed in human readable format
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
