package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/ZebulonRouseFrantzich/pandock/internal/events"
	"github.com/ZebulonRouseFrantzich/pandock/internal/service"
)

var (
	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed, color.Bold)
	detailColor  = color.New(color.Faint)
)

const plainStepBytes = 5 << 20

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// observer renders the progress and log topics to a writer until the bus is
// closed.
type observer struct {
	out      io.Writer
	tty      bool
	showLogs bool
	verbose  bool

	progress *events.Subscription[events.DownloadProgress]
	logs     *events.Subscription[events.LogEntry]

	bar        *progressbar.ProgressBar
	lastStatus events.Status
	// nextMark is the next percentage (or byte count) worth a plain line.
	nextMark float64
	printed  uint64
	wg       sync.WaitGroup
}

func startObserver(svc *service.Service, out io.Writer, showLogs, verbose bool) *observer {
	o := &observer{
		out:      out,
		tty:      isTerminal(out),
		showLogs: showLogs,
		verbose:  verbose,
		progress: svc.SubscribeProgress(),
		logs:     svc.SubscribeLogs(),
	}
	o.wg.Add(1)
	go o.run()
	return o
}

func (o *observer) run() {
	defer o.wg.Done()
	progress, logs := o.progress.C(), o.logs.C()
	for progress != nil || logs != nil {
		select {
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			o.renderProgress(p)
		case entry, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			o.renderLog(entry)
		}
	}
	o.finishBar()
}

// wait blocks until both topics are closed and drained.
func (o *observer) wait() {
	o.wg.Wait()
}

func (o *observer) renderProgress(p events.DownloadProgress) {
	if p.Status == events.StatusDownloading {
		if o.tty {
			o.drawBar(p)
		} else {
			o.printDownloading(p)
		}
		return
	}
	o.finishBar()
	if p.Status == o.lastStatus {
		return
	}
	o.lastStatus = p.Status
	if p.Message != "" {
		fmt.Fprintf(o.out, "%s: %s\n", p.Status, p.Message)
	} else {
		fmt.Fprintln(o.out, p.Status)
	}
}

func (o *observer) drawBar(p events.DownloadProgress) {
	o.lastStatus = p.Status
	if o.bar == nil {
		total := int64(-1)
		if p.TotalBytes > 0 {
			total = int64(p.TotalBytes)
		}
		o.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(o.out),
			progressbar.OptionSetDescription("Downloading pandoc"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(0),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(o.out) }),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	_ = o.bar.Set64(int64(p.DownloadedBytes))
}

// printDownloading writes a plain line at every 10% step, or every
// plainStepBytes when the size is unknown.
func (o *observer) printDownloading(p events.DownloadProgress) {
	if o.lastStatus != events.StatusDownloading {
		o.lastStatus = p.Status
		o.nextMark = 0
		o.printed = 0
	}
	if p.DownloadedBytes == o.printed && p.DownloadedBytes > 0 {
		return
	}
	defer func() { o.printed = p.DownloadedBytes }()
	if p.TotalBytes > 0 {
		if p.Percentage < o.nextMark && p.DownloadedBytes < p.TotalBytes {
			return
		}
		fmt.Fprintf(o.out, "downloading %s / %s (%.0f%%)\n",
			humanize.Bytes(p.DownloadedBytes), humanize.Bytes(p.TotalBytes), p.Percentage)
		o.nextMark = float64(int(p.Percentage/10)+1) * 10
		return
	}
	if float64(p.DownloadedBytes) < o.nextMark {
		return
	}
	fmt.Fprintf(o.out, "downloading %s\n", humanize.Bytes(p.DownloadedBytes))
	o.nextMark = float64(p.DownloadedBytes + plainStepBytes)
}

func (o *observer) finishBar() {
	if o.bar == nil {
		return
	}
	_ = o.bar.Finish()
	o.bar = nil
}

func (o *observer) renderLog(entry events.LogEntry) {
	if !o.showLogs {
		return
	}
	if o.bar != nil {
		// Keep the transcript readable while a bar is drawn.
		_ = o.bar.Clear()
	}
	var c *color.Color
	switch entry.Level {
	case events.LevelSuccess:
		c = successColor
	case events.LevelError:
		c = errorColor
	default:
		c = infoColor
	}
	c.Fprintf(o.out, "%-7s", entry.Level)
	fmt.Fprintf(o.out, " %s\n", entry.Message)

	if entry.Details != "" && (o.verbose || entry.Level == events.LevelError) {
		for _, line := range strings.Split(strings.TrimRight(entry.Details, "\n"), "\n") {
			detailColor.Fprintf(o.out, "        %s\n", line)
		}
	}
}
