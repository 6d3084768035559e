// Package ui renders corona's terminal output: chain logs, transaction
// failures, profile listings and history tables.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/papapumpkin/corona/internal/backup"
	"github.com/papapumpkin/corona/internal/chain"
	"github.com/papapumpkin/corona/internal/history"
	"github.com/papapumpkin/corona/internal/profile"
	"github.com/papapumpkin/corona/internal/state"
)

// Semantic palette.
const (
	colorPrimary = lipgloss.Color("#00BFFF")
	colorAccent  = lipgloss.Color("#FFD700")
	colorSuccess = lipgloss.Color("#00E676")
	colorDanger  = lipgloss.Color("#FF5252")
	colorMuted   = lipgloss.Color("#8C8C8C")
)

// Status icons.
const (
	iconDone   = "✓"
	iconFailed = "✗"
	iconWarn   = "⚠"
	iconItem   = "◆"
	iconCursor = "▶"
)

type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	danger  lipgloss.Style
}

// Printer writes styled output to one writer. Colors are only emitted when
// the writer is a color-capable terminal.
type Printer struct {
	w io.Writer
	s styles
}

// New returns a printer for w.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w: w,
		s: styles{
			title:   r.NewStyle().Foreground(colorPrimary).Bold(true),
			label:   r.NewStyle().Foreground(colorPrimary),
			muted:   r.NewStyle().Foreground(colorMuted),
			success: r.NewStyle().Foreground(colorSuccess).Bold(true),
			warn:    r.NewStyle().Foreground(colorAccent).Bold(true),
			danger:  r.NewStyle().Foreground(colorDanger).Bold(true),
		},
	}
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.s.success.Render(iconDone)+" "+fmt.Sprintf(format, args...))
}

// Info prints a de-emphasized line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintln(p.w, p.s.muted.Render(fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.s.warn.Render(iconWarn+" warning:")+" "+fmt.Sprintf(format, args...))
}

// Error prints err. Transaction failures are broken down into the failing
// domain, subscriber and any rollback errors.
func (p *Printer) Error(err error) {
	var ce *state.ChangeError
	if !errors.As(err, &ce) {
		fmt.Fprintln(p.w, p.s.danger.Render(iconFailed+" error:")+" "+err.Error())
		return
	}
	fmt.Fprintln(p.w, p.s.danger.Render(fmt.Sprintf("%s %s failed", iconFailed, ce.Kind))+" "+p.s.muted.Render("domain="+ce.Domain))
	if ce.Subscriber != "" {
		fmt.Fprintf(p.w, "  %s %s\n", p.s.label.Render("subscriber:"), ce.Subscriber)
	}
	fmt.Fprintf(p.w, "  %s %v\n", p.s.label.Render("cause:"), ce.Err)
	if ce.RollbackErr != nil {
		fmt.Fprintf(p.w, "  %s %v\n", p.s.danger.Render("rollback:"), ce.RollbackErr)
	}
	for _, c := range ce.Compensation {
		fmt.Fprintf(p.w, "  %s %v\n", p.s.warn.Render("compensation:"), c)
	}
}

// Logs prints the per-item logs of an enhancement run in processing order.
// Items that produced no lines are listed as ok.
func (p *Printer) Logs(entries []chain.Entry) {
	for _, e := range entries {
		if len(e.Logs) == 0 {
			fmt.Fprintf(p.w, "%s %s\n", p.s.success.Render(iconDone), e.UID)
			continue
		}
		fmt.Fprintf(p.w, "%s %s\n", p.s.label.Render(iconItem), e.UID)
		for _, l := range e.Logs {
			fmt.Fprintf(p.w, "    %s %s\n", p.level(l.Level), l.Message)
		}
	}
}

func (p *Printer) level(l chain.Level) string {
	tag := fmt.Sprintf("[%s]", l)
	switch l {
	case chain.LevelError:
		return p.s.danger.Render(tag)
	case chain.LevelWarn:
		return p.s.warn.Render(tag)
	case chain.LevelInfo:
		return p.s.label.Render(tag)
	}
	return p.s.muted.Render(tag)
}

// Profiles lists the profile items: profiles first with the current one
// marked, then chain items with their chain position.
func (p *Printer) Profiles(list profile.Profiles) {
	fmt.Fprintln(p.w, p.s.title.Render("profiles"))
	if len(list.Items) == 0 {
		fmt.Fprintln(p.w, p.s.muted.Render("  (none; import one with `corona profiles import`)"))
		return
	}
	position := make(map[string]int, len(list.Chain))
	for i, uid := range list.Chain {
		position[uid] = i + 1
	}
	for _, it := range list.Items {
		if !it.Type.IsProfile() {
			continue
		}
		marker := " "
		if it.UID == list.Current {
			marker = p.s.success.Render(iconCursor)
		}
		fmt.Fprintf(p.w, "%s %-14s %-8s %s\n", marker, it.UID, it.Type, it.DisplayName())
	}
	fmt.Fprintln(p.w, p.s.title.Render("chain items"))
	for _, it := range list.Items {
		if !it.Type.IsChain() {
			continue
		}
		pos := p.s.muted.Render("  -")
		if n, ok := position[it.UID]; ok {
			pos = p.s.label.Render(fmt.Sprintf("%3d", n))
		}
		fmt.Fprintf(p.w, "%s %-14s %-8s %s\n", pos, it.UID, it.Type, it.DisplayName())
	}
	if len(list.Valid) > 0 {
		fmt.Fprintf(p.w, "%s %s\n", p.s.label.Render("extra fields:"), strings.Join(list.Valid, ", "))
	}
}

// KeyValues prints an aligned key/value table under a title.
func (p *Printer) KeyValues(title string, keys []string, values map[string]string) {
	fmt.Fprintln(p.w, p.s.title.Render(title))
	width := 0
	for _, k := range keys {
		width = max(width, len(k))
	}
	for _, k := range keys {
		fmt.Fprintf(p.w, "  %s %s\n", p.s.label.Render(fmt.Sprintf("%-*s", width+1, k+":")), values[k])
	}
}

// Runs prints a history table, newest first.
func (p *Printer) Runs(runs []history.Run) {
	if len(runs) == 0 {
		p.Info("no runs recorded")
		return
	}
	for _, r := range runs {
		status := p.s.success.Render(iconDone)
		if r.Errors > 0 {
			status = p.s.danger.Render(iconFailed)
		}
		written := "unchanged"
		if r.Written {
			written = "written"
		}
		fmt.Fprintf(p.w, "%s %5d  %s  %-10s %-10s %-9s %s\n",
			status, r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Source, r.Profile, written, shortDigest(r.Digest))
	}
}

// Run prints one run with its logs.
func (p *Printer) Run(r history.Run) {
	fmt.Fprintf(p.w, "%s %d %s\n", p.s.title.Render("run"), r.ID, p.s.muted.Render(r.CreatedAt.Local().Format(time.DateTime)))
	fmt.Fprintf(p.w, "  %s %s\n", p.s.label.Render("profile:"), r.Profile)
	fmt.Fprintf(p.w, "  %s %s\n", p.s.label.Render("source: "), r.Source)
	fmt.Fprintf(p.w, "  %s %s\n", p.s.label.Render("digest: "), r.Digest)
	p.Logs(r.Logs)
}

// Backups prints stored archives, newest last.
func (p *Printer) Backups(infos []backup.Info) {
	if len(infos) == 0 {
		p.Info("no backups stored")
		return
	}
	for _, i := range infos {
		fmt.Fprintf(p.w, "%s  %8d  %s\n", i.Key, i.Size, p.s.muted.Render(i.Modified.Local().Format(time.DateTime)))
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
