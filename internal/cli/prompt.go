package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/resolution"
	"github.com/roach88/synclone/internal/schema"
)

// PromptResolver asks the user about each conflict on a terminal.
type PromptResolver struct {
	in     *bufio.Reader
	out    io.Writer
	schema *schema.Schema
}

// NewPromptResolver reads answers from in and writes prompts to out. Edited
// values are parsed with the column types of sch.
func NewPromptResolver(in io.Reader, out io.Writer, sch *schema.Schema) *PromptResolver {
	return &PromptResolver{in: bufio.NewReader(in), out: out, schema: sch}
}

// readLine returns the next line without its newline. ok is false at end of
// input.
func (p *PromptResolver) readLine() (string, bool) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

// Resolve shows the conflict and reads a choice. End of input or an empty
// answer dismisses it.
func (p *PromptResolver) Resolve(ctx context.Context, c *replay.Conflict) replay.Decision {
	ch := c.Change
	fmt.Fprintf(p.out, "\nConflict syncing %s %s (remote id %d, staged %d):\n  %s\n  %s\n",
		ch.Operation, ch.Table, ch.RowID, ch.ID, c.Message, resolution.Summary(ch.Values))
	for {
		if ctx.Err() != nil {
			return replay.Dismiss
		}
		fmt.Fprint(p.out, "[r]esolve, [s]kip, skip [a]ll related, [q]uit: ")
		answer, ok := p.readLine()
		if !ok {
			return replay.Dismiss
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "":
			return replay.Dismiss
		case "r", "resolve":
			if p.edit(c) {
				return replay.Resolve
			}
		case "s", "skip":
			return replay.Skip
		case "a", "skip_related":
			return replay.SkipRelated
		case "q", "quit":
			return replay.Quit
		default:
			fmt.Fprintf(p.out, "unknown choice %q\n", answer)
		}
	}
}

// edit reads COLUMN=VALUE lines up to an empty line and applies them to
// the conflicting change. It reports false when nothing was applied.
func (p *PromptResolver) edit(c *replay.Conflict) bool {
	fmt.Fprintln(p.out, "Enter COLUMN=VALUE lines, then an empty line:")
	text := map[string]string{}
	for {
		line, ok := p.readLine()
		if !ok || strings.TrimSpace(line) == "" {
			break
		}
		col, val, found := strings.Cut(line, "=")
		if !found {
			fmt.Fprintf(p.out, "ignored %q: want COLUMN=VALUE\n", line)
			continue
		}
		text[strings.TrimSpace(col)] = val
	}
	if len(text) == 0 {
		return false
	}
	values, err := resolution.ParseEdits(p.schema, c.Change.Table, text)
	if err != nil {
		fmt.Fprintf(p.out, "%v\n", err)
		return false
	}
	resolution.ApplyEdits(c.Change, values)
	return true
}

// ConfirmAbort asks whether to stop the sync. End of input answers yes.
func (p *PromptResolver) ConfirmAbort(context.Context) bool {
	return p.confirm("Would you like to abort the sync?", true)
}

// OfferReclone asks whether to clone the origin back to uri.
func (p *PromptResolver) OfferReclone(context.Context, string) bool {
	return p.confirm("Would you like to clone to the syncing database to keep them in sync?", false)
}

func (p *PromptResolver) confirm(question string, atEOF bool) bool {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	answer, ok := p.readLine()
	if !ok {
		fmt.Fprintln(p.out)
		return atEOF
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
