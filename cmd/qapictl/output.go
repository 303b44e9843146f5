// ABOUTME: Terminal output helpers for qapictl
// ABOUTME: Pretty JSON, event lines and journal tables with fatih/color highlighting

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/2389/qapi/internal/fleet"
	"github.com/2389/qapi/internal/store"
	"github.com/2389/qapi/internal/wire"
)

const eventTimeLayout = "15:04:05.000000"

func remoteError(err error) (class, desc string, ok bool) {
	var qerr *wire.Error
	if errors.As(err, &qerr) {
		return string(qerr.Class), qerr.Desc, true
	}
	return "", "", false
}

// printJSON writes raw indented. An empty reply prints as {}.
func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("formatting reply: %w", err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func printEvent(w io.Writer, ev fleet.EndpointEvent, showEndpoint bool) {
	fmt.Fprint(w, color.HiBlackString(ev.Event.Time().Local().Format(eventTimeLayout)+" "))
	if showEndpoint {
		fmt.Fprint(w, color.BlueString("[%s] ", ev.Endpoint))
	}
	fmt.Fprint(w, color.CyanString(ev.Event.Name))
	if len(ev.Event.Data) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, ev.Event.Data); err == nil {
			fmt.Fprint(w, " ", buf.String())
		}
	}
	fmt.Fprintln(w)
}

func outcomeString(o store.Outcome) string {
	switch o {
	case store.OutcomeOK:
		return color.GreenString("%-6s", o)
	case store.OutcomeError:
		return color.YellowString("%-6s", o)
	default:
		return color.RedString("%-6s", o)
	}
}

func printCommandRecords(w io.Writer, recs []*store.CommandRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no commands recorded")
		return
	}
	for _, rec := range recs {
		oob := ""
		if rec.OOB {
			oob = color.YellowString(" [oob]")
		}
		fmt.Fprintf(w, "%s  %-12s %s %s%s %s",
			color.HiBlackString(rec.StartedAt.Local().Format(time.DateTime)),
			rec.Endpoint,
			outcomeString(rec.Outcome),
			rec.Command,
			oob,
			color.HiBlackString(rec.Duration.Round(time.Microsecond).String()),
		)
		if rec.ErrorClass != "" || rec.ErrorDesc != "" {
			fmt.Fprintf(w, "  %s %s", rec.ErrorClass, rec.ErrorDesc)
		}
		fmt.Fprintln(w)
	}
}

func printEventRecords(w io.Writer, recs []*store.EventRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no events recorded")
		return
	}
	for _, rec := range recs {
		fmt.Fprintf(w, "%s  %-12s %s",
			color.HiBlackString(rec.Timestamp.Local().Format(time.DateTime)),
			rec.Endpoint,
			color.CyanString(rec.Name),
		)
		if len(rec.Data) > 0 {
			fmt.Fprintf(w, " %s", rec.Data)
		}
		fmt.Fprintln(w)
	}
}
