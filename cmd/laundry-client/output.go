package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/vasiliy-maslov/laundry-tracking/internal/customer"
	"github.com/vasiliy-maslov/laundry-tracking/internal/dashboard"
	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
)

const timeLayout = "Jan 02 15:04"

func printRows(out io.Writer, rows []dashboard.Row) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tCUSTOMER\tROOM\tSTATUS\tPROGRESS\tPRIORITY\tSUBMITTED\t")
	for _, r := range rows {
		status := string(r.Status)
		if r.Pending {
			status += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\t%s\t\n",
			r.Token, r.CustomerName, r.Room, status, r.Progress(), r.Priority, formatTime(r.SubmittedAt))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "%d orders (* = not yet confirmed by the server)\n", len(rows))
}

func printStatus(out io.Writer, v *customer.StatusView) {
	switch {
	case v.Queued:
		fmt.Fprintf(out, "%s: saved on this device, waiting to reach the server\n", v.Token)
		return
	case v.FromCache:
		fmt.Fprintf(out, "%s: %s (%d%%), offline copy from %s\n", v.Token, v.Status, v.Progress, formatTime(v.StoredAt))
	default:
		fmt.Fprintf(out, "%s: %s (%d%%)\n", v.Token, v.Status, v.Progress)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range v.Entries {
		fmt.Fprintf(w, "  %s\t%s\t%s\t\n", formatTime(e.Timestamp), e.Status, e.Note)
	}
	_ = w.Flush()
}

func printOutbox(out io.Writer, entries []localstore.OutboxEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "outbox is empty")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOCAL ID\tKIND\tTOKEN\tQUEUED\tATTEMPTS\tSTATE\tLAST ERROR\t")
	for _, e := range entries {
		state := "pending"
		if e.Parked {
			state = "parked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t\n",
			e.LocalID, e.Kind, e.Token, formatTime(e.CreatedAt), e.Attempts, state, e.LastError)
	}
	_ = w.Flush()
}

func printOutcome(out io.Writer, token, value string, outcome dashboard.Outcome) {
	switch outcome {
	case dashboard.OutcomeQueued:
		fmt.Fprintf(out, "%s -> %s saved offline, will sync later\n", token, value)
	case dashboard.OutcomeUnchanged:
		fmt.Fprintf(out, "%s is already %s\n", token, value)
	default:
		fmt.Fprintf(out, "%s -> %s\n", token, value)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}
