package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laundry-tracking/internal/client"
	"github.com/vasiliy-maslov/laundry-tracking/internal/dashboard"
	orderHttp "github.com/vasiliy-maslov/laundry-tracking/internal/handler/http"
	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
	"github.com/vasiliy-maslov/laundry-tracking/internal/outbox"
)

var errUsage = errors.New("invalid arguments")

// parseArgs accepts positionals before, between or after flags.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
			positional = append(positional, args[0])
			args = args[1:]
		}
		if len(args) == 0 {
			return positional, nil
		}
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == len(args) {
			return append(positional, fs.Args()...), nil
		}
		args = fs.Args()
	}
}

func exactly(n int, positional []string, what string) error {
	if len(positional) != n {
		return fmt.Errorf("%w: expected %s", errUsage, what)
	}
	return nil
}

// parseItems reads "shirt:3,jeans:1:blue".
func parseItems(raw string) ([]orderHttp.ItemRequest, error) {
	var items []orderHttp.ItemRequest
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("%w: item %q must look like type:count[:color]", errUsage, part)
		}
		count, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: item %q has a bad count", errUsage, part)
		}
		item := orderHttp.ItemRequest{Type: fields[0], Count: count}
		if len(fields) == 3 {
			item.Color = fields[2]
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *app) submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	var req orderHttp.CreateOrderRequest
	var items string
	fs.StringVar(&req.Token, "token", "", "order token, generated when empty")
	fs.StringVar(&req.CustomerName, "name", "", "customer name")
	fs.StringVar(&req.Room, "room", "", "room number")
	fs.StringVar(&req.Contact, "contact", "", "phone number")
	fs.StringVar(&req.Address, "address", "", "delivery address")
	fs.StringVar(&req.Instructions, "instructions", "", "special instructions")
	fs.StringVar(&req.Priority, "priority", "", "urgent, express or normal")
	fs.StringVar(&items, "items", "", "comma separated type:count[:color]")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	parsed, err := parseItems(items)
	if err != nil {
		return err
	}
	req.Items = parsed

	receipt, err := a.customer.Submit(ctx, req)
	if err != nil {
		return err
	}
	switch {
	case receipt.Queued:
		fmt.Fprintf(a.out, "%s saved offline (%s); it will be sent when the server is reachable\n", receipt.Token, receipt.LocalID)
	case receipt.Existing:
		fmt.Fprintf(a.out, "%s was already submitted\n", receipt.Token)
	default:
		fmt.Fprintf(a.out, "%s submitted\n", receipt.Token)
	}
	return nil
}

func (a *app) status(ctx context.Context, args []string) error {
	if err := exactly(1, args, "TOKEN"); err != nil {
		return err
	}
	view, err := a.customer.Status(ctx, args[0])
	if err != nil {
		return err
	}
	printStatus(a.out, view)
	return nil
}

func (a *app) dashboard(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dashboard", flag.ContinueOnError)
	search := fs.String("q", "", "search token, name or room")
	status := fs.String("status", "", "status filter")
	date := fs.String("date", "", "today, yesterday, week or month")
	priority := fs.String("priority", "", "priority filter")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	filter := dashboard.Filter{Search: *search}
	var err error
	if *status != "" {
		if filter.Status, err = order.ParseStatus(*status); err != nil {
			return err
		}
	}
	if filter.Date, err = dashboard.ParseDateRange(*date); err != nil {
		return err
	}
	if *priority != "" {
		if filter.Priority, err = order.ParsePriority(*priority); err != nil {
			return err
		}
	}

	result, err := a.session.Refresh(ctx)
	if err != nil {
		return err
	}
	a.session.SetFilter(filter)
	rows, err := a.session.View(ctx)
	if err != nil {
		return err
	}
	if result.FromCache {
		fmt.Fprintf(a.out, "offline: showing orders as of %s\n", result.StoredAt.Local().Format(time.RFC822))
	}
	printRows(a.out, rows)
	return nil
}

func (a *app) setStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-status", flag.ContinueOnError)
	note := fs.String("note", "", "timeline note")
	etaRaw := fs.String("eta", "", "estimated delivery, RFC3339")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := exactly(2, positional, "TOKEN STATUS"); err != nil {
		return err
	}

	status, err := order.ParseStatus(positional[1])
	if err != nil {
		return err
	}
	var eta *time.Time
	if *etaRaw != "" {
		t, err := time.Parse(time.RFC3339, *etaRaw)
		if err != nil {
			return fmt.Errorf("%w: eta must be RFC3339: %v", errUsage, err)
		}
		eta = &t
	}

	outcome, err := a.session.SetStatus(ctx, positional[0], status, *note, eta)
	if err != nil {
		return err
	}
	printOutcome(a.out, positional[0], string(status), outcome)
	return nil
}

func (a *app) advance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("advance", flag.ContinueOnError)
	note := fs.String("note", "", "timeline note")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := exactly(1, positional, "TOKEN"); err != nil {
		return err
	}
	if _, err := a.session.Refresh(ctx); err != nil {
		return err
	}

	outcome, next, err := a.session.AdvanceStatus(ctx, positional[0], *note)
	if err != nil {
		return err
	}
	printOutcome(a.out, positional[0], string(next), outcome)
	return nil
}

func (a *app) priority(ctx context.Context, args []string) error {
	if len(args) == 2 {
		p, err := order.ParsePriority(args[1])
		if err != nil {
			return err
		}
		outcome, err := a.session.SetPriority(ctx, args[0], p)
		if err != nil {
			return err
		}
		printOutcome(a.out, args[0], string(p), outcome)
		return nil
	}

	if err := exactly(1, args, "TOKEN [PRIORITY]"); err != nil {
		return err
	}
	if _, err := a.session.Refresh(ctx); err != nil {
		return err
	}
	outcome, p, err := a.session.TogglePriority(ctx, args[0])
	if err != nil {
		return err
	}
	printOutcome(a.out, args[0], string(p), outcome)
	return nil
}

func (a *app) drain(ctx context.Context) error {
	report, err := a.outbox.DrainAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "delivered %d, pending %d, parked %d\n", len(report.Delivered), report.Pending, len(report.Exhausted)+report.Skipped)
	a.discardParked(ctx, report.Exhausted)
	return report.Err()
}

func (a *app) listOutbox(ctx context.Context) error {
	entries, err := a.outbox.List(ctx)
	if err != nil {
		return err
	}
	printOutbox(a.out, entries)
	return nil
}

func (a *app) retry(ctx context.Context, args []string) error {
	if err := exactly(1, args, "LOCAL_ID"); err != nil {
		return err
	}
	if err := a.outbox.Retry(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s will be retried on the next drain\n", args[0])
	return nil
}

// watch keeps the outbox draining and the dashboard fresh until interrupted.
func (a *app) watch(ctx context.Context) error {
	probe := client.NewProbe(a.api, a.cfg.Probe.Interval, a.cfg.RequestTimeout)
	replayer := outbox.NewReplayer(a.outbox, probe.Signals(), a.cfg.Outbox.DrainInterval, a.cfg.Outbox.MaxBackoff,
		func(parked []localstore.OutboxEntry) {
			for _, e := range parked {
				fmt.Fprintf(a.out, "gave up on %s %s (%s): %s\n", e.Kind, e.Token, e.LocalID, e.LastError)
			}
			a.discardParked(ctx, parked)
		})

	go probe.Run(ctx)
	go replayer.Run(ctx)

	ticker := time.NewTicker(a.cfg.Probe.Interval)
	defer ticker.Stop()

	log.Info().Str("server", a.cfg.ServerURL).Msg("Watching for orders")
	for {
		result, err := a.session.Refresh(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn().Err(err).Msg("Dashboard refresh failed")
		case err == nil:
			for _, token := range result.NewlyReady {
				fmt.Fprintf(a.out, "%s is ready for pickup\n", token)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// discardParked drops local edits whose writes will not be replayed.
func (a *app) discardParked(ctx context.Context, parked []localstore.OutboxEntry) {
	for _, e := range parked {
		if outbox.Kind(e.Kind) == outbox.KindCreateOrder {
			continue
		}
		if err := a.session.Discard(ctx, e.Token); err != nil {
			log.Warn().Err(err).Str("token", e.Token).Msg("Failed to discard local edit")
		}
	}
}
