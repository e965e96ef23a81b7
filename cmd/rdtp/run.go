package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/MrPotato53/CS640Assignment4/internal/observability"
	"github.com/MrPotato53/CS640Assignment4/internal/receiver"
	"github.com/MrPotato53/CS640Assignment4/internal/sender"
)

func rootContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func runSender(log *observability.Logger) error {
	f, err := os.Open(flags.file)
	if err != nil {
		return errors.Wrap(err, "rdtp: open input file")
	}

	cfg := sender.Config{
		MTU:        flags.mtu,
		Window:     flags.window,
		LocalPort:  flags.localPort,
		RemoteHost: flags.remoteHost,
		RemotePort: flags.remotePort,
	}
	rec := observability.NewRecorder(os.Stdout)
	s, err := sender.New(cfg, rec, log)
	if err != nil {
		return multierr.Append(errors.Wrap(err, "rdtp: start sender"), f.Close())
	}

	ctx, cancel := rootContext()
	defer cancel()

	runErr := s.Run(ctx, f)
	closeErr := f.Close()

	stats := s.Stats()
	stats.WriteSummary(os.Stdout)

	if runErr != nil {
		return multierr.Append(errors.Wrap(runErr, "rdtp: sender transfer failed"), closeErr)
	}
	return closeErr
}

func runReceiver(log *observability.Logger) error {
	f, err := os.Create(flags.file)
	if err != nil {
		return errors.Wrap(err, "rdtp: create output file")
	}

	cfg := receiver.Config{
		MTU:       flags.mtu,
		Window:    flags.window,
		LocalPort: flags.localPort,
	}
	rec := observability.NewRecorder(os.Stdout)
	r, err := receiver.New(cfg, rec, log)
	if err != nil {
		return multierr.Append(errors.Wrap(err, "rdtp: start receiver"), f.Close())
	}

	ctx, cancel := rootContext()
	defer cancel()

	runErr := r.Run(ctx, f)

	stats := r.Stats()
	stats.WriteSummary(os.Stdout)

	if runErr != nil {
		return errors.Wrap(runErr, "rdtp: receiver session failed")
	}
	return nil
}
