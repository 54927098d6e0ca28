package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"sigbatch/internal/app"
	logx "sigbatch/pkg/logx"
)

func daemonCmd(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cfgPath := fs.String("config", "./sigbatch.yaml", "path to config yaml/json")
	_ = fs.Parse(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		return 1
	}
	log := a.Logger().With(logx.String("comp", "daemon"))
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	reason := app.StopUnknown
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case s := <-sigCh:
			reason = app.StopSIGTERM
			if s == os.Interrupt {
				reason = app.StopSIGINT
			}
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		<-a.Done()
		return a.Err()
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hupCh:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyReloading)
				if err := a.Reload(gctx); err != nil {
					log.Warn("config reload failed", logx.Err(err))
				}
				_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
			}
		}
	})

	g.Go(func() error {
		interval, err := daemon.SdWatchdogEnabled(false)
		if err != nil || interval <= 0 {
			return nil
		}
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		log.Debug("systemd notified ready")
	}

	err = g.Wait()
	if err != nil {
		reason = app.StopFatalError
		log.Error("daemon failed", logx.Err(err))
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err != nil {
		return 1
	}
	return 0
}
