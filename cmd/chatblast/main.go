package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chatblast/internal/app"
	"chatblast/internal/dispatch"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer, fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintln(w, "usage: chatblast [-config path] [-env path] [send | export-chats [-out file] [-limit n]]")
		fs.SetOutput(w)
		fs.PrintDefaults()
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chatblast", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = usage(stderr, fs)
	cfgPath := fs.String("config", "./config.json", "path to config file (json or yaml)")
	envPath := fs.String("env", ".env", "dotenv file loaded before the config")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return app.ExitOK
		}
		fmt.Fprintln(stderr, err)
		return app.ExitStartup
	}

	cmd, rest := "send", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	ctx, sig := withSignals(stderr)
	defer sig.stop()

	a, err := app.New(app.Options{ConfigPath: *cfgPath, EnvPath: *envPath})
	if err != nil {
		fmt.Fprintln(stderr, "fatal:", err)
		return app.ExitStartup
	}
	a.Start(ctx)

	var reason app.StopReason
	switch cmd {
	case "send":
		reason = send(ctx, a, stdout, stderr)
	case "export-chats":
		reason = exportChats(ctx, a, rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		reason = app.StopFatalError
	}
	if r := sig.reason(); r != "" && reason != app.StopFatalError {
		reason = r
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Stop(stopCtx, reason)
	return reason.ExitCode()
}

func send(ctx context.Context, a *app.App, stdout, stderr io.Writer) app.StopReason {
	sum, err := a.Send(ctx)
	if err != nil {
		if ctx.Err() != nil {
			printSummary(stdout, sum)
			return app.StopInterrupted
		}
		fmt.Fprintln(stderr, "fatal:", err)
		return app.StopFatalError
	}
	printSummary(stdout, sum)
	if sum.Failed > 0 || sum.PersistFailures > 0 {
		return app.StopFailures
	}
	return app.StopCompleted
}

func printSummary(w io.Writer, sum dispatch.Summary) {
	fmt.Fprintf(w, "Sent %d, failed %d, batches %d, restarts %d (%s)\n",
		sum.Sent, sum.Failed, sum.Batches, sum.Restarts, sum.Took.Round(time.Second))
}

func exportChats(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) app.StopReason {
	fs := flag.NewFlagSet("export-chats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "sent_chat_ids.csv", "output csv (chatId,name)")
	limit := fs.Int("limit", 0, "max chats to export (0 = all)")
	if err := fs.Parse(args); err != nil {
		return app.StopFatalError
	}
	n, err := a.ExportChats(ctx, *out, *limit)
	if err != nil {
		if ctx.Err() != nil {
			return app.StopInterrupted
		}
		fmt.Fprintln(stderr, "fatal:", err)
		return app.StopFatalError
	}
	fmt.Fprintf(stdout, "Saved %d chats to %s\n", n, *out)
	return app.StopCompleted
}

type signals struct {
	ch   chan os.Signal
	stop func()

	mu  sync.Mutex
	got app.StopReason
}

func (s *signals) reason() app.StopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

// withSignals cancels the returned context on the first SIGINT/SIGTERM. A
// second signal exits immediately; prompts block on stdin and cannot see
// the cancellation.
func withSignals(stderr io.Writer) (context.Context, *signals) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &signals{ch: make(chan os.Signal, 2)}
	signal.Notify(s.ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	var once sync.Once
	s.stop = func() {
		once.Do(func() {
			signal.Stop(s.ch)
			close(done)
			cancel()
		})
	}

	go func() {
		select {
		case sig := <-s.ch:
			s.mu.Lock()
			s.got = app.ReasonForSignal(sig)
			s.mu.Unlock()
			fmt.Fprintln(stderr, "\nstopping after in-flight sends; interrupt again to exit now")
			cancel()
		case <-done:
			return
		}
		select {
		case <-s.ch:
			os.Exit(app.ExitInterrupted)
		case <-done:
		}
	}()
	return ctx, s
}
