// Command server accepts sumstream clients one at a time and answers each with
// the 16-bit sum and length of everything it sent.
//
//	server [-l listener-port]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/cyberinferno/sumstream/config"
	"github.com/cyberinferno/sumstream/history"
	"github.com/cyberinferno/sumstream/logger"
	"github.com/cyberinferno/sumstream/sumserver"
	"github.com/rs/zerolog"
)

const (
	exitOK      = 0
	exitUsage   = 1
	exitFailure = 1
	serviceName = "sumserver"
	programName = "server"
)

type args struct {
	ListenerPort *int   `arg:"-l,--listener-port" help:"port number to which the server must listen (0 lets the OS choose)" placeholder:"LISTENER-PORT"`
	Config       string `arg:"--config" help:"YAML configuration file" placeholder:"FILE"`
}

func (args) Description() string {
	return "Serves sumstream clients one at a time."
}

func main() {
	// Writes to a peer that already went away must fail with EPIPE instead of
	// killing the process, including when stdout is a closed pipe.
	signal.Ignore(syscall.SIGPIPE)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	var a args
	p, err := arg.NewParser(arg.Config{Program: programName}, &a)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	parseErr := p.Parse(argv)
	if errors.Is(parseErr, arg.ErrHelp) {
		p.WriteHelp(stderr)
		return exitOK
	}

	cfg, err := config.LoadServer(a.Config)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	if parseErr != nil {
		p.WriteUsage(stderr)
		fmt.Fprintf(stderr, "error: %v\n", parseErr)
		if cfg.StrictArgs {
			return exitUsage
		}
	}

	if a.ListenerPort != nil {
		cfg.ListenerPort = *a.ListenerPort
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	log, err := newLogger(cfg, stdout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	defer log.Close()

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	hist, err := history.New(startCtx, cfg.History)
	cancel()
	if err != nil {
		log.Error("history unavailable", logger.Field{Key: "error", Value: err})
		return exitFailure
	}
	defer hist.Close()

	srv := sumserver.New(cfg, log, hist)
	if err := srv.Listen(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	fmt.Fprintf(stdout, "Socket has port #%d\n", srv.BoundPort())

	go func() {
		<-ctx.Done()
		srv.Stop()
	}()

	if err := srv.Serve(); err != nil {
		log.Error("serve failed", logger.Field{Key: "error", Value: err})
		return exitFailure
	}

	return exitOK
}

func newLogger(cfg config.Server, stdout io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.LogDir != "" {
		return logger.NewZerologFileLogger(stdout, serviceName, cfg.LogDir, level)
	}

	return logger.NewZerologLogger(zerolog.New(stdout), serviceName, level), nil
}
