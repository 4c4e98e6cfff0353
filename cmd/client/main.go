// Command client sends its standard input to a sumstream server and prints
// the server's one-line report.
//
//	client [-s server-ip] server-port
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/alexflint/go-arg"
	"github.com/cyberinferno/sumstream/config"
	"github.com/cyberinferno/sumstream/logger"
	"github.com/cyberinferno/sumstream/tcpclient"
)

const (
	exitOK          = 0
	exitUsage       = 1
	exitFailure     = 1
	exitInvalidAddr = 2
	serviceName     = "sumclient"
	programName     = "client"
)

type args struct {
	ServerIP   *string `arg:"-s,--server-ip" help:"server's IPv4 number (default 127.0.0.1)" placeholder:"SERVER-IP"`
	ServerPort int     `arg:"positional,required" help:"server port number to which the client must connect" placeholder:"SERVER-PORT"`
	Config     string  `arg:"--config" help:"YAML configuration file" placeholder:"FILE"`
}

func (args) Description() string {
	return "Forwards standard input to a sumstream server and prints its report."
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(argv []string, stdin io.Reader, stdout, stderr io.Writer) int {
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

	cfg, err := config.LoadClient(a.Config)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	if parseErr != nil {
		usage(p, stderr, parseErr)
		if cfg.StrictArgs || a.ServerPort == 0 {
			return exitUsage
		}
	}

	if err := config.ValidatePort(a.ServerPort); err != nil || a.ServerPort == 0 {
		usage(p, stderr, fmt.Errorf("invalid server-port %d", a.ServerPort))
		return exitUsage
	}

	// An explicit -s always wins, even when it is empty.
	if a.ServerIP != nil {
		cfg.ServerIP = *a.ServerIP
	}

	addr, err := config.ParseServerIP(cfg.ServerIP)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitInvalidAddr
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	log := logger.NewConsoleLogger(stderr, serviceName, level)
	defer log.Close()

	client := tcpclient.New(tcpclient.Config{
		Address:           net.JoinHostPort(addr.String(), strconv.Itoa(a.ServerPort)),
		ConnectionTimeout: cfg.ConnectTimeout,
		BufferSize:        cfg.BufferSize,
	}, log)
	defer client.Close()

	if err := client.Connect(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	// Transfer errors are logged by the client; the report, if any, is
	// already on stdout.
	_, _ = client.Transfer(stdin, stdout)

	return exitOK
}

func usage(p *arg.Parser, w io.Writer, err error) {
	p.WriteUsage(w)
	fmt.Fprintf(w, "error: %v\n", err)
}
