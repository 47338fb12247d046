// Command nsprobe sends a WhoHas for a name pattern over a single
// transport and prints every IsAt answer (and its eventual loss) until
// interrupted or until --timeout elapses, a quick way to exercise
// discovery against a live daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/alljoyn-go/coredaemon/internal/buslog"
	"github.com/alljoyn-go/coredaemon/internal/guid"
	"github.com/alljoyn-go/coredaemon/internal/ifmonitor"
	"github.com/alljoyn-go/coredaemon/internal/nameservice"
	"github.com/alljoyn-go/coredaemon/internal/nstransport"
)

var opt struct {
	Help      bool
	Transport int
	Pattern   string
	Interface string
	Timeout   time.Duration
	Policy    string
	Loopback  bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.IntVar(&opt.Transport, "transport", 1, "Single-bit transport mask to probe over")
	pflag.StringVar(&opt.Pattern, "pattern", "*", "Well-known name pattern to discover (shell-style wildcards: *, ?, [...])")
	pflag.StringVar(&opt.Interface, "interface", "*", "Interface name to open (\"*\" for all up interfaces)")
	pflag.DurationVar(&opt.Timeout, "timeout", 10*time.Second, "How long to listen for answers before exiting")
	pflag.StringVar(&opt.Policy, "policy", "always-retry", "Retry policy: always-retry, retry-until-partial, retry-until-complete")
	pflag.BoolVar(&opt.Loopback, "loopback", false, "Deliver this probe's own transmissions back to itself")
}

func parsePolicy(s string) nameservice.LocatePolicy {
	switch s {
	case "retry-until-partial":
		return nameservice.RetryUntilPartial
	case "retry-until-complete":
		return nameservice.RetryUntilComplete
	default:
		return nameservice.AlwaysRetry
	}
}

func main() {
	pflag.Parse()
	if opt.Help {
		fmt.Printf("usage: %s [options]\n\noptions:\n%s\n", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(2)
	}

	log := buslog.New(false)
	packets := make(chan nstransport.Packet, 64)
	monitor := ifmonitor.NewMonitor(nstransport.NewOpener(packets))
	monitor.Open(ifmonitor.InterfaceRequest{Name: opt.Interface, TransportMask: uint16(opt.Transport)})

	engine := nameservice.New(guid.New(), monitor, packets, log)
	if err := engine.Init(opt.Loopback); err != nil {
		fmt.Fprintf(os.Stderr, "error: init engine: %v\n", err)
		os.Exit(1)
	}
	if err := engine.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error: start engine: %v\n", err)
		os.Exit(1)
	}

	engine.SetCallback(func(ev nameservice.DiscoveryEvent) {
		switch ev.Kind {
		case nameservice.EventFound:
			fmt.Printf("found  %-40s %-20s guid=%s\n", ev.Name, ev.BusAddress, ev.GUID)
		case nameservice.EventLost:
			fmt.Printf("lost   %-40s guid=%s\n", ev.Name, ev.GUID)
		}
	})

	if err := engine.FindAdvertisedName(opt.Pattern, uint16(opt.Transport), parsePolicy(opt.Policy)); err != nil {
		fmt.Fprintf(os.Stderr, "error: find advertised name: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case <-time.After(opt.Timeout):
	}

	_ = engine.CancelFindAdvertisedName(opt.Pattern)
	if err := engine.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error: stop engine: %v\n", err)
		os.Exit(1)
	}
}
