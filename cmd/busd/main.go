// Command busd is the daemon entrypoint: it wires the persistent GUID
// store, the interface monitor, the NS wire transport, the name-service
// engine, the match-rule table, the router core, and the bundled-router
// launcher into one running process (pflag for flags, go-envparse for
// an optional env file, signal.NotifyContext for graceful shutdown).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/spf13/pflag"

	"github.com/alljoyn-go/coredaemon/internal/bundlerouter"
	"github.com/alljoyn-go/coredaemon/internal/busconfig"
	"github.com/alljoyn-go/coredaemon/internal/buslog"
	"github.com/alljoyn-go/coredaemon/internal/guid"
	"github.com/alljoyn-go/coredaemon/internal/ifmonitor"
	"github.com/alljoyn-go/coredaemon/internal/metrics"
	"github.com/alljoyn-go/coredaemon/internal/nameservice"
	"github.com/alljoyn-go/coredaemon/internal/nstransport"
	"github.com/alljoyn-go/coredaemon/internal/nulltransport"
	"github.com/alljoyn-go/coredaemon/internal/router"
	"github.com/alljoyn-go/coredaemon/internal/rule"
)

// localTransport is the transport bit this daemon core advertises and
// discovers names over; a single-bit mask.
const localTransport = 1

var opt struct {
	Help          bool
	Verbose       bool
	ConfigPath    string
	StateDir      string
	MetricsAddr   string
	LazyMin       int
	LazyMax       int
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.BoolVarP(&opt.Verbose, "verbose", "v", false, "Enable debug logging")
	pflag.StringVar(&opt.ConfigPath, "config", "", "Path to a busconfig XML fragment (default: embedded config)")
	pflag.StringVar(&opt.StateDir, "state-dir", defaultStateDir(), "Directory holding the persistent GUID file")
	pflag.StringVar(&opt.MetricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9955)")
	pflag.IntVar(&opt.LazyMin, "lazy-update-min", int(ifmonitor.LazyUpdateMin.Seconds()), "Minimum seconds between interface reconciliations")
	pflag.IntVar(&opt.LazyMax, "lazy-update-max", int(ifmonitor.LazyUpdateMax.Seconds()), "Maximum seconds between interface reconciliations")
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".busd")
	}
	return "/var/lib/busd"
}

func main() {
	pflag.Parse()
	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}
	if pflag.NArg() == 1 {
		if err := applyEnvFile(pflag.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
	}

	log := buslog.New(opt.Verbose)

	cfgBytes := []byte(busconfig.Embedded)
	if opt.ConfigPath != "" {
		data, err := os.ReadFile(opt.ConfigPath)
		if err != nil {
			log.Error("failed to read config file", err, "path", opt.ConfigPath)
			os.Exit(1)
		}
		cfgBytes = data
	}
	cfg, err := busconfig.Parse(cfgBytes)
	if err != nil {
		log.Error("failed to parse busconfig", err)
		os.Exit(1)
	}

	id, err := guid.GetOrCreate(opt.StateDir)
	if err != nil {
		log.Error("failed to load persistent GUID", err, "dir", opt.StateDir)
		os.Exit(1)
	}
	log.Info("daemon GUID", "guid", id.String())

	reg := metrics.New()
	if opt.MetricsAddr != "" {
		go serveMetrics(opt.MetricsAddr, reg, log)
	}

	packets := make(chan nstransport.Packet, 256)
	monitor := ifmonitor.NewMonitor(nstransport.NewOpener(packets)).
		WithLazyWindow(time.Duration(opt.LazyMin)*time.Second, time.Duration(opt.LazyMax)*time.Second)
	if cfg.IPNameService.Interfaces != "" {
		monitor.Open(ifmonitor.InterfaceRequest{Name: cfg.IPNameService.Interfaces, TransportMask: localTransport})
	}

	engine := nameservice.New(id, monitor, packets, log).
		WithMetrics(reg).
		WithDirectedBroadcast(!cfg.IPNameService.DisableDirectedBroadcast)
	if err := engine.Init(false); err != nil {
		log.Error("engine init failed", err)
		os.Exit(1)
	}
	ports := nameservice.TransportPorts{
		EnableIPv4: cfg.IPNameService.EnableIPv4,
		EnableIPv6: cfg.IPNameService.EnableIPv6,
	}
	if cfg.Listen != "" {
		listen, err := busconfig.ParseListen(cfg.Listen)
		if err != nil {
			log.Error("failed to parse listen spec", err, "listen", cfg.Listen)
			os.Exit(1)
		}
		ports.ReliableIPv4 = listen.Port("r4port")
		ports.ReliableIPv6 = listen.Port("r6port")
		ports.UnreliableIPv4 = listen.Port("u4port")
		ports.UnreliableIPv6 = listen.Port("u6port")
	}
	if err := engine.Enable(localTransport, ports); err != nil {
		log.Error("engine enable failed", err)
		os.Exit(1)
	}
	if err := engine.Start(); err != nil {
		log.Error("engine start failed", err)
		os.Exit(1)
	}

	ruleTable := rule.NewTable()
	registry := router.NewRegistry()
	rt := router.New(registry, ruleTable).WithMetrics(reg)

	nullRegistry := nulltransport.NewRegistry()
	bundlerouter.NewOnce(daemonCore{engine: engine}, nullRegistry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down", "dropped", rt.Dropped())
	if err := engine.Stop(); err != nil {
		log.Error("engine stop failed", err)
	}
}

// daemonCore adapts the running engine to bundlerouter.Daemon. Its Start,
// Stop and Join do nothing: main starts and stops the engine itself, so
// the bundled-router launcher does not bring the engine up or down.
type daemonCore struct {
	engine *nameservice.Engine
}

func (d daemonCore) Start() error { return nil }
func (d daemonCore) Stop() error  { return nil }
func (d daemonCore) Join()        {}

func serveMetrics(addr string, reg *metrics.Registry, log buslog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		reg.WritePrometheus(w)
	})
	log.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server failed", err, "addr", addr)
	}
}

func applyEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return err
	}
	for k, v := range m {
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}
