// This package provides utilities that underlie the specific commands.
// The idea is to keep the actual command's main() very small:
//
//   func main() {
//       var c cmd.Config
//       err := cmd.ReadConfigFile(*configFile, &c)
//       cmd.FailOnError(err, "Reading JSON config file into config structure")
//       scope, logger := cmd.StatsAndLogging(c.Syslog)
//       logger.Info(cmd.VersionString())
//       // build components, start background loops
//       cmd.CatchSignals(logger, shutdownFunc)
//   }
//
// All commands share the same invocation pattern: a single "-config" flag
// naming a JSON file unmarshalled into a Config.

package cmd

import (
	"encoding/json"
	"expvar"
	"fmt"
	"io/ioutil"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	blog "github.com/icao-pkd/localpkd-core/log"
	"github.com/icao-pkd/localpkd-core/metrics"
)

// Because we don't know when this init will be called with respect to
// flag.Parse() and other flag definitions, we can't rely on the regular
// flag mechanism. But this one is fine.
func init() {
	for _, v := range os.Args {
		if v == "--version" || v == "-version" {
			fmt.Println(VersionString())
			os.Exit(0)
		}
	}
}

// StatsAndLogging dials a syslog connection (or falls back to stderr-only
// when logConf.Server is empty) and constructs a Prometheus-backed Scope.
// It installs the logger as the process-wide default so background
// goroutines started without a constructor argument still log through it.
func StatsAndLogging(logConf SyslogConfig) (metrics.Scope, blog.Logger) {
	scope := metrics.NewPromScope(prometheus.DefaultRegisterer)

	tag := path.Base(os.Args[0])
	logger, err := blog.Dial(logConf.Network, logConf.Server, tag)
	FailOnError(err, "Could not connect to Syslog")

	blog.Set(logger)
	return scope, logger
}

// FailOnError exits and prints an error message if we encountered a problem.
func FailOnError(err error, msg string) {
	if err != nil {
		logger := blog.Get()
		logger.AuditErr(fmt.Sprintf("%s: %s", msg, err))
		fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
		os.Exit(1)
	}
}

// DebugServer starts a server exposing Prometheus metrics and Go runtime
// variables. Typical usage is to start it in a goroutine, configured with
// an address from the appropriate configuration object:
//
//   go cmd.DebugServer(c.DebugAddr)
func DebugServer(addr string) {
	if addr == "" {
		return
	}
	m := expvar.NewMap("runtime")
	m.Set("NumGoroutine", expvar.Func(func() interface{} { return runtime.NumGoroutine() }))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("unable to boot debug server on %#v: %s", addr, err)
	}
	http.Handle("/metrics", promhttp.Handler())
	err = http.Serve(ln, nil)
	if err != nil {
		log.Fatalf("unable to boot debug server: %s", err)
	}
}

// ReadConfigFile takes a file path as an argument and attempts to
// unmarshal the content of the file into a struct containing the
// configuration for this process.
func ReadConfigFile(filename string, out interface{}) error {
	configData, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(configData, out)
}

// VersionString produces a friendly application version string. BuildID
// and BuildTime are populated by the release build via -ldflags; outside
// of a release build BuildID reads "dev" and BuildTime reads "unknown".
func VersionString() string {
	name := path.Base(os.Args[0])
	return fmt.Sprintf("Versions: %s=(%s %s) Golang=(%s)", name, BuildID, BuildTime, runtime.Version())
}

// BuildID and BuildTime are overridden at release build time via
// -ldflags "-X github.com/icao-pkd/localpkd-core/cmd.BuildID=...".
var (
	BuildID   = "dev"
	BuildTime = "unknown"
)

var signalToName = map[os.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGHUP:  "SIGHUP",
}

// CatchSignals blocks until SIGTERM, SIGINT, or SIGHUP is received, then
// runs callback (if non-nil) before exiting. Intended as the last call in
// main(), after every background loop has been started.
func CatchSignals(logger blog.Logger, callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)
	signal.Notify(sigChan, syscall.SIGHUP)

	sig := <-sigChan
	logger.Info(fmt.Sprintf("Caught %s", signalToName[sig]))

	if callback != nil {
		callback()
	}

	logger.Info("Exiting")
	os.Exit(0)
}
