/*
Package main implements the broker service.

RPC API Specification:

Broker Service
====================

Service Type: RPC fabric dispatcher (length-prefixed JSON over Unix-domain
              socket and/or TCP)
Description: Central message router for the mesh. Peers dial in, register
             functions they can serve, and place calls; the broker routes
             rpc_call/rpc_cancel/rpc_response messages by function name and
             priority. It never executes application handler code itself.

Built-in methods:
-----------------

1. core.new_rpc
   Description: Registers the calling peer as a handler for a function name
   at a priority. Served directly by the broker dispatcher, not forwarded to
   any peer.
   Request Parameters:
     - function (string, required): function name to register
     - priority (int, optional): lower values are tried first
   Response:
     - true on success
   Errors:
     - invalid_args: function name missing
     - duplicate_function_for_peer: this peer already registered this
       function

Every other function name is routed to whichever connected peer registered
it, trying registrations in ascending priority order and falling through to
the next one whenever a handler responds with status "not_handled".
*/
package main

import (
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyw0ng95/meshrpc/internal/broker"
	"github.com/cyw0ng95/meshrpc/pkg/common"
	"github.com/cyw0ng95/meshrpc/pkg/transport"
)

func main() {
	configFile := flag.String("config", "", "path to a broker config JSON file (optional)")
	unixSocketPath := flag.String("unix", "", "unix socket path to listen on (overrides config)")
	tcpAddr := flag.String("tcp", "", "tcp address to listen on, e.g. :9443 (added to the config's tcp_addrs)")
	logFile := flag.String("log-file", "", "optional log file; logs always also go to stdout")
	flag.Parse()

	cfg := &common.Config{}
	if *configFile != "" {
		loaded, err := common.LoadConfig(*configFile)
		if err != nil {
			common.Error("error loading config: %v", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *unixSocketPath != "" {
		cfg.Broker.UnixSocketPath = *unixSocketPath
	}
	if cfg.Broker.UnixSocketPath == "" {
		cfg.Broker.UnixSocketPath = common.DefaultUnixSocketPath
	}
	if *tcpAddr != "" {
		cfg.Broker.TCPAddrs = append(cfg.Broker.TCPAddrs, *tcpAddr)
	}

	var logOutput io.Writer = os.Stdout
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			common.Error("error opening log file: %v", err)
			os.Exit(1)
		}
		defer f.Close()
		logOutput = io.MultiWriter(os.Stdout, f)
	}
	common.SetOutput(logOutput)
	common.SetLevel(common.InfoLevel)

	logger := common.NewLogger(logOutput, "broker", common.InfoLevel)

	queueCap := cfg.Broker.WriteQueueCapacity
	if queueCap <= 0 {
		queueCap = common.DefaultWriteQueueCapacity
	}
	b := broker.New(logger, queueCap)

	var listeners []transport.Listener
	if cfg.Broker.UnixSocketPath != "" {
		ln, err := transport.ListenUnix(cfg.Broker.UnixSocketPath)
		if err != nil {
			logger.Error("listen unix %s: %v", cfg.Broker.UnixSocketPath, err)
			os.Exit(1)
		}
		listeners = append(listeners, ln)
		logger.Info("listening on unix socket %s", cfg.Broker.UnixSocketPath)
	}
	for _, addr := range cfg.Broker.TCPAddrs {
		ln, err := transport.ListenTCP(addr)
		if err != nil {
			logger.Error("listen tcp %s: %v", addr, err)
			os.Exit(1)
		}
		listeners = append(listeners, ln)
		logger.Info("listening on tcp %s", addr)
	}

	for _, ln := range listeners {
		go func(ln transport.Listener) {
			if err := b.Serve(ln); err != nil {
				logger.Warn("listener %s stopped: %v", ln.Addr(), err)
			}
		}(ln)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received, stopping broker (peers connected: %d)", b.PeerCount())

	for _, ln := range listeners {
		ln.Close()
	}
}
