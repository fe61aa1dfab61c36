// Package client is the public entry point applications use to join the
// mesh: dial the broker, register handlers, and make outgoing calls. It
// wraps internal/peer.Loop behind a small, cheaply clonable handle.
package client

import (
	"fmt"
	"sync"

	"github.com/cyw0ng95/meshrpc/internal/peer"
	"github.com/cyw0ng95/meshrpc/pkg/common"
	"github.com/cyw0ng95/meshrpc/pkg/rpcctx"
	"github.com/cyw0ng95/meshrpc/pkg/transport"
)

// HandlerFunc is the signature a caller supplies to NewRPC. args is the raw
// JSON payload of the call; use jsonutil.Unmarshal to decode it.
type HandlerFunc = peer.Handler

// Client is a connected peer. The zero value is not usable; construct one
// with Connect.
type Client struct {
	loop *peer.Loop
}

// Options configures Connect.
type Options struct {
	// Network/Address select the dial target: ("unix", socket path) or
	// ("tcp", host:port).
	Network string
	Address string

	Logger      *common.Logger
	WorkerCount int
}

// Connect dials the broker at opts.Network/opts.Address and starts this
// peer's RPC loop in the background.
func Connect(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = common.DefaultLogger()
	}

	var conn transport.Connection
	var err error
	switch opts.Network {
	case "unix":
		conn, err = transport.DialUnix(opts.Address, common.DefaultDialTimeout)
	case "tcp":
		conn, err = transport.DialTCP(opts.Address, common.DefaultDialTimeout)
	default:
		return nil, fmt.Errorf("client: unknown network %q (want \"unix\" or \"tcp\")", opts.Network)
	}
	if err != nil {
		return nil, err
	}

	loop := peer.NewLoop(conn, opts.Logger, opts.WorkerCount)
	go loop.Run()
	return &Client{loop: loop}, nil
}

// Call issues an outgoing call and returns a CallerContext for streaming or
// awaiting the result.
func (c *Client) Call(function string, args interface{}) (*rpcctx.CallerContext, error) {
	return c.loop.Call(function, args)
}

// NewRPC registers handler as this peer's implementation of function at
// priority (lower values win when more than one peer registers the same
// function).
func (c *Client) NewRPC(function string, priority int, handler HandlerFunc) error {
	return c.loop.NewRPC(function, priority, handler)
}

// Close disconnects from the broker and stops the peer loop.
func (c *Client) Close() {
	c.loop.Close()
}

// ThinCaller is a cheap, safely clonable handle onto a Client, meant to be
// handed to worker goroutines that only need to place calls: it cannot
// register handlers, only place calls.
type ThinCaller struct {
	mu sync.Mutex
	c  *Client
}

// NewThinCaller wraps c.
func NewThinCaller(c *Client) *ThinCaller {
	return &ThinCaller{c: c}
}

// Call places a call through the wrapped Client.
func (t *ThinCaller) Call(function string, args interface{}) (*rpcctx.CallerContext, error) {
	t.mu.Lock()
	c := t.c
	t.mu.Unlock()
	return c.Call(function, args)
}

// Clone returns a new ThinCaller over the same underlying Client, cheap
// enough to hand to each worker goroutine at fan-out time; the mutex guards
// only the clone itself, never the calls a clone places (sends are
// lock-free on the loop's command channel).
func (t *ThinCaller) Clone() *ThinCaller {
	t.mu.Lock()
	c := t.c
	t.mu.Unlock()
	return &ThinCaller{c: c}
}
