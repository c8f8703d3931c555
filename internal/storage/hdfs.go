package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/colinmarc/hdfs/v2"
	"github.com/me/blaze/pkg/model"
)

// SchemeHDFS is the scheme prefix of distributed filesystem locations.
const SchemeHDFS = "hdfs"

// Environment variables naming the HDFS namenode.
const (
	EnvNamenode = "HDFS_NAMENODE"
	EnvPort     = "HDFS_PORT"
)

type hdfsFile interface {
	io.ReadSeeker
	io.Closer
}

type hdfsClient interface {
	Open(name string) (hdfsFile, error)
	Close() error
}

// HDFSBackend reads byte ranges from HDFS.
type HDFSBackend struct {
	lookupEnv func(string) (string, bool)
	dial      func(addr, user string) (hdfsClient, error)
	user      string

	mu      sync.Mutex
	clients map[string]hdfsClient
}

// HDFSOption configures an HDFSBackend.
type HDFSOption func(*HDFSBackend)

// WithHDFSUser sets the user the client connects as.
func WithHDFSUser(user string) HDFSOption {
	return func(b *HDFSBackend) { b.user = user }
}

// WithLookupEnv replaces os.LookupEnv for namenode resolution.
func WithLookupEnv(fn func(string) (string, bool)) HDFSOption {
	return func(b *HDFSBackend) { b.lookupEnv = fn }
}

// NewHDFSBackend creates an HDFSBackend.
func NewHDFSBackend(opts ...HDFSOption) *HDFSBackend {
	b := &HDFSBackend{
		lookupEnv: os.LookupEnv,
		dial:      dialHDFS,
		clients:   make(map[string]hdfsClient),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func dialHDFS(addr, user string) (hdfsClient, error) {
	c, err := hdfs.NewClient(hdfs.ClientOptions{Addresses: []string{addr}, User: user})
	if err != nil {
		return nil, err
	}
	return &colinmarcClient{c}, nil
}

type colinmarcClient struct {
	*hdfs.Client
}

func (c *colinmarcClient) Open(name string) (hdfsFile, error) {
	f, err := c.Client.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Namenode resolves the namenode address from the environment.
func (b *HDFSBackend) Namenode() (string, error) {
	host, ok := b.lookupEnv(EnvNamenode)
	if !ok || host == "" {
		return "", fmt.Errorf("%s is not defined: %w", EnvNamenode, model.ErrConfig)
	}
	port, ok := b.lookupEnv(EnvPort)
	if !ok || port == "" {
		return "", fmt.Errorf("%s is not defined: %w", EnvPort, model.ErrConfig)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("%s=%q is not a port: %w", EnvPort, port, model.ErrConfig)
	}
	return net.JoinHostPort(host, port), nil
}

func (b *HDFSBackend) ReadAt(ctx context.Context, location string, offset, size int64) ([]byte, error) {
	addr, err := b.Namenode()
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", location, model.ErrSourceRead, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, err)
	}

	client, err := b.client(addr)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to HDFS at %s: %w: %w", addr, model.ErrSourceRead, err)
	}
	f, err := client.Open(u.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot find %s in HDFS: %w: %w", u.Path, model.ErrSourceRead, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("cannot seek %s to %d: %w: %w", u.Path, offset, model.ErrSourceRead, err)
	}
	data, err := readRange(ctx, f, size)
	if err != nil {
		return nil, fmt.Errorf("hdfs read %s: %w", u.Path, err)
	}
	return data, nil
}

func (b *HDFSBackend) client(addr string) (hdfsClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[addr]; ok {
		return c, nil
	}
	c, err := b.dial(addr, b.user)
	if err != nil {
		return nil, err
	}
	b.clients[addr] = c
	return c, nil
}

// Close disconnects every cached client.
func (b *HDFSBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var first error
	for addr, c := range b.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(b.clients, addr)
	}
	return first
}
