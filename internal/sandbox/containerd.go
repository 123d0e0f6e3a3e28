package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"
	"github.com/rs/zerolog/log"
)

// connectTimeout bounds the initial dial.
const connectTimeout = 5 * time.Second

// Client is the containerd connection used by ContainerdRunner. All sandbox
// containers live in one dedicated namespace so the startup orphan sweep
// never touches unrelated workloads on the same daemon.
type Client struct {
	inner     *containerd.Client
	namespace string
}

// NewClient dials containerd and verifies the connection with a version
// probe before handing it out. A daemon that accepts the socket but cannot
// answer is treated as unavailable so backend auto-selection can move on.
func NewClient(ctx context.Context, socket, namespace string) (*Client, error) {
	inner, err := containerd.New(socket,
		containerd.WithDefaultNamespace(namespace),
		containerd.WithTimeout(connectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd at %s: %w", socket, err)
	}

	if _, err := inner.Version(ctx); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("%w: containerd version probe failed: %v", ErrBackendUnavailable, err)
	}

	log.Info().
		Str("socket", socket).
		Str("namespace", namespace).
		Msg("connected to containerd")

	return &Client{inner: inner, namespace: namespace}, nil
}

// Raw exposes the underlying containerd client for container operations.
func (c *Client) Raw() *containerd.Client {
	return c.inner
}

// WithNamespace scopes a context to the sandbox namespace. Every containerd
// API call goes through this; an unscoped call would land in "default".
func (c *Client) WithNamespace(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.namespace)
}

func (c *Client) Close() error {
	return c.inner.Close()
}

// EnsureImage returns the runtime image, pulling and unpacking it on first
// use. Subsequent executions hit the local image store.
func (c *Client) EnsureImage(ctx context.Context, ref string) (containerd.Image, error) {
	ctx = c.WithNamespace(ctx)

	if image, err := c.inner.GetImage(ctx, ref); err == nil {
		return image, nil
	}

	log.Info().Str("ref", ref).Msg("pulling sandbox image")
	image, err := c.inner.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return image, nil
}
