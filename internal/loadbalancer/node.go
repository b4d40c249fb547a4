package loadbalancer

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"monerosync/internal/monero"
)

var ErrInvalidNode = errors.New("invalid remote node")

// RemoteNode is a daemon RPC endpoint. The zero Username means no
// authentication.
type RemoteNode struct {
	URL      string
	Network  monero.Network
	Username string
	Password string
}

// NewRemoteNode validates the base URL of a node.
func NewRemoteNode(rawURL string, network monero.Network, username, password string) (RemoteNode, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RemoteNode{}, fmt.Errorf("%w: %v", ErrInvalidNode, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return RemoteNode{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidNode, u.Scheme)
	}
	if u.Host == "" {
		return RemoteNode{}, fmt.Errorf("%w: missing host in %q", ErrInvalidNode, rawURL)
	}
	if u.User != nil {
		return RemoteNode{}, fmt.Errorf("%w: credentials must not be embedded in the URL", ErrInvalidNode)
	}
	if !network.Valid() {
		return RemoteNode{}, fmt.Errorf("%w: %w", ErrInvalidNode, monero.ErrUnknownNetwork)
	}

	return RemoteNode{
		URL:      strings.TrimRight(u.String(), "/"),
		Network:  network,
		Username: username,
		Password: password,
	}, nil
}

// URIForPath appends path to the node URL.
func (n RemoteNode) URIForPath(path string) string {
	return strings.TrimRight(n.URL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (n RemoteNode) HasCredentials() bool {
	return n.Username != "" || n.Password != ""
}

func (n RemoteNode) String() string {
	if !n.HasCredentials() {
		return fmt.Sprintf("RemoteNode(%s, %s)", n.URL, n.Network)
	}
	return fmt.Sprintf("RemoteNode(%s, %s, user=%s, password=***)", n.URL, n.Network, n.Username)
}
