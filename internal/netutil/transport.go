package netutil

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// NewWebSocketDialer creates the dialer used for the Home Assistant WebSocket
// API. Certificate verification is only skipped when insecure is set, which
// is meant for self-signed Home Assistant installs on the local network.
func NewWebSocketDialer(handshakeTimeout time.Duration, insecure bool, logger *logrus.Logger) *websocket.Dialer {
	return &websocket.Dialer{
		NetDialContext:   createDialContext(logger),
		TLSClientConfig:  getTLSConfig(insecure, logger),
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  16 * 1024,
	}
}

func createDialContext(logger *logrus.Logger) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		if IsLocalOrPrivateHost(host) {
			logger.WithField("host", host).Debug("Connecting to local/private host")
		} else {
			logger.WithField("host", host).Debug("Connecting to external host")
		}

		dialer := net.Dialer{KeepAlive: 30 * time.Second}
		return dialer.DialContext(ctx, network, addr)
	}
}

// IsLocalOrPrivateHost checks if a hostname is localhost or a private network address
func IsLocalOrPrivateHost(host string) bool {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	// mDNS / home-network names such as homeassistant.local or router.lan
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".lan") {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false // External domain name
	}
	return isPrivateIP(ip)
}

// isPrivateIP checks if an IP address is in a private network range
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

func getTLSConfig(insecure bool, logger *logrus.Logger) *tls.Config {
	if insecure {
		logger.Warn("TLS certificate verification is disabled for Home Assistant")
	}
	return &tls.Config{
		InsecureSkipVerify: insecure, //nolint:gosec // opt-in for self-signed installs
		MinVersion:         tls.VersionTLS12,
	}
}
