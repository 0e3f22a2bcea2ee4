package endpoint

import (
	"fmt"
	"net/url"
)

const (
	apiSecurePort = "3443"
	apiPlainPort  = "3001"

	metricsDashboardBase = "https://metrics.solana.com:3000/d/testnet-beta/testnet-monitor-beta?refresh=5s&from=now-5m&to=now"
	metricsTestnetParam  = "var-testnet"
)

// APIURL derives the API URL from an RPC URL. The host is dropped and the
// port becomes 3443 for https, 3001 otherwise; scheme and path are kept.
//
//	https://tds.solana.com:8443 -> https://:3443
func APIURL(rpcURL string) (string, error) {
	u, err := parseURL(rpcURL)
	if err != nil {
		return "", err
	}
	port := apiPlainPort
	if u.Scheme == "https" {
		port = apiSecurePort
	}
	u.Host = ":" + port
	return u.String(), nil
}

// WebsocketURL derives the API websocket URL from an API URL: https becomes
// wss, anything else ws. The host stays empty.
func WebsocketURL(apiURL string) (string, error) {
	u, err := parseURL(apiURL)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Host = ""
	if port != "" {
		u.Host = ":" + port
	}
	return u.String(), nil
}

// MetricsDashboardURL returns the Grafana dashboard link for name. For the
// local endpoint the network is inferred from hostname; when none is known
// the testnet variable is omitted.
func MetricsDashboardURL(name Name, hostname string) string {
	testnet := name
	if name == Local {
		testnet, _ = HostnameEndpoint(hostname)
	}
	if testnet == "" {
		return metricsDashboardBase
	}
	return metricsDashboardBase + "&" + metricsTestnetParam + "=" + url.QueryEscape(string(testnet))
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: %q: missing scheme", ErrInvalidURL, raw)
	}
	return u, nil
}
