package middleware

import (
	"net"
	"net/http"
	"strings"
)

// BypassEvaluator decides whether a request skips rate limiting and why.
type BypassEvaluator func(r *http.Request) (bool, string)

// RequestBypassConfig exempts health probes and the telephony/payment
// providers' source ranges. Providers retry with backoff jitter, not with
// Retry-After, so throttling their webhooks only loses events.
type RequestBypassConfig struct {
	EnableProbeBypass   bool
	EnableWebhookBypass bool
	WebhookSourceCIDRs  []string
}

type requestBypassMatcher struct {
	probeBypass   bool
	webhookBypass bool
	webhookCIDRs  []*net.IPNet
}

func NewRequestBypassEvaluator(cfg RequestBypassConfig) BypassEvaluator {
	m := &requestBypassMatcher{
		probeBypass:   cfg.EnableProbeBypass,
		webhookBypass: cfg.EnableWebhookBypass,
		webhookCIDRs:  make([]*net.IPNet, 0, len(cfg.WebhookSourceCIDRs)),
	}
	for _, cidr := range cfg.WebhookSourceCIDRs {
		v := strings.TrimSpace(cidr)
		if v == "" {
			continue
		}
		_, network, err := net.ParseCIDR(v)
		if err != nil {
			continue
		}
		m.webhookCIDRs = append(m.webhookCIDRs, network)
	}
	if !m.probeBypass && !m.webhookBypass {
		return nil
	}
	return m.Match
}

func (m *requestBypassMatcher) Match(r *http.Request) (bool, string) {
	if r == nil {
		return false, ""
	}
	path := strings.TrimSpace(strings.ToLower(r.URL.Path))
	if m.probeBypass {
		switch path {
		case "/health/live", "/health/ready":
			return true, "internal_probe_path"
		}
	}
	if !m.webhookBypass {
		return false, ""
	}
	if strings.HasPrefix(path, "/webhooks/") {
		if len(m.webhookCIDRs) == 0 {
			return true, "webhook_path"
		}
		if ip := parseRequestIP(r); ip != nil {
			for _, network := range m.webhookCIDRs {
				if network.Contains(ip) {
					return true, "webhook_source_cidr"
				}
			}
		}
	}
	return false, ""
}

func parseRequestIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil || host == "" {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if host == "" {
		return nil
	}
	return net.ParseIP(host)
}
