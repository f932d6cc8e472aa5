package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

const wildcardOrigin = "*"

// originPolicy is the allow-list the upgrader checks Origin headers against.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// newOriginPolicy normalizes the configured origins. Entries that are not
// scheme://host[:port] are dropped and returned as rejected.
func newOriginPolicy(origins []string) (policy originPolicy, cleaned, rejected []string) {
	cleaned = lo.Uniq(lo.FilterMap(origins, func(origin string, _ int) (string, bool) {
		trimmed := strings.TrimSpace(origin)
		switch trimmed {
		case "":
			return "", false
		case wildcardOrigin:
			return wildcardOrigin, true
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			rejected = append(rejected, origin)
		}
		return normalized, ok
	}))

	return originPolicy{
		allowAll: lo.Contains(cleaned, wildcardOrigin),
		allowed:  lo.Keyify(cleaned),
	}, cleaned, rejected
}

func (p originPolicy) allows(origin string) bool {
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, found := p.allowed[normalized]
	return found
}

// normalizeOrigin reduces an origin to lower-case scheme://host[:port].
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func isOriginAllowed(origin string) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return activeOrigins.allows(origin)
}

// originChecker returns the websocket.Upgrader CheckOrigin hook.
func originChecker(log *slog.Logger) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if isOriginAllowed(origin) {
			return true
		}
		log.Warn("blocked websocket connection from disallowed origin", "origin", origin, "remoteAddr", r.RemoteAddr)
		return false
	}
}
