package gitx

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL converts a git remote URL into a canonical host/path identity
// so that equivalent SSH and HTTPS spellings of one vault remote compare equal.
//
// Examples:
//
//	git@github.com:Me/Vault.git       → github.com/Me/Vault
//	https://github.com/Me/Vault.git/  → github.com/Me/Vault
func NormalizeURL(rawURL string) string {
	host, path := splitRemote(strings.TrimSpace(rawURL))
	host = strings.ToLower(host)
	path = strings.TrimRight(path, "/")
	path = strings.TrimSuffix(path, ".git")
	path = strings.TrimRight(path, "/")

	if host == "" {
		return path
	}
	return host + "/" + path
}

// SameRemote reports whether two remote URLs point at the same repository.
func SameRemote(a, b string) bool {
	return NormalizeURL(a) == NormalizeURL(b)
}

// ProbeAddress derives a host:port suitable for a TCP reachability check of
// the remote. SSH remotes probe port 22 (or the explicit port), everything
// else probes 443. Local paths return "".
func ProbeAddress(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if isSSHShorthand(rawURL) {
		host, _ := splitRemote(rawURL)
		return net.JoinHostPort(host, "22")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	port := parsed.Port()
	if port == "" {
		switch parsed.Scheme {
		case "ssh", "git+ssh":
			port = "22"
		case "git":
			port = "9418"
		case "http":
			port = "80"
		default:
			port = "443"
		}
	}
	return net.JoinHostPort(parsed.Hostname(), port)
}

func isSSHShorthand(rawURL string) bool {
	i := strings.Index(rawURL, "@")
	return i >= 0 && !strings.Contains(rawURL[:i], "://") && strings.Contains(rawURL[i+1:], ":")
}

func splitRemote(rawURL string) (string, string) {
	if rawURL == "" {
		return "", ""
	}
	// SSH shorthand like git@github.com:Me/Vault.git
	if isSSHShorthand(rawURL) {
		rest := rawURL[strings.Index(rawURL, "@")+1:]
		colon := strings.Index(rest, ":")
		return rest[:colon], rest[colon+1:]
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" {
		return "", rawURL
	}
	return parsed.Hostname(), strings.TrimPrefix(parsed.Path, "/")
}
