// Package httpclient builds the HTTP client used for payment rail calls.
// It refuses private, loopback and link-local destinations unless the rail
// is configured with AllowPrivate, so a misconfigured endpoint cannot be
// pointed at internal services.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/remit/errors"
)

// Options configures a SaferClient
type Options struct {
	Timeout        time.Duration
	AllowPrivate   bool     // permit private and loopback hosts (sandbox rails, tests)
	MaxRedirects   int      // default 3
	AllowedSchemes []string // default https, http
}

// SaferClient wraps http.Client with destination checks
type SaferClient struct {
	*http.Client
	allowedSchemes []string
	blockPrivateIP bool
	maxRedirects   int
}

// New creates a client from opts
func New(opts Options) *SaferClient {
	c := &SaferClient{
		Client:         &http.Client{Timeout: opts.Timeout},
		allowedSchemes: opts.AllowedSchemes,
		blockPrivateIP: !opts.AllowPrivate,
		maxRedirects:   opts.MaxRedirects,
	}
	if len(c.allowedSchemes) == 0 {
		c.allowedSchemes = []string{"https", "http"}
	}
	if c.maxRedirects <= 0 {
		c.maxRedirects = 3
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		if err := c.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	if c.blockPrivateIP {
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		c.Transport = &http.Transport{
			// Resolve and check at dial time so DNS rebinding cannot slip past validateURL
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to resolve host %q", host)
				}
				for _, ip := range ips {
					if isPrivateIP(ip) {
						return nil, errors.Newf("private IP address blocked: %s", ip)
					}
				}
				return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
			},
			MaxIdleConns:          20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	return c
}

func (c *SaferClient) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}

	// http://rail.example@localhost/ style confusion
	if u.User != nil {
		return errors.New("URL must not carry userinfo")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}

	if c.blockPrivateIP {
		if isLocalhost(hostname) {
			return errors.New("localhost access blocked")
		}
		if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
			return errors.Newf("private IP address blocked: %s", hostname)
		}
	}

	return nil
}

// ValidateURL parses urlStr and checks it against the client's policy
func (c *SaferClient) ValidateURL(urlStr string) (*url.URL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Do executes req after validating its destination
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

// isPrivateIP reports loopback, RFC 1918, link-local, multicast and other
// special-use addresses
func isPrivateIP(ip net.IP) bool {
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		// 0.0.0.0/8 and 240.0.0.0/4
		return ip4[0] == 0 || ip4[0] >= 240
	}
	// fec0::/10 site-local, 2001:db8::/32 documentation
	if ip[0] == 0xfe && ip[1]&0xc0 == 0xc0 {
		return true
	}
	return ip[0] == 0x20 && ip[1] == 0x01 && ip[2] == 0x0d && ip[3] == 0xb8
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}
