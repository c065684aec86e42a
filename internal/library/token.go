package library

import (
	"net/http"
	"net/url"
)

// TokenProvider reads the anti-forgery token out of a cookie jar.
type TokenProvider struct {
	jar   http.CookieJar
	scope *url.URL
	name  string
}

func NewTokenProvider(jar http.CookieJar, scope *url.URL, name string) *TokenProvider {
	return &TokenProvider{jar: jar, scope: scope, name: name}
}

// Token returns the percent-decoded cookie value, or false when the cookie is
// unset. A '+' stays a '+'. A value that does not decode is returned as stored.
func (p *TokenProvider) Token() (string, bool) {
	if p == nil || p.jar == nil || p.scope == nil {
		return "", false
	}
	for _, ck := range p.jar.Cookies(p.scope) {
		if ck.Name != p.name {
			continue
		}
		if decoded, err := url.PathUnescape(ck.Value); err == nil {
			return decoded, true
		}
		return ck.Value, true
	}
	return "", false
}
