package provider

import (
	"net/http"
	"strings"
	"time"
)

// CookieJar accumulates the cookies of one login attempt. Insertion order is kept so the
// Cookie header is stable across hops; a later Set-Cookie for the same name replaces the value
// in place.
type CookieJar struct {
	names  []string
	values map[string]string
}

// NewCookieJar returns an empty jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{values: make(map[string]string)}
}

// ParseCookieJar rebuilds a jar from a serialised Cookie header, as stored with a suspended login.
func ParseCookieJar(header string) *CookieJar {
	jar := NewCookieJar()
	if strings.TrimSpace(header) == "" {
		return jar
	}
	cookies, err := http.ParseCookie(header)
	if err != nil {
		// Fall back to a lenient split so a single odd pair does not drop the whole jar
		for _, pair := range strings.Split(header, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && name != "" {
				jar.Set(name, value)
			}
		}
		return jar
	}
	for _, c := range cookies {
		jar.Set(c.Name, c.Value)
	}
	return jar
}

// Set adds or replaces a cookie.
func (j *CookieJar) Set(name, value string) {
	if _, exists := j.values[name]; !exists {
		j.names = append(j.names, name)
	}
	j.values[name] = value
}

// Get returns a cookie value.
func (j *CookieJar) Get(name string) (string, bool) {
	v, ok := j.values[name]
	return v, ok
}

// Remove drops a cookie.
func (j *CookieJar) Remove(name string) {
	if _, exists := j.values[name]; !exists {
		return
	}
	delete(j.values, name)
	for i, n := range j.names {
		if n == name {
			j.names = append(j.names[:i], j.names[i+1:]...)
			break
		}
	}
}

// Merge folds the Set-Cookie headers of a response into the jar. Cookies the server expires
// are removed.
func (j *CookieJar) Merge(resp *http.Response, now time.Time) {
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			j.Remove(c.Name)
			continue
		}
		j.Set(c.Name, c.Value)
	}
}

// Len is the number of cookies held.
func (j *CookieJar) Len() int {
	return len(j.names)
}

// Header serialises the jar as a Cookie header value.
func (j *CookieJar) Header() string {
	pairs := make([]string, 0, len(j.names))
	for _, name := range j.names {
		pairs = append(pairs, name+"="+j.values[name])
	}
	return strings.Join(pairs, "; ")
}
