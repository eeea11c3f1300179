package showads

import "time"

// Hooks for the black-box client tests.

var ParseRetryAfter = parseRetryAfter

// ExpireToken ages the cached token so the next Send re-authenticates.
func (c *Client) ExpireToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiresAt = time.Now().Add(-time.Minute)
}
