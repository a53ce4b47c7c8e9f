package rbs

// Session exposes the client's session to external tests.
func (c *Client) Session() *Session { return c.session }

// AfterTokenCheck runs the hook the dispatcher calls once a token is ready.
func (c *Client) AfterTokenCheck(rec TokenRecord) { c.connectRealtime(rec) }
