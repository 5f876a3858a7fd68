package rules

// RequestContext is an immutable snapshot of the request attributes the
// limiter partitions on. It lives only for the duration of one request;
// callers pass it by value and must not mutate Attributes after handing
// it off.
type RequestContext struct {
	ClientIP   string            `json:"clientIp"`
	UserID     string            `json:"userId,omitempty"`
	APIKey     string            `json:"apiKey,omitempty"`
	Endpoint   string            `json:"path"`
	Method     string            `json:"method"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attribute returns the named attribute, or "" when absent.
func (c RequestContext) Attribute(key string) string {
	return c.Attributes[key]
}

// WithAttribute returns a copy of the context with one attribute added,
// leaving the receiver untouched.
func (c RequestContext) WithAttribute(key, value string) RequestContext {
	attrs := make(map[string]string, len(c.Attributes)+1)
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	c.Attributes = attrs
	return c
}
