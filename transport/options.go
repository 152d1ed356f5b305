package transport

import "time"

// publishParams is the resolved set of per-call options applied to a
// single publish, whether issued through Publish, PublishAndWait or
// SendAndWait.
type publishParams struct {
	exchange       string
	confirm        bool
	mandatory      bool
	immediate      bool
	timeout        time.Duration
	cacheTTL       time.Duration
	useCache       bool
	gzip           bool
	skipSerialize  bool
	correlationID  string
	replyTo        string
	simpleResponse bool
	headers        map[string]any
}

// PublishOption customizes a single publish/RPC call. See §4.7 of the
// module's design notes for the full option table this mirrors.
type PublishOption func(*publishParams)

// WithExchange overrides the default exchange for this call.
func WithExchange(exchange string) PublishOption {
	return func(p *publishParams) { p.exchange = exchange }
}

// WithConfirm waits for a broker ack before the publish resolves.
func WithConfirm(confirm bool) PublishOption {
	return func(p *publishParams) { p.confirm = confirm }
}

// WithMandatory sets the AMQP mandatory flag.
func WithMandatory(mandatory bool) PublishOption {
	return func(p *publishParams) { p.mandatory = mandatory }
}

// WithImmediate sets the AMQP immediate flag.
func WithImmediate(immediate bool) PublishOption {
	return func(p *publishParams) { p.immediate = immediate }
}

// WithTimeout overrides the RPC timeout for this call.
func WithTimeout(timeout time.Duration) PublishOption {
	return func(p *publishParams) { p.timeout = timeout }
}

// WithCache enables cache read/write for this call with the given TTL.
func WithCache(ttl time.Duration) PublishOption {
	return func(p *publishParams) {
		p.useCache = true
		p.cacheTTL = ttl
	}
}

// WithGzip forces contentEncoding = gzip on the outbound body.
func WithGzip(gzip bool) PublishOption {
	return func(p *publishParams) { p.gzip = gzip }
}

// WithSkipSerialize bypasses body serialization; the caller is
// responsible for passing a []byte payload.
func WithSkipSerialize(skip bool) PublishOption {
	return func(p *publishParams) { p.skipSerialize = skip }
}

// WithCorrelationID reuses a specific correlation id instead of
// allocating a new uuid.
func WithCorrelationID(id string) PublishOption {
	return func(p *publishParams) { p.correlationID = id }
}

// WithReplyTo overrides the reply queue name for this call.
func WithReplyTo(replyTo string) PublishOption {
	return func(p *publishParams) { p.replyTo = replyTo }
}

// WithSimpleResponse controls whether PublishAndWait/SendAndWait
// resolve with just the decoded data (true, the default) or with
// {headers, data} (false).
func WithSimpleResponse(simple bool) PublishOption {
	return func(p *publishParams) { p.simpleResponse = simple }
}

// WithHeaders merges caller-supplied AMQP headers into the outbound
// message. On PublishAndWait/SendAndWait the timeout (in ms) and
// tracing headers are merged in afterward and take precedence; Publish
// sends the caller's headers as given.
func WithHeaders(headers map[string]any) PublishOption {
	return func(p *publishParams) {
		if p.headers == nil {
			p.headers = make(map[string]any, len(headers))
		}
		for k, v := range headers {
			p.headers[k] = v
		}
	}
}

func newPublishParams(defaultExchange string, defaultTimeout time.Duration, opts []PublishOption) *publishParams {
	p := &publishParams{
		exchange:       defaultExchange,
		timeout:        defaultTimeout,
		simpleResponse: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}
