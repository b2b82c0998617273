package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"checkout-service/internal/models"
)

var (
	// ErrMalformedPayload means the payload can never be parsed; the gateway must not retry it.
	ErrMalformedPayload = errors.New("malformed callback payload")
	// ErrInvalidSignature means the payload did not authenticate against the configured secret.
	ErrInvalidSignature = errors.New("invalid callback signature")
	// ErrEventIgnored means a well-formed event that carries no payment outcome.
	ErrEventIgnored = errors.New("callback event ignored")
)

// CallbackStatus is the payment outcome a gateway reports.
type CallbackStatus string

const (
	CallbackPaid   CallbackStatus = "paid"
	CallbackFailed CallbackStatus = "failed"
)

// Inbound is one HTTP notification as received.
type Inbound struct {
	Method      string
	ContentType string
	Header      http.Header
	Query       url.Values
	Body        []byte
	SourceIP    string
	// Truncated is set when the body exceeded the read limit; Body holds the first bytes.
	Truncated bool
	// ReadErr is set when the body could not be read in full.
	ReadErr error
}

// RawPayload is the verbatim text kept in the audit trail: the body, or the query
// string when the gateway notifies with a bodiless GET. A truncated body carries a
// trailing marker with the number of bytes kept.
func (in *Inbound) RawPayload() string {
	if in.Truncated {
		return fmt.Sprintf("%s\n[truncated after %d bytes]", in.Body, len(in.Body))
	}
	if len(in.Body) > 0 {
		return string(in.Body)
	}
	return in.Query.Encode()
}

// ParsedCallback is the provider-independent content of a callback.
type ParsedCallback struct {
	Reference     string
	Amount        int64
	HasAmount     bool
	Status        CallbackStatus
	TransactionID string
}

// Ack is the response body a gateway expects. Callbacks are always answered 200.
type Ack struct {
	ContentType string
	Body        []byte
}

// CallbackParser translates one gateway's callback layout.
type CallbackParser interface {
	Name() string
	Parse(in *Inbound, settings models.PaymentSettings) (*ParsedCallback, error)
	Ack() Ack
}

var jsonAck = Ack{ContentType: "application/json", Body: []byte(`{"received":true}`)}

// Registry maps gateway names in the callback URL to parsers.
type Registry struct {
	parsers map[string]CallbackParser
}

func NewRegistry(parsers ...CallbackParser) *Registry {
	r := &Registry{parsers: map[string]CallbackParser{}}
	for _, p := range parsers {
		if p == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(p.Name()))
		if name == "" {
			continue
		}
		r.parsers[name] = p
	}
	return r
}

func (r *Registry) Get(name string) (CallbackParser, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.parsers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// DefaultAck answers callbacks for gateways the registry does not know.
func DefaultAck() Ack {
	return jsonAck
}
