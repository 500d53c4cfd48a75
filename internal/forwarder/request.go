package forwarder

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/CermakM/osiris-build-observer/internal/event"
	"github.com/CermakM/osiris-build-observer/internal/retry"
)

// Osiris build hooks.
const (
	StartedPath   = "/build/started"
	CompletedPath = "/build/completed"
)

// DeliveryIDHeader carries a stable identifier of the notification so Osiris
// can recognize a redelivered event.
const DeliveryIDHeader = "X-Osiris-Delivery-Id"

var deliveryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/CermakM/osiris"))

// SerializationError is returned when a projection cannot be encoded. The
// notification is not sent.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize build projection: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// EndpointFor returns the Osiris hook for the projection.
func EndpointFor(p event.BuildProjection) string {
	if p.Completed {
		return CompletedPath
	}
	return StartedPath
}

// DeliveryID derives the delivery identifier from the identity of the event,
// so building the request twice yields the same value.
func DeliveryID(p event.BuildProjection) string {
	key := strings.Join([]string{
		p.Namespace,
		p.BuildName,
		p.BuildUID,
		p.Reason,
		p.FirstTimestamp.UTC().Format("2006-01-02T15:04:05.999999999Z"),
	}, "/")
	return uuid.NewSHA1(deliveryNamespace, []byte(key)).String()
}

// NewRequest builds the PUT request for p. Dry-run and live deliveries share
// this path.
func (f *Forwarder) NewRequest(p event.BuildProjection) (*retry.Request, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("User-Agent", f.userAgent)
	header.Set(DeliveryIDHeader, DeliveryID(p))
	if f.gzip {
		body, err = compress(body)
		if err != nil {
			return nil, &SerializationError{Err: fmt.Errorf("gzip payload: %w", err)}
		}
		header.Set("Content-Encoding", "gzip")
	}
	return &retry.Request{
		Method: http.MethodPut,
		URL:    f.baseURL + EndpointFor(p),
		Header: header,
		Body:   body,
	}, nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
