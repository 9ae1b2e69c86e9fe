package edit

import (
	"context"

	"github.com/matthewbaird/entitykit/internal/types"
)

// Encoding is the payload encoding a transport must use for a request.
type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingMultipart
)

func (e Encoding) String() string {
	if e == EncodingMultipart {
		return "multipart"
	}
	return "json"
}

// HTTP-shaped methods used against a type's base path.
const (
	MethodCreate = "POST"
	MethodUpdate = "PATCH"
	MethodDelete = "DELETE"
)

// Request is one create, update or delete call. The controller decides the
// method, path and encoding; the transport performs it.
type Request struct {
	Method    string
	Path      string
	Encoding  Encoding
	ChangeSet ChangeSet
}

// Response is the normalised answer every transport returns. Errors is keyed
// by field name.
type Response struct {
	Success bool                `json:"success"`
	Data    *types.Instance     `json:"data,omitempty"`
	Error   string              `json:"error,omitempty"`
	Code    string              `json:"code,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// Transport performs requests against the backend. A non-nil error means the
// request could not be completed at all (network or parse failure); a
// completed request that the backend rejected is reported through
// Response.Success.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// TransportFunc adapts a plain function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (Response, error)

func (f TransportFunc) Do(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Confirmer is the out-of-band confirmation step required before a delete.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a plain function to the Confirmer interface.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}
