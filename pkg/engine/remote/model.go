package remote

import (
	"github.com/goccy/go-json"

	"github.com/shelfdb/shelfdb.go/pkg/engine"
)

// Methods of the wire protocol. Every call is scoped by store name.
const (
	MethodBulkDocs = "bulkDocs"
	MethodGet      = "get"
	MethodAllDocs  = "allDocs"
	MethodRemove   = "remove"
	MethodChanges  = "changes"
	MethodCancel   = "cancel"

	// Server to client notifications.
	NotifyChange = "change"
	NotifyClosed = "closed"
)

// RPCError is the error member of a response. Engine failures carry their
// HTTP-like status so the client can rebuild an *engine.Error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Status  int    `json:"status,omitempty"`
	Name    string `json:"name,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (r *RPCError) Error() string {
	return r.Message
}

func (r *RPCError) Is(target error) bool {
	if target == nil {
		return r == nil
	}

	_, ok := target.(*RPCError)
	return ok
}

// Err returns the engine error when the RPC error carries one.
func (r *RPCError) Err() error {
	if r.Status == 0 {
		return r
	}
	return &engine.Error{Status: r.Status, Name: r.Name, Message: r.Message, Reason: r.Reason}
}

const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeEngineError    = -32000
)

type RPCRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type RPCResponse struct {
	ID     string          `json:"id"`
	Error  *RPCError       `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type RPCNotification struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type BulkDocsParams struct {
	Store string       `json:"store"`
	Docs  []engine.Doc `json:"docs"`
}

type GetParams struct {
	Store string `json:"store"`
	ID    string `json:"id"`
}

type AllDocsParams struct {
	Store       string `json:"store"`
	IncludeDocs bool   `json:"includeDocs"`
}

type RemoveParams struct {
	Store string `json:"store"`
	ID    string `json:"id"`
	Rev   string `json:"rev"`
}

// ChangesParams opens a feed under a subscription id chosen by the client,
// so notifications can be routed before the response arrives.
type ChangesParams struct {
	Store        string `json:"store"`
	Subscription string `json:"subscription"`
}

type CancelParams struct {
	Subscription string `json:"subscription"`
}

type ChangeNotification struct {
	Subscription string        `json:"subscription"`
	Change       engine.Change `json:"change"`
}

type ClosedNotification struct {
	Subscription string `json:"subscription"`
	Error        string `json:"error,omitempty"`
}
