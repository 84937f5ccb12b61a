package worker

import (
	"danmud/internal/envstore"
	"danmud/pkg/types"
)

// Message types exchanged with a worker.
const (
	MsgRequest  = "request"
	MsgResponse = "response"
	MsgError    = "error"
	MsgSetEnv   = "setEnv"
	MsgLog      = "log"
	MsgReady    = "ready"
)

// Message is one line of the worker protocol. Only the fields relevant to
// Type are set.
type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	Method   string         `json:"method,omitempty"`
	URL      string         `json:"url,omitempty"`
	Headers  []types.Header `json:"headers,omitempty"`
	Body     []byte         `json:"body,omitempty"`
	ClientIP string         `json:"clientIp,omitempty"`

	Status    int      `json:"status,omitempty"`
	SetCookie []string `json:"setCookie,omitempty"`
	Error     string   `json:"error,omitempty"`

	Env *envstore.Snapshot `json:"env,omitempty"`

	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// RequestMessage wraps req for correlation id.
func RequestMessage(id string, req types.Request) Message {
	return Message{
		Type:     MsgRequest,
		ID:       id,
		Method:   req.Method,
		URL:      req.URL,
		Headers:  req.Headers,
		Body:     req.Body,
		ClientIP: req.ClientIP,
	}
}

// ResponseMessage wraps resp as the reply to id.
func ResponseMessage(id string, resp types.Response) Message {
	return Message{
		Type:      MsgResponse,
		ID:        id,
		Status:    resp.Status,
		Headers:   resp.Headers,
		SetCookie: resp.SetCookie,
		Body:      resp.Body,
	}
}

// SetEnvMessage carries a full snapshot.
func SetEnvMessage(s envstore.Snapshot) Message {
	return Message{Type: MsgSetEnv, Env: &s}
}

// Request extracts the request record of a request message.
func (m Message) Request() types.Request {
	return types.Request{Method: m.Method, URL: m.URL, Headers: m.Headers, Body: m.Body, ClientIP: m.ClientIP}
}

// Response extracts the response record of a response message.
func (m Message) Response() types.Response {
	return types.Response{Status: m.Status, Headers: m.Headers, SetCookie: m.SetCookie, Body: m.Body}
}
