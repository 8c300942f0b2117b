package model

import (
	"time"

	"github.com/google/uuid"
)

// Request RPC 请求信封, CorrelationID 由调用方生成, 响应原样带回
type Request[T any] struct {
	CorrelationID      string            `json:"correlation_id"`
	ContentType        string            `json:"content_type"`
	Content            *T                `json:"content,omitempty"`
	RequestingEndpoint *EndpointIdentity `json:"requesting_endpoint,omitempty"`
	RequestedAt        time.Time         `json:"requested_at"`
}

func NewRequest[T any](contentType string, content *T, from *EndpointIdentity) *Request[T] {
	return &Request[T]{
		CorrelationID:      uuid.NewString(),
		ContentType:        contentType,
		Content:            content,
		RequestingEndpoint: from,
		RequestedAt:        time.Now(),
	}
}

// Response 失败时 Content 为空
type Response[T any] struct {
	CorrelationID string    `json:"correlation_id"`
	InScope       bool      `json:"in_scope"`
	Successful    bool      `json:"successful"`
	CompletedAt   time.Time `json:"completed_at"`
	ContentType   string    `json:"content_type,omitempty"`
	Content       *T        `json:"content,omitempty"`
	Error         string    `json:"error,omitempty"`
}

func SuccessResponse[T any](correlationID, contentType string, content *T) *Response[T] {
	return &Response[T]{
		CorrelationID: correlationID,
		InScope:       true,
		Successful:    true,
		CompletedAt:   time.Now(),
		ContentType:   contentType,
		Content:       content,
	}
}

// FailedResponse is the request-scoped failure: same correlation id, no payload.
func FailedResponse[T any](correlationID string, err error) *Response[T] {
	r := &Response[T]{CorrelationID: correlationID, InScope: true, CompletedAt: time.Now()}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

type PendingQuery struct {
	Participant string `json:"participant"`
}

type TaskList struct {
	Tasks []*ActionableTask `json:"tasks"`
}
