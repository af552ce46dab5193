// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

// ListParams selects a page of an incremental pull
type ListParams struct {
	UpdatedSince   *time.Time
	IncludeDeleted bool
	Page           int
	Limit          int
}

// Transport is the remote REST API the engine synchronizes with
type Transport interface {
	List(ctx context.Context, kind Kind, params ListParams) (*sermonsync.ListResponse, error)
	Get(ctx context.Context, kind Kind, id string) (json.RawMessage, error)
	Create(ctx context.Context, kind Kind, body json.RawMessage) (json.RawMessage, error)
	Update(ctx context.Context, kind Kind, id string, body json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, kind Kind, id string) error
	Ping(ctx context.Context) error
}

// ErrorClass groups transport failures by how the engine reacts to them
type ErrorClass int

const (
	ClassNetwork  ErrorClass = iota // connection refused, reset, DNS
	ClassTimeout                    // per-call deadline hit
	ClassServer                     // 5xx
	ClassClient                     // other 4xx, including validation
	ClassAuth                       // 401/403 or missing token
	ClassNotFound                   // 404
	ClassConflict                   // 409
	ClassCanceled                   // caller context canceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassTimeout:
		return "timeout"
	case ClassServer:
		return "server"
	case ClassClient:
		return "client"
	case ClassAuth:
		return "auth"
	case ClassNotFound:
		return "not_found"
	case ClassConflict:
		return "conflict"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// TransportError describes a failed remote call
type TransportError struct {
	Class   ErrorClass
	Op      string
	Path    string
	Status  int    // HTTP status, 0 when no response was received
	Code    string // ErrorResponse.Error from the server
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s %s: %s error (status %d): %s", e.Op, e.Path, e.Class, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: %s error (status %d)", e.Op, e.Path, e.Class, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %s error: %v", e.Op, e.Path, e.Class, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s %s: %s error: %s", e.Op, e.Path, e.Class, e.Message)
	default:
		return fmt.Sprintf("%s %s: %s error", e.Op, e.Path, e.Class)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func classOf(err error) (ErrorClass, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Class, true
	}
	return 0, false
}

// IsNotFound reports a 404 from the remote
func IsNotFound(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassNotFound
}

// IsConflict reports a 409 from the remote
func IsConflict(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassConflict
}

// IsRetryable reports failures worth retrying: network errors, timeouts and 5xx
func IsRetryable(err error) bool {
	c, ok := classOf(err)
	return ok && (c == ClassNetwork || c == ClassTimeout || c == ClassServer)
}

// IsUnreachable reports failures where no response was received
func IsUnreachable(err error) bool {
	c, ok := classOf(err)
	return ok && (c == ClassNetwork || c == ClassTimeout)
}
