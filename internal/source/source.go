// Package source defines the contract for the external patent portal and
// provides the live PatentScope implementation of it.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/lgomes/patentscope-api/internal/patents"
)

// Page is the outcome of one search call: the hits on that result page
// and whether the portal reports further pages.
type Page struct {
	Hits    []patents.RawHit
	HasMore bool
}

// Client performs one logical search or detail fetch against the portal.
// Implementations are bound to a single task run; sessions are never
// shared across concurrent tasks.
type Client interface {
	// Search returns one page of hits for term, scoped to a country code
	// (empty means no country filter). Pages are numbered from 1.
	Search(ctx context.Context, term, country string, page int) (*Page, error)

	// FetchDetail retrieves the full payload for one publication number.
	FetchDetail(ctx context.Context, publicationNumber string) (*patents.DetailPayload, error)
}

// Kind classifies a portal failure. The orchestrator uses it to decide
// whether to keep trying other countries/pages or abort the task.
type Kind string

const (
	KindTransport    Kind = "transport"
	KindParse        Kind = "parse"
	KindAuthRequired Kind = "auth_required"
	KindRateLimited  Kind = "rate_limited"
)

// Error is a failure raised by the portal client.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s error: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the failure kind of err, or KindTransport when err is
// not a portal *Error (unexpected failures are treated as transport
// problems, the conservative default).
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return KindTransport
}
