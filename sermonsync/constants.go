// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsync

// Kind identifies an entity collection exposed by the API
type Kind string

// Entity kinds. Series is the parent, sermons reference a series through series_id.
const (
	KindSeries  Kind = "series"
	KindSermons Kind = "sermons"
)

// Kinds lists entity kinds in dependency order (parent first)
var Kinds = []Kind{KindSeries, KindSermons}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindSeries || k == KindSermons
}

// Path returns the collection path for the kind, e.g. "/api/series"
func (k Kind) Path() string {
	return "/api/" + string(k)
}

// IsChild reports whether records of this kind carry a foreign key to a parent kind
func (k Kind) IsChild() bool {
	return k == KindSermons
}

func (k Kind) String() string { return string(k) }

// Series status values
const (
	SeriesPlanning  = "planning"
	SeriesActive    = "active"
	SeriesCompleted = "completed"
	SeriesArchived  = "archived"
)

// Sermon status values
const (
	SermonDraft     = "draft"
	SermonPreparing = "preparing"
	SermonReady     = "ready"
	SermonDelivered = "delivered"
	SermonArchived  = "archived"
)

// Sermon visibility values
const (
	VisibilityPrivate = "private"
	VisibilityShared  = "shared"
	VisibilityPublic  = "public"
)

// Field length limits shared by the server and the client-side validation
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxContentLength     = 200000
	MaxOutlineLength     = 50000
	MaxScriptureLength   = 1000
	MaxNotesLength       = 20000
	MaxTags              = 50
	MaxTagLength         = 50
)

// Paging defaults
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Error codes returned in ErrorResponse.Error
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeValidation     = "validation_failed"
	ErrCodeFKMissing      = "fk_missing"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "already_exists"
	ErrCodeAuth           = "authentication_failed"
	ErrCodeInternal       = "internal_error"
)
