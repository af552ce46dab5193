// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsync

import (
	"encoding/json"
	"time"
)

// Entity is a record stored by the service. Implemented by *SeriesPayload and *SermonPayload.
type Entity interface {
	EntityKind() Kind
	EntityID() string
	LastUpdated() time.Time
	IsDeleted() bool
}

// SeriesPayload is the wire representation of a sermon series
type SeriesPayload struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at"`
}

func (p *SeriesPayload) EntityKind() Kind { return KindSeries }
func (p *SeriesPayload) EntityID() string { return p.ID }
func (p *SeriesPayload) LastUpdated() time.Time { return p.UpdatedAt }
func (p *SeriesPayload) IsDeleted() bool { return p.DeletedAt != nil }
func (p *SeriesPayload) clone() *SeriesPayload { c := *p; return &c }

// SermonPayload is the wire representation of a sermon. SeriesID is the foreign key to a series.
type SermonPayload struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id,omitempty"`
	Title               string     `json:"title"`
	Content             string     `json:"content"`
	Outline             string     `json:"outline"`
	ScriptureReferences string     `json:"scripture_references"`
	Notes               string     `json:"notes"`
	SeriesID            *string    `json:"series_id"`
	Status              string     `json:"status"`
	Visibility          string     `json:"visibility"`
	Tags                []string   `json:"tags"`
	DateDelivered       *time.Time `json:"date_delivered"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeletedAt           *time.Time `json:"deleted_at"`
}

func (p *SermonPayload) EntityKind() Kind { return KindSermons }
func (p *SermonPayload) EntityID() string { return p.ID }
func (p *SermonPayload) LastUpdated() time.Time { return p.UpdatedAt }
func (p *SermonPayload) IsDeleted() bool { return p.DeletedAt != nil }

func (p *SermonPayload) clone() *SermonPayload {
	c := *p
	if p.SeriesID != nil {
		id := *p.SeriesID
		c.SeriesID = &id
	}
	c.Tags = append([]string(nil), p.Tags...)
	return &c
}

// Pagination describes the page returned by a list request
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// ListResponse is returned by GET /api/{kind}
type ListResponse struct {
	Items      []json.RawMessage `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StatusResponse is returned by GET /health
type StatusResponse struct {
	Status  string `json:"status"`
	AppName string `json:"app_name"`
	Time    string `json:"time"`
}

// DecodeEntity decodes a wire record of the given kind
func DecodeEntity(kind Kind, data []byte) (Entity, error) {
	switch kind {
	case KindSeries:
		var p SeriesPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case KindSermons:
		var p SermonPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, ErrUnknownKind
	}
}

func cloneEntity(e Entity) Entity {
	switch v := e.(type) {
	case *SeriesPayload:
		return v.clone()
	case *SermonPayload:
		return v.clone()
	default:
		return e
	}
}
