// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsync

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Validation error sentinels for better error mapping
var (
	ErrBadPayload  = errors.New("bad_payload")
	ErrUnknownKind = errors.New("unknown_kind")
	ErrFKMissing   = errors.New("fk_missing")
)

// NormalizeSeries trims whitespace and fills in defaults
func NormalizeSeries(p *SeriesPayload) {
	p.ID = strings.ToLower(strings.TrimSpace(p.ID))
	p.Title = strings.TrimSpace(p.Title)
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	if p.Status == "" {
		p.Status = SeriesPlanning
	}
}

// NormalizeSermon trims whitespace and fills in defaults
func NormalizeSermon(p *SermonPayload) {
	p.ID = strings.ToLower(strings.TrimSpace(p.ID))
	p.Title = strings.TrimSpace(p.Title)
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	p.Visibility = strings.ToLower(strings.TrimSpace(p.Visibility))
	if p.Status == "" {
		p.Status = SermonDraft
	}
	if p.Visibility == "" {
		p.Visibility = VisibilityPrivate
	}
	if p.SeriesID != nil {
		id := strings.ToLower(strings.TrimSpace(*p.SeriesID))
		if id == "" {
			p.SeriesID = nil
		} else {
			p.SeriesID = &id
		}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
}

// ValidateSeries checks required fields, enums and lengths of a series payload.
// The same rules run on the server and in the client push pipeline.
func ValidateSeries(p *SeriesPayload) error {
	if _, err := uuid.Parse(p.ID); err != nil {
		return fmt.Errorf("%w: invalid UUID format: %s", ErrBadPayload, p.ID)
	}
	if err := checkTitle(p.Title); err != nil {
		return err
	}
	if err := checkLength("description", p.Description, MaxDescriptionLength); err != nil {
		return err
	}
	switch p.Status {
	case SeriesPlanning, SeriesActive, SeriesCompleted, SeriesArchived:
	default:
		return fmt.Errorf("%w: invalid series status %q", ErrBadPayload, p.Status)
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return fmt.Errorf("%w: end_date is before start_date", ErrBadPayload)
	}
	return nil
}

// ValidateSermon checks required fields, enums and lengths of a sermon payload
func ValidateSermon(p *SermonPayload) error {
	if _, err := uuid.Parse(p.ID); err != nil {
		return fmt.Errorf("%w: invalid UUID format: %s", ErrBadPayload, p.ID)
	}
	if err := checkTitle(p.Title); err != nil {
		return err
	}
	if err := checkLength("content", p.Content, MaxContentLength); err != nil {
		return err
	}
	if err := checkLength("outline", p.Outline, MaxOutlineLength); err != nil {
		return err
	}
	if err := checkLength("scripture_references", p.ScriptureReferences, MaxScriptureLength); err != nil {
		return err
	}
	if err := checkLength("notes", p.Notes, MaxNotesLength); err != nil {
		return err
	}
	switch p.Status {
	case SermonDraft, SermonPreparing, SermonReady, SermonDelivered, SermonArchived:
	default:
		return fmt.Errorf("%w: invalid sermon status %q", ErrBadPayload, p.Status)
	}
	switch p.Visibility {
	case VisibilityPrivate, VisibilityShared, VisibilityPublic:
	default:
		return fmt.Errorf("%w: invalid visibility %q", ErrBadPayload, p.Visibility)
	}
	if p.SeriesID != nil {
		if _, err := uuid.Parse(*p.SeriesID); err != nil {
			return fmt.Errorf("%w: invalid series_id: %s", ErrBadPayload, *p.SeriesID)
		}
	}
	if len(p.Tags) > MaxTags {
		return fmt.Errorf("%w: too many tags: %d > %d", ErrBadPayload, len(p.Tags), MaxTags)
	}
	for _, tag := range p.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("%w: empty tag", ErrBadPayload)
		}
		if err := checkLength("tag", tag, MaxTagLength); err != nil {
			return err
		}
	}
	return nil
}

// Validate dispatches to the kind-specific validator
func Validate(e Entity) error {
	switch v := e.(type) {
	case *SeriesPayload:
		return ValidateSeries(v)
	case *SermonPayload:
		return ValidateSermon(v)
	default:
		return ErrUnknownKind
	}
}

func checkTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", ErrBadPayload)
	}
	return checkLength("title", title, MaxTitleLength)
}

func checkLength(field, value string, limit int) error {
	if n := utf8.RuneCountInString(value); n > limit {
		return fmt.Errorf("%w: %s too long: %d > %d", ErrBadPayload, field, n, limit)
	}
	return nil
}
