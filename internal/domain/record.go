// Package domain holds the record, change, intent and session types shared by the review engine.
package domain

import (
	"slices"
	"strings"
	"time"
)

// Record field names addressable by changes.
const (
	FieldEventType     = "event_type"
	FieldLocations     = "locations"
	FieldPeople        = "people"
	FieldOrganizations = "organizations"
	FieldSchemes       = "schemes"
	FieldHashtags      = "hashtags"
)

// ReviewStatus tracks where a record is in human review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewInReview ReviewStatus = "in_review"
	ReviewApproved ReviewStatus = "approved"
)

// Record is the structured extraction of a single post.
type Record struct {
	ID            string       `json:"id"`
	Text          string       `json:"text,omitempty"`
	EventType     string       `json:"event_type"`
	Locations     []string     `json:"locations"`
	People        []string     `json:"people"`
	Organizations []string     `json:"organizations"`
	Schemes       []string     `json:"schemes"`
	Hashtags      []string     `json:"hashtags"`
	Confidence    float64      `json:"confidence"`
	ReviewStatus  ReviewStatus `json:"review_status"`
	EditHistory   []EditEntry  `json:"edit_history,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// EditEntry records one approved field edit.
type EditEntry struct {
	Field    string    `json:"field"`
	OldValue Value     `json:"old_value"`
	NewValue Value     `json:"new_value"`
	EditedBy string    `json:"edited_by"`
	EditedAt time.Time `json:"edited_at"`
}

// Value is a field value. Scalar fields use Text, list fields use Items.
type Value struct {
	Text  string   `json:"text,omitempty"`
	Items []string `json:"items,omitempty"`
}

// TextValue wraps a scalar value.
func TextValue(s string) Value { return Value{Text: s} }

// ListValue wraps a list value.
func ListValue(items ...string) Value { return Value{Items: items} }

// IsEmpty reports whether the value carries nothing.
func (v Value) IsEmpty() bool {
	return strings.TrimSpace(v.Text) == "" && len(v.Items) == 0
}

// Strings flattens the value into a list.
func (v Value) Strings() []string {
	if len(v.Items) > 0 {
		return v.Items
	}
	if v.Text == "" {
		return nil
	}
	return []string{v.Text}
}

// String renders the value for prompts and messages.
func (v Value) String() string {
	if len(v.Items) > 0 {
		return strings.Join(v.Items, ", ")
	}
	return v.Text
}

// Contains reports whether the value holds s, case-insensitively.
func (v Value) Contains(s string) bool {
	for _, item := range v.Strings() {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// IsListField reports whether a field holds a list.
func IsListField(field string) bool {
	switch field {
	case FieldLocations, FieldPeople, FieldOrganizations, FieldSchemes, FieldHashtags:
		return true
	}
	return false
}

// KnownField reports whether field names a record field.
func KnownField(field string) bool {
	return field == FieldEventType || IsListField(field)
}

// Field returns the current value of a named field.
func (r *Record) Field(field string) (Value, bool) {
	switch field {
	case FieldEventType:
		return TextValue(r.EventType), true
	case FieldLocations:
		return ListValue(slices.Clone(r.Locations)...), true
	case FieldPeople:
		return ListValue(slices.Clone(r.People)...), true
	case FieldOrganizations:
		return ListValue(slices.Clone(r.Organizations)...), true
	case FieldSchemes:
		return ListValue(slices.Clone(r.Schemes)...), true
	case FieldHashtags:
		return ListValue(slices.Clone(r.Hashtags)...), true
	}
	return Value{}, false
}

// SetField replaces a named field. It returns false for unknown fields.
func (r *Record) SetField(field string, v Value) bool {
	switch field {
	case FieldEventType:
		r.EventType = v.Text
		if r.EventType == "" && len(v.Items) > 0 {
			r.EventType = v.Items[0]
		}
	case FieldLocations:
		r.Locations = slices.Clone(v.Strings())
	case FieldPeople:
		r.People = slices.Clone(v.Strings())
	case FieldOrganizations:
		r.Organizations = slices.Clone(v.Strings())
	case FieldSchemes:
		r.Schemes = slices.Clone(v.Strings())
	case FieldHashtags:
		r.Hashtags = slices.Clone(v.Strings())
	default:
		return false
	}
	return true
}

// Missing lists required fields that are still empty.
func (r *Record) Missing() []string {
	var missing []string
	if strings.TrimSpace(r.EventType) == "" {
		missing = append(missing, FieldEventType)
	}
	if len(r.Locations) == 0 {
		missing = append(missing, FieldLocations)
	}
	return missing
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Locations = slices.Clone(r.Locations)
	c.People = slices.Clone(r.People)
	c.Organizations = slices.Clone(r.Organizations)
	c.Schemes = slices.Clone(r.Schemes)
	c.Hashtags = slices.Clone(r.Hashtags)
	c.EditHistory = slices.Clone(r.EditHistory)
	return &c
}
