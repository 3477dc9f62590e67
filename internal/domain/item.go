package domain

import (
	"strconv"
	"time"
)

// ItemStatus is the fetch lifecycle state of an item.
type ItemStatus string

const (
	ItemStatusPending  ItemStatus = "pending"
	ItemStatusInFlight ItemStatus = "in_flight"
	ItemStatusDone     ItemStatus = "done"
	ItemStatusSkipped  ItemStatus = "skipped"
	ItemStatusError    ItemStatus = "error"
)

// Terminal reports whether the status ends a fetch session for the item.
// ERROR is not terminal: a later retry may move the item back in flight.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusDone || s == ItemStatusSkipped
}

// NoneValue is the canonical "no value" marker. It replaces "none"/"nothing"
// values and is backfilled for trait types an item does not carry.
const NoneValue = "none"

// Attribute is one categorical (trait type, value) pair of an item.
type Attribute struct {
	TraitType   string `json:"trait_type"`
	Value       string `json:"value"`
	Numeric     bool   `json:"numeric,omitempty"`
	DisplayType string `json:"display_type,omitempty"`

	// Backfilled marks a NoneValue added because the item lacked a
	// trait type that other items introduced.
	Backfilled bool `json:"backfilled,omitempty"`
}

// IsNone reports whether the attribute carries the "no value" marker.
func (a Attribute) IsNone() bool {
	return a.Value == NoneValue
}

// Item is one member of a collection, identified by a sequential integer ID.
type Item struct {
	ID       int        `json:"id"`
	FetchURI string     `json:"fetch_uri"`
	Status   ItemStatus `json:"status"`
	Attempt  int        `json:"attempt"`

	FetchStartedAt *time.Time `json:"fetch_started_at,omitempty"`
	FetchEndedAt   *time.Time `json:"fetch_ended_at,omitempty"`

	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`

	// Attributes holds the scored trait set, populated only when Status is done.
	Attributes []Attribute `json:"attributes,omitempty"`
	// SpecialAttributes holds display-typed traits (badges, boosts); never scored.
	SpecialAttributes []Attribute `json:"special_attributes,omitempty"`

	// TraitCount is the number of real (non-none) attributes.
	TraitCount int `json:"trait_count"`

	Price *float64 `json:"price,omitempty"`

	// Scores is nil until the rarity engine has computed it.
	Scores *Scores `json:"scores,omitempty"`
}

// NewItem creates a pending item for the given ID and fetch URI.
func NewItem(id int, fetchURI string) *Item {
	return &Item{
		ID:       id,
		FetchURI: fetchURI,
		Status:   ItemStatusPending,
	}
}

// Key returns the item's identifier as a string.
func (i *Item) Key() string {
	return strconv.Itoa(i.ID)
}

// HasTraitType reports whether the item carries a value for traitType.
func (i *Item) HasTraitType(traitType string) bool {
	for _, a := range i.Attributes {
		if a.TraitType == traitType {
			return true
		}
	}
	return false
}

// MarkInFlight moves the item into flight for a new attempt.
func (i *Item) MarkInFlight(now time.Time) {
	i.Status = ItemStatusInFlight
	i.Attempt++
	i.FetchStartedAt = &now
	i.FetchEndedAt = nil
}

// Finish records the end of the current fetch with the given outcome.
// Scores are cleared for anything other than done.
func (i *Item) Finish(status ItemStatus, now time.Time) {
	i.Status = status
	i.FetchEndedAt = &now
	if status != ItemStatusDone {
		i.Attributes = nil
		i.SpecialAttributes = nil
		i.TraitCount = 0
		i.Scores = nil
	}
}
