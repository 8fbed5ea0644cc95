// Package source implements the HTTP client for the remote item feed.
package source

import (
	"encoding/json"
	"fmt"
	"time"
)

// Item is a single entry of the remote feed as served by the item endpoint.
// Parent is a weak back-reference and may name an item that is not mirrored yet.
type Item struct {
	ID          int64   `json:"id"`
	Deleted     bool    `json:"deleted"`
	Type        string  `json:"type"`
	By          string  `json:"by"`
	Time        int64   `json:"time"`
	Dead        bool    `json:"dead"`
	Kids        []int64 `json:"kids"`
	Title       string  `json:"title"`
	Score       int64   `json:"score"`
	Text        string  `json:"text"`
	URL         string  `json:"url"`
	Parent      int64   `json:"parent"`
	Descendants int64   `json:"descendants"`
}

// CreatedAt returns the creation time of the item, zero if the feed omitted it
func (i Item) CreatedAt() time.Time {
	if i.Time == 0 {
		return time.Time{}
	}
	return time.Unix(i.Time, 0).UTC()
}

// Updates is the payload of the "recently changed" endpoint
type Updates struct {
	Items    []int64  `json:"items"`
	Profiles []string `json:"profiles"`
}

// MinPayloadLength is the shortest item body considered a real item.
// The feed answers with a bare "null" for missing or tombstoned ids.
const MinPayloadLength = 10

// ParseItem validates and decodes an item body
func ParseItem(body []byte) (Item, error) {
	var item Item
	if len(body) < MinPayloadLength {
		return item, fmt.Errorf("%w: item payload too short (%d bytes)", ErrMalformed, len(body))
	}
	if err := json.Unmarshal(body, &item); err != nil {
		return item, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if item.ID <= 0 {
		return item, fmt.Errorf("%w: item without id", ErrMalformed)
	}
	if item.Type == "" {
		return item, fmt.Errorf("%w: item %d without type", ErrMalformed, item.ID)
	}
	if item.Kids == nil {
		item.Kids = []int64{}
	}
	return item, nil
}

// ParseUpdates decodes the changed-ids payload. A corrupt payload fails as a
// whole, and so does one without an items list: an empty change set must be
// spelled out as "items":[].
func ParseUpdates(body []byte) (Updates, error) {
	var raw struct {
		Items    *[]int64 `json:"items"`
		Profiles []string `json:"profiles"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Updates{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Items == nil {
		return Updates{}, fmt.Errorf("%w: updates payload without items", ErrMalformed)
	}
	return Updates{Items: *raw.Items, Profiles: raw.Profiles}, nil
}
