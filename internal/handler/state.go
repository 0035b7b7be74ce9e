package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
)

// StateHeader carries client UI state the server cannot observe itself.
// Format (RFC 8941 Dictionary): panel-open=?1, idle=12
//
//	panel-open  boolean, whether the cart panel is visible
//	idle        integer seconds since the shopper's last input
const StateHeader = "Storefront-State"

// ClientState is a parsed StateHeader. Absent members are nil.
type ClientState struct {
	PanelOpen *bool
	Idle      *time.Duration
}

// ParseClientState parses a StateHeader value. Unknown members are ignored.
func ParseClientState(header string) (ClientState, error) {
	var st ClientState
	header = strings.TrimSpace(header)
	if header == "" {
		return st, errors.New("empty header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return st, fmt.Errorf("malformed dictionary: %w", err)
	}

	if member, ok := dict.Get("panel-open"); ok {
		item, ok := member.(httpsfv.Item)
		if !ok {
			return st, errors.New("panel-open must be an item")
		}
		open, ok := item.Value.(bool)
		if !ok {
			return st, errors.New("panel-open must be a boolean")
		}
		st.PanelOpen = &open
	}

	if member, ok := dict.Get("idle"); ok {
		item, ok := member.(httpsfv.Item)
		if !ok {
			return st, errors.New("idle must be an item")
		}
		secs, ok := item.Value.(int64)
		if !ok || secs < 0 {
			return st, errors.New("idle must be a non-negative integer")
		}
		idle := time.Duration(secs) * time.Second
		st.Idle = &idle
	}
	return st, nil
}
