// Package action turns chat button payloads into a closed set of typed actions.
//
// Every payload is parsed exactly once by Parse; handlers switch on the concrete
// type and never inspect the raw string again.
package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknown is returned for payloads that match no action.
var ErrUnknown = errors.New("unknown action")

// Action is implemented only by the types in this package.
type Action interface {
	// Encode renders the payload Parse accepts for this action.
	Encode() string
	isAction()
}

// ChooseCategory starts a new ticket in the given category.
type ChooseCategory struct{ Code string }

// Take assigns a pending ticket to the pressing agent.
type Take struct{ DisplayID int64 }

// Cancel withdraws the user's ticket. DisplayID is zero for legacy buttons
// that did not carry a number; the user's active ticket is meant then.
type Cancel struct{ DisplayID int64 }

// Close finishes an in-progress ticket.
type Close struct{ DisplayID int64 }

// Rename arms a rename prompt for the ticket thread.
type Rename struct{ DisplayID int64 }

// Rate records the user's score.
type Rate struct {
	DisplayID int64
	Score     int
}

// RateComment arms a rating comment prompt.
type RateComment struct{ DisplayID int64 }

func (ChooseCategory) isAction() {}
func (Take) isAction()           {}
func (Cancel) isAction()         {}
func (Close) isAction()          {}
func (Rename) isAction()         {}
func (Rate) isAction()           {}
func (RateComment) isAction()    {}

func (a ChooseCategory) Encode() string { return "cat:" + a.Code }
func (a Take) Encode() string           { return "take:" + itoa(a.DisplayID) }
func (a Close) Encode() string          { return "close_" + itoa(a.DisplayID) }
func (a Rename) Encode() string         { return "rename_" + itoa(a.DisplayID) }
func (a RateComment) Encode() string    { return "rate_comment:" + itoa(a.DisplayID) }

func (a Cancel) Encode() string {
	if a.DisplayID == 0 {
		return "cancel_ticket"
	}
	return "cancel_ticket:" + itoa(a.DisplayID)
}

func (a Rate) Encode() string {
	return "rate:" + itoa(a.DisplayID) + ":" + strconv.Itoa(a.Score)
}

// Parse decodes a button payload.
func Parse(data string) (Action, error) {
	switch {
	case strings.HasPrefix(data, "cat:"):
		code := strings.TrimPrefix(data, "cat:")
		if code == "" {
			return nil, fmt.Errorf("%w: empty category", ErrUnknown)
		}
		return ChooseCategory{Code: code}, nil
	case strings.HasPrefix(data, "take:"):
		id, err := parseID(strings.TrimPrefix(data, "take:"))
		if err != nil {
			return nil, err
		}
		return Take{DisplayID: id}, nil
	case data == "cancel_ticket":
		return Cancel{}, nil
	case strings.HasPrefix(data, "cancel_ticket:"):
		id, err := parseID(strings.TrimPrefix(data, "cancel_ticket:"))
		if err != nil {
			return nil, err
		}
		return Cancel{DisplayID: id}, nil
	case strings.HasPrefix(data, "close_"):
		id, err := parseID(strings.TrimPrefix(data, "close_"))
		if err != nil {
			return nil, err
		}
		return Close{DisplayID: id}, nil
	case strings.HasPrefix(data, "rename_"):
		id, err := parseID(strings.TrimPrefix(data, "rename_"))
		if err != nil {
			return nil, err
		}
		return Rename{DisplayID: id}, nil
	case strings.HasPrefix(data, "rate_comment:"):
		id, err := parseID(strings.TrimPrefix(data, "rate_comment:"))
		if err != nil {
			return nil, err
		}
		return RateComment{DisplayID: id}, nil
	case strings.HasPrefix(data, "rate:"):
		parts := strings.Split(strings.TrimPrefix(data, "rate:"), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrUnknown, data)
		}
		id, err := parseID(parts[0])
		if err != nil {
			return nil, err
		}
		score, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad score %q", ErrUnknown, parts[1])
		}
		return Rate{DisplayID: id, Score: score}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknown, data)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad ticket number %q", ErrUnknown, raw)
	}
	return id, nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
