package domain

import (
	"fmt"
	"strings"
)

// Action is something an actor does to a booking
type Action string

const (
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionRate     Action = "rate"
)

// Actions lists every action
var Actions = []Action{ActionAccept, ActionDecline, ActionCancel, ActionComplete, ActionRate}

// IsValid checks if the action is known
func (a Action) IsValid() bool {
	switch a {
	case ActionAccept, ActionDecline, ActionCancel, ActionComplete, ActionRate:
		return true
	}
	return false
}

// ChangesStatus is false for Rate, which only unlocks a review
func (a Action) ChangesStatus() bool {
	return a.IsValid() && a != ActionRate
}

// String returns the string representation of Action
func (a Action) String() string {
	return string(a)
}

// ParseAction parses an action name case-insensitively
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
	return a, nil
}

type edge struct {
	from   Status
	action Action
}

type rule struct {
	role Role
	next Status
}

// transitions is the complete table; any triple not present is forbidden
var transitions = map[edge]rule{
	{StatusPending, ActionAccept}:    {RoleWorker, StatusAccepted},
	{StatusPending, ActionDecline}:   {RoleWorker, StatusDeclined},
	{StatusPending, ActionCancel}:    {RoleCustomer, StatusCancelled},
	{StatusAccepted, ActionComplete}: {RoleWorker, StatusCompleted},
	{StatusAccepted, ActionRate}:     {RoleCustomer, StatusAccepted},
	{StatusCompleted, ActionRate}:    {RoleCustomer, StatusCompleted},
}

// Transition returns the status that follows current when role performs
// action. Rate leaves the status unchanged. Every other combination,
// including unknown values, yields a *TransitionError.
func Transition(current Status, action Action, role Role) (Status, error) {
	r, ok := transitions[edge{current, action}]
	if !ok || r.role != role {
		return "", &TransitionError{From: current, Action: action, Role: role}
	}
	return r.next, nil
}

// Allowed lists the actions role may perform on a booking in status s
func Allowed(s Status, role Role) []Action {
	var out []Action
	for _, a := range Actions {
		if _, err := Transition(s, a, role); err == nil {
			out = append(out, a)
		}
	}
	return out
}
