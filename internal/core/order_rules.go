package core

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"regexp"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderConfirmed: {OrderPrepared, OrderCancelled},
	OrderPrepared:  {OrderShipped, OrderCancelled},
	OrderShipped:   {OrderDelivered, OrderCancelled},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(o *Order, to OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return preconditionError(CodeInvalidTransition, "order %d cannot move from %s to %s", o.ID, o.Status, to)
	}
	return nil
}

func checkNotBlocked(policy MarginPolicy, o *Order) error {
	if workflowBlocked(policy, o) {
		msg := o.ApprovalMessage
		if msg == "" {
			msg = "admin approval required"
		}
		return preconditionError(CodeApprovalPending, "order %d is waiting for admin approval: %s", o.ID, msg)
	}
	return nil
}

var confirmationCodePattern = regexp.MustCompile(`^\d{6}$`)

// ValidConfirmationCode reports whether code is exactly six ASCII digits.
func ValidConfirmationCode(code string) bool {
	return confirmationCodePattern.MatchString(code)
}

var confirmationCodeRange = big.NewInt(900000)

// generateConfirmationCode draws uniformly from 100000–999999.
func generateConfirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, confirmationCodeRange)
	if err != nil {
		return "", fmt.Errorf("failed to generate confirmation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func confirmationMatches(stored *string, presented string) bool {
	if stored == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(presented)) == 1
}

// decideAssignment applies the first-committed-wins rule for delivery agents.
// changed is false when agentID is already the assigned agent.
// A recorded agent can only be replaced by that agent itself.
func decideAssignment(current *int, actor Actor, agentID int) (changed bool, err error) {
	if actor.Role == RoleLivreur && agentID != actor.ID && (current == nil || *current != actor.ID) {
		return false, forbiddenError("a delivery agent may only claim orders for itself")
	}
	if current == nil {
		return true, nil
	}
	if *current == agentID {
		return false, nil
	}
	if actor.ID == *current {
		return true, nil
	}
	return false, preconditionError(CodeAlreadyAssigned, "order is already assigned to delivery agent %d", *current)
}
