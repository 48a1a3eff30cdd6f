package entitlement

import "errors"

var (
	// ErrSubscriptionNotFound is returned when a company has no subscription row.
	ErrSubscriptionNotFound = errors.New("entitlement: subscription not found")

	// ErrUnknownPlan is returned when a plan id is not in the catalog.
	ErrUnknownPlan = errors.New("entitlement: unknown plan")
)
