package entitlement

import "time"

// DenyReason explains a negative Decision.
type DenyReason string

const (
	ReasonNone              DenyReason = ""
	ReasonNoSubscription    DenyReason = "no_subscription"
	ReasonInactive          DenyReason = "inactive"
	ReasonCapabilityMissing DenyReason = "capability_missing"
	ReasonLimitReached      DenyReason = "limit_reached"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

func deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Authorize decides whether sub grants capability. usage is the caller's current
// consumption of a numeric-limited feature and is ignored for unbounded ones.
// Authorize has no side effects; counters are the caller's job.
func Authorize(sub *Subscription, capability Capability, usage int, now time.Time) Decision {
	if sub == nil {
		return deny(ReasonNoSubscription)
	}
	if !sub.IsActive(now) {
		return deny(ReasonInactive)
	}
	feature, ok := sub.Feature(capability)
	if !ok {
		return deny(ReasonCapabilityMissing)
	}
	if feature.Limit != nil && usage >= *feature.Limit {
		return deny(ReasonLimitReached)
	}
	return Decision{Allowed: true}
}
