package reason

// Code is a typed outcome code handed to the presentation layer. The empty code
// means a clean success.
type Code string

const (
	// Lookup.
	NotFound Code = "E_NOT_FOUND"

	// Eligibility, in evaluation order.
	Disabled         Code = "E_DISABLED"
	PermissionDenied Code = "E_NO_PERMISSION"
	WorldRestricted  Code = "E_WORLD_RESTRICTED"
	RequirementUnmet Code = "E_REQUIREMENT_UNMET"

	// Rate limit / one-shot / cost.
	OnCooldown        Code = "E_ON_COOLDOWN"
	AlreadyClaimed    Code = "E_ALREADY_CLAIMED"
	InsufficientFunds Code = "E_INSUFFICIENT_FUNDS"

	// Mutation steps after the cost was reserved. These are not rolled back.
	DeliveryFailed Code = "E_DELIVERY_FAILED"
	EffectFailed   Code = "E_EFFECT_FAILED"
	CommandFailed  Code = "E_COMMAND_FAILED"

	// Informational: the grant succeeded but some items went to the overflow channel.
	DeliveryOverflow Code = "I_DELIVERY_OVERFLOW"

	// Recovered locally; never returned from a grant.
	PersistenceFailure Code = "W_PERSISTENCE_FAILURE"
	InvalidDefinition  Code = "W_INVALID_DEFINITION"
)

var messageKeys = map[Code]string{
	"":                 "kit.received",
	NotFound:           "kit.not-found",
	Disabled:           "kit.disabled",
	PermissionDenied:   "kit.no-permission",
	WorldRestricted:    "kit.world-restricted",
	RequirementUnmet:   "kit.requirement-unmet",
	OnCooldown:         "kit.cooldown",
	AlreadyClaimed:     "kit.already-used",
	InsufficientFunds:  "kit.insufficient-funds",
	DeliveryFailed:     "errors.delivery-failed",
	EffectFailed:       "errors.effect-failed",
	CommandFailed:      "errors.command-failed",
	DeliveryOverflow:   "kit.overflow",
	PersistenceFailure: "errors.persistence",
	InvalidDefinition:  "errors.invalid-definition",
}

// IsKnown reports whether c belongs to the closed code set.
func IsKnown(c Code) bool {
	_, ok := messageKeys[c]
	return ok
}

// MessageKey returns the language key for c. Unknown codes map to a generic key.
func MessageKey(c Code) string {
	if k, ok := messageKeys[c]; ok {
		return k
	}
	return "errors.kit-error"
}

// IsRejection reports whether c ends a grant attempt without success.
func IsRejection(c Code) bool {
	switch c {
	case "", DeliveryOverflow, PersistenceFailure, InvalidDefinition:
		return false
	}
	return IsKnown(c)
}
