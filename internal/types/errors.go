package types

import "errors"

// Sentinel errors for tripwire operations. Callers wrap them with context
// (fmt.Errorf("...: %w", err)) and match with errors.Is.
var (
	// ErrInvalidSchedule indicates a malformed schedule payload.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrUnknownTimeZone indicates an IANA zone name that could not be loaded.
	ErrUnknownTimeZone = errors.New("unknown time zone")

	// ErrScheduleExpired indicates a schedule with no future occurrence.
	ErrScheduleExpired = errors.New("schedule has no future occurrence")

	// ErrInvalidCondition indicates a malformed condition tree.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrEmptyGroup indicates an all/any group with no children.
	ErrEmptyGroup = errors.New("condition group has no children")

	// ErrConditionTooDeep indicates nesting beyond MaxConditionDepth.
	ErrConditionTooDeep = errors.New("condition exceeds maximum depth")

	// ErrInvalidOperator indicates an unknown comparison operator.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrNonNumericValue indicates a fact or literal that is not a number.
	ErrNonNumericValue = errors.New("value is not numeric")

	// ErrFactNotFound indicates the resolver has no handler for a fact id.
	ErrFactNotFound = errors.New("fact not found")

	// ErrInvalidParams indicates a fact handler rejected its parameters.
	ErrInvalidParams = errors.New("invalid fact params")

	// ErrResolverUnavailable indicates the fact source could not be reached.
	ErrResolverUnavailable = errors.New("fact resolver unavailable")

	// ErrNotifyTransient indicates a delivery failure that may succeed later.
	ErrNotifyTransient = errors.New("transient notification failure")

	// ErrNotifyPermanent indicates a delivery failure that will not succeed on retry.
	ErrNotifyPermanent = errors.New("permanent notification failure")

	// ErrJobNotFound indicates no job exists for the given id or rule.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists indicates a job already exists for the rule.
	ErrJobExists = errors.New("job already exists for rule")

	// ErrLeaseLost indicates the caller no longer owns the job's lease.
	ErrLeaseLost = errors.New("job lease lost")

	// ErrStoreUnavailable indicates the job store could not be reached.
	ErrStoreUnavailable = errors.New("job store unavailable")

	// ErrRuleInactive indicates a schedule request for a deactivated rule.
	ErrRuleInactive = errors.New("rule is not active")

	// ErrInvalidSnapshot indicates a rule snapshot missing required fields.
	ErrInvalidSnapshot = errors.New("invalid rule snapshot")
)
