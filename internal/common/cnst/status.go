package cnst

// TransactionStatus is the lifecycle state of a Transaction.
type TransactionStatus string

const (
	TransactionPending                 TransactionStatus = "PENDING"
	TransactionRunning                 TransactionStatus = "RUNNING"
	TransactionAwaitingInput           TransactionStatus = "AWAITING_INPUT"
	TransactionCompleted               TransactionStatus = "COMPLETED"
	TransactionClientConnectionDropped TransactionStatus = "CLIENT_CONNECTION_DROPPED"
	TransactionHostConnectionDropped   TransactionStatus = "HOST_CONNECTION_DROPPED"
)

// ActiveStatuses are the statuses a Transaction can still leave.
var ActiveStatuses = []TransactionStatus{
	TransactionPending,
	TransactionRunning,
	TransactionAwaitingInput,
	TransactionClientConnectionDropped,
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionCompleted || s == TransactionHostConnectionDropped
}

// ResultStatus is written once per Transaction.
type ResultStatus string

const (
	ResultSuccess    ResultStatus = "SUCCESS"
	ResultFailure    ResultStatus = "FAILURE"
	ResultCanceled   ResultStatus = "CANCELED"
	ResultRedirected ResultStatus = "REDIRECTED"
)

// Valid reports whether r is one of the known result statuses.
func (r ResultStatus) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultCanceled, ResultRedirected:
		return true
	}
	return false
}

// UsageEnvironment of an API key and the hosts that connect with it.
type UsageEnvironment string

const (
	EnvironmentDevelopment UsageEnvironment = "DEVELOPMENT"
	EnvironmentProduction  UsageEnvironment = "PRODUCTION"
)

// HostStatus is the persisted liveness of a host instance.
type HostStatus string

const (
	HostOnline      HostStatus = "ONLINE"
	HostOffline     HostStatus = "OFFLINE"
	HostUnreachable HostStatus = "UNREACHABLE"
)

// ScheduleRunStatus is the outcome of one scheduled firing.
type ScheduleRunStatus string

const (
	ScheduleRunSuccess ScheduleRunStatus = "SUCCESS"
	ScheduleRunFailure ScheduleRunStatus = "FAILURE"
)

// RequirementType of a TransactionRequirement.
type RequirementType string

const (
	RequirementIdentityConfirm RequirementType = "IDENTITY_CONFIRM"
)

// IOResponseKind values sent back to a Host.
const (
	IOResponseReturn   = "RETURN"
	IOResponseCanceled = "CANCELED"
)

// UnknownCallID is used when canceling a Transaction with no cached render call.
const UnknownCallID = "UNKNOWN"
