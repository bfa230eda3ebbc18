package shared

// EscalationLockKey is the redis key guarding the escalation scan singleton.
const EscalationLockKey = "approvia:jobs:escalation:lock"
