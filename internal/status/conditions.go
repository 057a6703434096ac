package status

import "time"

// ConditionStatus is the state of a condition.
type ConditionStatus string

const (
	ConditionTrue  ConditionStatus = "True"
	ConditionFalse ConditionStatus = "False"
)

// Condition types, one per job.
const (
	ConditionConfigArchived = "ConfigArchived"
	ConditionSnapshotted    = "Snapshotted"
	ConditionBackedUp       = "BackedUp"
	ConditionLogsRotated    = "LogsRotated"
)

// Condition reports how one job ended.
type Condition struct {
	Type               string          `json:"type" yaml:"type"`
	Status             ConditionStatus `json:"status" yaml:"status"`
	LastTransitionTime time.Time       `json:"last_transition_time" yaml:"last_transition_time"`
	Reason             string          `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message            string          `json:"message,omitempty" yaml:"message,omitempty"`
}

// SetCondition adds or updates a condition on the run.
// If a condition with the same type already exists, it updates it.
// The LastTransitionTime is only updated if the status changes.
func SetCondition(run *Run, condType string, status ConditionStatus, reason, message string) {
	now := time.Now()
	if run.now != nil {
		now = run.now()
	}

	for i := range run.Conditions {
		if run.Conditions[i].Type == condType {
			existing := &run.Conditions[i]
			if existing.Status != status {
				existing.LastTransitionTime = now
			}
			existing.Status = status
			existing.Reason = reason
			existing.Message = message
			return
		}
	}

	run.Conditions = append(run.Conditions, Condition{
		Type:               condType,
		Status:             status,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	})
}

// GetCondition returns a condition by type, or nil if not found.
func GetCondition(run *Run, condType string) *Condition {
	for i := range run.Conditions {
		if run.Conditions[i].Type == condType {
			return &run.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition exists and has status True.
func IsConditionTrue(run *Run, condType string) bool {
	cond := GetCondition(run, condType)
	return cond != nil && cond.Status == ConditionTrue
}

// IsConditionFalse returns true if the condition exists and has status False.
func IsConditionFalse(run *Run, condType string) bool {
	cond := GetCondition(run, condType)
	return cond != nil && cond.Status == ConditionFalse
}
