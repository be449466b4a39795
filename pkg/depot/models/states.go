package models

// ProjectStatus represents the production lifecycle of a project.
type ProjectStatus string

const (
	ProjectPlanning ProjectStatus = "planning"
	ProjectActive   ProjectStatus = "active"
	ProjectOnHold   ProjectStatus = "on_hold"
	ProjectArchived ProjectStatus = "archived"
)

// ValidProjectStatus reports whether s is a known project status.
func ValidProjectStatus(s ProjectStatus) bool {
	switch s {
	case ProjectPlanning, ProjectActive, ProjectOnHold, ProjectArchived:
		return true
	}
	return false
}

// ChangelistStatus represents the submission state of a changelist.
type ChangelistStatus string

const (
	ChangelistOpen          ChangelistStatus = "open"
	ChangelistPendingReview ChangelistStatus = "pending_review"
	ChangelistSubmitted     ChangelistStatus = "submitted"
	ChangelistAbandoned     ChangelistStatus = "abandoned"
)

// ItemAction is the per-version action a changelist item records.
type ItemAction string

const (
	ActionAdd       ItemAction = "add"
	ActionEdit      ItemAction = "edit"
	ActionDelete    ItemAction = "delete"
	ActionIntegrate ItemAction = "integrate"
)

// ValidItemAction reports whether a is a known changelist item action.
func ValidItemAction(a ItemAction) bool {
	switch a {
	case ActionAdd, ActionEdit, ActionDelete, ActionIntegrate:
		return true
	}
	return false
}

// MergeStatus represents the state of a branch merge.
type MergeStatus string

const (
	MergePending    MergeStatus = "pending"
	MergeMerged     MergeStatus = "merged"
	MergeConflicted MergeStatus = "conflicted"
	MergeCancelled  MergeStatus = "cancelled"
)

// Terminal reports whether the merge can never change state again.
func (s MergeStatus) Terminal() bool {
	return s == MergeMerged || s == MergeCancelled
}

// MergeJobType identifies one orchestration step of a merge.
type MergeJobType string

const (
	JobAutoIntegrate   MergeJobType = "auto_integrate"
	JobConflictStaging MergeJobType = "conflict_staging"
	JobSubmitGate      MergeJobType = "submit_gate"
)

// ValidMergeJobType reports whether t is a known merge job type.
func ValidMergeJobType(t MergeJobType) bool {
	switch t {
	case JobAutoIntegrate, JobConflictStaging, JobSubmitGate:
		return true
	}
	return false
}

// MergeJobStatus represents the state of one merge job.
type MergeJobStatus string

const (
	JobQueued    MergeJobStatus = "queued"
	JobRunning   MergeJobStatus = "running"
	JobStaged    MergeJobStatus = "staged"
	JobCompleted MergeJobStatus = "completed"
	JobFailed    MergeJobStatus = "failed"
)

// ValidMergeJobStatus reports whether s is a known merge job status.
func ValidMergeJobStatus(s MergeJobStatus) bool {
	switch s {
	case JobQueued, JobRunning, JobStaged, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether the job can never change state again.
func (s MergeJobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Role is the hierarchical project membership role.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleManager     Role = "manager"
	RoleLead        Role = "lead"
	RoleContributor Role = "contributor"
	RoleReviewer    Role = "reviewer"
	RoleViewer      Role = "viewer"
)

// ValidRole reports whether r is a known membership role.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleManager, RoleLead, RoleContributor, RoleReviewer, RoleViewer:
		return true
	}
	return false
}
