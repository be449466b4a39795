// Package models holds the GORM models for the depot workflow engine.
// Every identifier is a UUID string; state enums live in states.go.
package models

import "time"

// User is an authenticated principal. The HTTP layer resolves one per
// request; the depot never mutates users outside of seeding.
type User struct {
	ID           string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Username     string    `gorm:"column:username;uniqueIndex:idx_user_name;not null"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	Role         string    `gorm:"column:role;not null;default:user"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (User) TableName() string { return "users" }

// Project is a studio production unit owning branches, workspaces,
// changelists, and merges.
type Project struct {
	ID              string        `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name            string        `gorm:"column:name;not null"`
	Code            string        `gorm:"column:code;uniqueIndex:idx_project_code;not null"`
	Description     string        `gorm:"column:description"`
	Status          ProjectStatus `gorm:"column:status;index:idx_project_status;not null;default:planning"`
	StorageQuotaTB  float64       `gorm:"column:storage_quota_tb;not null;default:10"`
	StorageProvider string        `gorm:"column:storage_provider"`
	StorageLocation string        `gorm:"column:storage_location"`
	ArchivedAt      *time.Time    `gorm:"column:archived_at"`
	ArchivedBy      string        `gorm:"column:archived_by"`
	CreatedAt       time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Project) TableName() string { return "projects" }

// Archived reports whether the project has been permanently frozen.
func (p *Project) Archived() bool {
	return p.Status == ProjectArchived || p.ArchivedAt != nil
}

// Branch is a named integration stream within a project, optionally derived
// from a parent branch in the same project.
type Branch struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID      string    `gorm:"column:project_id;uniqueIndex:idx_branch_project_name,priority:1;not null"`
	Name           string    `gorm:"column:name;uniqueIndex:idx_branch_project_name,priority:2;not null"`
	Description    string    `gorm:"column:description"`
	ParentBranchID *string   `gorm:"column:parent_branch_id;type:varchar(36)"`
	CreatedBy      string    `gorm:"column:created_by"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Branch) TableName() string { return "branches" }

// Workspace is a per-user sandbox bound to one branch.
type Workspace struct {
	ID           string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID    string     `gorm:"column:project_id;uniqueIndex:idx_ws_project_user_name,priority:1;not null"`
	UserID       string     `gorm:"column:user_id;uniqueIndex:idx_ws_project_user_name,priority:2;index:idx_ws_user;not null"`
	BranchID     *string    `gorm:"column:branch_id;type:varchar(36)"`
	Name         string     `gorm:"column:name;uniqueIndex:idx_ws_project_user_name,priority:3;not null"`
	Description  string     `gorm:"column:description"`
	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Workspace) TableName() string { return "workspaces" }

// Asset is a logical binary asset. LatestVersion is a persistent counter so
// version numbers are never reused, even after a version row is deleted.
type Asset struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID     string    `gorm:"column:project_id;index:idx_asset_project;not null"`
	Name          string    `gorm:"column:name;not null"`
	Type          string    `gorm:"column:type"`
	Metadata      JSONAny   `gorm:"column:metadata;type:text"`
	LatestVersion int       `gorm:"column:latest_version;not null;default:0"`
	CreatedBy     string    `gorm:"column:created_by"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Asset) TableName() string { return "assets" }

// AssetVersion is an immutable numbered revision of an asset. Branch
// affinity is fixed at creation.
type AssetVersion struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	AssetID       string    `gorm:"column:asset_id;uniqueIndex:idx_version_asset_number,priority:1;not null"`
	VersionNumber int       `gorm:"column:version_number;uniqueIndex:idx_version_asset_number,priority:2;not null"`
	BranchID      *string   `gorm:"column:branch_id;type:varchar(36);index:idx_version_branch"`
	FilePath      string    `gorm:"column:file_path"`
	Notes         string    `gorm:"column:notes"`
	CreatedBy     string    `gorm:"column:created_by"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (AssetVersion) TableName() string { return "asset_versions" }

// AssetLock is an exclusive edit reservation on one asset, scoped to a
// workspace. The unique index on asset_id is the exclusivity invariant.
type AssetLock struct {
	ID          string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	AssetID     string     `gorm:"column:asset_id;uniqueIndex:idx_lock_asset;not null"`
	LockedBy    string     `gorm:"column:locked_by;index:idx_lock_holder;not null"`
	WorkspaceID *string    `gorm:"column:workspace_id;type:varchar(36)"`
	Notes       string     `gorm:"column:notes"`
	LockedAt    time.Time  `gorm:"column:locked_at;autoCreateTime"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
}

// TableName returns the GORM table name.
func (AssetLock) TableName() string { return "asset_locks" }

// ExpiredAt reports whether the lock had lapsed by now. A lock with no
// expiry never lapses.
func (l *AssetLock) ExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// Changelist is an atomic bundle of asset-version edits destined for a
// target branch.
type Changelist struct {
	ID             string           `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID      string           `gorm:"column:project_id;index:idx_cl_project;not null"`
	WorkspaceID    string           `gorm:"column:workspace_id;not null"`
	CreatedBy      string           `gorm:"column:created_by;not null"`
	TargetBranchID *string          `gorm:"column:target_branch_id;type:varchar(36)"`
	Status         ChangelistStatus `gorm:"column:status;index:idx_cl_status;not null;default:open"`
	Description    string           `gorm:"column:description"`
	SubmitterNotes string           `gorm:"column:submitter_notes"`
	SubmittedAt    *time.Time       `gorm:"column:submitted_at"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Changelist) TableName() string { return "changelists" }

// ChangelistItem records one asset-version's action within a changelist.
type ChangelistItem struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	ChangelistID   string     `gorm:"column:changelist_id;uniqueIndex:idx_item_cl_version,priority:1;not null"`
	AssetVersionID string     `gorm:"column:asset_version_id;uniqueIndex:idx_item_cl_version,priority:2;not null"`
	Action         ItemAction `gorm:"column:action;not null"`
	TargetBranchID *string    `gorm:"column:target_branch_id;type:varchar(36)"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (ChangelistItem) TableName() string { return "changelist_items" }

// Shelf is a staged, not-yet-submitted snapshot of a version held for
// review, optionally tied to a changelist. Deleting a shelf never deletes
// the underlying version.
type Shelf struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	WorkspaceID    string    `gorm:"column:workspace_id;index:idx_shelf_ws;not null"`
	AssetVersionID string    `gorm:"column:asset_version_id;not null"`
	ChangelistID   *string   `gorm:"column:changelist_id;type:varchar(36);index:idx_shelf_cl"`
	Description    string    `gorm:"column:description"`
	CreatedBy      string    `gorm:"column:created_by;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Shelf) TableName() string { return "shelves" }

// BranchMerge is an integration request from one branch into another.
type BranchMerge struct {
	ID              string      `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID       string      `gorm:"column:project_id;index:idx_merge_project;not null"`
	SourceBranchID  string      `gorm:"column:source_branch_id;not null"`
	TargetBranchID  string      `gorm:"column:target_branch_id;not null"`
	InitiatedBy     string      `gorm:"column:initiated_by;not null"`
	Status          MergeStatus `gorm:"column:status;index:idx_merge_status;not null;default:pending"`
	ConflictSummary JSONAny     `gorm:"column:conflict_summary;type:text"`
	Notes           string      `gorm:"column:notes"`
	CompletedAt     *time.Time  `gorm:"column:completed_at"`
	CreatedAt       time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (BranchMerge) TableName() string { return "branch_merges" }

// MergeConflict is a per-asset remediation record tied to a merge. A
// conflict is resolved when Resolution is non-empty and ResolvedAt is set.
type MergeConflict struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	BranchMergeID  string     `gorm:"column:branch_merge_id;index:idx_conflict_merge;not null"`
	AssetID        *string    `gorm:"column:asset_id;type:varchar(36)"`
	AssetVersionID *string    `gorm:"column:asset_version_id;type:varchar(36)"`
	Description    string     `gorm:"column:description"`
	Resolution     *string    `gorm:"column:resolution"`
	ResolvedAt     *time.Time `gorm:"column:resolved_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (MergeConflict) TableName() string { return "merge_conflicts" }

// Resolved reports whether the conflict no longer blocks merge completion.
func (c *MergeConflict) Resolved() bool {
	return c.Resolution != nil && c.ResolvedAt != nil
}

// MergeJob is one orchestration step of a merge.
type MergeJob struct {
	ID               string         `gorm:"primaryKey;column:id;type:varchar(36)"`
	BranchMergeID    string         `gorm:"column:branch_merge_id;index:idx_job_merge;not null"`
	JobType          MergeJobType   `gorm:"column:job_type;index:idx_job_type;not null"`
	Status           MergeJobStatus `gorm:"column:status;index:idx_job_status;not null;default:queued"`
	ConflictSnapshot JSONAny        `gorm:"column:conflict_snapshot;type:text"`
	SubmitGatePassed bool           `gorm:"column:submit_gate_passed;not null;default:false"`
	Logs             string         `gorm:"column:logs"`
	StartedAt        *time.Time     `gorm:"column:started_at"`
	CompletedAt      *time.Time     `gorm:"column:completed_at"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (MergeJob) TableName() string { return "merge_jobs" }

// ProjectMember binds a user to a project with a hierarchical role.
type ProjectMember struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID string    `gorm:"column:project_id;uniqueIndex:idx_member_project_user,priority:1;not null"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_member_project_user,priority:2;not null"`
	Role      Role      `gorm:"column:role;not null;default:viewer"`
	AddedBy   string    `gorm:"column:added_by"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (ProjectMember) TableName() string { return "project_members" }

// AuditRecord is an immutable before/after snapshot of one mutation.
type AuditRecord struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Table     string    `gorm:"column:table_name;index:idx_audit_table_time,priority:1;not null"`
	Operation string    `gorm:"column:operation;not null"`
	EntityID  string    `gorm:"column:entity_id;index:idx_audit_entity"`
	Actor     string    `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null"`
	OldValue  JSONAny   `gorm:"column:old_value;type:text"`
	NewValue  JSONAny   `gorm:"column:new_value;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_audit_table_time,priority:2;index:idx_audit_actor_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (AuditRecord) TableName() string { return "audit_records" }

// ProjectArchiveRecord is the immutable summary captured exactly once when a
// project transitions to archived.
type ProjectArchiveRecord struct {
	ID              string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID       string    `gorm:"column:project_id;uniqueIndex:idx_archive_project;not null"`
	AssetCount      int64     `gorm:"column:asset_count;not null"`
	VersionCount    int64     `gorm:"column:version_count;not null"`
	MemberCount     int64     `gorm:"column:member_count;not null"`
	StorageQuotaTB  float64   `gorm:"column:storage_quota_tb"`
	StorageLocation string    `gorm:"column:storage_location"`
	ArchivedBy      string    `gorm:"column:archived_by;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (ProjectArchiveRecord) TableName() string { return "project_archive_records" }
