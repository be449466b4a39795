// Package authz maps the capability context and project membership to
// allow/deny decisions. Role policies that the original system expressed as
// row-level security become explicit checks invoked by every handler before
// it touches a store.
package authz

import (
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
	"github.com/assetdepot/depot/pkg/identity"
)

// Role sets for write eligibility, ordered by privilege.
var (
	// BranchManagers may create/update branches and manage merges.
	BranchManagers = []models.Role{models.RoleOwner, models.RoleManager, models.RoleLead}

	// ChangelistEditors may create and submit changelists.
	ChangelistEditors = []models.Role{models.RoleOwner, models.RoleManager, models.RoleLead, models.RoleContributor}

	// MemberManagers may grant and revoke project memberships.
	MemberManagers = []models.Role{models.RoleOwner, models.RoleManager}

	// Reviewers may pass verdicts on changelists under review.
	Reviewers = []models.Role{models.RoleOwner, models.RoleManager, models.RoleLead, models.RoleReviewer}
)

// Enforcer evaluates membership-scoped permissions. Admins bypass all checks.
type Enforcer struct {
	db *gorm.DB
}

// NewEnforcer creates a new Enforcer.
func NewEnforcer(db *gorm.DB) *Enforcer {
	return &Enforcer{db: db}
}

// Membership returns the caller's membership row for a project, or nil.
func (e *Enforcer) Membership(projectID, userID string) (*models.ProjectMember, error) {
	var member models.ProjectMember
	err := e.db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&member).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &member, nil
}

// RequireMember allows admins and any project member.
func (e *Enforcer) RequireMember(id identity.Identity, projectID string) error {
	if id.Admin() {
		return nil
	}
	member, err := e.Membership(projectID, id.UserID)
	if err != nil {
		return err
	}
	if member == nil {
		return errs.Permission.New("not a member of project %s", projectID)
	}
	return nil
}

// RequireRole allows admins and members holding one of the given roles.
func (e *Enforcer) RequireRole(id identity.Identity, projectID string, roles ...models.Role) error {
	if id.Admin() {
		return nil
	}
	member, err := e.Membership(projectID, id.UserID)
	if err != nil {
		return err
	}
	if member == nil {
		return errs.Permission.New("not a member of project %s", projectID)
	}
	for _, r := range roles {
		if member.Role == r {
			return nil
		}
	}
	return errs.Permission.New("role %s is not sufficient", member.Role)
}

// RequireBranchManager gates branch and merge management.
func (e *Enforcer) RequireBranchManager(id identity.Identity, projectID string) error {
	return e.RequireRole(id, projectID, BranchManagers...)
}

// RequireChangelistEditor gates changelist and shelf management.
func (e *Enforcer) RequireChangelistEditor(id identity.Identity, projectID string) error {
	return e.RequireRole(id, projectID, ChangelistEditors...)
}

// RequireReviewer gates review verdicts, such as sending a changelist
// under review back to its author.
func (e *Enforcer) RequireReviewer(id identity.Identity, projectID string) error {
	return e.RequireRole(id, projectID, Reviewers...)
}

// RequireMemberManager gates membership grants and revocations.
func (e *Enforcer) RequireMemberManager(id identity.Identity, projectID string) error {
	return e.RequireRole(id, projectID, MemberManagers...)
}

// RequireAdmin allows only site admins. Audit visibility and forced lock
// release use this.
func (e *Enforcer) RequireAdmin(id identity.Identity) error {
	if id.Admin() {
		return nil
	}
	return errs.Permission.New("admin role required")
}
