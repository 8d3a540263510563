// Package permission maps roles to capability strings of the form
// "resource:action" and answers capability checks for users and token claims.
//
// The model is read-only here: granting or revoking custom permissions is an
// administrative write to the user's override list.
package permission

import (
	"strings"

	"github.com/iliyamo/sessionguard/internal/model"
)

// Resources known to the application.
const (
	ResourceCampaigns      = "campaigns"
	ResourceBlog           = "blog"
	ResourceGallery        = "gallery"
	ResourceDonations      = "donations"
	ResourceUsers          = "users"
	ResourceSecurityEvents = "security_events"
)

// Actions known to the application.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

// Wildcard grants every action on a resource when used as "resource:*".
const Wildcard = "*"

var (
	resources = []string{
		ResourceCampaigns, ResourceBlog, ResourceGallery,
		ResourceDonations, ResourceUsers, ResourceSecurityEvents,
	}
	actions = []string{ActionRead, ActionWrite, ActionDelete}

	defaults = map[model.Role][]string{
		model.RoleAdmin: adminDefaults(),
		model.RoleVolunteer: {
			Key(ResourceCampaigns, ActionRead),
			Key(ResourceBlog, ActionRead),
			Key(ResourceBlog, ActionWrite),
			Key(ResourceGallery, ActionRead),
			Key(ResourceGallery, ActionWrite),
		},
		model.RoleSponsor: {
			Key(ResourceCampaigns, ActionRead),
			Key(ResourceDonations, ActionRead),
			Key(ResourceDonations, ActionWrite),
			Key(ResourceBlog, ActionRead),
			Key(ResourceGallery, ActionRead),
		},
	}
)

// Subject is anything that can be checked for permissions: a user record or
// the claims of a verified token.
type Subject interface {
	PermissionRole() model.Role
	// PermissionOverrides returns an explicit list that replaces the role
	// defaults, or nil to fall back to them.
	PermissionOverrides() []string
}

// Key joins a resource and action into a permission string.
func Key(resource, action string) string {
	return resource + ":" + action
}

func adminDefaults() []string {
	out := make([]string, 0, len(resources)*len(actions))
	for _, r := range resources {
		for _, a := range actions {
			out = append(out, Key(r, a))
		}
	}
	return out
}

// DefaultPermissions returns a copy of the default capability list for role.
// Unknown roles have none.
func DefaultPermissions(role model.Role) []string {
	list := defaults[role]
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// Effective returns the permissions s actually holds: every permission for
// admins, the override list when one is set, the role defaults otherwise.
func Effective(s Subject) []string {
	if s == nil {
		return nil
	}
	if s.PermissionRole() == model.RoleAdmin {
		return adminDefaults()
	}
	if o := s.PermissionOverrides(); o != nil {
		out := make([]string, len(o))
		copy(out, o)
		return out
	}
	return DefaultPermissions(s.PermissionRole())
}

// HasPermission reports whether s holds required. Admins always do.
func HasPermission(s Subject, required string) bool {
	if s == nil {
		return false
	}
	if s.PermissionRole() == model.RoleAdmin {
		return true
	}
	required = strings.TrimSpace(required)
	if required == "" {
		return false
	}
	granted := s.PermissionOverrides()
	if granted == nil {
		granted = defaults[s.PermissionRole()]
	}
	for _, g := range granted {
		if matches(g, required) {
			return true
		}
	}
	return false
}

// HasAny reports whether s holds at least one of required.
func HasAny(s Subject, required ...string) bool {
	for _, r := range required {
		if HasPermission(s, r) {
			return true
		}
	}
	return false
}

// HasAll reports whether s holds every one of required. An empty list is
// trivially satisfied.
func HasAll(s Subject, required ...string) bool {
	for _, r := range required {
		if !HasPermission(s, r) {
			return false
		}
	}
	return true
}

func matches(granted, required string) bool {
	granted = strings.TrimSpace(granted)
	if granted == required {
		return true
	}
	resource, action, ok := strings.Cut(granted, ":")
	if !ok || action != Wildcard {
		return false
	}
	reqResource, _, ok := strings.Cut(required, ":")
	return ok && reqResource == resource
}
