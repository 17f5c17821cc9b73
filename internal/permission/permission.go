// Package permission decides whether a user may perform a gated action.
// The decision combines a role-based base set with a per-(business, user)
// override map stored as JSONB: an override entry wins outright in either
// direction, anything else falls through to the role's base grant.
package permission

import (
	"errors"

	"gorm.io/gorm"

	"github.com/speymell/crmbot/internal/model"
)

// Key identifies one gated capability. Keeping both the base sets and the
// override map typed over the same constants means a typo cannot silently
// become a no-op permission.
type Key string

const (
	ServicesRead      Key = "services:read"
	ServicesWrite     Key = "services:write"
	AppointmentsRead  Key = "appointments:read"
	AppointmentsWrite Key = "appointments:write"
	MastersRead       Key = "masters:read"
	MastersWrite      Key = "masters:write"
	ClientsRead       Key = "clients:read"
	ClientsWrite      Key = "clients:write"
	FinanceRead       Key = "finance:read"
	FinanceWrite      Key = "finance:write"
	ChatRead          Key = "chat:read"
	ChatWrite         Key = "chat:write"
	BotsWrite         Key = "bots:write"
	UsersWrite        Key = "users:write"
)

// ValidKey reports whether s names a known permission key.
func ValidKey(s string) bool {
	for _, k := range AllKeys {
		if string(k) == s {
			return true
		}
	}
	return false
}

// AllKeys is the full enumerated permission set.
var AllKeys = []Key{
	ServicesRead, ServicesWrite,
	AppointmentsRead, AppointmentsWrite,
	MastersRead, MastersWrite,
	ClientsRead, ClientsWrite,
	FinanceRead, FinanceWrite,
	ChatRead, ChatWrite,
	BotsWrite,
	UsersWrite,
}

// BaseSet returns the role's default grants: owner gets everything, admin
// everything except users:write, staff a small read-only subset. Unknown
// roles get nothing.
func BaseSet(role string) map[Key]bool {
	set := make(map[Key]bool)
	switch role {
	case model.RoleOwner:
		for _, k := range AllKeys {
			set[k] = true
		}
	case model.RoleAdmin:
		for _, k := range AllKeys {
			if k != UsersWrite {
				set[k] = true
			}
		}
	case model.RoleStaff:
		set[AppointmentsRead] = true
		set[ClientsRead] = true
		set[ChatRead] = true
	}
	return set
}

// effective applies the override map on top of a base grant. Override values
// arrive from JSONB as interface{}; only a real boolean overrides. A
// malformed value must not flip the decision, so it falls back to base.
func effective(base bool, overrides map[string]interface{}, key Key) bool {
	if overrides == nil {
		return base
	}
	raw, ok := overrides[string(key)]
	if !ok {
		return base
	}
	if v, ok := raw.(bool); ok {
		return v
	}
	return base
}

// Resolver answers permission checks against the database.
type Resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Allowed reports whether the user currently holds the permission. A missing
// override row is the normal case and simply leaves the base grant standing.
func (r *Resolver) Allowed(user *model.User, key Key) (bool, error) {
	base := BaseSet(user.Role)[key]

	var row model.UserPermission
	err := r.db.Where("business_id = ? AND user_id = ?", user.BusinessID, user.ID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return base, nil
		}
		return false, err
	}

	return effective(base, row.Permissions, key), nil
}
