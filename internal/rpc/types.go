package rpc

import "strconv"

// LockStatus is the physical state of a lock.
type LockStatus string

// Lock states.
const (
	StatusLocked   LockStatus = "locked"
	StatusUnlocked LockStatus = "unlocked"
)

// Valid reports whether s is a known lock state.
func (s LockStatus) Valid() bool {
	return s == StatusLocked || s == StatusUnlocked
}

// Toggled returns the opposite state. Anything that is not locked toggles to locked.
func (s LockStatus) Toggled() LockStatus {
	if s == StatusLocked {
		return StatusUnlocked
	}
	return StatusLocked
}

// Lock is a smart lock as returned by the backend.
type Lock struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Location string     `json:"localization"`
	Status   LockStatus `json:"status"`
	// Version is a monotonic revision when the backend provides one; 0 means unknown.
	Version int64 `json:"version,omitempty"`
}

// Role is a user's relationship to a lock.
type Role string

// Grant roles.
const (
	RoleOwner Role = "owner"
	RoleGuest Role = "guest"
)

// GrantStatus says whether a grant currently opens the lock.
type GrantStatus string

// Grant states.
const (
	GrantActive   GrantStatus = "active"
	GrantInactive GrantStatus = "inactive"
)

// User is the public profile of an account.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AccessGrant links a user to a lock with a role.
type AccessGrant struct {
	ID        int64       `json:"id"`
	UserID    int64       `json:"userId"`
	LockID    int64       `json:"doorLockId"`
	Role      Role        `json:"paper"`
	Status    GrantStatus `json:"status"`
	SharedBy  *int64      `json:"sharedBy,omitempty"`
	StartsAt  *string     `json:"startsAt,omitempty"`
	ExpiresAt *string     `json:"expiresAt,omitempty"`
	User      *User       `json:"user,omitempty"`
	Lock      *Lock       `json:"doorLock,omitempty"`
}

// DisplayName names the grantee for messages: the embedded user's name,
// else its e-mail, else a placeholder with the user id.
func (g AccessGrant) DisplayName() string {
	if g.User != nil {
		if g.User.Name != "" {
			return g.User.Name
		}
		if g.User.Email != "" {
			return g.User.Email
		}
	}
	return "User #" + strconv.FormatInt(g.UserID, 10)
}

// CreateGrantInput is the payload for CreateAccessGrant.
type CreateGrantInput struct {
	UserID int64       `json:"userId"`
	LockID int64       `json:"doorLockId"`
	Role   Role        `json:"paper"`
	Status GrantStatus `json:"status"`
}

// CreateUserInput is the payload for CreateUser.
type CreateUserInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateLockInput is the payload for CreateLock.
type CreateLockInput struct {
	Name     string     `json:"name"`
	Location string     `json:"localization"`
	Status   LockStatus `json:"status"`
}

// LoginResult is the outcome of a successful Login.
type LoginResult struct {
	User  User
	Token string
}
