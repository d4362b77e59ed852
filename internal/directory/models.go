package directory

import "time"

// Pool is the identity space an account belongs to. Callers and callees are
// stored separately upstream; ids are only unique within a pool.
type Pool string

const (
	PoolCaller Pool = "caller"
	PoolCallee Pool = "callee"
)

func (p Pool) Valid() bool { return p == PoolCaller || p == PoolCallee }

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Account is the read model of a user as this service sees it. Account
// management lives elsewhere; only the device registration and presence
// fields are written here.
type Account struct {
	ID    string `json:"id" db:"id"`
	Pool  Pool   `json:"pool" db:"pool"`
	Email string `json:"email" db:"email"`
	Name  string `json:"name,omitempty" db:"name"`

	// PushToken is the device endpoint the dispatcher delivers to.
	PushToken string   `json:"-" db:"push_token"`
	Platform  Platform `json:"platform,omitempty" db:"platform"`

	Online   bool      `json:"isOnline" db:"online"`
	LastSeen time.Time `json:"lastSeen,omitempty" db:"last_seen"`
	Active   bool      `json:"-" db:"active"`

	CreatedAt time.Time `json:"-" db:"created_at"`
	UpdatedAt time.Time `json:"-" db:"updated_at"`
}

func (a Account) HasDevice() bool { return a.PushToken != "" }

// DisplayName falls back to the email when no name is set.
func (a Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Email
}

// Summary is the public projection returned to the counterpart pool.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen,omitempty"`
	HasDevice bool      `json:"hasDevice"`
}

func (a Account) Summary() Summary {
	return Summary{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		IsOnline:  a.Online,
		LastSeen:  a.LastSeen,
		HasDevice: a.HasDevice(),
	}
}

// Target identifies a callee by id or by email. ID wins when both are set.
type Target struct {
	ID    string `json:"calleeId" form:"calleeId"`
	Email string `json:"email" form:"email"`
}
