package domain

// Actor identifies who performed a mutation.
type Actor struct {
	UserID string `json:"userId"`
	System bool   `json:"system,omitempty"`
}

// SystemIdentity is the actor scheduled jobs and background maintenance run as.
var SystemIdentity = Actor{UserID: "system", System: true}

// UserActor returns the actor for an authenticated user.
func UserActor(userID string) Actor { return Actor{UserID: userID} }

func (a Actor) IsZero() bool { return a.UserID == "" && !a.System }

func (a Actor) String() string {
	if a.System {
		return "system:" + a.UserID
	}
	return a.UserID
}
