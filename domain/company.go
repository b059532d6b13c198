package domain

import (
	"fmt"
	"strings"
	"time"
)

// UserCompanyDetails holds the profile and company a user trades as.
type UserCompanyDetails struct {
	Recorder `json:"-"`

	UserID                string    `json:"userId"`
	FirstName             string    `json:"firstName"`
	LastName              string    `json:"lastName"`
	Email                 string    `json:"email"`
	CompanyName           string    `json:"companyName"`
	EmailVerificationCode string    `json:"emailVerificationCode,omitempty"`
	Created               time.Time `json:"created"`
	Modified              time.Time `json:"modified"`
}

// CompanyChanges lists the optional fields of a company details update.
type CompanyChanges struct {
	FirstName   *string
	LastName    *string
	CompanyName *string
}

// NewUserCompanyDetails registers the details of a new user and records
// UserCompanyDetailsCreated.
func NewUserCompanyDetails(userID, firstName, lastName, email, companyName, verificationCode string, actor Actor, now time.Time) (*UserCompanyDetails, error) {
	email = strings.TrimSpace(email)
	if userID == "" || email == "" {
		return nil, fmt.Errorf("user details: %w", ErrInvalidInput)
	}
	d := &UserCompanyDetails{
		UserID:                userID,
		FirstName:             strings.TrimSpace(firstName),
		LastName:              strings.TrimSpace(lastName),
		Email:                 email,
		CompanyName:           strings.TrimSpace(companyName),
		EmailVerificationCode: verificationCode,
		Created:               now.UTC(),
		Modified:              now.UTC(),
	}
	d.raise(UserCompanyDetailsCreated, actor, now)
	return d, nil
}

// Update applies the changes and records UserCompanyDetailsUpdated when anything changed.
func (d *UserCompanyDetails) Update(actor Actor, ch CompanyChanges, now time.Time) bool {
	changed := false
	set := func(dst *string, v *string) {
		if v == nil {
			return
		}
		nv := strings.TrimSpace(*v)
		if nv != *dst {
			*dst = nv
			changed = true
		}
	}
	set(&d.FirstName, ch.FirstName)
	set(&d.LastName, ch.LastName)
	set(&d.CompanyName, ch.CompanyName)
	if !changed {
		return false
	}
	d.Modified = now.UTC()
	d.raise(UserCompanyDetailsUpdated, actor, now)
	return true
}

func (d *UserCompanyDetails) raise(kind EventKind, actor Actor, now time.Time) {
	d.record(Event{
		Kind:       kind,
		UserID:     d.UserID,
		Actor:      actor,
		OccurredAt: now.UTC(),
		User: UserSnapshot{
			UserID:                d.UserID,
			FirstName:             d.FirstName,
			LastName:              d.LastName,
			Email:                 d.Email,
			CompanyName:           d.CompanyName,
			EmailVerificationCode: d.EmailVerificationCode,
		},
	})
}
