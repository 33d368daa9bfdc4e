package domain

import "time"

// Profile is the canonical per-user record in the profile store, keyed by identity
type Profile struct {
	Identity           string    `json:"identity" bson:"_id"`
	Email              string    `json:"email" bson:"email"`
	UserType           UserType  `json:"userType" bson:"userType"`
	FirstName          string    `json:"firstName,omitempty" bson:"firstName,omitempty"`
	LastName           string    `json:"lastName,omitempty" bson:"lastName,omitempty"`
	CommerceCustomerID string    `json:"commerceCustomerId,omitempty" bson:"commerceCustomerId,omitempty"`
	CommerceLinked     bool      `json:"commerceLinked" bson:"commerceLinked"`
	AutoCreated        bool      `json:"autoCreated,omitempty" bson:"autoCreated,omitempty"`
	PreviousIdentity   string    `json:"previousIdentity,omitempty" bson:"previousIdentity,omitempty"`
	CreatedAt          time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt" bson:"updatedAt"`
}

// ProfileExtra carries the optional fields supplied when a profile is created
type ProfileExtra struct {
	FirstName          string
	LastName           string
	CommerceCustomerID string
	CommerceLinked     bool
	AutoCreated        bool
}
