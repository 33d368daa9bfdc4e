package domain

// CommerceCustomer is a customer record held by the external commerce platform
type CommerceCustomer struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// CustomerExtra carries optional fields for customer creation
type CustomerExtra struct {
	FirstName        string
	LastName         string
	Phone            string
	AcceptsMarketing bool
}
