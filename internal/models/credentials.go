package models

// Credentials holds the identity used to fill signup forms, immutable per run
type Credentials struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	FullName    string `json:"full_name"`
	Phone       string `json:"phone,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// Phone represents a synthesised phone number for a specific country
type Phone struct {
	CountryCode    string `json:"country_code"`
	NationalNumber string `json:"national_number"`
	Rendered       string `json:"rendered"`
}

// Value returns the string to type into a field. Forms with their own
// country selector get the national number without the dial code.
func (p Phone) Value(nationalOnly bool) string {
	if nationalOnly {
		return p.NationalNumber
	}
	return p.Rendered
}
