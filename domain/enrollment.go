package domain

import "time"

type EnrollmentStatus string

const (
	EnrollmentStatusPending  EnrollmentStatus = "pending"
	EnrollmentStatusApproved EnrollmentStatus = "approved"
	EnrollmentStatusRejected EnrollmentStatus = "rejected"
)

// Merchant is the identity block collected by the first wizard step.
// Photo and signature are inline data URLs; they stay inline through the
// whole flow (no separate upload endpoint in this design).
type Merchant struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Gender         string `json:"gender"`
	BirthDate      string `json:"birth_date"`
	Quartier       string `json:"quartier"`
	AddressID      string `json:"address_id"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	MembershipType string `json:"membership_type"`
	NationalityID  string `json:"nationality_id,omitempty"`
	CardNumber     string `json:"card_number,omitempty"`

	ActivityIDs    []string `json:"activity_ids"`
	SubActivityIDs []string `json:"sub_activity_ids"`

	ProfilePhoto   string `json:"profile_photo"`
	SignaturePhoto string `json:"signature_photo"`
}

// Document is one supporting file: name, document-type number, inline content.
type Document struct {
	Name    string `json:"name"`
	Number  string `json:"number"`
	Content string `json:"content"`
}

type Company struct {
	Name           string `json:"name"`
	RegistryNumber string `json:"registry_number"`
	TaxNumber      string `json:"tax_number,omitempty"`
	Address        string `json:"address,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

// EnrollmentRecord is the persisted result of one atomic wizard submission.
type EnrollmentRecord struct {
	ID        string           `json:"id"`
	Status    EnrollmentStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`

	Merchant  Merchant   `json:"merchant"`
	Documents []Document `json:"documents"`
	Company   *Company   `json:"company,omitempty"`

	// Membership fee gating (mobile-money). AmountCFA==0 means free enrollment.
	AmountCFA  int64      `json:"amount,omitempty"`
	PaymentRef string     `json:"payment_ref,omitempty"`
	PayURL     string     `json:"pay_url,omitempty"`
	Paid       bool       `json:"paid"`
	PaidAt     *time.Time `json:"paidAt,omitempty"`

	ReviewedAt   *time.Time `json:"reviewedAt,omitempty"`
	ReviewedBy   string     `json:"reviewedBy,omitempty"`
	RejectReason string     `json:"rejectReason,omitempty"`

	Error string `json:"error,omitempty"`
}

// Reference entities served to the wizard's dropdowns.

type Activity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SubActivity struct {
	ID         string `json:"id"`
	ActivityID string `json:"activity_id"`
	Name       string `json:"name"`
}

type Address struct {
	ID   string `json:"id"`
	City string `json:"city"`
	Name string `json:"name"`
}
