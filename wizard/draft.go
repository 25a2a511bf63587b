package wizard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"merchantcard/domain"
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9 ]{8,20}$`)
)

// FieldError ties a validation message to the form field it belongs to.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// Draft is the wizard's working state. Nothing here touches the server until
// Submit; a failed submission leaves the draft untouched.
type Draft struct {
	Merchant  domain.Merchant
	Signature *SignaturePad
	Documents []*DocumentSlot

	HasCompany bool
	Company    domain.Company
}

func NewDraft() *Draft {
	return &Draft{
		Signature: NewSignaturePad(),
		Documents: []*DocumentSlot{{}},
	}
}

// AddDocumentSlot appends an empty slot, capped at MaxDocuments.
func (d *Draft) AddDocumentSlot() (*DocumentSlot, error) {
	if len(d.Documents) >= MaxDocuments {
		return nil, errors.New("at most three documents")
	}
	slot := &DocumentSlot{}
	d.Documents = append(d.Documents, slot)
	return slot, nil
}

// ValidateMerchantStep collects every failing field of step 0. The caller
// shows them inline and raises a single aggregate notification.
func (d *Draft) ValidateMerchantStep() []FieldError {
	var errs []FieldError
	add := func(field, message string) {
		errs = append(errs, FieldError{Field: field, Message: message})
	}
	m := &d.Merchant

	if strings.TrimSpace(m.ProfilePhoto) == "" {
		add("profile_photo", "profile photo is required")
	}
	if d.Signature == nil || !d.Signature.Saved() {
		add("signature_photo", "signature must be saved")
	}
	if len(m.ActivityIDs) == 0 {
		add("activity_ids", "select at least one activity")
	}
	if len(m.SubActivityIDs) == 0 {
		add("sub_activity_ids", "select at least one sub-activity")
	}
	if strings.TrimSpace(m.Quartier) == "" {
		add("quartier", "quartier is required")
	}
	if strings.TrimSpace(m.BirthDate) == "" {
		add("birth_date", "birth date is required")
	} else if _, err := time.Parse("2006-01-02", strings.TrimSpace(m.BirthDate)); err != nil {
		add("birth_date", "birth date must be YYYY-MM-DD")
	}
	if strings.TrimSpace(m.Gender) == "" {
		add("gender", "gender is required")
	}
	if strings.TrimSpace(m.FirstName) == "" {
		add("first_name", "first name is required")
	}
	if strings.TrimSpace(m.LastName) == "" {
		add("last_name", "last name is required")
	}
	if !emailRe.MatchString(strings.TrimSpace(m.Email)) {
		add("email", "email is invalid")
	}
	if !phoneRe.MatchString(strings.TrimSpace(m.Phone)) {
		add("phone", "phone number is invalid")
	}
	if strings.TrimSpace(m.MembershipType) == "" {
		add("membership_type", "membership type is required")
	}
	if strings.TrimSpace(m.AddressID) == "" {
		add("address_id", "address is required")
	}
	return errs
}

func (d *Draft) ValidateDocumentsStep() []FieldError {
	var errs []FieldError
	complete := 0
	for i, slot := range d.Documents {
		if slot == nil {
			continue
		}
		if slot.Name == "" && slot.Number == "" && !slot.HasFile() {
			// untouched trailing slot is fine as long as one document exists
			continue
		}
		if !slot.Complete() {
			errs = append(errs, FieldError{
				Field:   documentField(i),
				Message: "document needs a name, a number and a file",
			})
			continue
		}
		complete++
	}
	if complete == 0 && len(errs) == 0 {
		errs = append(errs, FieldError{Field: "documents", Message: "at least one document is required"})
	}
	return errs
}

func (d *Draft) ValidateCompanyStep() []FieldError {
	if !d.HasCompany {
		return nil
	}
	var errs []FieldError
	if strings.TrimSpace(d.Company.Name) == "" {
		errs = append(errs, FieldError{Field: "company.name", Message: "company name is required"})
	}
	if strings.TrimSpace(d.Company.RegistryNumber) == "" {
		errs = append(errs, FieldError{Field: "company.registry_number", Message: "registry number is required"})
	}
	return errs
}

// documents returns the completed slots as domain documents.
func (d *Draft) documents() []domain.Document {
	var out []domain.Document
	for _, slot := range d.Documents {
		if slot == nil || !slot.Complete() {
			continue
		}
		out = append(out, domain.Document{
			Name:    slot.Name,
			Number:  slot.Number,
			Content: slot.Content(),
		})
	}
	return out
}

func documentField(i int) string {
	return fmt.Sprintf("documents[%d]", i)
}
