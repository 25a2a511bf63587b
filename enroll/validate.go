package enroll

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"merchantcard/domain"
)

// MaxDocumentBytes caps each supporting document's decoded size.
const MaxDocumentBytes = 2 << 20

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9 ]{8,20}$`)
)

// FieldError carries a message plus the offending field so the wizard can
// highlight it. Serialized as {"message": ..., "field": ...}.
type FieldError struct {
	Message string `json:"message"`
	Field   string `json:"field"`
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func fieldErr(field, message string) *FieldError {
	return &FieldError{Message: message, Field: field}
}

// ValidateSubmission checks a full enrollment payload before anything is
// persisted. The first failing field aborts, so either everything is stored
// or nothing is.
func ValidateSubmission(m *domain.Merchant, docs []domain.Document, company *domain.Company) *FieldError {
	if err := ValidateMerchant(m); err != nil {
		return err
	}
	if err := ValidateDocuments(docs); err != nil {
		return err
	}
	if company != nil {
		if err := ValidateCompany(company); err != nil {
			return err
		}
	}
	return nil
}

func ValidateMerchant(m *domain.Merchant) *FieldError {
	if m == nil {
		return fieldErr("merchant", "merchant payload missing")
	}
	if strings.TrimSpace(m.ProfilePhoto) == "" {
		return fieldErr("profile_photo", "profile photo is required")
	}
	if strings.TrimSpace(m.SignaturePhoto) == "" {
		return fieldErr("signature_photo", "signature is required")
	}
	if len(m.ActivityIDs) == 0 {
		return fieldErr("activity_ids", "select at least one activity")
	}
	if len(m.SubActivityIDs) == 0 {
		return fieldErr("sub_activity_ids", "select at least one sub-activity")
	}
	if strings.TrimSpace(m.Quartier) == "" {
		return fieldErr("quartier", "quartier is required")
	}
	if strings.TrimSpace(m.AddressID) == "" {
		return fieldErr("address_id", "address is required")
	}
	if strings.TrimSpace(m.BirthDate) == "" {
		return fieldErr("birth_date", "birth date is required")
	}
	if _, err := time.Parse("2006-01-02", strings.TrimSpace(m.BirthDate)); err != nil {
		return fieldErr("birth_date", "birth date must be YYYY-MM-DD")
	}
	if strings.TrimSpace(m.Gender) == "" {
		return fieldErr("gender", "gender is required")
	}
	if strings.TrimSpace(m.FirstName) == "" {
		return fieldErr("first_name", "first name is required")
	}
	if strings.TrimSpace(m.LastName) == "" {
		return fieldErr("last_name", "last name is required")
	}
	if !emailRe.MatchString(strings.TrimSpace(m.Email)) {
		return fieldErr("email", "email is invalid")
	}
	if !phoneRe.MatchString(strings.TrimSpace(m.Phone)) {
		return fieldErr("phone", "phone number is invalid")
	}
	if strings.TrimSpace(m.MembershipType) == "" {
		return fieldErr("membership_type", "membership type is required")
	}
	return nil
}

func ValidateDocuments(docs []domain.Document) *FieldError {
	if len(docs) == 0 {
		return fieldErr("documents", "at least one document is required")
	}
	if len(docs) > 3 {
		return fieldErr("documents", "at most three documents are allowed")
	}
	for i, d := range docs {
		prefix := fmt.Sprintf("documents[%d]", i)
		if strings.TrimSpace(d.Name) == "" {
			return fieldErr(prefix+".name", "document name is required")
		}
		if strings.TrimSpace(d.Number) == "" {
			return fieldErr(prefix+".number", "document number is required")
		}
		if strings.TrimSpace(d.Content) == "" {
			return fieldErr(prefix+".content", "document file is required")
		}
		if DecodedSize(d.Content) > MaxDocumentBytes {
			return fieldErr(prefix+".content", "document exceeds 2MB limit")
		}
	}
	return nil
}

func ValidateCompany(c *domain.Company) *FieldError {
	if strings.TrimSpace(c.Name) == "" {
		return fieldErr("company.name", "company name is required")
	}
	if strings.TrimSpace(c.RegistryNumber) == "" {
		return fieldErr("company.registry_number", "registry number is required")
	}
	return nil
}

// DecodedSize returns the decoded byte size of an inline document.
// Accepts both raw base64 and data URLs ("data:...;base64,....").
func DecodedSize(content string) int {
	payload := content
	if idx := strings.Index(content, ";base64,"); idx >= 0 {
		payload = content[idx+len(";base64,"):]
	}
	payload = strings.TrimSpace(payload)
	if decoded, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return len(decoded)
	}
	return base64.StdEncoding.DecodedLen(len(payload))
}
