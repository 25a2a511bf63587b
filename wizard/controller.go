// Package wizard is the enrollment flow controller: merchant info, documents,
// optional company, review, one atomic submission.
package wizard

import (
	"context"
	"errors"
	"fmt"

	"merchantcard/client"
	"merchantcard/domain"
)

type Step int

const (
	StepMerchant Step = iota
	StepDocuments
	StepCompany
	StepReview
	StepSubmitted
)

func (s Step) String() string {
	switch s {
	case StepMerchant:
		return "merchant"
	case StepDocuments:
		return "documents"
	case StepCompany:
		return "company"
	case StepReview:
		return "review"
	case StepSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// Submitter is the slice of the REST client the wizard needs.
type Submitter interface {
	SubmitEnrollment(ctx context.Context, sub client.EnrollmentSubmission) (*domain.EnrollmentRecord, error)
}

// Notifier receives aggregate validation and submission toasts.
type Notifier interface {
	Success(title, message string)
	Error(title, message string)
}

type Controller struct {
	draft    *Draft
	step     Step
	api      Submitter
	notifier Notifier

	// hasCompanyInput mirrors the company checkbox on the merchant form; the
	// branch is committed to the draft when the merchant step validates.
	hasCompanyInput bool

	// onSubmitted fires once after a successful submission (navigation hook).
	onSubmitted func(rec *domain.EnrollmentRecord)
}

func NewController(api Submitter, notifier Notifier) *Controller {
	return &Controller{
		draft:    NewDraft(),
		step:     StepMerchant,
		api:      api,
		notifier: notifier,
	}
}

func (c *Controller) OnSubmitted(fn func(rec *domain.EnrollmentRecord)) {
	c.onSubmitted = fn
}

func (c *Controller) Step() Step { return c.step }

// Draft exposes the working draft for the step forms.
func (c *Controller) Draft() *Draft { return c.draft }

// MerchantSnapshot hands sub-forms a copy; they propose changes back through
// ProposeMerchant instead of sharing state.
func (c *Controller) MerchantSnapshot() domain.Merchant {
	m := c.draft.Merchant
	m.ActivityIDs = append([]string(nil), c.draft.Merchant.ActivityIDs...)
	m.SubActivityIDs = append([]string(nil), c.draft.Merchant.SubActivityIDs...)
	return m
}

func (c *Controller) ProposeMerchant(m domain.Merchant) {
	m.ActivityIDs = append([]string(nil), m.ActivityIDs...)
	m.SubActivityIDs = append([]string(nil), m.SubActivityIDs...)
	c.draft.Merchant = m
}

// SetHasCompany records the company checkbox on the merchant form. Flipping
// it mid-flow changes nothing until the merchant step is validated again.
func (c *Controller) SetHasCompany(has bool) {
	c.hasCompanyInput = has
}

// AttachDocumentFile reads a file into slot i. Oversized files are rejected
// with a toast and the slot stays empty.
func (c *Controller) AttachDocumentFile(i int, data []byte, mimeType string) error {
	if i < 0 || i >= len(c.draft.Documents) || c.draft.Documents[i] == nil {
		return errors.New("no such document slot")
	}
	if err := c.draft.Documents[i].AttachFile(data, mimeType); err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			c.notifyError("Documents", "the file exceeds the 2MB limit")
		}
		return err
	}
	return nil
}

// Next validates the current step and advances. The company step only exists
// when the draft has a company.
func (c *Controller) Next() bool {
	switch c.step {
	case StepMerchant:
		if errs := c.draft.ValidateMerchantStep(); len(errs) > 0 {
			c.notifyValidation(errs)
			return false
		}
		c.draft.HasCompany = c.hasCompanyInput
		if !c.draft.HasCompany {
			c.draft.Company = domain.Company{}
		}
		c.step = StepDocuments
	case StepDocuments:
		if errs := c.draft.ValidateDocumentsStep(); len(errs) > 0 {
			c.notifyValidation(errs)
			return false
		}
		if c.draft.HasCompany {
			c.step = StepCompany
		} else {
			c.step = StepReview
		}
	case StepCompany:
		if errs := c.draft.ValidateCompanyStep(); len(errs) > 0 {
			c.notifyValidation(errs)
			return false
		}
		c.step = StepReview
	default:
		return false
	}
	return true
}

// Back mirrors Next: leaving review skips the company step when there is no
// company. Step 0 has nothing behind it.
func (c *Controller) Back() bool {
	switch c.step {
	case StepReview:
		if c.draft.HasCompany {
			c.step = StepCompany
		} else {
			c.step = StepDocuments
		}
	case StepCompany:
		c.step = StepDocuments
	case StepDocuments:
		c.step = StepMerchant
	default:
		return false
	}
	return true
}

// Submit posts the whole draft in one request. Success discards the draft
// and fires the navigation hook; failure keeps the draft and the review step
// intact so the merchant can retry.
func (c *Controller) Submit(ctx context.Context) error {
	if c.step != StepReview {
		return fmt.Errorf("cannot submit from step %s", c.step)
	}

	sub := client.EnrollmentSubmission{
		Merchant:  c.MerchantSnapshot(),
		Documents: c.draft.documents(),
	}
	sub.Merchant.SignaturePhoto = c.draft.Signature.Payload()
	if c.draft.HasCompany {
		company := c.draft.Company
		sub.Company = &company
	}

	rec, err := c.api.SubmitEnrollment(ctx, sub)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			title := "Enrollment rejected"
			msg := apiErr.Message
			if apiErr.Field != "" {
				msg = msg + " (" + apiErr.Field + ")"
			}
			c.notifyError(title, msg)
		} else {
			c.notifyError("Enrollment", "submission failed: "+err.Error())
		}
		return err
	}

	c.step = StepSubmitted
	c.draft = NewDraft()
	if c.notifier != nil {
		c.notifier.Success("Enrollment", "enrollment submitted")
	}
	if c.onSubmitted != nil {
		c.onSubmitted(rec)
	}
	return nil
}

func (c *Controller) notifyValidation(errs []FieldError) {
	if c.notifier == nil || len(errs) == 0 {
		return
	}
	msg := errs[0].Message
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(errs)-1)
	}
	c.notifier.Error("Incomplete form", msg)
}

func (c *Controller) notifyError(title, message string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Error(title, message)
}
