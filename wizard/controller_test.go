package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"merchantcard/client"
	"merchantcard/domain"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	subs  []client.EnrollmentSubmission
	fn    func(sub client.EnrollmentSubmission) (*domain.EnrollmentRecord, error)
}

func (f *fakeSubmitter) SubmitEnrollment(ctx context.Context, sub client.EnrollmentSubmission) (*domain.EnrollmentRecord, error) {
	f.mu.Lock()
	f.calls++
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	if f.fn == nil {
		return &domain.EnrollmentRecord{ID: "enr_test", Status: domain.EnrollmentStatusPending}, nil
	}
	return f.fn(sub)
}

type recordingNotifier struct {
	successes []string
	errors    []string
}

func (n *recordingNotifier) Success(title, message string) {
	n.successes = append(n.successes, title+": "+message)
}

func (n *recordingNotifier) Error(title, message string) {
	n.errors = append(n.errors, title+": "+message)
}

func fillMerchantStep(c *Controller) {
	m := c.MerchantSnapshot()
	m.FirstName = "Awa"
	m.LastName = "Diallo"
	m.Gender = "F"
	m.BirthDate = "1990-05-12"
	m.Quartier = "Plateau"
	m.AddressID = "addr_1"
	m.Email = "awa@example.com"
	m.Phone = "+225 0102030405"
	m.MembershipType = "standard"
	m.ActivityIDs = []string{"act_1"}
	m.SubActivityIDs = []string{"sub_1"}
	m.ProfilePhoto = "data:image/png;base64,aGk="
	c.ProposeMerchant(m)

	c.Draft().Signature.AddStroke(Stroke{{X: 1, Y: 1}, {X: 2, Y: 2}})
	_ = c.Draft().Signature.Save()
}

func fillDocumentsStep(t *testing.T, c *Controller) {
	t.Helper()
	slot := c.Draft().Documents[0]
	slot.Name = "CNI"
	slot.Number = "CI-123"
	if err := c.AttachDocumentFile(0, []byte("pdf-bytes"), "application/pdf"); err != nil {
		t.Fatalf("attach file failed: %v", err)
	}
}

func readyController(t *testing.T, api Submitter, hasCompany bool) (*Controller, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	c := NewController(api, n)
	c.SetHasCompany(hasCompany)
	fillMerchantStep(c)
	if !c.Next() {
		t.Fatalf("merchant step did not validate: %v", n.errors)
	}
	fillDocumentsStep(t, c)
	if hasCompany {
		c.Draft().Company = domain.Company{Name: "Diallo SARL", RegistryNumber: "RC-42"}
	}
	if !c.Next() {
		t.Fatalf("documents step did not validate: %v", n.errors)
	}
	return c, n
}

func TestMerchantStepBlocksUntilValid(t *testing.T) {
	n := &recordingNotifier{}
	c := NewController(&fakeSubmitter{}, n)

	if c.Next() {
		t.Fatal("empty merchant step advanced")
	}
	if c.Step() != StepMerchant {
		t.Fatalf("step = %s, want merchant", c.Step())
	}
	if len(n.errors) != 1 {
		t.Fatalf("aggregate notifications = %d, want 1", len(n.errors))
	}

	fillMerchantStep(c)
	if !c.Next() {
		t.Fatal("valid merchant step did not advance")
	}
	if c.Step() != StepDocuments {
		t.Fatalf("step = %s, want documents", c.Step())
	}
}

func TestUnsavedSignatureDoesNotValidate(t *testing.T) {
	c := NewController(&fakeSubmitter{}, &recordingNotifier{})
	fillMerchantStep(c)

	// drawing again without saving invalidates nothing by itself, but a
	// cleared pad must block the step
	c.Draft().Signature.Clear()
	c.Draft().Signature.AddStroke(Stroke{{X: 3, Y: 3}})

	errs := c.Draft().ValidateMerchantStep()
	found := false
	for _, e := range errs {
		if e.Field == "signature_photo" {
			found = true
		}
	}
	if !found {
		t.Fatal("unsaved signature passed validation")
	}

	if err := c.Draft().Signature.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if errs := c.Draft().ValidateMerchantStep(); len(errs) != 0 {
		t.Fatalf("saved signature still failing: %v", errs)
	}
}

func TestCompanyBranchSkipsWhenNoCompany(t *testing.T) {
	c, _ := readyController(t, &fakeSubmitter{}, false)
	if c.Step() != StepReview {
		t.Fatalf("step = %s, want review (company skipped)", c.Step())
	}
}

func TestCompanyBranchVisitsCompanyStep(t *testing.T) {
	c, _ := readyController(t, &fakeSubmitter{}, true)
	if c.Step() != StepCompany {
		t.Fatalf("step = %s, want company", c.Step())
	}
	if !c.Next() {
		t.Fatal("company step did not validate")
	}
	if c.Step() != StepReview {
		t.Fatalf("step = %s, want review", c.Step())
	}
}

func TestBackSkipsCompanySymmetrically(t *testing.T) {
	c, _ := readyController(t, &fakeSubmitter{}, false)
	if !c.Back() {
		t.Fatal("back from review failed")
	}
	if c.Step() != StepDocuments {
		t.Fatalf("step = %s, want documents (company skipped on the way back)", c.Step())
	}
	if !c.Back() || c.Step() != StepMerchant {
		t.Fatalf("step = %s, want merchant", c.Step())
	}
	if c.Back() {
		t.Fatal("back from merchant step should fail")
	}
}

func TestBackVisitsCompanyWhenPresent(t *testing.T) {
	c, _ := readyController(t, &fakeSubmitter{}, true)
	if !c.Next() {
		t.Fatal("company step did not validate")
	}
	if !c.Back() || c.Step() != StepCompany {
		t.Fatalf("step = %s, want company", c.Step())
	}
}

func TestDocumentsStepRequiresOneDocument(t *testing.T) {
	n := &recordingNotifier{}
	c := NewController(&fakeSubmitter{}, n)
	fillMerchantStep(c)
	if !c.Next() {
		t.Fatalf("merchant step did not validate: %v", n.errors)
	}

	if c.Next() {
		t.Fatal("documents step advanced with no document")
	}
	if c.Step() != StepDocuments {
		t.Fatalf("step = %s, want documents", c.Step())
	}
	if len(n.errors) != 1 {
		t.Fatalf("aggregate notifications = %d, want 1", len(n.errors))
	}

	fillDocumentsStep(t, c)
	if !c.Next() {
		t.Fatalf("completed document did not validate: %v", n.errors)
	}
}

func TestDocumentSlotCap(t *testing.T) {
	d := NewDraft()
	for i := len(d.Documents); i < MaxDocuments; i++ {
		if _, err := d.AddDocumentSlot(); err != nil {
			t.Fatalf("slot %d rejected: %v", i, err)
		}
	}
	if len(d.Documents) != MaxDocuments {
		t.Fatalf("slots = %d, want %d", len(d.Documents), MaxDocuments)
	}
	if _, err := d.AddDocumentSlot(); err == nil {
		t.Fatal("fourth document slot accepted")
	}
	if len(d.Documents) != MaxDocuments {
		t.Fatalf("slots = %d after rejected add, want %d", len(d.Documents), MaxDocuments)
	}
}

func TestCompanyCheckboxCommitsAtMerchantStep(t *testing.T) {
	c, n := readyController(t, &fakeSubmitter{}, false)
	if c.Step() != StepReview {
		t.Fatalf("step = %s, want review", c.Step())
	}

	// flipping the checkbox past the merchant step must not reroute this pass
	c.SetHasCompany(true)
	if !c.Back() || c.Step() != StepDocuments {
		t.Fatalf("step = %s, want documents", c.Step())
	}
	if !c.Next() || c.Step() != StepReview {
		t.Fatalf("step = %s, want review (flag not yet committed)", c.Step())
	}

	// re-validating the merchant step commits the flag
	c.Back()
	c.Back()
	if c.Step() != StepMerchant {
		t.Fatalf("step = %s, want merchant", c.Step())
	}
	if !c.Next() {
		t.Fatalf("merchant step did not validate: %v", n.errors)
	}
	if !c.Next() || c.Step() != StepCompany {
		t.Fatalf("step = %s, want company after recommit", c.Step())
	}
}

func TestOversizedFileRejectedAndSlotEmpty(t *testing.T) {
	n := &recordingNotifier{}
	c := NewController(&fakeSubmitter{}, n)

	err := c.AttachDocumentFile(0, make([]byte, MaxDocumentBytes+1), "application/pdf")
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("err = %v, want ErrFileTooLarge", err)
	}
	if c.Draft().Documents[0].HasFile() {
		t.Fatal("oversized file landed in the slot")
	}
	if len(n.errors) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.errors))
	}

	// the slot still accepts a valid file afterwards
	if err := c.AttachDocumentFile(0, []byte("ok"), "application/pdf"); err != nil {
		t.Fatalf("valid file rejected: %v", err)
	}
}

func TestSubmitSuccessDiscardsDraft(t *testing.T) {
	api := &fakeSubmitter{}
	c, n := readyController(t, api, true)
	if !c.Next() {
		t.Fatal("company step did not validate")
	}

	var navigated *domain.EnrollmentRecord
	c.OnSubmitted(func(rec *domain.EnrollmentRecord) { navigated = rec })

	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if c.Step() != StepSubmitted {
		t.Fatalf("step = %s, want submitted", c.Step())
	}
	if navigated == nil || navigated.ID != "enr_test" {
		t.Fatalf("navigation hook got %+v", navigated)
	}
	if c.Draft().Merchant.FirstName != "" {
		t.Fatal("draft not discarded after success")
	}
	if len(n.successes) != 1 {
		t.Fatalf("success notifications = %d, want 1", len(n.successes))
	}

	sub := api.subs[0]
	if sub.Company == nil || sub.Company.Name != "Diallo SARL" {
		t.Fatalf("submission company = %+v", sub.Company)
	}
	if len(sub.Documents) != 1 || sub.Documents[0].Name != "CNI" {
		t.Fatalf("submission documents = %+v", sub.Documents)
	}
	if sub.Merchant.SignaturePhoto == "" {
		t.Fatal("submission missing signature payload")
	}
}

func TestSubmitFailurePreservesDraft(t *testing.T) {
	api := &fakeSubmitter{fn: func(sub client.EnrollmentSubmission) (*domain.EnrollmentRecord, error) {
		return nil, &client.APIError{StatusCode: 400, Message: "email already enrolled", Field: "email"}
	}}
	c, n := readyController(t, api, false)

	if err := c.Submit(context.Background()); err == nil {
		t.Fatal("submit should have failed")
	}
	if c.Step() != StepReview {
		t.Fatalf("step = %s, want review preserved", c.Step())
	}
	if c.Draft().Merchant.FirstName != "Awa" {
		t.Fatal("draft lost after failed submit")
	}
	if len(n.errors) != 1 {
		t.Fatalf("error notifications = %d, want 1", len(n.errors))
	}

	// retry works against the same draft
	api.fn = nil
	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if api.calls != 2 {
		t.Fatalf("submit calls = %d, want 2", api.calls)
	}
}

func TestSubmitOnlyFromReview(t *testing.T) {
	c := NewController(&fakeSubmitter{}, &recordingNotifier{})
	if err := c.Submit(context.Background()); err == nil {
		t.Fatal("submit from merchant step should fail")
	}
}
