package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/siteinsight/siteinsight-backend/internal/apierr"
	"github.com/siteinsight/siteinsight-backend/internal/types"
)

type artifactFixture struct {
	svc     *artifactService
	reports *fakeReportRepo
	jobs    *fakeJobRepo
	bucket  *fakeBucket
	pdf     *fakePDFRenderer
	preview *fakePreviewRenderer
	gate    AccessGateService
}

func newArtifactFixture(t *testing.T) *artifactFixture {
	t.Helper()
	reports := newFakeReportRepo()
	jobs := newFakeJobRepo()
	bucket := newFakeBucket()
	pdf := &fakePDFRenderer{}
	preview := &fakePreviewRenderer{}
	gate := NewAccessGateService(nil, newTestLogger(t), newFakeGrantRepo(), reports, &fakeMailer{})
	svc := NewArtifactService(newTestLogger(t), reports, jobs, gate, bucket, pdf, preview, DefaultPollAdvisory())
	return &artifactFixture{
		svc:     svc.(*artifactService),
		reports: reports,
		jobs:    jobs,
		bucket:  bucket,
		pdf:     pdf,
		preview: preview,
		gate:    gate,
	}
}

func (f *artifactFixture) completedReport(t *testing.T, key string) {
	t.Helper()
	expires := time.Now().Add(time.Hour)
	f.reports.put(&types.Report{
		Key:       key,
		Status:    types.ReportStatusCompleted,
		Payload:   []byte(`{"domain":"` + key + `","score":80,"sections":{}}`),
		ExpiresAt: &expires,
	})
}

func (f *artifactFixture) unlock(t *testing.T, key, email string) {
	t.Helper()
	if _, err := f.gate.RequestUnlock(context.Background(), key, UnlockIdentity{Email: email}); err != nil {
		t.Fatalf("unlock %s for %s: %v", key, email, err)
	}
}

func TestGetOrGenerateRequiresUnlock(t *testing.T) {
	f := newArtifactFixture(t)
	f.completedReport(t, "example.com")

	_, err := f.svc.GetOrGenerate(context.Background(), "example.com", types.ArtifactTypePDF, "stranger@example.com")
	if !errors.Is(err, apierr.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
	if len(f.jobs.jobs) != 0 {
		t.Fatal("denied request enqueued a job")
	}
}

func TestGetOrGenerateRejectsUnknownType(t *testing.T) {
	f := newArtifactFixture(t)
	_, err := f.svc.GetOrGenerate(context.Background(), "example.com", "docx", "user@example.com")
	if !errors.Is(err, apierr.ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
}

func TestGetOrGenerateRequiresCompletedReport(t *testing.T) {
	f := newArtifactFixture(t)
	f.reports.put(&types.Report{Key: "pending.com", Status: types.ReportStatusPending})
	f.unlock(t, "pending.com", "user@example.com")

	_, err := f.svc.GetOrGenerate(context.Background(), "pending.com", types.ArtifactTypePDF, "user@example.com")
	if !errors.Is(err, apierr.ErrNotReady) {
		t.Fatalf("pending report: %v, want ErrNotReady", err)
	}
}

func TestGetOrGenerateCacheHitDispatchesNothing(t *testing.T) {
	f := newArtifactFixture(t)
	f.completedReport(t, "example.com")
	f.unlock(t, "example.com", "user@example.com")

	now := time.Now()
	f.reports.SetArtifactURL(context.Background(), nil, "example.com", types.ArtifactTypePDF, "https://cdn.test/reports/example.com/report.pdf", now)

	ticket, err := f.svc.GetOrGenerate(context.Background(), "example.com", types.ArtifactTypePDF, "user@example.com")
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if ticket.Status != "ready" {
		t.Fatalf("status = %q, want ready", ticket.Status)
	}
	if ticket.URL == "" || ticket.GeneratedAt == nil {
		t.Fatalf("ticket = %+v", ticket)
	}
	if len(f.jobs.jobs) != 0 {
		t.Fatal("cache hit dispatched a job")
	}
	if f.pdf.calls != 0 {
		t.Fatal("cache hit rendered")
	}
}

func TestStatusStates(t *testing.T) {
	f := newArtifactFixture(t)
	ctx := context.Background()

	status, err := f.svc.Status(ctx, "missing.com", types.ArtifactTypePDF)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != "not_found" {
		t.Fatalf("state = %q, want not_found", status.State)
	}

	f.reports.put(&types.Report{Key: "pending.com", Status: types.ReportStatusProcessing})
	status, _ = f.svc.Status(ctx, "pending.com", types.ArtifactTypePDF)
	if status.State != "report_not_ready" {
		t.Fatalf("state = %q, want report_not_ready", status.State)
	}

	f.completedReport(t, "working.com")
	if _, err := f.jobs.Create(ctx, nil, &types.ArtifactJob{
		ReportKey: "working.com", ArtifactType: types.ArtifactTypePDF, Status: types.ArtifactJobStatusQueued,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	status, _ = f.svc.Status(ctx, "working.com", types.ArtifactTypePDF)
	if status.State != "pending" {
		t.Fatalf("state = %q, want pending", status.State)
	}
	if status.PollIntervalMs != defaultPollIntervalMs || status.PollCeiling != defaultPollCeiling {
		t.Fatalf("poll advisory = %d/%d", status.PollIntervalMs, status.PollCeiling)
	}

	f.completedReport(t, "done.com")
	f.reports.SetArtifactURL(ctx, nil, "done.com", types.ArtifactTypePDF, "https://cdn.test/reports/done.com/report.pdf", time.Now())
	status, _ = f.svc.Status(ctx, "done.com", types.ArtifactTypePDF)
	if status.State != "ready" || status.URL == "" {
		t.Fatalf("status = %+v, want ready", status)
	}
}

func TestGetOrGenerateMissEnqueuesOnce(t *testing.T) {
	f := newArtifactFixture(t)
	ctx := context.Background()
	f.completedReport(t, "example.com")
	f.unlock(t, "example.com", "user@example.com")

	first, err := f.svc.GetOrGenerate(ctx, "example.com", types.ArtifactTypePDF, "user@example.com")
	if err != nil {
		t.Fatalf("first miss: %v", err)
	}
	if first.Status != "generating" || first.JobID == nil {
		t.Fatalf("first ticket = %+v, want generating with a job id", first)
	}

	// Second caller hits the same miss before the worker runs: it must get
	// a handle on the existing job, not a second one.
	second, err := f.svc.GetOrGenerate(ctx, "example.com", types.ArtifactTypePDF, "user@example.com")
	if err != nil {
		t.Fatalf("second miss: %v", err)
	}
	if second.JobID == nil || *second.JobID != *first.JobID {
		t.Fatalf("second miss minted a new job: %v, want %v", second.JobID, first.JobID)
	}
	if len(f.jobs.jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(f.jobs.jobs))
	}
}

func TestEnqueueRechecksSlotUnderLock(t *testing.T) {
	f := newArtifactFixture(t)
	ctx := context.Background()
	f.completedReport(t, "example.com")

	// The slot fills between the unlocked read and the locked insert; the
	// enqueue must come back ready without creating a job.
	f.reports.SetArtifactURL(ctx, nil, "example.com", types.ArtifactTypePDF, "https://cdn.test/reports/example.com/report.pdf", time.Now())

	ticket, err := f.svc.enqueue(ctx, "example.com", types.ArtifactTypePDF, "user@example.com")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if ticket.Status != "ready" || ticket.URL == "" {
		t.Fatalf("ticket = %+v, want ready", ticket)
	}
	if len(f.jobs.jobs) != 0 {
		t.Fatal("enqueue created a job despite the filled slot")
	}
}

func TestEnqueueMissingReportIsNotFound(t *testing.T) {
	f := newArtifactFixture(t)

	_, err := f.svc.enqueue(context.Background(), "missing.com", types.ArtifactTypePDF, "user@example.com")
	if !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStatusSurfacesLastFailure(t *testing.T) {
	f := newArtifactFixture(t)
	ctx := context.Background()
	f.completedReport(t, "example.com")

	if _, err := f.jobs.Create(ctx, nil, &types.ArtifactJob{
		ReportKey: "example.com", ArtifactType: types.ArtifactTypePDF,
		Status: types.ArtifactJobStatusFailed, Error: "render: font missing",
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	status, err := f.svc.Status(ctx, "example.com", types.ArtifactTypePDF)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != "pending" {
		t.Fatalf("state = %q, want pending", status.State)
	}
	if status.Error != "render: font missing" {
		t.Fatalf("error = %q, want the last failure", status.Error)
	}
}

func TestRunJobStoresArtifactAndMarksSuccess(t *testing.T) {
	f := newArtifactFixture(t)
	ctx := context.Background()
	f.completedReport(t, "example.com")

	job, _ := f.jobs.Create(ctx, nil, &types.ArtifactJob{
		ReportKey: "example.com", ArtifactType: types.ArtifactTypePDF, Status: types.ArtifactJobStatusRunning,
	})

	f.svc.runJob(ctx, job)

	if _, ok := f.bucket.uploads["reports/example.com/report.pdf"]; !ok {
		t.Fatalf("upload missing, got %v", f.bucket.uploads)
	}
	report, _ := f.reports.GetByKey(ctx, nil, "example.com")
	if report.PDFURL != "https://cdn.test/reports/example.com/report.pdf" {
		t.Fatalf("pdf_url = %q", report.PDFURL)
	}
	if report.PDFGeneratedAt == nil {
		t.Fatal("pdf_generated_at not set")
	}
	got, _ := f.jobs.GetByID(ctx, nil, job.ID)
	if got.Status != types.ArtifactJobStatusSucceeded {
		t.Fatalf("job status = %q, want succeeded", got.Status)
	}
}

func TestRunJobRendersPreviewFromPayload(t *testing.T) {
	f := newArtifactFixture(t)
	ctx := context.Background()
	f.completedReport(t, "example.com")

	job, _ := f.jobs.Create(ctx, nil, &types.ArtifactJob{
		ReportKey: "example.com", ArtifactType: types.ArtifactTypePreviewImage, Status: types.ArtifactJobStatusRunning,
	})

	f.svc.runJob(ctx, job)

	if f.preview.calls != 1 {
		t.Fatalf("preview renders = %d, want 1", f.preview.calls)
	}
	report, _ := f.reports.GetByKey(ctx, nil, "example.com")
	if report.PreviewImageURL == "" {
		t.Fatal("preview slot not written")
	}
	if report.PDFURL != "" {
		t.Fatal("preview job wrote the pdf slot")
	}
}

func TestRunJobFailureLeavesSlotNull(t *testing.T) {
	f := newArtifactFixture(t)
	ctx := context.Background()
	f.completedReport(t, "example.com")
	f.pdf.err = errors.New("font missing")

	job, _ := f.jobs.Create(ctx, nil, &types.ArtifactJob{
		ReportKey: "example.com", ArtifactType: types.ArtifactTypePDF, Status: types.ArtifactJobStatusRunning,
	})

	f.svc.runJob(ctx, job)

	report, _ := f.reports.GetByKey(ctx, nil, "example.com")
	if report.PDFURL != "" || report.PDFGeneratedAt != nil {
		t.Fatalf("failed render wrote the slot: %q", report.PDFURL)
	}
	got, _ := f.jobs.GetByID(ctx, nil, job.ID)
	if got.Status != types.ArtifactJobStatusFailed {
		t.Fatalf("job status = %q, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatal("job error not recorded")
	}
	if f.reports.setSlotCalls != 0 {
		t.Fatal("SetArtifactURL called on a failed render")
	}
}

func TestRunJobFailsWhenReportExpired(t *testing.T) {
	f := newArtifactFixture(t)
	ctx := context.Background()
	expired := time.Now().Add(-time.Minute)
	f.reports.put(&types.Report{Key: "example.com", Status: types.ReportStatusCompleted, ExpiresAt: &expired})

	job, _ := f.jobs.Create(ctx, nil, &types.ArtifactJob{
		ReportKey: "example.com", ArtifactType: types.ArtifactTypePDF, Status: types.ArtifactJobStatusRunning,
	})

	f.svc.runJob(ctx, job)

	got, _ := f.jobs.GetByID(ctx, nil, job.ID)
	if got.Status != types.ArtifactJobStatusFailed {
		t.Fatalf("job status = %q, want failed", got.Status)
	}
	if f.pdf.calls != 0 {
		t.Fatal("renderer ran against an expired report")
	}
}

func TestAuthorizeDownload(t *testing.T) {
	f := newArtifactFixture(t)
	ctx := context.Background()
	f.completedReport(t, "example.com")
	f.reports.SetArtifactURL(ctx, nil, "example.com", types.ArtifactTypePDF, "https://cdn.test/reports/example.com/report.pdf", time.Now())

	// Locked.
	if _, err := f.svc.AuthorizeDownload(ctx, "example.com", types.ArtifactTypePDF, "stranger@example.com"); !errors.Is(err, apierr.ErrAccessDenied) {
		t.Fatalf("locked download: %v, want ErrAccessDenied", err)
	}

	f.unlock(t, "example.com", "user@example.com")

	url, err := f.svc.AuthorizeDownload(ctx, "example.com", types.ArtifactTypePDF, "User@Example.com")
	if err != nil {
		t.Fatalf("AuthorizeDownload: %v", err)
	}
	if url != "https://cdn.test/reports/example.com/report.pdf" {
		t.Fatalf("url = %q", url)
	}

	// Unlocked but nothing generated yet.
	if _, err := f.svc.AuthorizeDownload(ctx, "example.com", types.ArtifactTypePreviewImage, "user@example.com"); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("missing artifact: %v, want ErrNotFound", err)
	}
}
