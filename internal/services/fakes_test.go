package services

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/siteinsight/siteinsight-backend/internal/logger"
	"github.com/siteinsight/siteinsight-backend/internal/types"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

// fakeReportRepo is an in-memory stand-in keyed by report key. Claim and
// heartbeat behavior is simplified: tests drive transitions directly.
type fakeReportRepo struct {
	mu      sync.Mutex
	reports map[string]*types.Report

	requeueCalls   int
	completedCalls int
	setSlotCalls   int
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{reports: map[string]*types.Report{}}
}

func (f *fakeReportRepo) put(r *types.Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.reports[r.Key] = &cp
}

func (f *fakeReportRepo) GetByKey(ctx context.Context, tx *gorm.DB, key string) (*types.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[key]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReportRepo) LockByKey(ctx context.Context, key string, fn func(tx *gorm.DB, report *types.Report) error) error {
	f.mu.Lock()
	var cp *types.Report
	if r, ok := f.reports[key]; ok {
		c := *r
		cp = &c
	}
	f.mu.Unlock()
	return fn(nil, cp)
}

func (f *fakeReportRepo) CreatePending(ctx context.Context, tx *gorm.DB, report *types.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.reports[report.Key]; exists {
		return nil
	}
	cp := *report
	f.reports[report.Key] = &cp
	return nil
}

func (f *fakeReportRepo) TouchViewed(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reports[key]; ok {
		r.ViewCount++
	}
	return nil
}

func (f *fakeReportRepo) RequeueIfStale(ctx context.Context, tx *gorm.DB, key string, now time.Time, archivedTrace []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeueCalls++
	r, ok := f.reports[key]
	if !ok {
		return false, nil
	}
	expired := r.Status == types.ReportStatusCompleted && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
	if !expired && r.Status != types.ReportStatusFailed {
		return false, nil
	}
	if expired {
		r.RegeneratedAt = &now
		r.Payload = nil
	}
	r.Status = types.ReportStatusPending
	r.Attempts = 0
	r.Error = ""
	if archivedTrace != nil {
		r.ProviderResults = archivedTrace
	}
	return true, nil
}

func (f *fakeReportRepo) ForceRequeue(ctx context.Context, tx *gorm.DB, key string, now time.Time, archivedTrace []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[key]
	if !ok || (r.Status != types.ReportStatusCompleted && r.Status != types.ReportStatusFailed) {
		return false, nil
	}
	r.Status = types.ReportStatusPending
	r.Payload = nil
	r.RegeneratedAt = &now
	if archivedTrace != nil {
		r.ProviderResults = archivedTrace
	}
	return true, nil
}

func (f *fakeReportRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleProcessing time.Duration) (*types.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reports {
		if r.Status == types.ReportStatusPending {
			r.Status = types.ReportStatusProcessing
			r.Attempts++
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeReportRepo) CompleteGeneration(ctx context.Context, tx *gorm.DB, key string, payload, providerResults []byte, generationTimeMs int64, totalCostUSD float64, expiresAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedCalls++
	r, ok := f.reports[key]
	if !ok || r.Status != types.ReportStatusProcessing {
		return false, nil
	}
	r.Status = types.ReportStatusCompleted
	r.Payload = payload
	r.ProviderResults = providerResults
	r.GenerationTimeMs = generationTimeMs
	r.TotalCostUSD = totalCostUSD
	r.ExpiresAt = &expiresAt
	return true, nil
}

func (f *fakeReportRepo) FailGeneration(ctx context.Context, tx *gorm.DB, key string, providerResults []byte, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[key]
	if !ok || r.Status != types.ReportStatusProcessing {
		return false, nil
	}
	now := time.Now()
	r.Status = types.ReportStatusFailed
	r.Payload = nil
	r.Error = errMsg
	r.LastErrorAt = &now
	if providerResults != nil {
		r.ProviderResults = providerResults
	}
	return true, nil
}

func (f *fakeReportRepo) Heartbeat(ctx context.Context, tx *gorm.DB, key string) error { return nil }

func (f *fakeReportRepo) SetArtifactURL(ctx context.Context, tx *gorm.DB, key, artifactType, url string, generatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setSlotCalls++
	r, ok := f.reports[key]
	if !ok {
		return nil
	}
	switch artifactType {
	case types.ArtifactTypePDF:
		r.PDFURL = url
		r.PDFGeneratedAt = &generatedAt
	case types.ArtifactTypePreviewImage:
		r.PreviewImageURL = url
		r.PreviewImageGeneratedAt = &generatedAt
	}
	return nil
}

func (f *fakeReportRepo) ClearArtifactSlot(ctx context.Context, tx *gorm.DB, key, artifactType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[key]
	if !ok {
		return nil
	}
	switch artifactType {
	case types.ArtifactTypePDF:
		r.PDFURL = ""
		r.PDFGeneratedAt = nil
	case types.ArtifactTypePreviewImage:
		r.PreviewImageURL = ""
		r.PreviewImageGeneratedAt = nil
	}
	return nil
}

type fakeGrantRepo struct {
	mu     sync.Mutex
	grants map[string]*types.UnlockGrant // key|email
}

func newFakeGrantRepo() *fakeGrantRepo {
	return &fakeGrantRepo{grants: map[string]*types.UnlockGrant{}}
}

func grantKey(reportKey, email string) string { return reportKey + "|" + email }

func (f *fakeGrantRepo) Upsert(ctx context.Context, tx *gorm.DB, grant *types.UnlockGrant) (*types.UnlockGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := grantKey(grant.ReportKey, grant.Email)
	if existing, ok := f.grants[k]; ok {
		existing.FirstName = grant.FirstName
		existing.LastName = grant.LastName
		existing.Organization = grant.Organization
		existing.Unlocked = true
		cp := *existing
		return &cp, nil
	}
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	cp := *grant
	f.grants[k] = &cp
	out := cp
	return &out, nil
}

func (f *fakeGrantRepo) GetByKeyEmail(ctx context.Context, tx *gorm.DB, reportKey, email string) (*types.UnlockGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[grantKey(reportKey, email)]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGrantRepo) IncrementArtifactActivity(ctx context.Context, tx *gorm.DB, reportKey, email, artifactType string, downloaded bool) error {
	return nil
}

type fakeJobRepo struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*types.ArtifactJob
	order []uuid.UUID
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[uuid.UUID]*types.ArtifactJob{}}
}

func (f *fakeJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.ArtifactJob) (*types.ArtifactJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	cp := *job
	f.jobs[job.ID] = &cp
	f.order = append(f.order, job.ID)
	out := cp
	return &out, nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ArtifactJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobRepo) GetActive(ctx context.Context, tx *gorm.DB, reportKey, artifactType string) (*types.ArtifactJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ReportKey == reportKey && j.ArtifactType == artifactType &&
			(j.Status == types.ArtifactJobStatusQueued || j.Status == types.ArtifactJobStatusRunning) {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeJobRepo) GetLatest(ctx context.Context, tx *gorm.DB, reportKey, artifactType string) (*types.ArtifactJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.order) - 1; i >= 0; i-- {
		j := f.jobs[f.order[i]]
		if j.ReportKey == reportKey && j.ArtifactType == artifactType {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.ArtifactJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.Status == types.ArtifactJobStatusQueued && j.Attempts < maxAttempts {
			j.Status = types.ArtifactJobStatusRunning
			j.Attempts++
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil
	}
	if s, ok := updates["status"].(string); ok {
		j.Status = s
	}
	if e, ok := updates["error"].(string); ok {
		j.Error = e
	}
	return nil
}

func (f *fakeJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error { return nil }

type fakeBucket struct {
	mu          sync.Mutex
	uploads     map[string][]byte
	deletes     []string
	failUploads bool
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{uploads: map[string][]byte{}}
}

func (f *fakeBucket) UploadFile(ctx context.Context, key string, contentType string, file io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUploads {
		return context.DeadlineExceeded
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	f.uploads[key] = data
	return nil
}

func (f *fakeBucket) DeleteFile(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	return nil
}

func (f *fakeBucket) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

type fakeMailer struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeMailer) SendLeadNotification(ctx context.Context, grant *types.UnlockGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, grant.Email)
	return nil
}

type fakePDFRenderer struct {
	err   error
	calls int
}

func (f *fakePDFRenderer) Render(report *types.Report) (bytes.Buffer, error) {
	f.calls++
	var buf bytes.Buffer
	if f.err != nil {
		return buf, f.err
	}
	buf.WriteString("%PDF-1.4 test")
	return buf, nil
}

type fakePreviewRenderer struct {
	err   error
	calls int
}

func (f *fakePreviewRenderer) Render(payload []byte) (bytes.Buffer, error) {
	f.calls++
	var buf bytes.Buffer
	if f.err != nil {
		return buf, f.err
	}
	buf.WriteString("\x89PNG test")
	return buf, nil
}
