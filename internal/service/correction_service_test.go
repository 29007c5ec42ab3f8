package service

import (
	"errors"
	"strings"
	"testing"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/util"

	"gorm.io/gorm"
)

type fakeCorrectionRepo struct {
	records map[string]*model.CorrectionRecord
	saveErr error
}

func newFakeCorrectionRepo() *fakeCorrectionRepo {
	return &fakeCorrectionRepo{records: make(map[string]*model.CorrectionRecord)}
}

func (f *fakeCorrectionRepo) FindBySlot(essayID uint, origin model.OriginTable, slot int) (*model.CorrectionRecord, error) {
	rec, ok := f.records[correctionKey(essayID, origin, slot)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeCorrectionRepo) ListByEssay(essayID uint, origin model.OriginTable) ([]model.CorrectionRecord, error) {
	var out []model.CorrectionRecord
	for _, rec := range f.records {
		if rec.EssayID == essayID && rec.OriginTable == origin {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeCorrectionRepo) Save(c *model.CorrectionRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	cp := *c
	f.records[correctionKey(c.EssayID, c.OriginTable, c.Slot)] = &cp
	return nil
}

func validSaveRequest() SaveCorrectionRequest {
	return SaveCorrectionRequest{
		EssayID:     7,
		OriginTable: model.OriginRegular,
		Slot:        1,
		CorrectorID: 42,
		Scores:      [5]int{120, 160, 80, 200, 40},
		Comments:    [5]string{"a", "b", "c", "d", "e"},
		Summary:     "solid draft",
	}
}

func TestSaveCorrectionValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SaveCorrectionRequest)
		wantErr error
	}{
		{"invalid origin", func(r *SaveCorrectionRequest) { r.OriginTable = "homework" }, util.ErrInvalidOrigin},
		{"slot zero", func(r *SaveCorrectionRequest) { r.Slot = 0 }, util.ErrInvalidSlot},
		{"slot three", func(r *SaveCorrectionRequest) { r.Slot = 3 }, util.ErrInvalidSlot},
		{"off-scale score", func(r *SaveCorrectionRequest) { r.Scores[2] = 100 }, util.ErrInvalidScore},
		{"negative score", func(r *SaveCorrectionRequest) { r.Scores[0] = -40 }, util.ErrInvalidScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewCorrectionService(newFakeCorrectionRepo())
			req := validSaveRequest()
			tt.mutate(&req)

			if _, err := svc.Save(req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSaveCorrectionRecomputesTotal(t *testing.T) {
	svc := NewCorrectionService(newFakeCorrectionRepo())

	rec, err := svc.Save(validSaveRequest())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if rec.Total != 600 {
		t.Fatalf("total = %d, want 600", rec.Total)
	}
	if rec.Status != model.CorrectionDraft {
		t.Fatalf("status = %s, want draft", rec.Status)
	}
}

func TestSaveMarkIncomplete(t *testing.T) {
	svc := NewCorrectionService(newFakeCorrectionRepo())

	req := validSaveRequest()
	req.Scores = [5]int{120, 0, 0, 0, 0} // 暂存不要求填完
	req.MarkIncomplete = true

	rec, err := svc.Save(req)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if rec.Status != model.CorrectionIncomplete {
		t.Fatalf("status = %s, want incomplete", rec.Status)
	}
	if rec.Total != 120 {
		t.Fatalf("total = %d, want 120", rec.Total)
	}
}

func TestFinalizeClosesRecord(t *testing.T) {
	repo := newFakeCorrectionRepo()
	svc := NewCorrectionService(repo)

	rec, err := svc.Finalize(validSaveRequest())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if rec.Status != model.CorrectionFinalized {
		t.Fatalf("status = %s, want finalized", rec.Status)
	}

	// 终态后一切写入都被拒绝
	if _, err := svc.Save(validSaveRequest()); !errors.Is(err, util.ErrCorrectionClosed) {
		t.Fatalf("save after finalize: expected ErrCorrectionClosed, got %v", err)
	}
	if _, err := svc.Finalize(validSaveRequest()); !errors.Is(err, util.ErrCorrectionClosed) {
		t.Fatalf("double finalize: expected ErrCorrectionClosed, got %v", err)
	}
	if _, err := svc.Return(7, model.OriginRegular, 1, 42, "too late"); !errors.Is(err, util.ErrCorrectionClosed) {
		t.Fatalf("return after finalize: expected ErrCorrectionClosed, got %v", err)
	}
}

func TestReturnRequiresJustification(t *testing.T) {
	svc := NewCorrectionService(newFakeCorrectionRepo())

	if _, err := svc.Return(7, model.OriginRegular, 1, 42, ""); !errors.Is(err, util.ErrMissingJustification) {
		t.Fatalf("expected ErrMissingJustification, got %v", err)
	}
	if _, err := svc.Return(7, model.OriginRegular, 1, 42, "  \n"); !errors.Is(err, util.ErrMissingJustification) {
		t.Fatalf("expected ErrMissingJustification for whitespace, got %v", err)
	}
}

func TestReturnWritesPrefixedSummary(t *testing.T) {
	svc := NewCorrectionService(newFakeCorrectionRepo())

	rec, err := svc.Return(7, model.OriginRegular, 2, 42, "off topic, please rewrite")
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if rec.Status != model.CorrectionReturned {
		t.Fatalf("status = %s, want returned", rec.Status)
	}
	if !strings.HasPrefix(rec.Summary, model.DevolutionPrefix) {
		t.Fatalf("summary %q missing devolution prefix", rec.Summary)
	}
	if rec.Summary != model.DevolutionPrefix+"off topic, please rewrite" {
		t.Fatalf("unexpected summary: %q", rec.Summary)
	}
}

func TestSlotsAreIndependent(t *testing.T) {
	repo := newFakeCorrectionRepo()
	svc := NewCorrectionService(repo)

	if _, err := svc.Finalize(validSaveRequest()); err != nil {
		t.Fatalf("finalize slot 1 failed: %v", err)
	}

	req := validSaveRequest()
	req.Slot = 2
	req.CorrectorID = 43
	rec, err := svc.Save(req)
	if err != nil {
		t.Fatalf("slot 2 must stay editable after slot 1 is finalized: %v", err)
	}
	if rec.Status != model.CorrectionDraft {
		t.Fatalf("status = %s, want draft", rec.Status)
	}
}

func TestPublishedGrade(t *testing.T) {
	finalized := func(slot, total int) *model.CorrectionRecord {
		rec := &model.CorrectionRecord{
			EssayID:     7,
			OriginTable: model.OriginRegular,
			Slot:        slot,
			Total:       total,
			Status:      model.CorrectionFinalized,
		}
		return rec
	}
	draft := func(slot, total int) *model.CorrectionRecord {
		rec := finalized(slot, total)
		rec.Status = model.CorrectionDraft
		return rec
	}

	tests := []struct {
		name string
		recs []*model.CorrectionRecord
		want *int
	}{
		{"no corrections", nil, nil},
		{"only drafts", []*model.CorrectionRecord{draft(1, 600)}, nil},
		{"one finalized", []*model.CorrectionRecord{finalized(1, 520), draft(2, 600)}, intPtr(520)},
		{"both finalized", []*model.CorrectionRecord{finalized(1, 520), finalized(2, 600)}, intPtr(560)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeCorrectionRepo()
			for _, rec := range tt.recs {
				repo.records[correctionKey(rec.EssayID, rec.OriginTable, rec.Slot)] = rec
			}
			svc := NewCorrectionService(repo)

			got, err := svc.PublishedGrade(7, model.OriginRegular)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Fatalf("grade = %d, want %d", *got, *tt.want)
			}
		})
	}
}

func intPtr(n int) *int { return &n }
