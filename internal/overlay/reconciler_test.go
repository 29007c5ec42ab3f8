package overlay

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/util"
)

type fakeSurface struct {
	mu      sync.Mutex
	shapes  map[string]Shape
	badges  map[string]int
	changed chan struct{}

	failBatch  bool
	failBadges int // 前N次ApplyBadge失败
	badgeCalls int
	addCalls   int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		shapes:  make(map[string]Shape),
		badges:  make(map[string]int),
		changed: make(chan struct{}, 1),
	}
}

func (f *fakeSurface) ApplyShapes(shapes []Shape) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBatch {
		return errors.New("batch not supported")
	}
	for _, s := range shapes {
		f.shapes[s.ID] = s
	}
	return nil
}

func (f *fakeSurface) AddShape(s Shape) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	f.shapes[s.ID] = s
	return nil
}

func (f *fakeSurface) RemoveShape(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.shapes, id)
	delete(f.badges, id)
	return nil
}

func (f *fakeSurface) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shapes = make(map[string]Shape)
	f.badges = make(map[string]int)
	return nil
}

func (f *fakeSurface) ApplyBadge(shapeID string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badgeCalls++
	if f.failBadges > 0 {
		f.failBadges--
		return errors.New("node not rendered yet")
	}
	// 幂等：设置而非叠加
	f.badges[shapeID] = number
	return nil
}

func (f *fakeSurface) ClearBadges() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badges = make(map[string]int)
	return nil
}

func (f *fakeSurface) Changed() <-chan struct{} {
	return f.changed
}

func (f *fakeSurface) shapeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shapes)
}

func (f *fakeSurface) badge(id string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.badges[id]
	return n, ok
}

func (f *fakeSurface) hasShape(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.shapes[id]
	return ok
}

type fakeStore struct {
	mu         sync.Mutex
	anns       map[string]*model.Annotation
	nextSeq    int
	createErrs []error
	deleteErrs []error
	clearErrs  []error

	createCalls int
	deleteCalls int
	clearCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{anns: make(map[string]*model.Annotation), nextSeq: 1}
}

func (f *fakeStore) seed(seq int) *model.Annotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &model.Annotation{
		Competency:     1,
		Comment:        fmt.Sprintf("comment %d", seq),
		XStart:         10 * seq,
		YStart:         10 * seq,
		XEnd:           10*seq + 50,
		YEnd:           10*seq + 50,
		ImageWidth:     1000,
		ImageHeight:    2000,
		SequenceNumber: seq,
	}
	a.ID = fmt.Sprintf("ann-%d", seq)
	f.anns[a.ID] = a
	if seq >= f.nextSeq {
		f.nextSeq = seq + 1
	}
	return a
}

func (f *fakeStore) List() ([]model.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Annotation, 0, len(f.anns))
	for _, a := range f.anns {
		out = append(out, *a)
	}
	return out, nil
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeStore) Create(req CreateRequest) (*model.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if err := popErr(&f.createErrs); err != nil {
		return nil, err
	}
	a := &model.Annotation{
		Competency:     req.Competency,
		Comment:        req.Comment,
		XStart:         req.Rect.X,
		YStart:         req.Rect.Y,
		XEnd:           req.Rect.X + req.Rect.Width,
		YEnd:           req.Rect.Y + req.Rect.Height,
		ImageWidth:     req.ImageWidth,
		ImageHeight:    req.ImageHeight,
		SequenceNumber: f.nextSeq,
	}
	a.ID = fmt.Sprintf("ann-%d", f.nextSeq)
	f.nextSeq++
	f.anns[a.ID] = a
	return a, nil
}

func (f *fakeStore) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if err := popErr(&f.deleteErrs); err != nil {
		return err
	}
	delete(f.anns, id)
	return nil
}

func (f *fakeStore) ClearAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	if err := popErr(&f.clearErrs); err != nil {
		return err
	}
	f.anns = make(map[string]*model.Annotation)
	f.nextSeq = 1
	return nil
}

func (f *fakeStore) MaxSequence() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextSeq - 1, nil
}

func newTestReconciler(t *testing.T, surface *fakeSurface, store *fakeStore, mode Mode) *Reconciler {
	t.Helper()
	r := NewReconciler(surface, store, Config{
		Mode:        mode,
		ImageWidth:  1000,
		ImageHeight: 2000,
	})
	t.Cleanup(r.Close)
	return r
}

func TestLoadAppliesShapesAndBadges(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	store.seed(1)
	store.seed(2)
	store.seed(3)

	r := newTestReconciler(t, surface, store, ModeEdit)
	if err := r.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if surface.shapeCount() != 3 {
		t.Fatalf("expected 3 shapes on surface, got %d", surface.shapeCount())
	}
	for seq := 1; seq <= 3; seq++ {
		id := fmt.Sprintf("ann-%d", seq)
		if n, ok := surface.badge(id); !ok || n != seq {
			t.Errorf("badge for %s = (%d,%v), want %d", id, n, ok, seq)
		}
	}

	_, next, _ := r.State()
	if next != 4 {
		t.Fatalf("next sequence = %d, want 4", next)
	}
}

func TestLoadFallsBackToIndividualAdds(t *testing.T) {
	surface := newFakeSurface()
	surface.failBatch = true
	store := newFakeStore()
	store.seed(1)
	store.seed(2)

	r := newTestReconciler(t, surface, store, ModeEdit)
	if err := r.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if surface.shapeCount() != 2 {
		t.Fatalf("expected 2 shapes after fallback, got %d", surface.shapeCount())
	}
	surface.mu.Lock()
	adds := surface.addCalls
	surface.mu.Unlock()
	if adds != 2 {
		t.Fatalf("expected 2 individual adds, got %d", adds)
	}
}

func TestDeferredBadgeRetries(t *testing.T) {
	surface := newFakeSurface()
	surface.failBadges = 1 // 第一次补号时节点还没渲染出来
	store := newFakeStore()
	store.seed(1)

	r := newTestReconciler(t, surface, store, ModeEdit)
	if err := r.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if n, ok := surface.badge("ann-1"); ok && n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("badge was never re-applied by retry pass")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestChangedSignalReappliesBadges(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	store.seed(1)

	r := newTestReconciler(t, surface, store, ModeEdit)
	if err := r.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// 模拟叠加层重新渲染丢掉徽标
	surface.mu.Lock()
	surface.badges = make(map[string]int)
	surface.mu.Unlock()

	surface.changed <- struct{}{}

	deadline := time.After(2 * time.Second)
	for {
		if n, ok := surface.badge("ann-1"); ok && n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("badge was not re-applied after change signal")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandleShapeDrawnReadOnly(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	r := newTestReconciler(t, surface, store, ModeReadOnly)

	surface.AddShape(Shape{ID: "tmp-1"})
	err := r.HandleShapeDrawn("tmp-1", "xywh=percent:10,5,20,10")
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if surface.hasShape("tmp-1") {
		t.Fatal("provisional shape should be removed in read-only mode")
	}
}

func TestHandleShapeDrawnRejectsBadGeometry(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		wantErr  error
	}{
		{"malformed", "not-a-selector", ErrMalformedSelector},
		{"zero area", "xywh=percent:10,5,0,0", util.ErrInvalidRegion},
		{"negative origin", "xywh=percent:-5,5,20,10", util.ErrInvalidRegion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			surface := newFakeSurface()
			store := newFakeStore()
			r := newTestReconciler(t, surface, store, ModeEdit)

			surface.AddShape(Shape{ID: "tmp-1"})
			err := r.HandleShapeDrawn("tmp-1", tt.selector)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if surface.hasShape("tmp-1") {
				t.Fatal("invalid shape should be removed from surface")
			}
			if store.createCalls != 0 {
				t.Fatal("invalid capture must not touch the store")
			}
		})
	}
}

func TestCancelCaptureLeavesNoTrace(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	r := newTestReconciler(t, surface, store, ModeEdit)

	surface.AddShape(Shape{ID: "tmp-1"})
	if err := r.HandleShapeDrawn("tmp-1", "xywh=percent:10,5,20,10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.CancelCapture()

	if surface.hasShape("tmp-1") {
		t.Fatal("cancelled capture should be removed from surface")
	}
	if store.createCalls != 0 {
		t.Fatal("cancelled capture must not create an annotation")
	}
	if _, err := r.SubmitComment("late comment"); !errors.Is(err, ErrNoPendingCapture) {
		t.Fatalf("expected ErrNoPendingCapture after cancel, got %v", err)
	}
}

func TestSubmitCommentEmptyKeepsPending(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	r := newTestReconciler(t, surface, store, ModeEdit)

	surface.AddShape(Shape{ID: "tmp-1"})
	if err := r.HandleShapeDrawn("tmp-1", "xywh=percent:10,5,20,10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.SubmitComment("   "); !errors.Is(err, util.ErrEmptyComment) {
		t.Fatalf("expected ErrEmptyComment, got %v", err)
	}
	if !surface.hasShape("tmp-1") {
		t.Fatal("pending shape must survive an empty-comment rejection")
	}

	// 补上评语后仍然可以提交
	ann, err := r.SubmitComment("needs work")
	if err != nil {
		t.Fatalf("submit after rejection failed: %v", err)
	}
	if ann.SequenceNumber != 1 {
		t.Fatalf("sequence = %d, want 1", ann.SequenceNumber)
	}
	if surface.hasShape("tmp-1") {
		t.Fatal("provisional shape should be replaced by the persisted one")
	}
	if !surface.hasShape(ann.ID) {
		t.Fatal("persisted shape missing from surface")
	}
	if n, ok := surface.badge(ann.ID); !ok || n != 1 {
		t.Fatalf("badge = (%d,%v), want 1", n, ok)
	}
}

func TestSubmitCommentPersistenceFailure(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	boom := errors.New("disk on fire")
	store.createErrs = []error{
		util.NewTransientError(boom),
		util.NewTransientError(boom),
	}
	r := newTestReconciler(t, surface, store, ModeEdit)

	surface.AddShape(Shape{ID: "tmp-1"})
	if err := r.HandleShapeDrawn("tmp-1", "xywh=percent:10,5,20,10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := r.SubmitComment("good point")
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if store.createCalls != 2 {
		t.Fatalf("transient failure should be retried exactly once, got %d calls", store.createCalls)
	}
	if surface.hasShape("tmp-1") {
		t.Fatal("no ghost shape may remain after failed persistence")
	}
}

func TestSubmitCommentTransientRetrySucceeds(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	store.createErrs = []error{util.NewTransientError(errors.New("blip"))}
	r := newTestReconciler(t, surface, store, ModeEdit)

	surface.AddShape(Shape{ID: "tmp-1"})
	if err := r.HandleShapeDrawn("tmp-1", "xywh=percent:10,5,20,10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ann, err := r.SubmitComment("recovered")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if store.createCalls != 2 {
		t.Fatalf("expected 2 create calls, got %d", store.createCalls)
	}
	if ann.SequenceNumber != 1 {
		t.Fatalf("sequence = %d, want 1", ann.SequenceNumber)
	}
}

func TestSecondCaptureReplacesFirst(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	r := newTestReconciler(t, surface, store, ModeEdit)

	surface.AddShape(Shape{ID: "tmp-1"})
	if err := r.HandleShapeDrawn("tmp-1", "xywh=percent:10,5,20,10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	surface.AddShape(Shape{ID: "tmp-2"})
	if err := r.HandleShapeDrawn("tmp-2", "xywh=percent:30,30,10,10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if surface.hasShape("tmp-1") {
		t.Fatal("first provisional shape should be displaced by the second")
	}

	ann, err := r.SubmitComment("second wins")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if ann.XStart != 300 || ann.YStart != 600 {
		t.Fatalf("persisted rect came from wrong capture: %+v", ann)
	}
}

func TestClickAndDelete(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	store.seed(1)
	r := newTestReconciler(t, surface, store, ModeEdit)
	if err := r.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	res, err := r.HandleShapeClicked("ann-1")
	if err != nil {
		t.Fatalf("click failed: %v", err)
	}
	if !res.DeleteRequested {
		t.Fatal("edit mode click should request delete confirmation")
	}
	if res.Color != model.CompetencyColor(1) {
		t.Fatalf("color = %q, want %q", res.Color, model.CompetencyColor(1))
	}

	if _, err := r.HandleShapeClicked("nope"); !errors.Is(err, ErrUnknownShape) {
		t.Fatalf("expected ErrUnknownShape, got %v", err)
	}

	if err := r.ConfirmDelete("ann-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if surface.hasShape("ann-1") {
		t.Fatal("deleted shape should leave the surface")
	}
	if store.deleteCalls != 1 {
		t.Fatalf("expected 1 delete call, got %d", store.deleteCalls)
	}
}

func TestDeletedSequenceNumberIsNotReused(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	store.seed(1)
	store.seed(2)
	r := newTestReconciler(t, surface, store, ModeEdit)
	if err := r.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := r.ConfirmDelete("ann-2"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	surface.AddShape(Shape{ID: "tmp-1"})
	if err := r.HandleShapeDrawn("tmp-1", "xywh=percent:50,50,10,10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ann, err := r.SubmitComment("after delete")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if ann.SequenceNumber != 3 {
		t.Fatalf("sequence = %d, want 3 (number 2 must not be reused)", ann.SequenceNumber)
	}
}

func TestClickReadOnlyShowsInfo(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	store.seed(1)
	r := newTestReconciler(t, surface, store, ModeReadOnly)
	if err := r.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	res, err := r.HandleShapeClicked("ann-1")
	if err != nil {
		t.Fatalf("click failed: %v", err)
	}
	if res.DeleteRequested {
		t.Fatal("read-only click must not request deletion")
	}
	if err := r.ConfirmDelete("ann-1"); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestClearAllResetsEverything(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	store.seed(1)
	store.seed(2)
	r := newTestReconciler(t, surface, store, ModeEdit)
	if err := r.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := r.ClearAll(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if surface.shapeCount() != 0 {
		t.Fatal("surface should be empty after clear")
	}
	if _, ok := surface.badge("ann-1"); ok {
		t.Fatal("badges should be stripped after clear")
	}
	_, next, _ := r.State()
	if next != 1 {
		t.Fatalf("next sequence = %d, want 1 after full clear", next)
	}
}

func TestClearAllStoreFailureRestoresBadges(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	store.seed(1)
	store.clearErrs = []error{
		util.NewTransientError(errors.New("down")),
		util.NewTransientError(errors.New("still down")),
	}
	r := newTestReconciler(t, surface, store, ModeEdit)
	if err := r.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := r.ClearAll(); err == nil {
		t.Fatal("expected clear to fail")
	}
	if store.clearCalls != 2 {
		t.Fatalf("expected retry-once on clear, got %d calls", store.clearCalls)
	}
	if !surface.hasShape("ann-1") {
		t.Fatal("shapes must survive a failed clear")
	}
	if n, ok := surface.badge("ann-1"); !ok || n != 1 {
		t.Fatal("badges should be re-applied after failed clear")
	}
}

func TestSetActiveCompetency(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	r := newTestReconciler(t, surface, store, ModeEdit)

	if err := r.SetActiveCompetency(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.SetActiveCompetency(6); !errors.Is(err, util.ErrInvalidCompetency) {
		t.Fatalf("expected ErrInvalidCompetency, got %v", err)
	}

	surface.AddShape(Shape{ID: "tmp-1"})
	if err := r.HandleShapeDrawn("tmp-1", "xywh=percent:10,5,20,10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ann, err := r.SubmitComment("competency three")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if ann.Competency != 3 {
		t.Fatalf("competency = %d, want 3", ann.Competency)
	}
}

func TestFullscreenIsPureDisplayState(t *testing.T) {
	surface := newFakeSurface()
	store := newFakeStore()
	r := newTestReconciler(t, surface, store, ModeEdit)

	r.SetFullscreen(true)
	_, _, fullscreen := r.State()
	if !fullscreen {
		t.Fatal("fullscreen flag not set")
	}
	if store.createCalls+store.deleteCalls+store.clearCalls != 0 {
		t.Fatal("fullscreen toggle must not touch the store")
	}
}
