package overlay

import (
	"strings"
	"sync"
	"time"

	"essay_edu_backend/internal/model"
	"essay_edu_backend/internal/util"

	"go.uber.org/zap"
)

// 叠加层异步渲染没有完成事件，编号在加载后按固定节奏补打几次，
// 之后依赖 Changed 信号覆盖迟到或重复的重新渲染
var numberRetryDelays = []time.Duration{
	50 * time.Millisecond,
	150 * time.Millisecond,
	400 * time.Millisecond,
}

type pendingCapture struct {
	shapeID    string
	rect       util.PixelRect
	competency int
}

// ClickResult 区域点击的结果：只读模式返回展示信息，
// 编辑模式要求先确认再删除
type ClickResult struct {
	Annotation      *model.Annotation `json:"annotation"`
	Color           string            `json:"color"`
	DeleteRequested bool              `json:"deleteRequested"`
}

type Config struct {
	Mode        Mode
	ImageWidth  int
	ImageHeight int
	Logger      *zap.Logger
}

// Reconciler 驱动一个批改会话的叠加层：把存量标注转成叠加层图形、
// 处理框选/点击事件、并在每次重新渲染后补挂编号徽标
type Reconciler struct {
	surface Surface
	store   Store
	log     *zap.Logger

	mode    Mode
	imageW  int
	imageH  int

	mu               sync.Mutex
	shapes           map[string]*model.Annotation
	numbered         map[string]int
	pending          *pendingCapture
	activeCompetency int
	seqCounter       int
	fullscreen       bool
	timers           []*time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

func NewReconciler(surface Surface, store Store, cfg Config) *Reconciler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := &Reconciler{
		surface:          surface,
		store:            store,
		log:              log,
		mode:             cfg.Mode,
		imageW:           cfg.ImageWidth,
		imageH:           cfg.ImageHeight,
		shapes:           make(map[string]*model.Annotation),
		numbered:         make(map[string]int),
		activeCompetency: 1,
		seqCounter:       1,
		done:             make(chan struct{}),
	}

	go r.watchChanges()
	return r
}

// watchChanges 叠加层每次渲染出新节点都重新补号，仅靠定时重试
// 无法覆盖迟到的重复渲染
func (r *Reconciler) watchChanges() {
	for {
		select {
		case <-r.done:
			return
		case _, ok := <-r.surface.Changed():
			if !ok {
				return
			}
			r.mu.Lock()
			// 重新渲染可能丢掉已有徽标，全部重挂（ApplyBadge幂等）
			r.numbered = make(map[string]int)
			r.applyNumberingLocked()
			r.mu.Unlock()
		}
	}
}

// Load 拉取存量标注并铺到叠加层：优先单次批量下发，失败则逐个
// 添加并记录失败项；编号作为第二遍在渲染后补挂
func (r *Reconciler) Load() error {
	err := r.withRetry(func() error {
		anns, listErr := r.store.List()
		if listErr != nil {
			return listErr
		}
		r.mu.Lock()
		r.shapes = make(map[string]*model.Annotation)
		for i := range anns {
			a := anns[i]
			r.shapes[a.ID] = &a
		}
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	maxSeq, err := r.store.MaxSequence()
	if err == nil {
		r.mu.Lock()
		r.seqCounter = maxSeq + 1
		r.mu.Unlock()
	} else {
		r.log.Warn("failed to refresh sequence counter", zap.Error(err))
	}

	r.mu.Lock()
	shapes := make([]Shape, 0, len(r.shapes))
	for _, a := range r.shapes {
		shapes = append(shapes, shapeFor(a))
	}
	r.mu.Unlock()

	if err := r.surface.ApplyShapes(shapes); err != nil {
		r.log.Warn("batch shape apply failed, falling back to individual adds", zap.Error(err))
		for _, s := range shapes {
			if addErr := r.surface.AddShape(s); addErr != nil {
				// 局部失败不阻塞其余图形
				r.log.Error("failed to add shape",
					zap.String("annotationId", s.ID),
					zap.Int("sequence", s.Sequence),
					zap.Error(addErr))
			}
		}
	}

	r.mu.Lock()
	r.applyNumberingLocked()
	r.mu.Unlock()
	r.scheduleNumbering()

	return nil
}

func shapeFor(a *model.Annotation) Shape {
	// 百分比坐标用截取时刻存下的自然尺寸推回，与当前显示比例无关
	rect := util.ToPercentRect(
		util.BoundsToRect(a.XStart, a.YStart, a.XEnd, a.YEnd),
		a.ImageWidth, a.ImageHeight,
	)
	return Shape{
		ID:         a.ID,
		Rect:       rect,
		Competency: a.Competency,
		Sequence:   a.SequenceNumber,
		Comment:    a.Comment,
	}
}

func (r *Reconciler) scheduleNumbering() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range numberRetryDelays {
		t := time.AfterFunc(d, func() {
			select {
			case <-r.done:
				return
			default:
			}
			r.mu.Lock()
			r.applyNumberingLocked()
			r.mu.Unlock()
		})
		r.timers = append(r.timers, t)
	}
}

// applyNumberingLocked 已编号的区域直接跳过，不叠加重复徽标；
// 失败的留给下一轮重试
func (r *Reconciler) applyNumberingLocked() {
	for id, a := range r.shapes {
		if r.numbered[id] == a.SequenceNumber {
			continue
		}
		if err := r.surface.ApplyBadge(id, a.SequenceNumber); err != nil {
			r.log.Debug("badge apply deferred",
				zap.String("annotationId", id),
				zap.Error(err))
			continue
		}
		r.numbered[id] = a.SequenceNumber
	}
}

// HandleShapeDrawn 解析叠加层上报的选择器，几何校验不通过的
// 图形立即从叠加层移除，不产生任何持久化副作用
func (r *Reconciler) HandleShapeDrawn(shapeID, selector string) error {
	if r.mode == ModeReadOnly {
		r.surface.RemoveShape(shapeID)
		return ErrReadOnly
	}

	percentRect, err := ParseSelector(selector)
	if err != nil {
		r.surface.RemoveShape(shapeID)
		return err
	}

	rect := util.ToPixelRect(percentRect, r.imageW, r.imageH)
	if err := util.ValidatePixelRect(rect); err != nil {
		r.surface.RemoveShape(shapeID)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// 同一时刻只允许一个待确认的框选
	if r.pending != nil {
		r.surface.RemoveShape(r.pending.shapeID)
	}
	r.pending = &pendingCapture{
		shapeID:    shapeID,
		rect:       rect,
		competency: r.activeCompetency,
	}
	return nil
}

// SubmitComment 评语为空时拦截提交并保留待确认状态；持久化失败
// 时撤掉临时图形，叠加层上不留幽灵区域
func (r *Reconciler) SubmitComment(comment string) (*model.Annotation, error) {
	r.mu.Lock()
	p := r.pending
	r.mu.Unlock()

	if p == nil {
		return nil, ErrNoPendingCapture
	}
	if strings.TrimSpace(comment) == "" {
		return nil, util.ErrEmptyComment
	}

	ann := (*model.Annotation)(nil)
	err := r.withRetry(func() error {
		created, createErr := r.store.Create(CreateRequest{
			Competency:  p.competency,
			Comment:     comment,
			Rect:        p.rect,
			ImageWidth:  r.imageW,
			ImageHeight: r.imageH,
		})
		if createErr == nil {
			ann = created
		}
		return createErr
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
	r.surface.RemoveShape(p.shapeID)

	if err != nil {
		return nil, err
	}

	r.shapes[ann.ID] = ann
	r.seqCounter = ann.SequenceNumber + 1

	shape := shapeFor(ann)
	if addErr := r.surface.AddShape(shape); addErr != nil {
		r.log.Error("failed to add persisted shape",
			zap.String("annotationId", ann.ID), zap.Error(addErr))
		return ann, nil
	}
	if badgeErr := r.surface.ApplyBadge(ann.ID, ann.SequenceNumber); badgeErr == nil {
		r.numbered[ann.ID] = ann.SequenceNumber
	}

	return ann, nil
}

// CancelCapture 放弃进行中的框选，叠加层上不留孤儿图形
func (r *Reconciler) CancelCapture() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return
	}
	r.surface.RemoveShape(r.pending.shapeID)
	r.pending = nil
}

// HandleShapeClicked 只读模式返回能力标签和评语；编辑模式要求
// 确认后才执行删除
func (r *Reconciler) HandleShapeClicked(shapeID string) (*ClickResult, error) {
	r.mu.Lock()
	a, ok := r.shapes[shapeID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnknownShape
	}

	res := &ClickResult{
		Annotation: a,
		Color:      model.CompetencyColor(a.Competency),
	}
	if r.mode == ModeEdit {
		res.DeleteRequested = true
	}
	return res, nil
}

// ConfirmDelete 删除后不重排剩余编号
func (r *Reconciler) ConfirmDelete(shapeID string) error {
	if r.mode == ModeReadOnly {
		return ErrReadOnly
	}

	r.mu.Lock()
	_, ok := r.shapes[shapeID]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownShape
	}

	if err := r.withRetry(func() error { return r.store.Delete(shapeID) }); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shapes, shapeID)
	delete(r.numbered, shapeID)
	r.surface.RemoveShape(shapeID)
	return nil
}

// ClearAll 先剥离已挂的编号徽标再清空叠加层，避免后续重新铺图时
// 残留幽灵徽标；存储清空失败时把徽标挂回去
func (r *Reconciler) ClearAll() error {
	if r.mode == ModeReadOnly {
		return ErrReadOnly
	}

	r.mu.Lock()
	if err := r.surface.ClearBadges(); err != nil {
		r.mu.Unlock()
		return err
	}
	r.numbered = make(map[string]int)
	r.mu.Unlock()

	if err := r.withRetry(func() error { return r.store.ClearAll() }); err != nil {
		r.mu.Lock()
		r.applyNumberingLocked()
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.surface.Clear()
	r.shapes = make(map[string]*model.Annotation)
	r.seqCounter = 1
	r.pending = nil
	return nil
}

// SetActiveCompetency 作用于下一次框选，已存在的区域不受影响
func (r *Reconciler) SetActiveCompetency(n int) error {
	if !model.ValidCompetency(n) {
		return util.ErrInvalidCompetency
	}
	r.mu.Lock()
	r.activeCompetency = n
	r.mu.Unlock()
	return nil
}

// SetFullscreen 纯展示状态，不影响数据
func (r *Reconciler) SetFullscreen(on bool) {
	r.mu.Lock()
	r.fullscreen = on
	r.mu.Unlock()
}

// State 会话状态快照，用于前端同步工具条
func (r *Reconciler) State() (activeCompetency, nextSequence int, fullscreen bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeCompetency, r.seqCounter, r.fullscreen
}

// withRetry 瞬时持久化故障最多自动重试一次，其余错误直接上报
func (r *Reconciler) withRetry(op func() error) error {
	err := op()
	if err != nil && util.IsTransient(err) {
		r.log.Warn("transient persistence failure, retrying once", zap.Error(err))
		err = op()
	}
	return err
}

// Close 拆除定时器和变更监听，避免编号工作泄漏到已销毁的图片上
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		for _, t := range r.timers {
			t.Stop()
		}
		r.timers = nil
		r.pending = nil
		r.mu.Unlock()
	})
}
