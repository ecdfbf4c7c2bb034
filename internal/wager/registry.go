package wager

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gec682416/onchain-random-game/pkg/errno"
)

type Listener func(Transition)

// Registry 保存一个会话内的全部下注。会话结束后整个 Registry 被丢弃
type Registry struct {
	mu        sync.Mutex
	session   uuid.UUID
	wagers    map[Key]*Wager
	listeners []Listener
	now       func() time.Time
}

func NewRegistry(session uuid.UUID) *Registry {
	return &Registry{
		session: session,
		wagers:  make(map[Key]*Wager),
		now:     time.Now,
	}
}

func (r *Registry) Session() uuid.UUID {
	return r.session
}

// OnTransition 注册监听者，在锁外按注册顺序调用
func (r *Registry) OnTransition(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Track 记录一笔已确认提交的下注，状态为 Submitted
func (r *Registry) Track(w Wager) (Wager, error) {
	r.mu.Lock()
	if _, ok := r.wagers[w.Key]; ok {
		r.mu.Unlock()
		return Wager{}, errno.InternalServerError.Wrapf("wager %s already tracked", w.Key)
	}
	w.Session = r.session
	w.State = Submitted
	if w.SubmittedAt.IsZero() {
		w.SubmittedAt = r.now()
	}
	stored := w
	r.wagers[w.Key] = &stored
	r.mu.Unlock()

	r.emit(Transition{From: Submitting, To: Submitted, Wager: w})
	return w, nil
}

// MarkPending 开始等待随机数，只能从 Submitted 进入
func (r *Registry) MarkPending(key Key) (Wager, error) {
	return r.transition(key, Submitted, Pending, func(w *Wager) {
		w.PendingAt = r.now()
	})
}

// Resolve 认领 Resolved 终态，返回 false 表示已被其他路径认领或不再等待
func (r *Registry) Resolve(key Key, outcome Outcome) (Wager, bool) {
	w, err := r.transition(key, Pending, Resolved, func(w *Wager) {
		o := outcome
		w.Outcome = &o
		w.FinishedAt = r.now()
	})
	return w, err == nil
}

// TimeOut 认领 TimedOut 终态
func (r *Registry) TimeOut(key Key) (Wager, bool) {
	w, err := r.transition(key, Pending, TimedOut, func(w *Wager) {
		w.FinishedAt = r.now()
	})
	return w, err == nil
}

// MarkStuck 把超时或本会话未跟踪的下注标记为可退款。
// 未跟踪的下注会以 w 的内容新建一条记录，迁移来源记为 Discovered，
// 它是退款扫描的投影而不是生命周期中的一步
func (r *Registry) MarkStuck(w Wager, reason string) (Wager, bool) {
	r.mu.Lock()
	cur, ok := r.wagers[w.Key]
	var from State
	switch {
	case !ok:
		w.Session = r.session
		cur = &w
		r.wagers[w.Key] = cur
		from = Discovered
	case cur.State == TimedOut:
		from = TimedOut
	default:
		r.mu.Unlock()
		return Wager{}, false
	}
	cur.State = Stuck
	cur.Reason = reason
	cur.FinishedAt = r.now()
	snap := *cur
	r.mu.Unlock()

	r.emit(Transition{From: from, To: Stuck, Wager: snap})
	return snap, true
}

func (r *Registry) Get(key Key) (Wager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wagers[key]
	if !ok {
		return Wager{}, false
	}
	return *w, true
}

// State 返回当前状态，未跟踪返回 false
func (r *Registry) State(key Key) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wagers[key]
	if !ok {
		return 0, false
	}
	return w.State, true
}

// List 按提交时间倒序
func (r *Registry) List() []Wager {
	r.mu.Lock()
	out := make([]Wager, 0, len(r.wagers))
	for _, w := range r.wagers {
		out = append(out, *w)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		if out[i].Game != out[j].Game {
			return out[i].Game < out[j].Game
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *Registry) transition(key Key, from, to State, mutate func(*Wager)) (Wager, error) {
	r.mu.Lock()
	w, ok := r.wagers[key]
	if !ok {
		r.mu.Unlock()
		return Wager{}, errno.ErrWagerNotFound
	}
	if w.State != from {
		r.mu.Unlock()
		return *w, errno.InternalServerError.Wrapf("wager %s is %s, want %s", key, w.State, from)
	}
	w.State = to
	mutate(w)
	snap := *w
	r.mu.Unlock()

	r.emit(Transition{From: from, To: to, Wager: snap})
	return snap, nil
}

func (r *Registry) emit(tr Transition) {
	r.mu.Lock()
	ls := make([]Listener, len(r.listeners))
	copy(ls, r.listeners)
	r.mu.Unlock()

	for _, l := range ls {
		l(tr)
	}
}
