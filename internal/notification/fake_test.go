package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// fakeRepo はテスト用のインメモリ永続化層。
type fakeRepo struct {
	mu      sync.Mutex
	actions map[string]Action
	objects []Object
	changes []Change
	rows    []Notification
	seq     int

	// failInsertNotifications がtrueなら通知行の挿入でエラーを返す。
	failInsertNotifications bool
}

func newFakeRepo() *fakeRepo {
	r := &fakeRepo{actions: make(map[string]Action)}
	for i, k := range Kinds() {
		r.actions[k.String()] = Action{ActionTypeID: fmt.Sprintf("%d", i+1), Name: k.String()}
	}
	return r
}

func (r *fakeRepo) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s-%d", prefix, r.seq)
}

func (r *fakeRepo) ActionByName(_ context.Context, name string) (Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[name]
	if !ok {
		return Action{}, fmt.Errorf("%s: %w", name, ErrActionNotFound)
	}
	return a, nil
}

func (r *fakeRepo) InsertNotificationObjects(_ context.Context, objects []NewObject) ([]Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Object, 0, len(objects))
	for _, o := range objects {
		if o.Dedupe {
			if existing := r.objectLocked(o.EntityID, o.ActionTypeID); existing != nil {
				out = append(out, *existing)
				continue
			}
		}
		obj := Object{ID: r.nextID("obj"), ActionTypeID: o.ActionTypeID, EntityID: o.EntityID}
		r.objects = append(r.objects, obj)
		out = append(out, obj)
	}
	return out, nil
}

func (r *fakeRepo) GetNotificationObjectByEntityAndAction(_ context.Context, entityID, actionTypeID string) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objectLocked(entityID, actionTypeID), nil
}

func (r *fakeRepo) objectLocked(entityID, actionTypeID string) *Object {
	for i := len(r.objects) - 1; i >= 0; i-- {
		o := r.objects[i]
		if o.EntityID == entityID && o.ActionTypeID == actionTypeID {
			return &o
		}
	}
	return nil
}

func (r *fakeRepo) UpdateNotificationObjectTimestamp(_ context.Context, objectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.objects {
		if o.ID == objectID {
			return nil
		}
	}
	return errors.New("not found")
}

func (r *fakeRepo) InsertNotificationChanges(_ context.Context, changes []Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
	return nil
}

func (r *fakeRepo) InsertNotifications(_ context.Context, rows []NewNotification) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsertNotifications {
		return nil, errors.New("disk full")
	}
	var inserted []string
	for _, n := range rows {
		if r.unreadLocked(n.NotifierID, n.ObjectID) != nil {
			continue
		}
		r.rows = append(r.rows, Notification{ID: r.nextID("n"), ObjectID: n.ObjectID, NotifierID: n.NotifierID})
		inserted = append(inserted, n.NotifierID)
	}
	return inserted, nil
}

func (r *fakeRepo) GetUnreadNotificationByUserAndObject(_ context.Context, userID, objectID string) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unreadLocked(userID, objectID), nil
}

func (r *fakeRepo) unreadLocked(userID, objectID string) *Notification {
	for _, n := range r.rows {
		if n.NotifierID == userID && n.ObjectID == objectID && !n.Read {
			return &n
		}
	}
	return nil
}

// objectsFor は指定種別の通知オブジェクトを返す。
func (r *fakeRepo) objectsFor(kind Kind) []Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.actions[kind.String()].ActionTypeID
	var out []Object
	for _, o := range r.objects {
		if o.ActionTypeID == id {
			out = append(out, o)
		}
	}
	return out
}

// notifiers は挿入された通知行の受信者IDを挿入順に返す。
func (r *fakeRepo) notifiers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rows))
	for _, n := range r.rows {
		out = append(out, n.NotifierID)
	}
	return out
}

// markAllRead は全通知行を既読にする。
func (r *fakeRepo) markAllRead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		r.rows[i].Read = true
	}
}

// fakeDirectory はテスト用の受信者解決情報。
type fakeDirectory struct {
	// members はコントラクターID → 権限 → メンバーID。
	members map[string]map[Permission][]string
	// alertTargets はアラートの配信対象。
	alertTargets []string
	orders       map[string]Order
	err          error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		members: make(map[string]map[Permission][]string),
		orders:  make(map[string]Order),
	}
}

func (d *fakeDirectory) MembersWithPermission(_ context.Context, contractorID string, perm Permission) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.members[contractorID][perm], nil
}

func (d *fakeDirectory) ResolveAlertTargets(_ context.Context, _ AdminAlert) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.alertTargets, nil
}

func (d *fakeDirectory) GetOrder(_ context.Context, orderID string) (*Order, error) {
	if d.err != nil {
		return nil, d.err
	}
	o, ok := d.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

// call は配信呼び出しの記録。
type call struct {
	channel Channel
	userID  string
	kind    Kind
}

// recorder は全チャネルの配信呼び出しを順序付きで記録する。
type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) record(c call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) users(ch Channel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.channel == ch {
			out = append(out, c.userID)
		}
	}
	return out
}

func (r *recorder) count(ch Channel) int {
	return len(r.users(ch))
}

// fakePush はテスト用のプッシュ配信。
type fakePush struct {
	rec *recorder
	// failFor に含まれるユーザーへの送信はエラーになる。
	failFor map[string]bool
	// panicFor に含まれるユーザーへの送信はパニックする。
	panicFor map[string]bool
	// batches は一括送信の呼び出し記録。
	batches [][]string
}

func (p *fakePush) SendPushNotification(_ context.Context, userID string, _ Payload, kind Kind, _ string) error {
	p.rec.record(call{channel: ChannelPush, userID: userID, kind: kind})
	if p.panicFor[userID] {
		panic("push client exploded")
	}
	if p.failFor[userID] {
		return errors.New("push unavailable")
	}
	return nil
}

func (p *fakePush) SendPushNotifications(_ context.Context, userIDs []string, _ Payload, kind Kind) error {
	p.rec.mu.Lock()
	p.batches = append(p.batches, append([]string(nil), userIDs...))
	p.rec.mu.Unlock()
	for _, id := range userIDs {
		p.rec.record(call{channel: ChannelPush, userID: id, kind: kind})
	}
	return nil
}

// fakeEmail はテスト用のメール配信。
type fakeEmail struct {
	rec *recorder
	// optedOut に含まれるユーザーには送信しない。
	optedOut map[string]bool
	err      error
	// skipQueue は最後の呼び出しのskipQueue引数。
	skipQueue bool
}

func (e *fakeEmail) SendNotificationEmail(_ context.Context, userID string, kind Kind, _ Payload, skipQueue bool, _ string) (bool, error) {
	e.rec.record(call{channel: ChannelEmail, userID: userID, kind: kind})
	e.rec.mu.Lock()
	e.skipQueue = skipQueue
	e.rec.mu.Unlock()
	if e.err != nil {
		return false, e.err
	}
	return !e.optedOut[userID], nil
}

// fakeWebhook はテスト用のWebhook配信。
type fakeWebhook struct {
	rec    *recorder
	events []WebhookEvent
	err    error
}

func (w *fakeWebhook) SendWebhooks(_ context.Context, ev WebhookEvent) error {
	w.rec.record(call{channel: ChannelWebhook, userID: ev.UserID, kind: ev.Kind})
	w.rec.mu.Lock()
	w.events = append(w.events, ev)
	w.rec.mu.Unlock()
	return w.err
}

// fixture はテスト対象のServiceと全フェイクをまとめたもの。
type fixture struct {
	svc     *Service
	repo    *fakeRepo
	dir     *fakeDirectory
	rec     *recorder
	push    *fakePush
	email   *fakeEmail
	webhook *fakeWebhook
}

func newFixture(opts ...Option) *fixture {
	rec := &recorder{}
	f := &fixture{
		repo:    newFakeRepo(),
		dir:     newFakeDirectory(),
		rec:     rec,
		push:    &fakePush{rec: rec, failFor: map[string]bool{}, panicFor: map[string]bool{}},
		email:   &fakeEmail{rec: rec, optedOut: map[string]bool{}},
		webhook: &fakeWebhook{rec: rec},
	}
	f.svc = NewService(f.repo, f.dir, f.push, f.email, f.webhook, opts...)
	return f
}
