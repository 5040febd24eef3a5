package store

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/nao1215/marketnotify/internal/notification"
)

// newTestStore はマイグレーション適用済みのインメモリStoreを生成する。
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.Context(), ":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("テスト用Storeの作成に失敗: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("テスト用Storeのクローズに失敗: %v", err)
		}
	})
	return s
}

// newObject はテスト用に通知オブジェクトを1件作成する。
func newObject(t *testing.T, s *Store, kind notification.Kind, entityID string) notification.Object {
	t.Helper()
	action, err := s.ActionByName(t.Context(), kind.String())
	if err != nil {
		t.Fatalf("アクションの取得に失敗: %v", err)
	}
	objs, err := s.InsertNotificationObjects(t.Context(), []notification.NewObject{{ActionTypeID: action.ActionTypeID, EntityID: entityID}})
	if err != nil {
		t.Fatalf("通知オブジェクトの作成に失敗: %v", err)
	}
	return objs[0]
}

func TestActionCatalog(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	t.Run("すべての種別がシードされている", func(t *testing.T) {
		t.Parallel()
		actions, err := s.ListActions(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, a := range actions {
			names = append(names, a.Name)
		}
		for _, k := range notification.Kinds() {
			if !slices.Contains(names, k.String()) {
				t.Errorf("%s がカタログにありません", k)
			}
		}
	})

	t.Run("カタログに欠けた種別があれば検査で失敗する", func(t *testing.T) {
		t.Parallel()
		other := newTestStore(t)
		if _, err := other.db.ExecContext(t.Context(),
			"DELETE FROM notification_actions WHERE name = ?", notification.KindAdminAlert.String()); err != nil {
			t.Fatal(err)
		}
		err := other.checkCatalog(t.Context())
		if !errors.Is(err, notification.ErrActionNotFound) {
			t.Errorf("ErrActionNotFoundを期待: got %v", err)
		}
		if err == nil || !strings.Contains(err.Error(), "admin_alert") {
			t.Errorf("欠けた種別名がエラーに含まれるはず: %v", err)
		}
	})

	t.Run("未知のアクションはErrActionNotFound", func(t *testing.T) {
		t.Parallel()
		_, err := s.ActionByName(t.Context(), "order_deleted")
		if !errors.Is(err, notification.ErrActionNotFound) {
			t.Errorf("ErrActionNotFoundを期待: got %v", err)
		}
	})
}

func TestNotificationObjects(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	obj := newObject(t, s, notification.KindOrderMessage, "order-1")
	if obj.ID == "" || obj.EntityID != "order-1" {
		t.Fatalf("作成結果が不正: %+v", obj)
	}
	if obj.CreatedAt.IsZero() {
		t.Error("作成日時が設定されていない")
	}

	t.Run("エンティティとアクションで取得できる", func(t *testing.T) {
		got, err := s.GetNotificationObjectByEntityAndAction(t.Context(), "order-1", obj.ActionTypeID)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.ID != obj.ID {
			t.Errorf("got %+v, want %s", got, obj.ID)
		}
	})

	t.Run("存在しなければnil", func(t *testing.T) {
		got, err := s.GetNotificationObjectByEntityAndAction(t.Context(), "order-2", obj.ActionTypeID)
		if err != nil {
			t.Fatal(err)
		}
		if got != nil {
			t.Errorf("nilを期待: %+v", got)
		}
	})

	t.Run("更新日時の更新", func(t *testing.T) {
		if err := s.UpdateNotificationObjectTimestamp(t.Context(), obj.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateNotificationObjectTimestamp(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ErrNotFoundを期待: got %v", err)
		}
	})

	t.Run("変更履歴は追記順に残る", func(t *testing.T) {
		changes := []notification.Change{{ObjectID: obj.ID, ActorID: "a"}, {ObjectID: obj.ID, ActorID: "b"}}
		if err := s.InsertNotificationChanges(t.Context(), changes); err != nil {
			t.Fatal(err)
		}
		actors, err := s.ChangeActors(t.Context(), obj.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(actors, []string{"a", "b"}) {
			t.Errorf("got %v", actors)
		}
	})
}

func TestInsertNotifications(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	obj := newObject(t, s, notification.KindOrderMessage, "order-1")

	rows := []notification.NewNotification{{ObjectID: obj.ID, NotifierID: "u1"}, {ObjectID: obj.ID, NotifierID: "u2"}}
	inserted, err := s.InsertNotifications(t.Context(), rows)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(inserted, []string{"u1", "u2"}) {
		t.Errorf("初回: got %v", inserted)
	}

	t.Run("未読行がある受信者には挿入されない", func(t *testing.T) {
		inserted, err := s.InsertNotifications(t.Context(), rows)
		if err != nil {
			t.Fatal(err)
		}
		if len(inserted) != 0 {
			t.Errorf("挿入されないはず: %v", inserted)
		}
		unread, err := s.GetUnreadNotificationByUserAndObject(t.Context(), "u1", obj.ID)
		if err != nil {
			t.Fatal(err)
		}
		if unread == nil || unread.Read {
			t.Errorf("未読行を期待: %+v", unread)
		}
	})

	t.Run("既読にした後は再び挿入できる", func(t *testing.T) {
		if _, err := s.MarkAllAsRead(t.Context(), "u1"); err != nil {
			t.Fatal(err)
		}
		inserted, err := s.InsertNotifications(t.Context(), rows)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(inserted, []string{"u1"}) {
			t.Errorf("got %v, want [u1]", inserted)
		}
	})
}

func TestInbox(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	older := newObject(t, s, notification.KindOrderAssigned, "order-1")
	newer := newObject(t, s, notification.KindOrderMessage, "order-2")
	if err := s.InsertNotificationChanges(t.Context(), []notification.Change{
		{ObjectID: newer.ID, ActorID: "x"},
		{ObjectID: newer.ID, ActorID: "y"},
		{ObjectID: newer.ID, ActorID: "x"},
	}); err != nil {
		t.Fatal(err)
	}
	for _, o := range []notification.Object{older, newer} {
		if _, err := s.InsertNotifications(t.Context(), []notification.NewNotification{{ObjectID: o.ID, NotifierID: "me"}}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.InsertNotifications(t.Context(), []notification.NewNotification{{ObjectID: older.ID, NotifierID: "other"}}); err != nil {
		t.Fatal(err)
	}

	items, err := s.ListNotifications(t.Context(), "me", ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("件数: got %d, want 2", len(items))
	}

	t.Run("新しい順にアクション名と重複なしのアクターが付く", func(t *testing.T) {
		if items[0].ObjectID != newer.ID || items[0].Action != "order_message" {
			t.Errorf("先頭が不正: %+v", items[0])
		}
		actors := slices.Clone(items[0].Actors)
		slices.Sort(actors)
		if !slices.Equal(actors, []string{"x", "y"}) {
			t.Errorf("アクター: got %v", items[0].Actors)
		}
		if items[1].Actors == nil || len(items[1].Actors) != 0 {
			t.Errorf("アクター無しは空スライス: %#v", items[1].Actors)
		}
	})

	t.Run("他人の通知は既読にも削除にもできない", func(t *testing.T) {
		err := s.MarkAsRead(t.Context(), "other", items[0].NotificationID)
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("ErrForbiddenを期待: got %v", err)
		}
		err = s.DeleteNotification(t.Context(), "other", items[0].NotificationID)
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("ErrForbiddenを期待: got %v", err)
		}
		if err := s.MarkAsRead(t.Context(), "me", "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ErrNotFoundを期待: got %v", err)
		}
	})

	t.Run("既読にすると未読数と未読一覧から外れる", func(t *testing.T) {
		if err := s.MarkAsRead(t.Context(), "me", items[0].NotificationID); err != nil {
			t.Fatal(err)
		}
		count, err := s.CountUnread(t.Context(), "me")
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("未読数: got %d, want 1", count)
		}
		unread, err := s.ListNotifications(t.Context(), "me", ListOptions{UnreadOnly: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(unread) != 1 || unread[0].NotificationID != items[1].NotificationID {
			t.Errorf("未読一覧が不正: %+v", unread)
		}
	})

	t.Run("一括削除は自分の通知だけを消す", func(t *testing.T) {
		others, err := s.ListNotifications(t.Context(), "other", ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		ids := []string{items[0].NotificationID, items[1].NotificationID, others[0].NotificationID}
		n, err := s.DeleteNotifications(t.Context(), "me", ids)
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("削除件数: got %d, want 2", n)
		}
		rest, err := s.ListNotifications(t.Context(), "other", ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(rest) != 1 {
			t.Errorf("他人の通知は残るはず: %d", len(rest))
		}
	})
}

func TestDirectory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	for _, u := range []User{
		{UserID: "admin", Email: "admin@example.com", Role: RoleAdmin},
		{UserID: "u1", Email: "u1@example.com"},
		{UserID: "u2"},
	} {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	for _, m := range []Member{
		{ContractorID: "c1", UserID: "u1", ManageOrders: true},
		{ContractorID: "c1", UserID: "u2", ManageMarket: true},
		{ContractorID: "c2", UserID: "u2", ManageOrders: true},
	} {
		if err := s.UpsertMember(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("権限フラグで絞り込む", func(t *testing.T) {
		got, err := s.MembersWithPermission(ctx, "c1", notification.PermissionManageOrders)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got, []string{"u1"}) {
			t.Errorf("manage_orders: got %v", got)
		}
		got, err = s.MembersWithPermission(ctx, "c1", notification.PermissionManageMarket)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got, []string{"u2"}) {
			t.Errorf("manage_market: got %v", got)
		}
	})

	t.Run("権限の更新とメンバーの削除", func(t *testing.T) {
		if err := s.UpsertMember(ctx, Member{ContractorID: "c2", UserID: "u1", ManageOrders: true}); err != nil {
			t.Fatal(err)
		}
		if err := s.RemoveMember(ctx, "c2", "u2"); err != nil {
			t.Fatal(err)
		}
		got, err := s.MembersWithPermission(ctx, "c2", notification.PermissionManageOrders)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got, []string{"u1"}) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("アラートの配信対象を種類ごとに解決する", func(t *testing.T) {
		tests := []struct {
			name  string
			alert notification.AdminAlert
			want  []string
		}{
			{name: "全ユーザー", alert: notification.AdminAlert{TargetType: notification.AlertTargetAllUsers}, want: []string{"admin", "u1", "u2"}},
			{name: "管理者", alert: notification.AdminAlert{TargetType: notification.AlertTargetAdmins}, want: []string{"admin"}},
			{name: "コントラクター全員", alert: notification.AdminAlert{TargetType: notification.AlertTargetContractorMembers, TargetContractorID: "c1"}, want: []string{"u1", "u2"}},
			{name: "コントラクター管理者", alert: notification.AdminAlert{TargetType: notification.AlertTargetContractorAdmins, TargetContractorID: "c1"}, want: []string{"u1"}},
			{name: "該当なし", alert: notification.AdminAlert{TargetType: notification.AlertTargetContractorMembers, TargetContractorID: "c9"}, want: nil},
		}
		for _, tt := range tests {
			got, err := s.ResolveAlertTargets(ctx, tt.alert)
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
			}
		}

		if _, err := s.ResolveAlertTargets(ctx, notification.AdminAlert{TargetType: notification.AlertTargetContractorMembers}); err == nil {
			t.Error("コントラクターID無しはエラーを期待")
		}
		if _, err := s.ResolveAlertTargets(ctx, notification.AdminAlert{TargetType: "everyone"}); err == nil {
			t.Error("未知の種類はエラーを期待")
		}
	})

	t.Run("注文の保存と取得", func(t *testing.T) {
		order := notification.Order{OrderID: "o1", CustomerID: "u1", AssignedID: "u2", Title: "翻訳", Status: "not-started", Cost: 1200}
		if err := s.UpsertOrder(ctx, order); err != nil {
			t.Fatal(err)
		}
		order.Status = "in-progress"
		if err := s.UpsertOrder(ctx, order); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetOrder(ctx, "o1")
		if err != nil {
			t.Fatal(err)
		}
		if *got != order {
			t.Errorf("got %+v, want %+v", *got, order)
		}
		if _, err := s.GetOrder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ErrNotFoundを期待: got %v", err)
		}
	})
}

func TestEmailRecipient(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	if err := s.UpsertUser(ctx, User{UserID: "u1", Email: "u1@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertUser(ctx, User{UserID: "noaddr"}); err != nil {
		t.Fatal(err)
	}

	check := func(t *testing.T, userID, action string, wantAddr string, wantOK bool) {
		t.Helper()
		addr, ok, err := s.EmailRecipient(ctx, userID, action)
		if err != nil {
			t.Fatal(err)
		}
		if addr != wantAddr || ok != wantOK {
			t.Errorf("got (%q, %v), want (%q, %v)", addr, ok, wantAddr, wantOK)
		}
	}

	t.Run("設定が無ければ配信する", func(t *testing.T) {
		check(t, "u1", "order_message", "u1@example.com", true)
	})
	t.Run("アドレスが無いユーザーや未登録ユーザーには配信しない", func(t *testing.T) {
		check(t, "noaddr", "order_message", "", false)
		check(t, "ghost", "order_message", "", false)
	})
	t.Run("全体で停止してもアクション個別の許可が優先される", func(t *testing.T) {
		if err := s.SetEmailPreference(ctx, "u1", AllActions, false); err != nil {
			t.Fatal(err)
		}
		if err := s.SetEmailPreference(ctx, "u1", "order_assigned", true); err != nil {
			t.Fatal(err)
		}
		check(t, "u1", "order_message", "u1@example.com", false)
		check(t, "u1", "order_assigned", "u1@example.com", true)
	})
}

func TestWebhooks(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	if err := s.UpsertMember(ctx, Member{ContractorID: "c1", UserID: "u1", ManageOrders: true}); err != nil {
		t.Fatal(err)
	}

	all, err := s.CreateWebhook(ctx, Webhook{OwnerContractorID: "c1", URL: "https://example.com/all", Secret: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if all.WebhookID == "" || len(all.EventTypes) != 0 {
		t.Errorf("登録結果が不正: %+v", all)
	}
	if _, err := s.CreateWebhook(ctx, Webhook{OwnerUserID: "u9", URL: "https://example.com/bid", EventTypes: []string{"market_item_bid"}}); err != nil {
		t.Fatal(err)
	}

	t.Run("所有者の指定が不正なら登録できない", func(t *testing.T) {
		if _, err := s.CreateWebhook(ctx, Webhook{URL: "https://example.com"}); err == nil {
			t.Error("エラーを期待")
		}
		if _, err := s.CreateWebhook(ctx, Webhook{OwnerUserID: "u1", OwnerContractorID: "c1", URL: "https://example.com"}); err == nil {
			t.Error("エラーを期待")
		}
	})

	t.Run("購読種別で絞り込む", func(t *testing.T) {
		got, err := s.WebhooksFor(ctx, "c1", "u9", "market_item_bid")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("入札は2件: got %d", len(got))
		}
		got, err = s.WebhooksFor(ctx, "c1", "u9", "order_create")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].WebhookID != all.WebhookID {
			t.Errorf("注文作成は全購読の1件: %+v", got)
		}
		got, err = s.WebhooksFor(ctx, "", "", "order_create")
		if err != nil || len(got) != 0 {
			t.Errorf("所有者無しは0件: %v, %v", got, err)
		}
	})

	t.Run("所属コントラクターのWebhookも一覧に含まれる", func(t *testing.T) {
		got, err := s.ListWebhooks(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].OwnerContractorID != "c1" {
			t.Errorf("got %+v", got)
		}
	})
}

func TestDedupeObjects(t *testing.T) {
	t.Parallel()

	t.Run("重複排除対象は同じエンティティとアクションで1つに収束する", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		action, err := s.ActionByName(t.Context(), notification.KindOrderMessage.String())
		if err != nil {
			t.Fatal(err)
		}
		o := notification.NewObject{ActionTypeID: action.ActionTypeID, EntityID: "order-1", Dedupe: true}

		first, err := s.InsertNotificationObjects(t.Context(), []notification.NewObject{o})
		if err != nil {
			t.Fatal(err)
		}
		second, err := s.InsertNotificationObjects(t.Context(), []notification.NewObject{o})
		if err != nil {
			t.Fatal(err)
		}
		if first[0].ID != second[0].ID {
			t.Errorf("同じオブジェクトを期待: %s != %s", first[0].ID, second[0].ID)
		}
	})

	t.Run("重複排除対象でなければ毎回作られる", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		a := newObject(t, s, notification.KindOrderStatusFulfilled, "order-1")
		b := newObject(t, s, notification.KindOrderStatusFulfilled, "order-1")
		if a.ID == b.ID {
			t.Error("別々のオブジェクトを期待")
		}
	})

	t.Run("同時に作成しても1つだけになる", func(t *testing.T) {
		t.Parallel()
		s := newFileStore(t)
		action, err := s.ActionByName(t.Context(), notification.KindOfferMessage.String())
		if err != nil {
			t.Fatal(err)
		}
		o := notification.NewObject{ActionTypeID: action.ActionTypeID, EntityID: "session-1", Dedupe: true}

		const workers = 8
		var (
			wg   sync.WaitGroup
			ids  = make([]string, workers)
			errs = make([]error, workers)
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				objs, err := s.InsertNotificationObjects(t.Context(), []notification.NewObject{o})
				if err != nil {
					errs[i] = err
					return
				}
				ids[i] = objs[0].ID
			}()
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("ワーカー%dが失敗: %v", i, err)
			}
		}
		for _, id := range ids[1:] {
			if id != ids[0] {
				t.Errorf("同じオブジェクトを期待: %v", ids)
				break
			}
		}
		var n int
		if err := s.db.GetContext(t.Context(), &n,
			"SELECT COUNT(*) FROM notification_objects WHERE entity_id = 'session-1'"); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("通知オブジェクト数 = %d, want 1", n)
		}
	})
}
