package notification

import "context"

// ActionCatalog はアクション名からアクション種別を引く。
// 未知の名前に対してはErrActionNotFoundをラップしたエラーを返す。
type ActionCatalog interface {
	ActionByName(ctx context.Context, name string) (Action, error)
}

// ObjectStore は通知オブジェクトを永続化する。
type ObjectStore interface {
	InsertNotificationObjects(ctx context.Context, objects []NewObject) ([]Object, error)
	// GetNotificationObjectByEntityAndAction は該当オブジェクトが無い場合にnil, nilを返す。
	GetNotificationObjectByEntityAndAction(ctx context.Context, entityID, actionTypeID string) (*Object, error)
	UpdateNotificationObjectTimestamp(ctx context.Context, objectID string) error
}

// ChangeLog は通知オブジェクトの変更履歴を追記する。
type ChangeLog interface {
	InsertNotificationChanges(ctx context.Context, changes []Change) error
}

// FanoutTable は受信者ごとの通知行を管理する。
type FanoutTable interface {
	// InsertNotifications は実際に挿入された受信者IDを返す。
	InsertNotifications(ctx context.Context, rows []NewNotification) ([]string, error)
	// GetUnreadNotificationByUserAndObject は未読行が無い場合にnil, nilを返す。
	GetUnreadNotificationByUserAndObject(ctx context.Context, userID, objectID string) (*Notification, error)
}

// Repository はオーケストレータが利用する永続化層をまとめたもの。
type Repository interface {
	ActionCatalog
	ObjectStore
	ChangeLog
	FanoutTable
}

// Directory は受信者解決に必要な外部情報を引く。
type Directory interface {
	// MembersWithPermission は権限フラグを持つコントラクターメンバーのユーザーIDを返す。
	MembersWithPermission(ctx context.Context, contractorID string, perm Permission) ([]string, error)
	// ResolveAlertTargets は管理者アラートの配信対象ユーザーIDを返す。
	ResolveAlertTargets(ctx context.Context, alert AdminAlert) ([]string, error)
	// GetOrder は注文を取得する。
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

// PushSender はプッシュ通知を配信する。
type PushSender interface {
	SendPushNotification(ctx context.Context, userID string, payload Payload, kind Kind, contractorID string) error
	SendPushNotifications(ctx context.Context, userIDs []string, payload Payload, kind Kind) error
}

// EmailSender は通知メールを配信する。
// 戻り値のfalseは受信者の設定により送信しなかったことを表し、エラーではない。
type EmailSender interface {
	SendNotificationEmail(ctx context.Context, userID string, kind Kind, payload Payload, skipQueue bool, contractorID string) (bool, error)
}

// WebhookSender はイベント単位のWebhookを配信する。
type WebhookSender interface {
	SendWebhooks(ctx context.Context, event WebhookEvent) error
}
