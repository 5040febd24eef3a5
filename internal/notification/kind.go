package notification

import (
	"errors"
	"fmt"
)

// ErrActionNotFound はアクションカタログに存在しないアクション名が指定されたことを表す。
// 設定不備として扱い、イベント処理全体を失敗させる。
var ErrActionNotFound = errors.New("通知アクションが見つかりません")

// Kind は通知イベントの種類を表す。値はアクションカタログ上のアクション名と一致する。
type Kind string

const (
	// KindOrderCreate は注文が作成されたことを表す。
	KindOrderCreate Kind = "order_create"
	// KindOrderAssigned は注文に担当者が割り当てられたことを表す。
	KindOrderAssigned Kind = "order_assigned"
	// KindOrderMessage は注文チャットにメッセージが投稿されたことを表す。
	KindOrderMessage Kind = "order_message"
	// KindOrderComment は注文にコメントが投稿されたことを表す。
	KindOrderComment Kind = "order_comment"
	// KindOrderReview は注文にレビューが投稿されたことを表す。
	KindOrderReview Kind = "order_review"
	// KindOrderReviewRevisionRequested はレビューの修正依頼が出されたことを表す。
	KindOrderReviewRevisionRequested Kind = "order_review_revision_requested"
	// KindOrderStatusFulfilled は注文が完了状態になったことを表す。
	KindOrderStatusFulfilled Kind = "order_status_fulfilled"
	// KindOrderStatusInProgress は注文が進行中状態になったことを表す。
	KindOrderStatusInProgress Kind = "order_status_in_progress"
	// KindOrderStatusNotStarted は注文が未着手状態に戻ったことを表す。
	KindOrderStatusNotStarted Kind = "order_status_not_started"
	// KindOrderStatusCancelled は注文がキャンセルされたことを表す。
	KindOrderStatusCancelled Kind = "order_status_cancelled"
	// KindOfferCreate はオファーが作成されたことを表す。
	KindOfferCreate Kind = "offer_create"
	// KindCounterOfferCreate はカウンターオファーが作成されたことを表す。
	KindCounterOfferCreate Kind = "counter_offer_create"
	// KindOfferMessage はオファーチャットにメッセージが投稿されたことを表す。
	KindOfferMessage Kind = "offer_message"
	// KindMarketItemBid はマーケット出品に入札があったことを表す。
	KindMarketItemBid Kind = "market_item_bid"
	// KindMarketItemOffer はマーケット出品に購入オファーがあったことを表す。
	KindMarketItemOffer Kind = "market_item_offer"
	// KindContractorInvite はコントラクターへの招待が送られたことを表す。
	KindContractorInvite Kind = "contractor_invite"
	// KindAdminAlert は管理者アラートが発行されたことを表す。
	KindAdminAlert Kind = "admin_alert"
)

// kindSpec はイベント種別ごとの静的な振る舞いを定義する。
type kindSpec struct {
	// dedupeByEntityAndAction がtrueの場合、同一(エンティティ, アクション)の通知オブジェクトを再利用し、
	// 未読の通知行を持つ受信者への再挿入を行わない。
	dedupeByEntityAndAction bool
	// skipEmailQueue がtrueの場合、メールをキューに積まず即時送信する。
	skipEmailQueue bool
	// title はプッシュ通知とメール件名に使うタイトル。
	title string
}

var kindSpecs = map[Kind]kindSpec{
	KindOrderCreate:                  {title: "新しい注文"},
	KindOrderAssigned:                {title: "注文が割り当てられました"},
	KindOrderMessage:                 {dedupeByEntityAndAction: true, title: "注文に新しいメッセージ"},
	KindOrderComment:                 {title: "注文に新しいコメント"},
	KindOrderReview:                  {title: "注文に新しいレビュー"},
	KindOrderReviewRevisionRequested: {skipEmailQueue: true, title: "レビューの修正依頼"},
	KindOrderStatusFulfilled:         {title: "注文が完了しました"},
	KindOrderStatusInProgress:        {title: "注文が進行中になりました"},
	KindOrderStatusNotStarted:        {title: "注文が未着手に戻りました"},
	KindOrderStatusCancelled:         {title: "注文がキャンセルされました"},
	KindOfferCreate:                  {title: "新しいオファー"},
	KindCounterOfferCreate:           {title: "カウンターオファー"},
	KindOfferMessage:                 {dedupeByEntityAndAction: true, title: "オファーに新しいメッセージ"},
	KindMarketItemBid:                {title: "出品に新しい入札"},
	KindMarketItemOffer:              {title: "出品に新しいオファー"},
	KindContractorInvite:             {skipEmailQueue: true, title: "コントラクターへの招待"},
	KindAdminAlert:                   {title: "お知らせ"},
}

// Kinds はアクションカタログに登録されるすべてのイベント種別を返す。
func Kinds() []Kind {
	return []Kind{
		KindOrderCreate,
		KindOrderAssigned,
		KindOrderMessage,
		KindOrderComment,
		KindOrderReview,
		KindOrderReviewRevisionRequested,
		KindOrderStatusFulfilled,
		KindOrderStatusInProgress,
		KindOrderStatusNotStarted,
		KindOrderStatusCancelled,
		KindOfferCreate,
		KindCounterOfferCreate,
		KindOfferMessage,
		KindMarketItemBid,
		KindMarketItemOffer,
		KindContractorInvite,
		KindAdminAlert,
	}
}

// String はアクション名を返す。
func (k Kind) String() string { return string(k) }

// Valid はカタログに定義された種別かどうかを返す。
func (k Kind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// DedupeByEntityAndAction は通知オブジェクトを(エンティティ, アクション)単位で再利用するかを返す。
func (k Kind) DedupeByEntityAndAction() bool { return kindSpecs[k].dedupeByEntityAndAction }

// SkipEmailQueue はメールをキューを経由せず即時送信するかを返す。
func (k Kind) SkipEmailQueue() bool { return kindSpecs[k].skipEmailQueue }

// Title は通知タイトルを返す。未定義の種別ではアクション名をそのまま返す。
func (k Kind) Title() string {
	if spec, ok := kindSpecs[k]; ok {
		return spec.title
	}
	return string(k)
}

// 注文ステータス。
const (
	OrderStatusNotStarted = "not-started"
	OrderStatusInProgress = "in-progress"
	OrderStatusFulfilled  = "fulfilled"
	OrderStatusCancelled  = "cancelled"
)

// OrderStatusKind は注文ステータスに対応するイベント種別を返す。
// 未知のステータスはErrActionNotFoundとして扱う。
func OrderStatusKind(status string) (Kind, error) {
	switch status {
	case OrderStatusNotStarted:
		return KindOrderStatusNotStarted, nil
	case OrderStatusInProgress:
		return KindOrderStatusInProgress, nil
	case OrderStatusFulfilled:
		return KindOrderStatusFulfilled, nil
	case OrderStatusCancelled:
		return KindOrderStatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: 注文ステータス %q", ErrActionNotFound, status)
	}
}
