package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeOrder は注文エンティティを表す。
	AggregateTypeOrder AggregateType = "Order"
	// AggregateTypeOffer はオファーセッションを表す。
	AggregateTypeOffer AggregateType = "Offer"
	// AggregateTypeMarket はマーケットの出品を表す。
	AggregateTypeMarket AggregateType = "Market"
	// AggregateTypeContractor はコントラクターを表す。
	AggregateTypeContractor AggregateType = "Contractor"
	// AggregateTypeAlert は管理者アラートを表す。
	AggregateTypeAlert AggregateType = "Alert"
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeOrderCreated は注文が作成されたことを表す。
	TypeOrderCreated Type = "order.created"
	// TypeOrderAssigned は注文が担当者に割り当てられたことを表す。
	TypeOrderAssigned Type = "order.assigned"
	// TypeOrderMessage は注文チャットにメッセージが投稿されたことを表す。
	TypeOrderMessage Type = "order.message"
	// TypeOrderComment は注文にコメントが付いたことを表す。
	TypeOrderComment Type = "order.comment"
	// TypeOrderStatusChanged は注文のステータスが変わったことを表す。
	TypeOrderStatusChanged Type = "order.status_changed"
	// TypeOrderReview は注文にレビューが投稿されたことを表す。
	TypeOrderReview Type = "order.review"
	// TypeOrderReviewRevisionRequested はレビューの修正が依頼されたことを表す。
	TypeOrderReviewRevisionRequested Type = "order.review_revision_requested"

	// TypeOfferCreated はオファーが作成されたことを表す。
	TypeOfferCreated Type = "offer.created"
	// TypeOfferCountered はオファーに対案が出されたことを表す。
	TypeOfferCountered Type = "offer.countered"
	// TypeOfferMessage はオファーチャットにメッセージが投稿されたことを表す。
	TypeOfferMessage Type = "offer.message"

	// TypeMarketBid は出品に入札があったことを表す。
	TypeMarketBid Type = "market.bid"
	// TypeMarketOffer は出品に購入オファーがあったことを表す。
	TypeMarketOffer Type = "market.offer"

	// TypeContractorInvite はコントラクターへの招待が送られたことを表す。
	TypeContractorInvite Type = "contractor.invite"
	// TypeContractorMemberUpdated はメンバーの追加または権限変更を表す。
	TypeContractorMemberUpdated Type = "contractor.member_updated"
	// TypeContractorMemberRemoved はメンバーの脱退を表す。
	TypeContractorMemberRemoved Type = "contractor.member_removed"

	// TypeAdminAlert は管理者アラートが発行されたことを表す。
	TypeAdminAlert Type = "admin.alert"

	// TypeUserUpdated はユーザーの登録またはプロフィール変更を表す。
	TypeUserUpdated Type = "user.updated"
)

// aggregates はイベント種類ごとの対象エンティティ。
var aggregates = map[Type]AggregateType{
	TypeOrderCreated:                 AggregateTypeOrder,
	TypeOrderAssigned:                AggregateTypeOrder,
	TypeOrderMessage:                 AggregateTypeOrder,
	TypeOrderComment:                 AggregateTypeOrder,
	TypeOrderStatusChanged:           AggregateTypeOrder,
	TypeOrderReview:                  AggregateTypeOrder,
	TypeOrderReviewRevisionRequested: AggregateTypeOrder,
	TypeOfferCreated:                 AggregateTypeOffer,
	TypeOfferCountered:               AggregateTypeOffer,
	TypeOfferMessage:                 AggregateTypeOffer,
	TypeMarketBid:                    AggregateTypeMarket,
	TypeMarketOffer:                  AggregateTypeMarket,
	TypeContractorInvite:             AggregateTypeContractor,
	TypeContractorMemberUpdated:      AggregateTypeContractor,
	TypeContractorMemberRemoved:      AggregateTypeContractor,
	TypeAdminAlert:                   AggregateTypeAlert,
	TypeUserUpdated:                  AggregateTypeUser,
}

// Known は定義済みのイベント種類かどうかを返す。
func (t Type) Known() bool {
	_, ok := aggregates[t]
	return ok
}

// Aggregate はイベント種類の対象エンティティを返す。未定義の種類では空文字列を返す。
func (t Type) Aggregate() AggregateType { return aggregates[t] }

// Event はドメインサービスから届く不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version,omitempty"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// Order は注文。
type Order struct {
	OrderID      string `json:"order_id"`
	CustomerID   string `json:"customer_id"`
	AssignedID   string `json:"assigned_id,omitempty"`
	ContractorID string `json:"contractor_id,omitempty"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Cost         int64  `json:"cost"`
}

// Message はチャットのメッセージ。
type Message struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
}

// OrderData は order.created / order.assigned のデータ。
type OrderData struct {
	Order Order `json:"order"`
}

// OrderMessageData は order.message のデータ。
type OrderMessageData struct {
	Order   Order   `json:"order"`
	Message Message `json:"message"`
}

// OrderCommentData は order.comment のデータ。
type OrderCommentData struct {
	CommentID string `json:"comment_id"`
	OrderID   string `json:"order_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
}

// OrderStatusChangedData は order.status_changed のデータ。
type OrderStatusChangedData struct {
	Order Order `json:"order"`
	// Status は変更後のステータス。
	Status string `json:"status"`
	// ActorID はステータスを変更したユーザー。
	ActorID string `json:"actor_id"`
}

// Review は注文へのレビュー。
type Review struct {
	ReviewID           string `json:"review_id"`
	OrderID            string `json:"order_id"`
	UserAuthorID       string `json:"user_author_id,omitempty"`
	ContractorAuthorID string `json:"contractor_author_id,omitempty"`
	ActorID            string `json:"actor_id"`
	Content            string `json:"content"`
	Rating             int    `json:"rating"`
}

// OrderReviewData は order.review のデータ。
type OrderReviewData struct {
	Review Review `json:"review"`
}

// ReviewRevisionRequestedData は order.review_revision_requested のデータ。
type ReviewRevisionRequestedData struct {
	Review      Review `json:"review"`
	RequesterID string `json:"requester_id"`
}

// OfferSession は注文前の交渉セッション。
type OfferSession struct {
	SessionID    string `json:"session_id"`
	CustomerID   string `json:"customer_id"`
	AssignedID   string `json:"assigned_id,omitempty"`
	ContractorID string `json:"contractor_id,omitempty"`
}

// Offer は交渉セッション内の個々の提案。
type Offer struct {
	OfferID string `json:"offer_id"`
	ActorID string `json:"actor_id"`
	Title   string `json:"title"`
	Cost    int64  `json:"cost"`
}

// OfferData は offer.created / offer.countered のデータ。
type OfferData struct {
	Session OfferSession `json:"session"`
	Offer   Offer        `json:"offer"`
}

// OfferMessageData は offer.message のデータ。
type OfferMessageData struct {
	Session OfferSession `json:"session"`
	Message Message      `json:"message"`
}

// Listing はマーケットの出品。
type Listing struct {
	ListingID          string `json:"listing_id"`
	UserSellerID       string `json:"user_seller_id,omitempty"`
	ContractorSellerID string `json:"contractor_seller_id,omitempty"`
	Title              string `json:"title"`
	Price              int64  `json:"price"`
}

// MarketBidData は market.bid のデータ。
type MarketBidData struct {
	Listing            Listing `json:"listing"`
	BidID              string  `json:"bid_id"`
	UserBidderID       string  `json:"user_bidder_id,omitempty"`
	ContractorBidderID string  `json:"contractor_bidder_id,omitempty"`
	ActorID            string  `json:"actor_id"`
	Amount             int64   `json:"amount"`
}

// MarketOfferData は market.offer のデータ。
type MarketOfferData struct {
	Listing  Listing `json:"listing"`
	OfferID  string  `json:"offer_id"`
	BuyerID  string  `json:"buyer_id"`
	Amount   int64   `json:"amount"`
	Quantity int     `json:"quantity"`
}

// ContractorInviteData は contractor.invite のデータ。
type ContractorInviteData struct {
	InviteID     string `json:"invite_id"`
	ContractorID string `json:"contractor_id"`
	UserID       string `json:"user_id"`
	InviterID    string `json:"inviter_id,omitempty"`
	Message      string `json:"message"`
}

// MemberUpdatedData は contractor.member_updated のデータ。
type MemberUpdatedData struct {
	ContractorID string `json:"contractor_id"`
	UserID       string `json:"user_id"`
	ManageOrders bool   `json:"manage_orders"`
	ManageMarket bool   `json:"manage_market"`
}

// MemberRemovedData は contractor.member_removed のデータ。
type MemberRemovedData struct {
	ContractorID string `json:"contractor_id"`
	UserID       string `json:"user_id"`
}

// AdminAlertData は admin.alert のデータ。
type AdminAlertData struct {
	AlertID            string `json:"alert_id"`
	Title              string `json:"title"`
	Content            string `json:"content"`
	Link               string `json:"link,omitempty"`
	TargetType         string `json:"target_type"`
	TargetContractorID string `json:"target_contractor_id,omitempty"`
	CreatedBy          string `json:"created_by"`
}

// UserUpdatedData は user.updated のデータ。
type UserUpdatedData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	// Role は "user" または "admin"。
	Role string `json:"role"`
}
