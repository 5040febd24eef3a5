package notification

import "time"

// Action はアクションカタログの1エントリ。作成後は変更されない。
type Action struct {
	// ActionTypeID はアクション種別の安定した識別子。
	ActionTypeID string `json:"action_type_id" db:"action_type_id"`
	// Name はアクション名（例: order_create）。
	Name string `json:"name" db:"name"`
}

// Object は「エンティティXにイベントEが起きた」ことを表す通知オブジェクト。
type Object struct {
	// ID は通知オブジェクトの一意識別子。
	ID string `db:"notification_object_id"`
	// ActionTypeID はアクション種別の識別子。
	ActionTypeID string `db:"action_type_id"`
	// EntityID は対象エンティティ（注文、オファーセッション、出品等）の識別子。
	EntityID string `db:"entity_id"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `db:"created_at"`
	// UpdatedAt は同一イベントの再発生で更新される日時。
	UpdatedAt time.Time `db:"updated_at"`
}

// NewObject は通知オブジェクトの挿入パラメータ。
type NewObject struct {
	ActionTypeID string
	EntityID     string
	// Dedupe がtrueなら(エンティティ, アクション)ごとに1つだけ作る。
	// 既に存在する場合は更新日時を更新してそれを返す。
	Dedupe bool
}

// Change は通知オブジェクトへの変更を引き起こしたアクターの記録。追記のみ。
type Change struct {
	ObjectID string
	ActorID  string
}

// NewNotification は受信者ごとの通知行の挿入パラメータ。
type NewNotification struct {
	ObjectID   string
	NotifierID string
}

// Notification は受信者ごとの通知行（ファンアウト行）。
type Notification struct {
	// ID は通知行の一意識別子。
	ID string `db:"notification_id"`
	// ObjectID は紐づく通知オブジェクトの識別子。
	ObjectID string `db:"notification_object_id"`
	// NotifierID は通知を受け取るユーザーのID。
	NotifierID string `db:"notifier_id"`
	// Read は既読状態。
	Read bool `db:"is_read"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `db:"created_at"`
}

// Payload はプッシュ・メール配信に渡す通知内容。
type Payload struct {
	// Title は通知タイトル。
	Title string `json:"title"`
	// Body は通知本文。
	Body string `json:"body"`
	// Link はフロントエンド上の遷移先パス。
	Link string `json:"link,omitempty"`
	// EntityID は対象エンティティの識別子。
	EntityID string `json:"entity_id"`
	// Data はテンプレート描画用の追加情報。
	Data map[string]string `json:"data,omitempty"`
}

// Permission はコントラクターメンバーが持つ権限フラグ。
type Permission string

const (
	// PermissionManageOrders は注文管理権限。
	PermissionManageOrders Permission = "manage_orders"
	// PermissionManageMarket はマーケット管理権限。
	PermissionManageMarket Permission = "manage_market"
)

// AlertTargetType は管理者アラートの配信対象の種類。
type AlertTargetType string

const (
	// AlertTargetAllUsers は全ユーザーを対象とする。
	AlertTargetAllUsers AlertTargetType = "all_users"
	// AlertTargetAdmins は管理者ユーザーを対象とする。
	AlertTargetAdmins AlertTargetType = "admins"
	// AlertTargetContractorMembers は指定コントラクターの全メンバーを対象とする。
	AlertTargetContractorMembers AlertTargetType = "contractor_members"
	// AlertTargetContractorAdmins は指定コントラクターの注文管理権限を持つメンバーを対象とする。
	AlertTargetContractorAdmins AlertTargetType = "contractor_admins"
)

// Order は注文。空文字列のIDは未設定を表す。
type Order struct {
	OrderID      string `json:"order_id" db:"order_id"`
	CustomerID   string `json:"customer_id" db:"customer_id"`
	AssignedID   string `json:"assigned_id,omitempty" db:"assigned_id"`
	ContractorID string `json:"contractor_id,omitempty" db:"contractor_id"`
	Title        string `json:"title" db:"title"`
	Status       string `json:"status" db:"status"`
	Cost         int64  `json:"cost" db:"cost"`
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
	OfferID   string `json:"offer_id"`
	SessionID string `json:"session_id"`
	ActorID   string `json:"actor_id"`
	Title     string `json:"title"`
	Cost      int64  `json:"cost"`
}

// Message は注文またはオファーのチャットに投稿されたメッセージ。
type Message struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
}

// OrderComment は注文へのコメント。
type OrderComment struct {
	CommentID string `json:"comment_id"`
	OrderID   string `json:"order_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
}

// Review は注文へのレビュー。個人またはコントラクターが投稿する。
type Review struct {
	ReviewID           string `json:"review_id"`
	OrderID            string `json:"order_id"`
	UserAuthorID       string `json:"user_author_id,omitempty"`
	ContractorAuthorID string `json:"contractor_author_id,omitempty"`
	// ActorID はレビューを実際に投稿したユーザー。コントラクター名義でも個人が操作する。
	ActorID string `json:"actor_id"`
	Content string `json:"content"`
	Rating  int    `json:"rating"`
}

// MarketListing はマーケットの出品。個人またはコントラクターが出品者となる。
type MarketListing struct {
	ListingID          string `json:"listing_id"`
	UserSellerID       string `json:"user_seller_id,omitempty"`
	ContractorSellerID string `json:"contractor_seller_id,omitempty"`
	Title              string `json:"title"`
	Price              int64  `json:"price"`
}

// MarketBid は出品への入札。
type MarketBid struct {
	BidID              string `json:"bid_id"`
	ListingID          string `json:"listing_id"`
	UserBidderID       string `json:"user_bidder_id,omitempty"`
	ContractorBidderID string `json:"contractor_bidder_id,omitempty"`
	// ActorID は入札操作を行ったユーザー。
	ActorID string `json:"actor_id"`
	Amount  int64  `json:"amount"`
}

// MarketOffer は出品への購入オファー。
type MarketOffer struct {
	OfferID   string `json:"offer_id"`
	ListingID string `json:"listing_id"`
	BuyerID   string `json:"buyer_id"`
	Amount    int64  `json:"amount"`
	Quantity  int    `json:"quantity"`
}

// ContractorInvite はコントラクターへの招待。
type ContractorInvite struct {
	InviteID     string `json:"invite_id"`
	ContractorID string `json:"contractor_id"`
	UserID       string `json:"user_id"`
	InviterID    string `json:"inviter_id,omitempty"`
	Message      string `json:"message"`
}

// AdminAlert は管理者が発行するお知らせ。
type AdminAlert struct {
	AlertID            string          `json:"alert_id"`
	Title              string          `json:"title"`
	Content            string          `json:"content"`
	Link               string          `json:"link,omitempty"`
	TargetType         AlertTargetType `json:"target_type"`
	TargetContractorID string          `json:"target_contractor_id,omitempty"`
	CreatedBy          string          `json:"created_by"`
}

// WebhookEvent はイベント単位で1回だけ送信されるWebhookの内容。
type WebhookEvent struct {
	// Kind はイベント種別。
	Kind Kind
	// EntityID は対象エンティティの識別子。
	EntityID string
	// ContractorID はWebhook購読者を特定するコントラクターID。
	ContractorID string
	// UserID はWebhook購読者を特定するユーザーID。
	UserID string
	// Data はWebhook本文に含めるイベント固有データ。
	Data any
}
