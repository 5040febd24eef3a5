// Package ingest はドメインイベントを受け取り、通知オーケストレータを呼び出す。
//
// Kafkaのコンシューマと内部向けHTTPエンドポイントの両方がDispatcherを共有する。
// 注文・ユーザー・メンバーの変更イベントは受信者解決に使うディレクトリへ反映する。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/marketnotify/internal/notification"
	"github.com/nao1215/marketnotify/internal/store"
	"github.com/nao1215/marketnotify/pkg/event"
)

var (
	// ErrUnknownEventType は未定義のイベント種類を受け取ったことを表す。
	ErrUnknownEventType = errors.New("未定義のイベント種類です")
	// ErrInvalidEvent はイベントデータを解釈できないことを表す。
	ErrInvalidEvent = errors.New("イベントデータが不正です")
)

// Notifier はイベントごとの通知処理。*notification.Service が満たす。
type Notifier interface {
	OrderCreated(ctx context.Context, order notification.Order) error
	OrderAssigned(ctx context.Context, order notification.Order) error
	OrderMessage(ctx context.Context, order notification.Order, msg notification.Message) error
	OrderComment(ctx context.Context, comment notification.OrderComment) error
	OrderStatusChanged(ctx context.Context, order notification.Order, status, actorID string) error
	OrderReview(ctx context.Context, review notification.Review) error
	ReviewRevisionRequested(ctx context.Context, review notification.Review, requesterID string) error
	OfferCreated(ctx context.Context, session notification.OfferSession, offer notification.Offer, counter bool) error
	OfferMessage(ctx context.Context, session notification.OfferSession, msg notification.Message) error
	MarketBid(ctx context.Context, listing notification.MarketListing, bid notification.MarketBid) error
	MarketOffer(ctx context.Context, listing notification.MarketListing, offer notification.MarketOffer) error
	ContractorInvite(ctx context.Context, invite notification.ContractorInvite) error
	AdminAlert(ctx context.Context, alert notification.AdminAlert) error
}

var _ Notifier = (*notification.Service)(nil)

// DirectoryWriter は受信者解決に使う情報を更新する。*store.Store が満たす。
type DirectoryWriter interface {
	UpsertUser(ctx context.Context, u store.User) error
	UpsertMember(ctx context.Context, m store.Member) error
	RemoveMember(ctx context.Context, contractorID, userID string) error
	UpsertOrder(ctx context.Context, o notification.Order) error
}

// EventLog は受信済みイベントの記録。*store.Store が満たす。
type EventLog interface {
	// RecordEvent は初めて受け取ったイベントならtrueを返す。
	RecordEvent(ctx context.Context, ev *event.Event) (bool, error)
	ForgetEvent(ctx context.Context, eventID string) error
}

// Dispatcher はイベント種類ごとにデータを解釈して処理を振り分ける。
type Dispatcher struct {
	notifier Notifier
	dir      DirectoryWriter
	log      EventLog
	logger   *slog.Logger
}

// Option はDispatcherの設定を変更する。
type Option func(*Dispatcher)

// WithEventLog はイベントIDによる重複排除を有効にする。
// 処理に失敗したイベントは記録を消すので、再送されれば処理し直す。
func WithEventLog(log EventLog) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(notifier Notifier, dir DirectoryWriter, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{notifier: notifier, dir: dir, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle はイベントを1件処理する。
// 未定義の種類はErrUnknownEventType、データを解釈できない場合はErrInvalidEventをラップして返す。
func (d *Dispatcher) Handle(ctx context.Context, ev *event.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: イベントがnilです", ErrInvalidEvent)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if !ev.EventType.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, ev.EventType)
	}

	d.logger.DebugContext(ctx, "イベントを受信しました",
		slog.String("event_id", ev.ID),
		slog.String("event_type", string(ev.EventType)),
		slog.String("aggregate_id", ev.AggregateID))

	if d.log == nil || ev.ID == "" {
		return d.dispatch(ctx, ev)
	}
	first, err := d.log.RecordEvent(ctx, ev)
	if err != nil {
		return err
	}
	if !first {
		d.logger.InfoContext(ctx, "処理済みのイベントを読み飛ばします",
			slog.String("event_id", ev.ID),
			slog.String("event_type", string(ev.EventType)))
		return nil
	}
	if err := d.dispatch(ctx, ev); err != nil {
		if ferr := d.log.ForgetEvent(context.WithoutCancel(ctx), ev.ID); ferr != nil {
			d.logger.WarnContext(ctx, "イベントの受信記録を消せませんでした",
				slog.String("event_id", ev.ID),
				slog.Any("error", ferr))
		}
		return err
	}
	return nil
}

// dispatch はイベント種類に対応する処理を呼ぶ。
func (d *Dispatcher) dispatch(ctx context.Context, ev *event.Event) error {
	switch ev.EventType {
	case event.TypeOrderCreated:
		return d.orderCreated(ctx, ev)
	case event.TypeOrderAssigned:
		return d.orderAssigned(ctx, ev)
	case event.TypeOrderMessage:
		return d.orderMessage(ctx, ev)
	case event.TypeOrderComment:
		return d.orderComment(ctx, ev)
	case event.TypeOrderStatusChanged:
		return d.orderStatusChanged(ctx, ev)
	case event.TypeOrderReview:
		return d.orderReview(ctx, ev)
	case event.TypeOrderReviewRevisionRequested:
		return d.reviewRevisionRequested(ctx, ev)
	case event.TypeOfferCreated:
		return d.offer(ctx, ev, false)
	case event.TypeOfferCountered:
		return d.offer(ctx, ev, true)
	case event.TypeOfferMessage:
		return d.offerMessage(ctx, ev)
	case event.TypeMarketBid:
		return d.marketBid(ctx, ev)
	case event.TypeMarketOffer:
		return d.marketOffer(ctx, ev)
	case event.TypeContractorInvite:
		return d.contractorInvite(ctx, ev)
	case event.TypeContractorMemberUpdated:
		return d.memberUpdated(ctx, ev)
	case event.TypeContractorMemberRemoved:
		return d.memberRemoved(ctx, ev)
	case event.TypeAdminAlert:
		return d.adminAlert(ctx, ev)
	case event.TypeUserUpdated:
		return d.userUpdated(ctx, ev)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEventType, ev.EventType)
	}
}

// decode はイベントデータをTにデコードする。失敗はErrInvalidEventでラップする。
func decode[T any](ev *event.Event) (*T, error) {
	data, err := event.DecodeData[T](ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, ev.EventType, err)
	}
	return data, nil
}

// require は必須項目が空でないことを確認する。
func require(ev *event.Event, fields map[string]string) error {
	for name, v := range fields {
		if v == "" {
			return fmt.Errorf("%w: %s: %s が空です", ErrInvalidEvent, ev.EventType, name)
		}
	}
	return nil
}

func (d *Dispatcher) orderCreated(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.OrderData](ev)
	if err != nil {
		return err
	}
	order, err := d.saveOrder(ctx, ev, data.Order)
	if err != nil {
		return err
	}
	return d.notifier.OrderCreated(ctx, order)
}

func (d *Dispatcher) orderAssigned(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.OrderData](ev)
	if err != nil {
		return err
	}
	order, err := d.saveOrder(ctx, ev, data.Order)
	if err != nil {
		return err
	}
	return d.notifier.OrderAssigned(ctx, order)
}

func (d *Dispatcher) orderMessage(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.OrderMessageData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"order.order_id": data.Order.OrderID, "message.author_id": data.Message.AuthorID}); err != nil {
		return err
	}
	return d.notifier.OrderMessage(ctx, toOrder(data.Order), toMessage(data.Message))
}

func (d *Dispatcher) orderComment(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.OrderCommentData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"order_id": data.OrderID, "author_id": data.AuthorID}); err != nil {
		return err
	}
	return d.notifier.OrderComment(ctx, notification.OrderComment{
		CommentID: data.CommentID,
		OrderID:   data.OrderID,
		AuthorID:  data.AuthorID,
		Content:   data.Content,
	})
}

func (d *Dispatcher) orderStatusChanged(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.OrderStatusChangedData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"status": data.Status}); err != nil {
		return err
	}
	data.Order.Status = data.Status
	order, err := d.saveOrder(ctx, ev, data.Order)
	if err != nil {
		return err
	}
	return d.notifier.OrderStatusChanged(ctx, order, data.Status, data.ActorID)
}

func (d *Dispatcher) orderReview(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.OrderReviewData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"review.review_id": data.Review.ReviewID, "review.order_id": data.Review.OrderID}); err != nil {
		return err
	}
	return d.notifier.OrderReview(ctx, toReview(data.Review))
}

func (d *Dispatcher) reviewRevisionRequested(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.ReviewRevisionRequestedData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"review.review_id": data.Review.ReviewID, "requester_id": data.RequesterID}); err != nil {
		return err
	}
	return d.notifier.ReviewRevisionRequested(ctx, toReview(data.Review), data.RequesterID)
}

func (d *Dispatcher) offer(ctx context.Context, ev *event.Event, counter bool) error {
	data, err := decode[event.OfferData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"session.session_id": data.Session.SessionID}); err != nil {
		return err
	}
	offer := notification.Offer{
		OfferID:   data.Offer.OfferID,
		SessionID: data.Session.SessionID,
		ActorID:   data.Offer.ActorID,
		Title:     data.Offer.Title,
		Cost:      data.Offer.Cost,
	}
	return d.notifier.OfferCreated(ctx, toSession(data.Session), offer, counter)
}

func (d *Dispatcher) offerMessage(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.OfferMessageData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"session.session_id": data.Session.SessionID, "message.author_id": data.Message.AuthorID}); err != nil {
		return err
	}
	return d.notifier.OfferMessage(ctx, toSession(data.Session), toMessage(data.Message))
}

func (d *Dispatcher) marketBid(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.MarketBidData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"listing.listing_id": data.Listing.ListingID}); err != nil {
		return err
	}
	return d.notifier.MarketBid(ctx, toListing(data.Listing), notification.MarketBid{
		BidID:              data.BidID,
		ListingID:          data.Listing.ListingID,
		UserBidderID:       data.UserBidderID,
		ContractorBidderID: data.ContractorBidderID,
		ActorID:            data.ActorID,
		Amount:             data.Amount,
	})
}

func (d *Dispatcher) marketOffer(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.MarketOfferData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"listing.listing_id": data.Listing.ListingID, "buyer_id": data.BuyerID}); err != nil {
		return err
	}
	return d.notifier.MarketOffer(ctx, toListing(data.Listing), notification.MarketOffer{
		OfferID:   data.OfferID,
		ListingID: data.Listing.ListingID,
		BuyerID:   data.BuyerID,
		Amount:    data.Amount,
		Quantity:  data.Quantity,
	})
}

func (d *Dispatcher) contractorInvite(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.ContractorInviteData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"contractor_id": data.ContractorID, "user_id": data.UserID}); err != nil {
		return err
	}
	return d.notifier.ContractorInvite(ctx, notification.ContractorInvite{
		InviteID:     data.InviteID,
		ContractorID: data.ContractorID,
		UserID:       data.UserID,
		InviterID:    data.InviterID,
		Message:      data.Message,
	})
}

func (d *Dispatcher) adminAlert(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.AdminAlertData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"alert_id": data.AlertID, "target_type": data.TargetType}); err != nil {
		return err
	}
	return d.notifier.AdminAlert(ctx, notification.AdminAlert{
		AlertID:            data.AlertID,
		Title:              data.Title,
		Content:            data.Content,
		Link:               data.Link,
		TargetType:         notification.AlertTargetType(data.TargetType),
		TargetContractorID: data.TargetContractorID,
		CreatedBy:          data.CreatedBy,
	})
}

func (d *Dispatcher) memberUpdated(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.MemberUpdatedData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"contractor_id": data.ContractorID, "user_id": data.UserID}); err != nil {
		return err
	}
	return d.dir.UpsertMember(ctx, store.Member{
		ContractorID: data.ContractorID,
		UserID:       data.UserID,
		ManageOrders: data.ManageOrders,
		ManageMarket: data.ManageMarket,
	})
}

func (d *Dispatcher) memberRemoved(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.MemberRemovedData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"contractor_id": data.ContractorID, "user_id": data.UserID}); err != nil {
		return err
	}
	return d.dir.RemoveMember(ctx, data.ContractorID, data.UserID)
}

func (d *Dispatcher) userUpdated(ctx context.Context, ev *event.Event) error {
	data, err := decode[event.UserUpdatedData](ev)
	if err != nil {
		return err
	}
	if err := require(ev, map[string]string{"user_id": data.UserID}); err != nil {
		return err
	}
	role := data.Role
	if role == "" {
		role = store.RoleUser
	}
	if role != store.RoleUser && role != store.RoleAdmin {
		return fmt.Errorf("%w: %s: 未知のロール %q", ErrInvalidEvent, ev.EventType, data.Role)
	}
	return d.dir.UpsertUser(ctx, store.User{UserID: data.UserID, Email: data.Email, Role: role})
}

// saveOrder は注文をディレクトリへ反映し、通知用の値を返す。
func (d *Dispatcher) saveOrder(ctx context.Context, ev *event.Event, o event.Order) (notification.Order, error) {
	if err := require(ev, map[string]string{"order.order_id": o.OrderID, "order.customer_id": o.CustomerID}); err != nil {
		return notification.Order{}, err
	}
	order := toOrder(o)
	if err := d.dir.UpsertOrder(ctx, order); err != nil {
		return notification.Order{}, fmt.Errorf("注文 %s の保存に失敗: %w", o.OrderID, err)
	}
	return order, nil
}

func toOrder(o event.Order) notification.Order {
	return notification.Order{
		OrderID:      o.OrderID,
		CustomerID:   o.CustomerID,
		AssignedID:   o.AssignedID,
		ContractorID: o.ContractorID,
		Title:        o.Title,
		Status:       o.Status,
		Cost:         o.Cost,
	}
}

func toMessage(m event.Message) notification.Message {
	return notification.Message{
		MessageID: m.MessageID,
		ChatID:    m.ChatID,
		AuthorID:  m.AuthorID,
		Content:   m.Content,
	}
}

func toReview(r event.Review) notification.Review {
	return notification.Review{
		ReviewID:           r.ReviewID,
		OrderID:            r.OrderID,
		UserAuthorID:       r.UserAuthorID,
		ContractorAuthorID: r.ContractorAuthorID,
		ActorID:            r.ActorID,
		Content:            r.Content,
		Rating:             r.Rating,
	}
}

func toSession(s event.OfferSession) notification.OfferSession {
	return notification.OfferSession{
		SessionID:    s.SessionID,
		CustomerID:   s.CustomerID,
		AssignedID:   s.AssignedID,
		ContractorID: s.ContractorID,
	}
}

func toListing(l event.Listing) notification.MarketListing {
	return notification.MarketListing{
		ListingID:          l.ListingID,
		UserSellerID:       l.UserSellerID,
		ContractorSellerID: l.ContractorSellerID,
		Title:              l.Title,
		Price:              l.Price,
	}
}
