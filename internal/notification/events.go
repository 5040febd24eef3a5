package notification

import (
	"context"
	"fmt"
	"log/slog"
)

// OrderCreated は注文作成を通知する。
// コントラクター付きの注文では注文管理権限を持つメンバーへ、担当者がいれば担当者へ
// それぞれ独立に通知し、最後にWebhookを1回送る。両方に該当する担当者には2件届く。
func (s *Service) OrderCreated(ctx context.Context, order Order) (err error) {
	ctx, span := s.start(ctx, KindOrderCreate, order.OrderID)
	defer func() { end(span, err) }()

	if order.ContractorID != "" {
		members, err := s.contractorMembers(ctx, order.ContractorID, PermissionManageOrders)
		if err != nil {
			return err
		}
		if err := s.notify(ctx, notice{
			kind:         KindOrderCreate,
			entityID:     order.OrderID,
			actorID:      order.CustomerID,
			contractorID: order.ContractorID,
			recipients:   newRecipientSet(order.CustomerID).add(members...).list(),
			payload:      orderPayload(KindOrderCreate, order),
		}); err != nil {
			return err
		}
	}

	if order.AssignedID != "" {
		if err := s.OrderAssigned(ctx, order); err != nil {
			return err
		}
	}

	s.sendWebhook(ctx, WebhookEvent{
		Kind:         KindOrderCreate,
		EntityID:     order.OrderID,
		ContractorID: order.ContractorID,
		UserID:       order.AssignedID,
		Data:         order,
	})
	return nil
}

// OrderAssigned は注文の担当者へ割り当てを通知する。
func (s *Service) OrderAssigned(ctx context.Context, order Order) (err error) {
	ctx, span := s.start(ctx, KindOrderAssigned, order.OrderID)
	defer func() { end(span, err) }()

	return s.notify(ctx, notice{
		kind:         KindOrderAssigned,
		entityID:     order.OrderID,
		actorID:      order.CustomerID,
		contractorID: order.ContractorID,
		recipients:   newRecipientSet(order.CustomerID).add(order.AssignedID).list(),
		payload:      orderPayload(KindOrderAssigned, order),
	})
}

// OrderMessage は注文チャットへのメッセージ投稿を担当者と顧客へ通知する。
// 同じ注文への連続したメッセージは1つの通知オブジェクトにまとめる。
func (s *Service) OrderMessage(ctx context.Context, order Order, msg Message) (err error) {
	ctx, span := s.start(ctx, KindOrderMessage, order.OrderID)
	defer func() { end(span, err) }()

	return s.notify(ctx, notice{
		kind:         KindOrderMessage,
		entityID:     order.OrderID,
		actorID:      msg.AuthorID,
		contractorID: order.ContractorID,
		recipients:   newRecipientSet(msg.AuthorID).add(order.AssignedID, order.CustomerID).list(),
		payload:      messagePayload(KindOrderMessage, order.OrderID, orderLink(order.OrderID), msg),
	})
}

// OrderComment は注文へのコメントを担当者と顧客へ通知する。親の注文はDirectoryから取得する。
func (s *Service) OrderComment(ctx context.Context, comment OrderComment) (err error) {
	ctx, span := s.start(ctx, KindOrderComment, comment.OrderID)
	defer func() { end(span, err) }()

	order, err := s.getOrder(ctx, comment.OrderID)
	if err != nil {
		return err
	}

	if err := s.notify(ctx, notice{
		kind:         KindOrderComment,
		entityID:     order.OrderID,
		actorID:      comment.AuthorID,
		contractorID: order.ContractorID,
		recipients:   newRecipientSet(comment.AuthorID).add(order.AssignedID, order.CustomerID).list(),
		payload:      commentPayload(*order, comment),
	}); err != nil {
		return err
	}

	s.sendWebhook(ctx, WebhookEvent{
		Kind:         KindOrderComment,
		EntityID:     order.OrderID,
		ContractorID: order.ContractorID,
		UserID:       order.AssignedID,
		Data:         comment,
	})
	return nil
}

// OrderStatusChanged は注文ステータスの変更を担当者と顧客へ通知する。
// 未知のステータスは設定不備としてエラーを返す。
func (s *Service) OrderStatusChanged(ctx context.Context, order Order, status, actorID string) (err error) {
	kind, err := OrderStatusKind(status)
	if err != nil {
		return err
	}
	ctx, span := s.start(ctx, kind, order.OrderID)
	defer func() { end(span, err) }()

	if err := s.notify(ctx, notice{
		kind:         kind,
		entityID:     order.OrderID,
		actorID:      actorID,
		contractorID: order.ContractorID,
		recipients:   newRecipientSet(actorID).add(order.AssignedID, order.CustomerID).list(),
		payload:      orderStatusPayload(kind, order, status),
	}); err != nil {
		return err
	}

	s.sendWebhook(ctx, WebhookEvent{
		Kind:         kind,
		EntityID:     order.OrderID,
		ContractorID: order.ContractorID,
		UserID:       order.AssignedID,
		Data:         map[string]any{"order": order, "status": status, "actor_id": actorID},
	})
	return nil
}

// OrderReview は注文へのレビュー投稿を取引相手へ通知する。
// 顧客が投稿した場合は担当者と注文管理権限を持つメンバーへ、出品側が投稿した場合は顧客へ通知する。
func (s *Service) OrderReview(ctx context.Context, review Review) (err error) {
	ctx, span := s.start(ctx, KindOrderReview, review.OrderID)
	defer func() { end(span, err) }()

	order, err := s.getOrder(ctx, review.OrderID)
	if err != nil {
		return err
	}

	actorID := review.ActorID
	if actorID == "" {
		actorID = review.UserAuthorID
	}

	recipients := newRecipientSet(actorID)
	if review.ContractorAuthorID == "" && review.UserAuthorID == order.CustomerID {
		members, err := s.contractorMembers(ctx, order.ContractorID, PermissionManageOrders)
		if err != nil {
			return err
		}
		recipients.add(order.AssignedID).add(members...)
	} else {
		recipients.add(order.CustomerID)
	}

	return s.notify(ctx, notice{
		kind:         KindOrderReview,
		entityID:     order.OrderID,
		actorID:      actorID,
		contractorID: order.ContractorID,
		recipients:   recipients.list(),
		payload:      reviewPayload(KindOrderReview, *order, review),
	})
}

// ReviewRevisionRequested はレビューの修正依頼をレビュー投稿者へ通知する。
// コントラクター名義のレビューでは注文管理権限を持つ全メンバーが対象になる。
// 対象が0人の場合は警告を記録して何もしない。
func (s *Service) ReviewRevisionRequested(ctx context.Context, review Review, requesterID string) (err error) {
	ctx, span := s.start(ctx, KindOrderReviewRevisionRequested, review.ReviewID)
	defer func() { end(span, err) }()

	recipients := newRecipientSet(requesterID)
	if review.ContractorAuthorID != "" {
		members, err := s.contractorMembers(ctx, review.ContractorAuthorID, PermissionManageOrders)
		if err != nil {
			return err
		}
		recipients.add(members...)
	} else {
		recipients.add(review.UserAuthorID)
	}

	if len(recipients.list()) == 0 {
		s.logger.WarnContext(ctx, "レビュー修正依頼の通知先がいません",
			slog.String("review_id", review.ReviewID),
			slog.String("contractor_id", review.ContractorAuthorID))
		return nil
	}

	order := Order{OrderID: review.OrderID}
	return s.notify(ctx, notice{
		kind:         KindOrderReviewRevisionRequested,
		entityID:     review.ReviewID,
		actorID:      requesterID,
		contractorID: review.ContractorAuthorID,
		recipients:   recipients.list(),
		payload:      reviewPayload(KindOrderReviewRevisionRequested, order, review),
	})
}

// OfferCreated はオファー（またはカウンターオファー）の作成を通知する。
// 注文管理権限を持つコントラクターメンバーと担当者へそれぞれ独立に通知し、Webhookを1回送る。
// 担当者がメンバーでもある場合は両方の経路から通知される。
func (s *Service) OfferCreated(ctx context.Context, session OfferSession, offer Offer, counter bool) (err error) {
	kind := KindOfferCreate
	if counter {
		kind = KindCounterOfferCreate
	}
	ctx, span := s.start(ctx, kind, session.SessionID)
	defer func() { end(span, err) }()

	payload := offerPayload(kind, session, offer)

	if session.ContractorID != "" {
		members, err := s.contractorMembers(ctx, session.ContractorID, PermissionManageOrders)
		if err != nil {
			return err
		}
		if err := s.notify(ctx, notice{
			kind:         kind,
			entityID:     session.SessionID,
			actorID:      offer.ActorID,
			contractorID: session.ContractorID,
			recipients:   newRecipientSet(offer.ActorID).add(members...).list(),
			payload:      payload,
		}); err != nil {
			return err
		}
	}

	if session.AssignedID != "" {
		if err := s.notify(ctx, notice{
			kind:       kind,
			entityID:   session.SessionID,
			actorID:    offer.ActorID,
			recipients: newRecipientSet(offer.ActorID).add(session.AssignedID).list(),
			payload:    payload,
		}); err != nil {
			return err
		}
	}

	s.sendWebhook(ctx, WebhookEvent{
		Kind:         kind,
		EntityID:     session.SessionID,
		ContractorID: session.ContractorID,
		UserID:       session.AssignedID,
		Data:         map[string]any{"session": session, "offer": offer},
	})
	return nil
}

// OfferMessage はオファーチャットへのメッセージ投稿を担当者と顧客へ通知する。
func (s *Service) OfferMessage(ctx context.Context, session OfferSession, msg Message) (err error) {
	ctx, span := s.start(ctx, KindOfferMessage, session.SessionID)
	defer func() { end(span, err) }()

	return s.notify(ctx, notice{
		kind:         KindOfferMessage,
		entityID:     session.SessionID,
		actorID:      msg.AuthorID,
		contractorID: session.ContractorID,
		recipients:   newRecipientSet(msg.AuthorID).add(session.AssignedID, session.CustomerID).list(),
		payload:      messagePayload(KindOfferMessage, session.SessionID, offerLink(session.SessionID), msg),
	})
}

// MarketBid は出品への入札を出品者へ通知する。
// コントラクター出品ではマーケット管理権限を持つメンバー、個人出品では出品者本人が対象。
func (s *Service) MarketBid(ctx context.Context, listing MarketListing, bid MarketBid) (err error) {
	ctx, span := s.start(ctx, KindMarketItemBid, listing.ListingID)
	defer func() { end(span, err) }()

	actorID := bid.ActorID
	if actorID == "" {
		actorID = bid.UserBidderID
	}
	recipients, err := s.sellerRecipients(ctx, listing, actorID)
	if err != nil {
		return err
	}

	if err := s.notify(ctx, notice{
		kind:         KindMarketItemBid,
		entityID:     listing.ListingID,
		actorID:      actorID,
		contractorID: listing.ContractorSellerID,
		recipients:   recipients,
		payload:      bidPayload(listing, bid),
	}); err != nil {
		return err
	}

	s.sendWebhook(ctx, WebhookEvent{
		Kind:         KindMarketItemBid,
		EntityID:     listing.ListingID,
		ContractorID: listing.ContractorSellerID,
		UserID:       listing.UserSellerID,
		Data:         map[string]any{"listing": listing, "bid": bid},
	})
	return nil
}

// MarketOffer は出品への購入オファーを出品者へ通知する。受信者の決め方は入札と同じ。
func (s *Service) MarketOffer(ctx context.Context, listing MarketListing, offer MarketOffer) (err error) {
	ctx, span := s.start(ctx, KindMarketItemOffer, listing.ListingID)
	defer func() { end(span, err) }()

	recipients, err := s.sellerRecipients(ctx, listing, offer.BuyerID)
	if err != nil {
		return err
	}

	return s.notify(ctx, notice{
		kind:         KindMarketItemOffer,
		entityID:     listing.ListingID,
		actorID:      offer.BuyerID,
		contractorID: listing.ContractorSellerID,
		recipients:   recipients,
		payload:      marketOfferPayload(listing, offer),
	})
}

// ContractorInvite はコントラクターへの招待を招待されたユーザーへ通知する。
func (s *Service) ContractorInvite(ctx context.Context, invite ContractorInvite) (err error) {
	ctx, span := s.start(ctx, KindContractorInvite, invite.InviteID)
	defer func() { end(span, err) }()

	// 招待者が不明な場合はアクターを空にする。受信箱のアクター一覧には出ない。
	return s.notify(ctx, notice{
		kind:         KindContractorInvite,
		entityID:     invite.InviteID,
		actorID:      invite.InviterID,
		contractorID: invite.ContractorID,
		recipients:   newRecipientSet(invite.InviterID).add(invite.UserID).list(),
		payload:      invitePayload(invite),
	})
}

// AdminAlert は管理者アラートを配信対象の種類から解決したユーザーへ通知する。
// プッシュ通知は受信者一括で送る。対象が0人の場合は警告を記録して何もしない。
func (s *Service) AdminAlert(ctx context.Context, alert AdminAlert) (err error) {
	ctx, span := s.start(ctx, KindAdminAlert, alert.AlertID)
	defer func() { end(span, err) }()

	targets, err := s.dir.ResolveAlertTargets(ctx, alert)
	if err != nil {
		return fmt.Errorf("管理者アラート %s の配信対象の解決に失敗: %w", alert.AlertID, err)
	}

	recipients := newRecipientSet(alert.CreatedBy).add(targets...).list()
	if len(recipients) == 0 {
		s.logger.WarnContext(ctx, "管理者アラートの配信対象がいません",
			slog.String("alert_id", alert.AlertID),
			slog.String("target_type", string(alert.TargetType)),
			slog.String("contractor_id", alert.TargetContractorID))
		return nil
	}

	return s.notify(ctx, notice{
		kind:         KindAdminAlert,
		entityID:     alert.AlertID,
		actorID:      alert.CreatedBy,
		contractorID: alert.TargetContractorID,
		recipients:   recipients,
		payload:      alertPayload(alert),
		batchPush:    true,
	})
}

// sellerRecipients は出品者側の受信者を返す。
func (s *Service) sellerRecipients(ctx context.Context, listing MarketListing, actorID string) ([]string, error) {
	recipients := newRecipientSet(actorID)
	members, err := s.contractorMembers(ctx, listing.ContractorSellerID, PermissionManageMarket)
	if err != nil {
		return nil, err
	}
	return recipients.add(members...).add(listing.UserSellerID).list(), nil
}

// getOrder は親の注文を取得する。
func (s *Service) getOrder(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.dir.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("注文 %s の取得に失敗: %w", orderID, err)
	}
	if order == nil {
		return nil, fmt.Errorf("注文 %s が存在しません", orderID)
	}
	return order, nil
}
