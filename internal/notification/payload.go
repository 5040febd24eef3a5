package notification

import (
	"fmt"
	"strconv"
)

// newPayload は種別のタイトルを使って配信内容を組み立てる。
func newPayload(kind Kind, entityID, link, body string, data map[string]string) Payload {
	return Payload{
		Title:    kind.Title(),
		Body:     body,
		Link:     link,
		EntityID: entityID,
		Data:     data,
	}
}

func orderLink(orderID string) string   { return "/contract/" + orderID }
func offerLink(sessionID string) string { return "/offer/" + sessionID }
func marketLink(listingID string) string {
	return "/market/" + listingID
}

func orderPayload(kind Kind, order Order) Payload {
	body := fmt.Sprintf("注文「%s」", order.Title)
	switch kind {
	case KindOrderCreate:
		body = fmt.Sprintf("新しい注文「%s」が届きました", order.Title)
	case KindOrderAssigned:
		body = fmt.Sprintf("注文「%s」の担当者になりました", order.Title)
	}
	return newPayload(kind, order.OrderID, orderLink(order.OrderID), body, map[string]string{
		"order_id": order.OrderID,
		"title":    order.Title,
		"status":   order.Status,
		"cost":     strconv.FormatInt(order.Cost, 10),
	})
}

func orderStatusPayload(kind Kind, order Order, status string) Payload {
	return newPayload(kind, order.OrderID, orderLink(order.OrderID),
		fmt.Sprintf("注文「%s」のステータスが %s になりました", order.Title, status),
		map[string]string{"order_id": order.OrderID, "title": order.Title, "status": status})
}

func messagePayload(kind Kind, entityID, link string, msg Message) Payload {
	return newPayload(kind, entityID, link, msg.Content, map[string]string{
		"message_id": msg.MessageID,
		"chat_id":    msg.ChatID,
		"author_id":  msg.AuthorID,
	})
}

func commentPayload(order Order, comment OrderComment) Payload {
	return newPayload(KindOrderComment, order.OrderID, orderLink(order.OrderID), comment.Content, map[string]string{
		"order_id":   order.OrderID,
		"comment_id": comment.CommentID,
		"author_id":  comment.AuthorID,
	})
}

func reviewPayload(kind Kind, order Order, review Review) Payload {
	return newPayload(kind, review.ReviewID, orderLink(order.OrderID), review.Content, map[string]string{
		"order_id":  order.OrderID,
		"review_id": review.ReviewID,
		"rating":    strconv.Itoa(review.Rating),
	})
}

func offerPayload(kind Kind, session OfferSession, offer Offer) Payload {
	return newPayload(kind, session.SessionID, offerLink(session.SessionID),
		fmt.Sprintf("「%s」に %d の提案があります", offer.Title, offer.Cost),
		map[string]string{
			"session_id": session.SessionID,
			"offer_id":   offer.OfferID,
			"cost":       strconv.FormatInt(offer.Cost, 10),
		})
}

func bidPayload(listing MarketListing, bid MarketBid) Payload {
	return newPayload(KindMarketItemBid, listing.ListingID, marketLink(listing.ListingID),
		fmt.Sprintf("「%s」に %d の入札がありました", listing.Title, bid.Amount),
		map[string]string{
			"listing_id": listing.ListingID,
			"bid_id":     bid.BidID,
			"amount":     strconv.FormatInt(bid.Amount, 10),
		})
}

func marketOfferPayload(listing MarketListing, offer MarketOffer) Payload {
	return newPayload(KindMarketItemOffer, listing.ListingID, marketLink(listing.ListingID),
		fmt.Sprintf("「%s」を %d 個、%d で購入したいというオファーがあります", listing.Title, offer.Quantity, offer.Amount),
		map[string]string{
			"listing_id": listing.ListingID,
			"offer_id":   offer.OfferID,
			"amount":     strconv.FormatInt(offer.Amount, 10),
			"quantity":   strconv.Itoa(offer.Quantity),
		})
}

func invitePayload(invite ContractorInvite) Payload {
	return newPayload(KindContractorInvite, invite.InviteID, "/org/"+invite.ContractorID, invite.Message,
		map[string]string{"contractor_id": invite.ContractorID, "invite_id": invite.InviteID})
}

func alertPayload(alert AdminAlert) Payload {
	p := newPayload(KindAdminAlert, alert.AlertID, alert.Link, alert.Content,
		map[string]string{"alert_id": alert.AlertID, "target_type": string(alert.TargetType)})
	if alert.Title != "" {
		p.Title = alert.Title
	}
	return p
}
