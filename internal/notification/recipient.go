package notification

import (
	"context"
	"fmt"
)

// recipientSet はイベントの受信者集合を組み立てる。
// 空のID、イベントを起こしたアクター自身、重複を除外し、追加順を保つ。
type recipientSet struct {
	actorID string
	seen    map[string]struct{}
	ids     []string
}

// newRecipientSet はアクターを除外対象とする受信者集合を生成する。
func newRecipientSet(actorID string) *recipientSet {
	return &recipientSet{
		actorID: actorID,
		seen:    make(map[string]struct{}),
	}
}

// add は受信者候補を追加する。
func (r *recipientSet) add(userIDs ...string) *recipientSet {
	for _, id := range userIDs {
		if id == "" || id == r.actorID {
			continue
		}
		if _, ok := r.seen[id]; ok {
			continue
		}
		r.seen[id] = struct{}{}
		r.ids = append(r.ids, id)
	}
	return r
}

// list は確定した受信者IDを返す。
func (r *recipientSet) list() []string {
	return r.ids
}

// contractorMembers は権限フラグで絞り込んだコントラクターメンバーを返す。
// コントラクターが未設定の場合は空を返す。取得失敗はそのまま呼び出し元へ返す。
func (s *Service) contractorMembers(ctx context.Context, contractorID string, perm Permission) ([]string, error) {
	if contractorID == "" {
		return nil, nil
	}
	members, err := s.dir.MembersWithPermission(ctx, contractorID, perm)
	if err != nil {
		return nil, fmt.Errorf("コントラクター %s のメンバー取得に失敗: %w", contractorID, err)
	}
	return members, nil
}
