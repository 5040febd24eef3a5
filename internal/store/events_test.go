package store

import (
	"testing"
	"time"

	"github.com/nao1215/marketnotify/pkg/event"
)

func TestReceivedEvents(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := t.Context()

	ev := func(id, aggregateID string, typ event.Type) *event.Event {
		return &event.Event{
			ID:            id,
			AggregateID:   aggregateID,
			AggregateType: typ.Aggregate(),
			EventType:     typ,
			Data:          []byte(`{}`),
			CreatedAt:     time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		}
	}

	t.Run("同じIDは2回目以降falseを返すこと", func(t *testing.T) {
		first, err := s.RecordEvent(ctx, ev("e1", "o1", event.TypeOrderCreated))
		if err != nil || !first {
			t.Fatalf("1回目: first=%v err=%v", first, err)
		}
		again, err := s.RecordEvent(ctx, ev("e1", "o1", event.TypeOrderCreated))
		if err != nil || again {
			t.Fatalf("2回目: first=%v err=%v", again, err)
		}
	})

	t.Run("記録を消すと再び受け付けること", func(t *testing.T) {
		if _, err := s.RecordEvent(ctx, ev("e2", "o1", event.TypeOrderComment)); err != nil {
			t.Fatal(err)
		}
		if err := s.ForgetEvent(ctx, "e2"); err != nil {
			t.Fatal(err)
		}
		first, err := s.RecordEvent(ctx, ev("e2", "o1", event.TypeOrderComment))
		if err != nil || !first {
			t.Fatalf("再記録: first=%v err=%v", first, err)
		}
	})

	t.Run("対象IDと種類で絞り込めること", func(t *testing.T) {
		if _, err := s.RecordEvent(ctx, ev("e3", "c1", event.TypeContractorInvite)); err != nil {
			t.Fatal(err)
		}

		byAggregate, err := s.ListReceivedEvents(ctx, EventFilter{AggregateID: "o1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(byAggregate) != 2 || byAggregate[0].EventID != "e2" {
			t.Errorf("o1のイベント = %+v", byAggregate)
		}
		if byAggregate[0].OccurredAt != "2026-10-01T09:00:00Z" || byAggregate[0].AggregateType != string(event.AggregateTypeOrder) {
			t.Errorf("記録内容 = %+v", byAggregate[0])
		}

		byType, err := s.ListReceivedEvents(ctx, EventFilter{EventType: string(event.TypeContractorInvite)})
		if err != nil {
			t.Fatal(err)
		}
		if len(byType) != 1 || byType[0].AggregateID != "c1" {
			t.Errorf("招待イベント = %+v", byType)
		}

		limited, err := s.ListReceivedEvents(ctx, EventFilter{Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(limited) != 1 {
			t.Errorf("件数 = %d, want 1", len(limited))
		}
	})
}
