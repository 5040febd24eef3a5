// Package notification は通知のファンアウトと配信調整を行うコア実装を提供する。
//
// 受注・オファー・マーケット入札・コントラクター招待・管理者アラート等の
// ドメインイベントごとに、通知オブジェクトの作成（メッセージ系は再利用）、
// 変更履歴の追記、受信者ごとの通知行の挿入、プッシュ・メール・Webhookへの
// ベストエフォート配信を順序通りに実行する。永続化と配信の実体は
// コンストラクタで注入されたインターフェースに委譲する。
package notification
