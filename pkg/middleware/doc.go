// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWTの検証とロールによる認可、slogによるリクエストログ、パニックリカバリ、
// CORS設定を含む。
package middleware
