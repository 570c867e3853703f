// Package middleware は通知サービスのGinミドルウェアを提供する。
//
// JWTによるユーザーIDとロールの検証、パニックリカバリ、CORS設定を含む。
package middleware
