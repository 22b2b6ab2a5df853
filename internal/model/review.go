package model

import "time"

const (
	MinRating = 1
	MaxRating = 5
)

// Review はユーザーが目的地に投稿するレビュー。
// 1ユーザーにつき1目的地1件まで（UNIQUE(destination_id, user_id)）。
type Review struct {
	ID            string    `json:"id"`
	DestinationID string    `json:"destination"`
	UserID        string    `json:"-"`
	Body          string    `json:"review"`
	Rating        int       `json:"rating"`
	CreatedAt     time.Time `json:"createdAt"`

	// Author は一覧取得時のみ埋められる投稿者情報。
	Author *ReviewAuthor `json:"user,omitempty"`
}

// ReviewAuthor はレビューに表示する投稿者の名前と画像。
type ReviewAuthor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Photo string `json:"photo"`
}
