package model

import (
	"math"
	"time"
)

// DefaultRatingsAverage はレビューが1件もない目的地の平均評価。
const DefaultRatingsAverage = 4.5

// Destination は人気の旅行先を表す。
type Destination struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Country         string    `json:"country"`
	Summary         string    `json:"summary"`
	Description     string    `json:"description,omitempty"`
	ImageCover      string    `json:"imageCover"`
	Images          []string  `json:"images,omitempty"`
	RatingsAverage  float64   `json:"ratingsAverage"`
	RatingsQuantity int       `json:"ratingsQuantity"`
	CreatedAt       time.Time `json:"createdAt"`
}

// DestinationDetail はレビュー一覧を含む目的地の詳細。
type DestinationDetail struct {
	Destination
	Reviews []*Review `json:"reviews"`
}

// RoundRating は平均評価を小数第1位に丸める。
func RoundRating(v float64) float64 {
	return math.Round(v*10) / 10
}
