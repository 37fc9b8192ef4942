package models

import (
	"time"
)

// GameResult is immutable once stored.
type GameResult struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UserID     uint      `json:"userId" gorm:"not null;index"`
	Score      int       `json:"score" gorm:"not null;index"`
	TargetsHit int       `json:"targetsHit" gorm:"not null"`
	ShotsFired int       `json:"shotsFired" gorm:"not null"`
	Accuracy   float64   `json:"accuracy" gorm:"not null"` // targets hit / shots fired
	MaxCombo   int       `json:"maxCombo" gorm:"not null"`
	DurationMs int       `json:"durationMs" gorm:"not null"`
	GameMode   string    `json:"gameMode" gorm:"size:16;not null"`
	CreatedAt  time.Time `json:"createdAt" gorm:"index"`
}

// ComputeAccuracy returns hits/shots, or zero when nothing was fired.
func ComputeAccuracy(targetsHit, shotsFired int) float64 {
	if shotsFired <= 0 {
		return 0
	}
	return float64(targetsHit) / float64(shotsFired)
}
