package domain

import "time"

// SubscriptionStatus 订阅状态
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// NotificationPriority 通知优先级
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// Notification 站内通知
type Notification struct {
	ID        int64
	UserID    int64
	Type      string
	Title     string
	Message   string
	Priority  NotificationPriority
	CreatedAt time.Time
}
