package conversation

import (
	"time"

	"github.com/omnidesk/omnidesk/internal/customer"
	"github.com/omnidesk/omnidesk/internal/platform"
)

// Status is the conversation lifecycle state.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// ValidStatus reports whether a raw string is a known status.
func ValidStatus(raw string) bool {
	switch Status(raw) {
	case StatusNew, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Conversation is one customer thread on one platform. PlatformID is the
// platform-native thread key; (Platform, PlatformID) is unique.
type Conversation struct {
	ID              string             `json:"id"`
	Platform        platform.Platform  `json:"platform"`
	PlatformID      string             `json:"platformId"`
	CustomerID      string             `json:"customerId"`
	Status          Status             `json:"status"`
	Priority        string             `json:"priority"`
	AssignedTo      string             `json:"assignedTo,omitempty"`
	LastMessageAt   time.Time          `json:"lastMessageAt,omitempty"`
	LastMessageFrom string             `json:"lastMessageFrom,omitempty"`
	UnreadCount     int                `json:"unreadCount"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	Customer        *customer.Customer `json:"customer,omitempty"`
}

// ListFilter narrows and pages the conversation list.
type ListFilter struct {
	Platform   string
	Status     string
	AssignedTo string
	Search     string
	Limit      int
	Offset     int
}

// Page is one page of conversations plus the unpaged total.
type Page struct {
	Items []Conversation `json:"items"`
	Total int            `json:"total"`
}

// Stats summarizes conversations for the dashboard.
type Stats struct {
	Total       int            `json:"total"`
	TotalUnread int            `json:"totalUnread"`
	ByPlatform  map[string]int `json:"byPlatform"`
	ByStatus    map[string]int `json:"byStatus"`
}
