// Package platform defines the normalized message model shared by every
// messaging platform adapter, the capability interfaces adapters implement,
// and the registry plus dispatcher that route traffic to them.
package platform

import (
	"strings"
	"time"
)

// Platform identifies a supported messaging platform.
type Platform string

const (
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformTelegram  Platform = "telegram"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformEmail     Platform = "email"
)

// String returns the platform identifier as stored in the database.
func (p Platform) String() string {
	return string(p)
}

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeFile     MessageType = "file"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeVideo    MessageType = "video"
	MessageTypeLocation MessageType = "location"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

// InboundEvent is a single customer message normalized out of a platform
// webhook payload or poll result. PlatformID keys the conversation on
// (platform, platform_id); CustomerKey carries the platform-specific customer
// identity (phone number, platform user id, or email address).
type InboundEvent struct {
	Platform          Platform
	PlatformID        string
	CustomerKey       string
	ProfileName       string
	ProfileFirstName  string
	ProfileLastName   string
	Content           string
	MessageType       MessageType
	PlatformMessageID string
	Timestamp         time.Time
	Metadata          map[string]any
}

// SendRequest describes an outbound message. To is the platform delivery
// target (conversation platform_id). Optional fields select the send variant;
// adapters ignore fields their platform has no use for.
type SendRequest struct {
	To      string
	Message string
	Type    MessageType

	// WhatsApp template sends.
	TemplateName string
	LanguageCode string

	// Media sends.
	MediaURL string
	Caption  string
	Filename string

	// Location sends.
	Latitude  float64
	Longitude float64

	// Email sends.
	Subject string
	HTML    bool
}

// SendResult reports a completed platform send. Raw keeps the platform
// response for the message delivery metadata.
type SendResult struct {
	PlatformMessageID string
	Raw               map[string]any
}

// Descriptor holds read-only metadata for a registered platform.
type Descriptor struct {
	Type        Platform
	DisplayName string
	// CustomerKeyField names the customer column the adapter's CustomerKey
	// maps to ("phone" or "email").
	CustomerKeyField string
	// DefaultName is used when the webhook carries no profile name.
	DefaultName string
}

// NormalizePlatform lowercases and trims a raw platform string.
func NormalizePlatform(raw string) Platform {
	return Platform(strings.TrimSpace(strings.ToLower(raw)))
}
