package domain

import "time"

// Email is the canonical, provider-independent message.
type Email struct {
	ID         string      `json:"id" gorm:"primaryKey"`
	AccountID  string      `json:"account_id" gorm:"uniqueIndex:idx_account_message;not null"`
	UserID     string      `json:"user_id" gorm:"index;not null"`
	CompanyID  string      `json:"company_id" gorm:"index"`
	MessageID  string      `json:"message_id" gorm:"uniqueIndex:idx_account_message;not null"`
	ThreadID   string      `json:"thread_id" gorm:"index"`
	From       string      `json:"from" gorm:"column:from_address;not null"`
	FromName   string      `json:"from_name"`
	To         StringArray `json:"to" gorm:"column:to_addresses;type:text"`
	Cc         StringArray `json:"cc" gorm:"column:cc_addresses;type:text"`
	Bcc        StringArray `json:"bcc" gorm:"column:bcc_addresses;type:text"`
	Subject    string      `json:"subject"`
	Body       string      `json:"body" gorm:"type:text"`
	HTMLBody   string      `json:"html_body" gorm:"type:text"`
	IsIncoming bool        `json:"is_incoming"`
	IsRead     bool        `json:"is_read"`
	SentAt     time.Time   `json:"sent_at"`
	ReceivedAt time.Time   `json:"received_at"`
	ContactIDs StringArray `json:"contact_ids" gorm:"type:text"`
	DealIDs    StringArray `json:"deal_ids" gorm:"type:text"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Participants returns every address on the message, sender first, without duplicates.
func (e *Email) Participants() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(addrs ...string) {
		for _, a := range addrs {
			if a == "" {
				continue
			}
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	add(e.From)
	add(e.To...)
	add(e.Cc...)
	add(e.Bcc...)
	return out
}

// OutboundMessage is a composed message waiting to be sent from an account.
type OutboundMessage struct {
	To        []string `json:"to" binding:"required,min=1"`
	Cc        []string `json:"cc"`
	Bcc       []string `json:"bcc"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	HTMLBody  string   `json:"html_body"`
	InReplyTo string   `json:"in_reply_to"`
	ThreadID  string   `json:"thread_id"`
}
