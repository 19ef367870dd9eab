package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringSet is a deduplicated identity set persisted as a JSON array column.
type StringSet []string

// Value implements driver.Valuer. A nil set serializes as [].
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		s = StringSet{}
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StringSet) Scan(src interface{}) error {
	if src == nil {
		*s = StringSet{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported likes column type %T", src)
	}
	if len(b) == 0 {
		*s = StringSet{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*s = StringSet(out)
	return nil
}

// Contains reports membership.
func (s StringSet) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Add returns a set including id. No-op when id is already a member.
func (s StringSet) Add(id string) StringSet {
	if s.Contains(id) {
		return s
	}
	out := make(StringSet, len(s), len(s)+1)
	copy(out, s)
	return append(out, id)
}

// Remove returns a set without id.
func (s StringSet) Remove(id string) StringSet {
	out := make(StringSet, 0, len(s))
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Social is one posted event. EventDate is epoch millis and the feed is
// ordered ascending by it. Likes holds the identities that marked
// "interested". Version guards read-modify-write updates of Likes.
type Social struct {
	ID               string    `gorm:"primaryKey;size:64" json:"id"`
	EventName        string    `gorm:"size:256;not null" json:"eventName"`
	EventDescription string    `gorm:"type:text;not null" json:"eventDescription"`
	EventDate        int64     `gorm:"not null;index" json:"eventDate"`
	EventLocation    string    `gorm:"size:256;not null" json:"eventLocation"`
	EventImage       string    `gorm:"size:512;not null" json:"eventImage"`
	UserID           string    `gorm:"size:64;not null" json:"userID"`
	Likes            StringSet `gorm:"type:text;not null" json:"likes"`
	Version          uint64    `gorm:"not null;default:0" json:"-"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"-"`
}

func (Social) TableName() string { return "socials" }
