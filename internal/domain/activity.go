package domain

import (
	"maps"
	"time"
)

// ActivityAction enumerates the kinds of activity log entries.
type ActivityAction string

const (
	ActionUserRegistered      ActivityAction = "user_registered"
	ActionUserLogin           ActivityAction = "user_login"
	ActionFileUploaded        ActivityAction = "file_uploaded"
	ActionUserAutoProvisioned ActivityAction = "user_auto_provisioned"
)

// Activity is an append-only log entry. It is never updated or deleted.
type Activity struct {
	ID        string         `json:"id" bson:"_id"`
	Action    ActivityAction `json:"action" bson:"action"`
	Data      map[string]any `json:"data" bson:"data"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
}

// NewActivity creates an activity stamped with the current time.
func NewActivity(id string, action ActivityAction, data map[string]any) *Activity {
	return &Activity{
		ID:        id,
		Action:    action,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Clone returns a copy with its own top-level payload map.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = maps.Clone(a.Data)
	return &c
}
