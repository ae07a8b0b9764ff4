package model

import (
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Setting{},
	&SnapshotLog{},
}

// Setting is one namespaced UI state value, e.g. "livemap:activeVehicles".
type Setting struct {
	Name      string         `json:"name" gorm:"primaryKey;size:191"`
	Value     datatypes.JSON `json:"value"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (*Setting) TableName() string {
	return "settings"
}

// SnapshotLog records the outcome of one applied snapshot.
type SnapshotLog struct {
	ID           uint      `json:"id" gorm:"primarykey;autoIncrement"`
	ReceivedAt   time.Time `json:"receivedAt" gorm:"index"`
	Source       string    `json:"source" gorm:"size:32"`
	Records      int       `json:"records"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Removed      int       `json:"removed"`
	Rejected     int       `json:"rejected"`
	Instructions int       `json:"instructions"`
}

func (*SnapshotLog) TableName() string {
	return "snapshot_logs"
}
