package database

import "time"

// The portal's logical tables. Field sets mirror the columns the portal
// owns; backup code never interprets them beyond JSON round-tripping.

type LicenseRecord struct {
	ID             uint       `gorm:"primaryKey"               json:"id"`
	LicenseKey     string     `gorm:"uniqueIndex;size:128"     json:"license_key"`
	OrganizationID uint       `gorm:"index"                    json:"organization_id"`
	Plan           string     `gorm:"size:64"                  json:"plan"`
	Status         string     `gorm:"size:32"                  json:"status"`
	Seats          int        `json:"seats"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type ChatLog struct {
	ID             uint      `gorm:"primaryKey"  json:"id"`
	SessionID      string    `gorm:"index;size:64" json:"session_id"`
	OrganizationID uint      `gorm:"index"       json:"organization_id"`
	Role           string    `gorm:"size:16"     json:"role"`
	Message        string    `gorm:"type:text"   json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

type UsageMetric struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"index"      json:"organization_id"`
	Metric         string    `gorm:"size:64"    json:"metric"`
	Value          float64   `json:"value"`
	RecordedAt     time.Time `gorm:"index"      json:"recorded_at"`
}

type Notification struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"index"      json:"organization_id"`
	UserEmail      string    `gorm:"size:255"   json:"user_email"`
	Title          string    `gorm:"size:255"   json:"title"`
	Body           string    `gorm:"type:text"  json:"body"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

type InsightRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"index"      json:"organization_id"`
	Kind           string    `gorm:"size:64"    json:"kind"`
	Severity       string    `gorm:"size:16"    json:"severity"`
	Summary        string    `gorm:"type:text"  json:"summary"`
	Details        string    `gorm:"type:text"  json:"details"`
	CreatedAt      time.Time `json:"created_at"`
}

type Organization struct {
	ID        uint      `gorm:"primaryKey"           json:"id"`
	Name      string    `gorm:"size:255"             json:"name"`
	Slug      string    `gorm:"uniqueIndex;size:128" json:"slug"`
	Plan      string    `gorm:"size:64"              json:"plan"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Team struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"index"      json:"organization_id"`
	Name           string    `gorm:"size:255"   json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type TeamMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TeamID    uint      `gorm:"index"      json:"team_id"`
	UserEmail string    `gorm:"size:255"   json:"user_email"`
	Role      string    `gorm:"size:32"    json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}

// AuditLog is also the target of the backup event sink.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey"   json:"id"`
	Action    string    `gorm:"index;size:64" json:"action"`
	Actor     string    `gorm:"size:128"     json:"actor"`
	Details   string    `gorm:"type:text"    json:"details"`
	CreatedAt time.Time `gorm:"index"        json:"created_at"`
}

// Models lists every portal model, for AutoMigrate.
func Models() []any {
	return []any{
		&LicenseRecord{},
		&ChatLog{},
		&UsageMetric{},
		&Notification{},
		&InsightRecord{},
		&Organization{},
		&Team{},
		&TeamMember{},
		&AuditLog{},
	}
}
