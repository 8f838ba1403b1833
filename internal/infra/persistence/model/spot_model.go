package model

import (
	"time"

	"gorm.io/gorm"
)

// SpotModel is the GORM-specific struct for the 'spots' table.
// Location is written with ST_MakePoint and read back through the
// latitude/longitude columns; GORM never scans the geography value.
type SpotModel struct {
	ID          string    `gorm:"type:varchar(64);primary_key"`
	DisplayName string    `gorm:"type:varchar(255);not null"`
	Latitude    float64   `gorm:"type:decimal(10,8);not null"`
	Longitude   float64   `gorm:"type:decimal(11,8);not null"`
	Location    string    `gorm:"type:geography(Point,4326);not null;index:idx_spots_location,type:gist;->:false;<-:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

// TableName explicitly sets the table name for GORM.
func (SpotModel) TableName() string {
	return "spots"
}
