package models

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat float64 `bson:"lat" json:"lat" gorm:"column:lat"`
	Lon float64 `bson:"lon" json:"lon" gorm:"column:lon"`
}

// IsZero reports whether no coordinates were captured.
func (l Location) IsZero() bool {
	return l.Lat == 0 && l.Lon == 0
}
