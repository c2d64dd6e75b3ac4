package entities

// Area is a planted plot served by one device and one pump.
type Area struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DefaultAreaID is the area seeded on first start.
const DefaultAreaID int64 = 1
