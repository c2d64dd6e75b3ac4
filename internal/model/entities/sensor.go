package entities

// SensorKind is the physical quantity a sensor reports.
type SensorKind string

const (
	KindHumidity   SensorKind = "humidity"
	KindPH         SensorKind = "ph"
	KindPhosphorus SensorKind = "phosphorus"
	KindPotassium  SensorKind = "potassium"
)

// SensorStatus marks whether readings from the sensor are expected.
type SensorStatus string

const (
	SensorActive   SensorStatus = "active"
	SensorInactive SensorStatus = "inactive"
)

// Sensor is one channel of the device frame.
type Sensor struct {
	ID     int64        `json:"id"`
	Kind   SensorKind   `json:"kind"`
	AreaID int64        `json:"area_id"`
	Status SensorStatus `json:"status"`
	Unit   string       `json:"unit"`
}

// DefaultSensors maps each field of the device frame to the sensor row it is
// stored under. IDs match the seed data of the store.
var DefaultSensors = []Sensor{
	{ID: 1, Kind: KindHumidity, AreaID: DefaultAreaID, Status: SensorActive, Unit: "%"},
	{ID: 2, Kind: KindPH, AreaID: DefaultAreaID, Status: SensorActive, Unit: "pH"},
	{ID: 3, Kind: KindPhosphorus, AreaID: DefaultAreaID, Status: SensorActive, Unit: "present"},
	{ID: 4, Kind: KindPotassium, AreaID: DefaultAreaID, Status: SensorActive, Unit: "present"},
}
