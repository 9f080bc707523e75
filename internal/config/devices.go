package config

// DefaultDeviceTypes is the catalogue of device types tracked in the Knack
// asset management app.
func DefaultDeviceTypes() []DeviceTypeConfig {
	return []DeviceTypeConfig{
		{
			Name:      "camera",
			Container: "view_395",
			Fields: FieldMapping{
				IPAddress:    "field_638",
				DeviceID:     "field_947",
				LocationID:   "field_642",
				LocationName: "field_211",
				KnackID:      "id",
				SignalID:     "field_199",
			},
		},
		{
			Name:      "detector",
			Container: "view_1333",
			Fields: FieldMapping{
				IPAddress:    "field_1570",
				DeviceID:     "field_1526",
				LocationID:   "field_209",
				LocationName: "field_212",
				KnackID:      "id",
				SignalID:     "field_1579",
			},
		},
		{
			Name:      "digital_message_sign",
			Container: "view_1564",
			Fields: FieldMapping{
				IPAddress:    "field_1653",
				DeviceID:     "field_1639",
				LocationID:   "field_732",
				LocationName: "field_211",
				KnackID:      "id",
			},
		},
		{
			// cabinets have no location record; the device id doubles as location id
			Name:      "cabinet_battery_backup",
			Container: "view_1567",
			Fields: FieldMapping{
				IPAddress:    "field_3525",
				DeviceID:     "field_1789",
				LocationID:   "field_1789",
				LocationName: "field_4128",
				KnackID:      "id",
				SignalID:     "field_1798",
			},
		},
	}
}
