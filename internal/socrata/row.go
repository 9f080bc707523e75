package socrata

import "atd/signal-comms/internal/domain"

// Row is one row of the published comm status dataset. It carries only the
// dataset's columns; run bookkeeping such as attempts and run_id stays out.
type Row struct {
	ID           string  `json:"id"`
	IPAddress    string  `json:"ip_address"`
	DeviceID     string  `json:"device_id"`
	KnackID      *string `json:"knack_id"`
	LocationName *string `json:"location_name"`
	LocationID   *string `json:"location_id"`
	SignalID     *string `json:"signal_id"`
	StatusCode   int     `json:"status_code"`
	StatusDesc   string  `json:"status_desc"`
	Delay        *int64  `json:"delay"`
	Timestamp    string  `json:"timestamp"`
	DeviceType   string  `json:"device_type"`
}

func NewRow(r domain.Record) Row {
	return Row{
		ID:           r.ID,
		IPAddress:    r.IPAddress,
		DeviceID:     r.DeviceID,
		KnackID:      r.KnackID,
		LocationName: r.LocationName,
		LocationID:   r.LocationID,
		SignalID:     r.SignalID,
		StatusCode:   r.StatusCode,
		StatusDesc:   r.StatusDesc,
		Delay:        r.Delay,
		Timestamp:    r.Timestamp,
		DeviceType:   r.DeviceType,
	}
}

func NewRows(records []domain.Record) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, NewRow(r))
	}
	return rows
}
