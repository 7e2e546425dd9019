package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"
)

// WriteCSV renders events as CSV for the audit export download.
func WriteCSV(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "timestamp", "user", "action", "table", "record_id", "old_values", "new_values", "ip_address"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, event := range events {
		user := event.Username
		if user == "" && event.UserID != nil {
			user = strconv.FormatInt(*event.UserID, 10)
		}
		if user == "" {
			user = "system"
		}
		record := []string{
			strconv.FormatInt(event.ID, 10),
			event.CreatedAt.Format(time.RFC3339),
			user,
			event.Action,
			event.TableName,
			event.RecordID,
			encodeValues(event.OldValues),
			encodeValues(event.NewValues),
			event.IPAddress,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValues(values map[string]any) string {
	if len(values) == 0 {
		return ""
	}
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(data)
}
