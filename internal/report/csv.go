package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var chartColumns = []string{"date", "sessions"}

// WriteChartCSV writes chart points with a date,sessions header.
func WriteChartCSV(w io.Writer, points []ChartPoint) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(chartColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, point := range points {
		if err := writer.Write([]string{point.Date, strconv.Itoa(point.Sessions)}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
