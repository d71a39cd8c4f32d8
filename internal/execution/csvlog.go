package execution

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// dailyCSV appends rows to <dir>/<prefix>-YYYY-MM-DD.csv, switching files when the day changes.
// Not safe for concurrent use.
type dailyCSV struct {
	dir    string
	prefix string
	header []string
	loc    *time.Location

	day string
	f   *os.File
	w   *csv.Writer
}

func newDailyCSV(dir, prefix string, header []string, loc *time.Location) *dailyCSV {
	if loc == nil {
		loc = time.Local
	}
	return &dailyCSV{dir: dir, prefix: prefix, header: header, loc: loc}
}

// path returns the file name used for rows stamped at t.
func (d *dailyCSV) path(t time.Time) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s-%s.csv", d.prefix, t.In(d.loc).Format(time.DateOnly)))
}

func (d *dailyCSV) write(at time.Time, row []string) error {
	if day := at.In(d.loc).Format(time.DateOnly); d.f == nil || day != d.day {
		d.close()
		if err := d.open(at); err != nil {
			return err
		}
		d.day = day
	}
	if err := d.w.Write(row); err != nil {
		return err
	}
	d.w.Flush()
	return d.w.Error()
}

func (d *dailyCSV) open(at time.Time) error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(d.path(at), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s log: %w", d.prefix, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	d.f, d.w = f, csv.NewWriter(f)
	if info.Size() == 0 {
		if err := d.w.Write(d.header); err != nil {
			d.close()
			return err
		}
	}
	return nil
}

func (d *dailyCSV) close() {
	if d.f == nil {
		return
	}
	d.w.Flush()
	d.f.Close()
	d.f, d.w = nil, nil
}
