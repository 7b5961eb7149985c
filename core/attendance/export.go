package attendance

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	xlsxSheet = "Attendance"
)

// ExportHeader is the column order expected by the SIS attendance upload.
var ExportHeader = []string{
	"SIS_Course_ID",
	"SIS_Student_ID",
	"Attendance",
	"Class_Date",
	"SIS_Teacher_ID",
	"Course_Code",
	"Teacher_Name",
}

func (row ExportRow) fields() []string {
	return []string{
		row.CourseSISID,
		row.StudentSISID,
		string(row.Status),
		row.ClassDate.String(),
		row.TeacherSISID,
		row.CourseCode,
		row.TeacherName,
	}
}

// ExportFilename names the download, e.g. attendance_4821_2024-03-01.csv or attendance_4821_all.xlsx.
func ExportFilename(filter ExportFilter, format string) string {
	from := "all"
	if filter.DateFrom != nil {
		from = filter.DateFrom.String()
	}
	if format == "" {
		format = FormatCSV
	}
	return fmt.Sprintf("attendance_%s_%s.%s", filter.CourseID, from, format)
}

// WriteCSV writes the header and one line per row.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, row := range rows {
		if err := cw.Write(row.fields()); err != nil {
			return errors.Wrap(err, "writing csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}

// WriteXLSX writes the same table as WriteCSV as a single-sheet workbook.
func WriteXLSX(w io.Writer, rows []ExportRow) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cErr := f.Close(); err == nil && cErr != nil {
			err = errors.Wrap(cErr, "closing workbook")
		}
	}()

	if err = f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}

	writeRow := func(n int, vals []string) error {
		cell, err := excelize.CoordinatesToCellName(1, n)
		if err != nil {
			return err
		}
		return f.SetSheetRow(xlsxSheet, cell, &vals)
	}

	if err = writeRow(1, ExportHeader); err != nil {
		return errors.Wrap(err, "writing xlsx header")
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "creating header style")
	}
	if err = f.SetRowStyle(xlsxSheet, 1, 1, bold); err != nil {
		return errors.Wrap(err, "styling header")
	}
	for i, row := range rows {
		if err = writeRow(i+2, row.fields()); err != nil {
			return errors.Wrap(err, "writing xlsx row")
		}
	}

	if err = f.Write(w); err != nil {
		return errors.Wrap(err, "writing workbook")
	}
	return nil
}
