package tasks

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dukerupert/pratiche/internal/model"
	"github.com/emersion/go-ical"
)

const productID = "-//pratiche//tasks//IT"

// WriteICS encodes items as a VCALENDAR of VTODO components.
func WriteICS(w io.Writer, items []model.TaskViewItem, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	stamp := now.UTC()
	for _, it := range items {
		todo := ical.NewComponent(ical.CompToDo)
		todo.Props.SetText(ical.PropUID, it.EventID)
		todo.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		todo.Props.SetText(ical.PropSummary, summaryOf(it))

		if it.Description != "" {
			todo.Props.SetText(ical.PropDescription, it.Description)
		}
		if it.Location != "" {
			todo.Props.SetText(ical.PropLocation, it.Location)
		}
		if it.Category != "" {
			todo.Props.SetText(ical.PropCategories, string(it.Category))
		}
		if it.Due != nil {
			if it.AllDay {
				todo.Props.SetDate(ical.PropDue, *it.Due)
			} else {
				todo.Props.SetDateTime(ical.PropDue, it.Due.UTC())
			}
		}
		if it.IsPrivate {
			todo.Props.SetText(ical.PropClass, "PRIVATE")
		}

		if it.Completed {
			todo.Props.SetText(ical.PropStatus, "COMPLETED")
		} else {
			todo.Props.SetText(ical.PropStatus, "NEEDS-ACTION")
		}

		cal.Children = append(cal.Children, todo)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	return nil
}

func summaryOf(it model.TaskViewItem) string {
	parts := []string{it.Title}
	if it.CaseFile.Address != "" {
		parts = append(parts, it.CaseFile.Address)
	}
	return strings.Join(parts, " - ")
}
