package repository

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRebind(t *testing.T) {
	Convey("Given a query with placeholders", t, func() {
		q := `INSERT INTO results (a, b, c) VALUES (?, ?, ?)`

		Convey("Then postgres gets numbered placeholders", func() {
			So(rebind(DriverPostgres, q), ShouldEqual, `INSERT INTO results (a, b, c) VALUES ($1, $2, $3)`)
		})

		Convey("Then sqlite keeps question marks", func() {
			So(rebind(DriverSQLite, q), ShouldEqual, q)
		})
	})
}
