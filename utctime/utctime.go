/*
Copyright 2024 The cert-manager Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package utctime parses and renders the ASN.1 UTCTime format the
// specification's diagnostic and status-string paths exercise:
// YYMMDDhhmmss[Z], two-digit years resolved per RFC 5280's UTCTime rule.
// It has nothing to do with the module's DER encoding (there is none);
// it exists solely as the small time-formatting collaborator the
// specification calls out as self-contained.
package utctime

import (
	"fmt"
	"time"
)

// monthNames is the fixed month-name table Render uses, matching the
// three-letter form produced by C's asctime/ctime family.
var monthNames = [13]string{
	"", "Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// Parse decodes a UTCTime string. Seconds are optional: the input is
// either 10 digits (YYMMDDhhmm) or 12 digits (YYMMDDhhmmss), followed by
// an optional trailing "Z". A two-digit year YY resolves to 2000+YY when
// YY < 50, else 1900+YY, per RFC 5280 section 4.1.2.5.1.
func Parse(s string) (time.Time, error) {
	s = trimZ(s)

	var yy, month, day, hour, min, sec int
	var err error

	switch len(s) {
	case 10:
		_, err = fmt.Sscanf(s, "%02d%02d%02d%02d%02d", &yy, &month, &day, &hour, &min)
	case 12:
		_, err = fmt.Sscanf(s, "%02d%02d%02d%02d%02d%02d", &yy, &month, &day, &hour, &min, &sec)
	default:
		return time.Time{}, fmt.Errorf("utctime: parse %q: expected 10 or 12 digits (optionally followed by %q)", s, "Z")
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("utctime: parse %q: %w", s, err)
	}

	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("utctime: parse %q: month %d out of range 1..12", s, month)
	}

	year := yy + 1900
	if yy < 50 {
		year = yy + 2000
	}

	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("utctime: parse %q: day %d is not valid for %04d-%02d", s, day, year, month)
	}
	return t, nil
}

// trimZ strips a single trailing "Z", tolerating its absence: some callers
// hand Parse a bare timestamp without the zone designator.
func trimZ(s string) string {
	if n := len(s); n > 0 && s[n-1] == 'Z' {
		return s[:n-1]
	}
	return s
}

// Format renders t as the 13-character wire form YYMMDDhhmmssZ, always in
// UTC regardless of t's own location.
func Format(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%02d%02d%02d%02d%02d%02dZ",
		t.Year()%100, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

// Render formats t for human display as "<Mon> <day> hh:mm:ss <year> GMT",
// with day space-padded to two columns (the "%2d" of the format string).
func Render(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s %2d %02d:%02d:%02d %d GMT",
		monthNames[int(t.Month())], t.Day(), t.Hour(), t.Minute(), t.Second(), t.Year())
}
