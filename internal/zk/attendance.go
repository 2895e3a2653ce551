// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package zk

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/juju/errors"
)

// Attendance is one record from the terminal's attendance log.
type Attendance struct {
	// UID is the internal slot number of the user on the terminal.
	UID int

	// UserID is the enrolment number shown to the employee.
	UserID string

	Timestamp time.Time
	Status    int
	Punch     int
}

// decodeTime unpacks the terminal's packed timestamp encoding. The
// result carries the terminal's wall clock in the local zone.
func decodeTime(t uint32) time.Time {
	second := int(t % 60)
	t /= 60
	minute := int(t % 60)
	t /= 60
	hour := int(t % 24)
	t /= 24
	day := int(t%31) + 1
	t /= 31
	month := time.Month(t%12) + 1
	t /= 12
	year := int(t) + 2000
	return time.Date(year, month, day, hour, minute, second, 0, time.Local)
}

// encodeTime is the inverse of decodeTime.
func encodeTime(t time.Time) uint32 {
	return uint32(((t.Year()%100)*12*31+((int(t.Month())-1)*31)+t.Day()-1)*(24*60*60) +
		(t.Hour()*60+t.Minute())*60 + t.Second())
}

// decodeAttendance parses the buffer returned for CMD_ATTLOG_RRQ. The
// first four bytes hold the payload size; the record layout is inferred
// from that size and the record count the terminal reported earlier.
func decodeAttendance(data []byte, records int) ([]Attendance, error) {
	if records <= 0 || len(data) < 4 {
		return nil, nil
	}
	total := int(binary.LittleEndian.Uint32(data))
	recordSize := total / records
	data = data[4:]

	var result []Attendance
	switch recordSize {
	case 8:
		for len(data) >= 8 {
			uid := int(binary.LittleEndian.Uint16(data[0:]))
			result = append(result, Attendance{
				UID:       uid,
				UserID:    strconv.Itoa(uid),
				Status:    int(data[2]),
				Timestamp: decodeTime(binary.LittleEndian.Uint32(data[3:])),
				Punch:     int(data[7]),
			})
			data = data[8:]
		}
	case 16:
		for len(data) >= 16 {
			userID := binary.LittleEndian.Uint32(data[0:])
			result = append(result, Attendance{
				UID:       int(userID),
				UserID:    strconv.FormatUint(uint64(userID), 10),
				Timestamp: decodeTime(binary.LittleEndian.Uint32(data[4:])),
				Status:    int(data[8]),
				Punch:     int(data[9]),
			})
			data = data[16:]
		}
	default:
		if recordSize < 40 {
			if recordSize != 0 {
				return nil, errors.NotSupportedf("attendance record size %d", recordSize)
			}
			recordSize = 40
		}
		for len(data) >= 40 {
			userID := data[2:26]
			if i := bytes.IndexByte(userID, 0); i >= 0 {
				userID = userID[:i]
			}
			result = append(result, Attendance{
				UID:       int(binary.LittleEndian.Uint16(data[0:])),
				UserID:    string(bytes.ToValidUTF8(userID, nil)),
				Status:    int(data[26]),
				Timestamp: decodeTime(binary.LittleEndian.Uint32(data[27:])),
				Punch:     int(data[31]),
			})
			if len(data) < recordSize {
				break
			}
			data = data[recordSize:]
		}
	}
	return result, nil
}
