package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (id,
                      frequency,
                      started_at)
VALUES (?, ?, ?)`

	endSessionSQL = `
UPDATE sessions
SET ended_at     = ?,
    serial       = ?,
    sonde_type   = ?,
    frames       = ?,
    max_altitude = ?,
    last_altitude = ?,
    descending   = ?
WHERE id = ?`

	insertFrameSQL = `
INSERT INTO frames (session_id,
                    serial,
                    frame_number,
                    time,
                    latitude,
                    longitude,
                    altitude,
                    vel_h,
                    vel_v,
                    heading,
                    temperature,
                    humidity,
                    crc_ok,
                    raw)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertSweepSQL = `
INSERT INTO sweeps (timestamp,
                    freq_low,
                    freq_high,
                    bin_width)
VALUES (?, ?, ?, ?)`

	insertSweepBinSQL = `
INSERT INTO sweep_bins (sweep_id,
                        frequency,
                        power)
VALUES `

	selectSessionsSQL = `
SELECT id,
       frequency,
       started_at,
       ended_at,
       serial,
       sonde_type,
       frames,
       max_altitude,
       last_altitude,
       descending
FROM sessions
ORDER BY started_at DESC`

	selectSweepsSQL = `
SELECT id,
       timestamp,
       freq_low,
       freq_high,
       bin_width
FROM sweeps
ORDER BY timestamp DESC
LIMIT ?`

	selectSweepBinsSQL = `
SELECT frequency,
       power
FROM sweep_bins
WHERE sweep_id = ?
ORDER BY frequency`
)

//go:embed schema.sql
var schemaSQL string

const initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_frames_session ON frames (session_id);
CREATE INDEX IF NOT EXISTS idx_frames_serial ON frames (serial);
CREATE INDEX IF NOT EXISTS idx_sweep_bins_sweep ON sweep_bins (sweep_id);
CREATE INDEX IF NOT EXISTS idx_sweeps_timestamp ON sweeps (timestamp);`
