// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package store is the persistence gateway towards postgres

It owns the write paths for telemetry, alarm and image records and the
single atomic create-or-reassign-or-rename operation for device identity.
The one-active-row-per-MAC invariant is enforced by the database itself
through a partial unique index, not by application level locking: two
registrations racing on the same MAC are decided by whichever insert
commits first, the loser observes the winner's row on retry.
*/
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/roost/core/csql"
	"github.com/relabs-tech/roost/ingest"
)

// Postgres implements the ingest.Store interface on a postgres database.
type Postgres struct {
	db *csql.DB
}

// New returns a new persistence gateway. It creates the sql relations if
// they do not exist yet.
func New(db *csql.DB) *Postgres {
	if db == nil {
		panic("db is missing")
	}
	s := &Postgres{db: db}
	s.createTablesIfNotExist()
	return s
}

// uniqueViolation is the postgres error code for a violated unique constraint
const uniqueViolation = "23505"

func (s *Postgres) createTablesIfNotExist() {
	schema := s.db.Schema
	// poor man's database migrations
	_, err := s.db.Exec(`CREATE table IF NOT EXISTS ` + schema + `.tenant
(tenant_id uuid NOT NULL DEFAULT uuid_generate_v4(),
created_at timestamp NOT NULL DEFAULT now(),
PRIMARY KEY(tenant_id)
);
CREATE table IF NOT EXISTS ` + schema + `.device
(device_id uuid NOT NULL DEFAULT uuid_generate_v4(),
tenant_id uuid NOT NULL references ` + schema + `.tenant(tenant_id),
mac varchar NOT NULL,
name varchar NOT NULL,
active boolean NOT NULL,
created_at timestamp NOT NULL,
updated_at timestamp NOT NULL,
PRIMARY KEY(device_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS device_active_mac ON ` + schema + `.device(mac) WHERE active;
CREATE table IF NOT EXISTS ` + schema + `.telemetry
(telemetry_id uuid NOT NULL DEFAULT uuid_generate_v4(),
tenant_id uuid NOT NULL references ` + schema + `.tenant(tenant_id),
mac varchar NOT NULL,
sensor varchar NOT NULL,
raw_message varchar NOT NULL,
value double precision,
unit varchar,
event_time timestamp NOT NULL,
correlation_id varchar,
created_at timestamp NOT NULL,
PRIMARY KEY(telemetry_id)
);
CREATE table IF NOT EXISTS ` + schema + `.alarm
(alarm_id uuid NOT NULL DEFAULT uuid_generate_v4(),
tenant_id uuid NOT NULL references ` + schema + `.tenant(tenant_id),
mac varchar NOT NULL,
severity varchar NOT NULL,
message varchar NOT NULL,
acknowledged boolean NOT NULL DEFAULT false,
acknowledged_at timestamp,
created_at timestamp NOT NULL,
PRIMARY KEY(alarm_id)
);
CREATE table IF NOT EXISTS ` + schema + `.image
(image_id varchar NOT NULL,
tenant_id uuid NOT NULL references ` + schema + `.tenant(tenant_id),
mac varchar NOT NULL,
object_key varchar NOT NULL,
size bigint NOT NULL,
metadata json,
created_at timestamp NOT NULL,
PRIMARY KEY(tenant_id, mac, image_id, object_key)
);`)
	if err != nil {
		panic(err)
	}
}

// TenantExists reports whether the tenant exists.
func (s *Postgres) TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM `+s.db.Schema+`.tenant WHERE tenant_id=$1;`, tenantID).Scan(&one)
	if err == csql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RegisterDevice resolves a self-reported (tenant, MAC, name) triple into
// exactly one active device row, within a single transaction. On a racing
// insert for the same MAC the losing transaction retries once and then
// observes the winner's row.
func (s *Postgres) RegisterDevice(ctx context.Context, tenantID uuid.UUID, mac, name string) (ingest.Device, ingest.RegistrationStatus, error) {
	device, status, err := s.registerDeviceOnce(ctx, tenantID, mac, name)
	if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
		device, status, err = s.registerDeviceOnce(ctx, tenantID, mac, name)
	}
	return device, status, err
}

func (s *Postgres) registerDeviceOnce(ctx context.Context, tenantID uuid.UUID, mac, name string) (ingest.Device, ingest.RegistrationStatus, error) {
	var device ingest.Device

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return device, "", err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var current ingest.Device
	err = tx.QueryRowContext(ctx,
		`SELECT device_id,tenant_id,name,created_at FROM `+s.db.Schema+`.device
WHERE mac=$1 AND active FOR UPDATE;`, mac).Scan(
		&current.DeviceID, &current.TenantID, &current.Name, &current.CreatedAt)

	switch {
	case err == csql.ErrNoRows:
		device, err = s.insertActiveDevice(ctx, tx, tenantID, mac, name, now)
		if err != nil {
			return device, "", err
		}
		return device, ingest.RegistrationCreated, tx.Commit()

	case err != nil:
		return device, "", err

	case current.TenantID != tenantID:
		// ownership transfer: deactivate the old row, keep it and all its
		// historical records under the previous tenant
		_, err = tx.ExecContext(ctx,
			`UPDATE `+s.db.Schema+`.device SET active=false, updated_at=$2 WHERE device_id=$1;`,
			current.DeviceID, now)
		if err != nil {
			return device, "", err
		}
		device, err = s.insertActiveDevice(ctx, tx, tenantID, mac, name, now)
		if err != nil {
			return device, "", err
		}
		return device, ingest.RegistrationReassigned, tx.Commit()

	case current.Name != name:
		_, err = tx.ExecContext(ctx,
			`UPDATE `+s.db.Schema+`.device SET name=$2, updated_at=$3 WHERE device_id=$1;`,
			current.DeviceID, name, now)
		if err != nil {
			return device, "", err
		}
		device = ingest.Device{DeviceID: current.DeviceID, TenantID: tenantID, MAC: mac,
			Name: name, Active: true, CreatedAt: current.CreatedAt}
		return device, ingest.RegistrationNameUpdated, tx.Commit()

	default:
		device = ingest.Device{DeviceID: current.DeviceID, TenantID: tenantID, MAC: mac,
			Name: current.Name, Active: true, CreatedAt: current.CreatedAt}
		return device, ingest.RegistrationUnchanged, tx.Commit()
	}
}

func (s *Postgres) insertActiveDevice(ctx context.Context, tx *sql.Tx, tenantID uuid.UUID, mac, name string, now time.Time) (ingest.Device, error) {
	device := ingest.Device{TenantID: tenantID, MAC: mac, Name: name, Active: true, CreatedAt: now}
	err := tx.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`.device(tenant_id,mac,name,active,created_at,updated_at)
VALUES($1,$2,$3,true,$4,$4) RETURNING device_id;`,
		tenantID, mac, name, now).Scan(&device.DeviceID)
	return device, err
}

// InsertTelemetry appends the given records in one transaction.
func (s *Postgres) InsertTelemetry(ctx context.Context, records []ingest.TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, record := range records {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO `+s.db.Schema+`.telemetry
(tenant_id,mac,sensor,raw_message,value,unit,event_time,correlation_id,created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9);`,
			record.TenantID, record.MAC, record.Sensor, record.RawMessage,
			record.Value, nullable(record.Unit), record.EventTime,
			nullable(record.CorrelationID), now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertAlarm appends one alarm record and returns its ID.
func (s *Postgres) InsertAlarm(ctx context.Context, record ingest.AlarmRecord) (uuid.UUID, error) {
	var alarmID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`.alarm(tenant_id,mac,severity,message,acknowledged,created_at)
VALUES($1,$2,$3,$4,false,$5) RETURNING alarm_id;`,
		record.TenantID, record.MAC, record.Severity, record.Message, time.Now().UTC()).Scan(&alarmID)
	return alarmID, err
}

// InsertImage appends one image record. The binary content lives in object
// storage, the record only carries the pointer.
func (s *Postgres) InsertImage(ctx context.Context, record ingest.ImageRecord) error {
	metadata := record.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.db.Schema+`.image(image_id,tenant_id,mac,object_key,size,metadata,created_at)
VALUES($1,$2,$3,$4,$5,$6,$7);`,
		record.ImageID, record.TenantID, record.MAC, record.ObjectKey,
		record.Size, string(metadata), time.Now().UTC())
	return err
}

// AcknowledgeAlarm transitions an alarm to acknowledged. The transition is
// one-way: acknowledging twice leaves acknowledged_at unchanged.
func (s *Postgres) AcknowledgeAlarm(ctx context.Context, tenantID, alarmID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE `+s.db.Schema+`.alarm SET acknowledged=true, acknowledged_at=$3
WHERE alarm_id=$1 AND tenant_id=$2 AND NOT acknowledged;`,
		alarmID, tenantID, time.Now().UTC())
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	// either already acknowledged (a no-op) or unknown
	var acknowledged bool
	err = s.db.QueryRowContext(ctx,
		`SELECT acknowledged FROM `+s.db.Schema+`.alarm WHERE alarm_id=$1 AND tenant_id=$2;`,
		alarmID, tenantID).Scan(&acknowledged)
	if err == csql.ErrNoRows {
		return fmt.Errorf("alarm %s: %w", alarmID, ingest.ErrNotFound)
	}
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: len(s) > 0}
}
