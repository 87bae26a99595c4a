// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/roost/core/csql"
	"github.com/relabs-tech/roost/ingest"
	"github.com/relabs-tech/roost/ingest/store"
)

// newMockStore returns a store on a mocked database. The table creation on
// construction is expected and consumed here.
func newMockStore(t *testing.T) (*store.Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	mock.ExpectExec("CREATE table IF NOT EXISTS roost.tenant").
		WillReturnResult(sqlmock.NewResult(0, 0))
	return store.New(&csql.DB{DB: db, Schema: "roost"}), mock
}

func TestTenantExists(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	mock.ExpectQuery("SELECT 1 FROM roost.tenant WHERE").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	exists, err := s.TenantExists(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, exists)

	mock.ExpectQuery("SELECT 1 FROM roost.tenant WHERE").
		WithArgs(tenantID).
		WillReturnError(sql.ErrNoRows)
	exists, err = s.TenantExists(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	assert.False(t, exists)

	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestRegisterDeviceCreated(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	tenantID := uuid.New()
	deviceID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT device_id,tenant_id,name,created_at FROM roost.device").
		WithArgs("AA:BB:CC:DD:EE:FF").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO roost.device").
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}).AddRow(deviceID.String()))
	mock.ExpectCommit()

	device, status, err := s.RegisterDevice(ctx, tenantID, "AA:BB:CC:DD:EE:FF", "Boiler Room")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ingest.RegistrationCreated, status)
	assert.Equal(t, deviceID, device.DeviceID)
	assert.Equal(t, tenantID, device.TenantID)
	assert.True(t, device.Active)

	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestRegisterDeviceUnchanged(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	tenantID := uuid.New()
	deviceID := uuid.New()
	createdAt := time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT device_id,tenant_id,name,created_at FROM roost.device").
		WithArgs("AA:BB:CC:DD:EE:FF").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "tenant_id", "name", "created_at"}).
			AddRow(deviceID.String(), tenantID.String(), "Boiler Room", createdAt))
	mock.ExpectCommit()

	device, status, err := s.RegisterDevice(ctx, tenantID, "AA:BB:CC:DD:EE:FF", "Boiler Room")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ingest.RegistrationUnchanged, status)
	assert.Equal(t, deviceID, device.DeviceID)
	assert.Equal(t, createdAt, device.CreatedAt)

	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestRegisterDeviceRename(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	tenantID := uuid.New()
	deviceID := uuid.New()
	createdAt := time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT device_id,tenant_id,name,created_at FROM roost.device").
		WithArgs("AA:BB:CC:DD:EE:FF").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "tenant_id", "name", "created_at"}).
			AddRow(deviceID.String(), tenantID.String(), "Boiler Room", createdAt))
	mock.ExpectExec("UPDATE roost.device SET name=").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	device, status, err := s.RegisterDevice(ctx, tenantID, "AA:BB:CC:DD:EE:FF", "Cellar")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ingest.RegistrationNameUpdated, status)
	assert.Equal(t, "Cellar", device.Name)

	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestRegisterDeviceReassigned(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	previousTenant := uuid.New()
	tenantID := uuid.New()
	previousDevice := uuid.New()
	newDevice := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT device_id,tenant_id,name,created_at FROM roost.device").
		WithArgs("AA:BB:CC:DD:EE:FF").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "tenant_id", "name", "created_at"}).
			AddRow(previousDevice.String(), previousTenant.String(), "Gate", time.Now().UTC()))
	mock.ExpectExec("UPDATE roost.device SET active=false").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO roost.device").
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}).AddRow(newDevice.String()))
	mock.ExpectCommit()

	device, status, err := s.RegisterDevice(ctx, tenantID, "AA:BB:CC:DD:EE:FF", "Gate")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ingest.RegistrationReassigned, status)
	assert.Equal(t, newDevice, device.DeviceID)
	assert.Equal(t, tenantID, device.TenantID)

	assert.Nil(t, mock.ExpectationsWereMet())
}

// TestRegisterDeviceRetriesOnUniqueViolation verifies the race between two
// registrations of one MAC: the losing insert hits the partial unique index
// and retries once, then observes the winner's row.
func TestRegisterDeviceRetriesOnUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	tenantID := uuid.New()
	winnerDevice := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT device_id,tenant_id,name,created_at FROM roost.device").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO roost.device").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT device_id,tenant_id,name,created_at FROM roost.device").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "tenant_id", "name", "created_at"}).
			AddRow(winnerDevice.String(), tenantID.String(), "Boiler Room", time.Now().UTC()))
	mock.ExpectCommit()

	device, status, err := s.RegisterDevice(ctx, tenantID, "AA:BB:CC:DD:EE:FF", "Boiler Room")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ingest.RegistrationUnchanged, status)
	assert.Equal(t, winnerDevice, device.DeviceID)

	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestInsertTelemetry(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	tenantID := uuid.New()
	value := 21.5

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO roost.telemetry").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO roost.telemetry").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InsertTelemetry(ctx, []ingest.TelemetryRecord{
		{TenantID: tenantID, MAC: "AA:BB:CC:DD:EE:FF", Sensor: "temperature",
			Value: &value, EventTime: time.Now().UTC()},
		{TenantID: tenantID, MAC: "AA:BB:CC:DD:EE:FF", Sensor: "temperature",
			Value: &value, EventTime: time.Now().UTC()},
	})
	if err != nil {
		t.Fatal(err)
	}

	// the empty batch is a no-op, no transaction expected
	assert.Nil(t, s.InsertTelemetry(ctx, nil))

	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestInsertAlarm(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	tenantID := uuid.New()
	alarmID := uuid.New()

	mock.ExpectQuery("INSERT INTO roost.alarm").
		WillReturnRows(sqlmock.NewRows([]string{"alarm_id"}).AddRow(alarmID.String()))

	got, err := s.InsertAlarm(ctx, ingest.AlarmRecord{
		TenantID: tenantID,
		MAC:      "AA:BB:CC:DD:EE:FF",
		Severity: ingest.SeverityCritical,
		Message:  "water leak",
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, alarmID, got)

	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestAcknowledgeAlarm(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	tenantID := uuid.New()
	alarmID := uuid.New()

	mock.ExpectExec("UPDATE roost.alarm SET acknowledged=true").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.Nil(t, s.AcknowledgeAlarm(ctx, tenantID, alarmID))

	// second acknowledgment updates nothing but is still a success
	mock.ExpectExec("UPDATE roost.alarm SET acknowledged=true").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT acknowledged FROM roost.alarm").
		WillReturnRows(sqlmock.NewRows([]string{"acknowledged"}).AddRow(true))
	assert.Nil(t, s.AcknowledgeAlarm(ctx, tenantID, alarmID))

	// unknown alarm
	mock.ExpectExec("UPDATE roost.alarm SET acknowledged=true").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT acknowledged FROM roost.alarm").
		WillReturnError(sql.ErrNoRows)
	err := s.AcknowledgeAlarm(ctx, tenantID, uuid.New())
	assert.ErrorIs(t, err, ingest.ErrNotFound)

	assert.Nil(t, mock.ExpectationsWereMet())
}
