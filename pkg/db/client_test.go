package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/pkg/config"
)

type row struct {
	ID   int
	Name string
}

func openMemory(t *testing.T) *Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&row{}))
	return NewFromConn(conn)
}

func countNamed(t *testing.T, client *Client, name string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, client.DB().Model(&row{}).Where("name = ?", name).Count(&n).Error)
	return n
}

func TestWithTx(t *testing.T) {
	client := openMemory(t)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&row{Name: "kept"}).Error
	}))
	assert.EqualValues(t, 1, countNamed(t, client, "kept"))

	errBoom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&row{Name: "dropped"}).Error)
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, countNamed(t, client, "dropped"))
}

func TestWithTxRollsBackAndRepanics(t *testing.T) {
	client := openMemory(t)

	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&row{Name: "half-done"}).Error)
			panic("boom")
		})
	})
	assert.Zero(t, countNamed(t, client, "half-done"))
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		err        error
		constraint string
		want       bool
	}{
		{errors.New("UNIQUE constraint failed: payments.transaction_ref"), "", true},
		{errors.New(`duplicate key value violates unique constraint "ux_payments_transaction_ref"`), "ux_payments_transaction_ref", true},
		{errors.New("connection reset"), "", false},
		{nil, "", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsUniqueViolation(tc.err, tc.constraint), "%v", tc.err)
	}
	assert.True(t, IsNotFound(gorm.ErrRecordNotFound))
}

func TestDialectorFor(t *testing.T) {
	_, err := dialectorFor(config.DBConfig{Driver: "mysql", DSN: "x"})
	assert.ErrorContains(t, err, "mysql")

	d, err := dialectorFor(config.DBConfig{Driver: DriverSQLite, DSN: "file::memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	d, err = dialectorFor(config.DBConfig{DSN: "postgres://localhost/tableserve"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{}, nil)
	assert.Error(t, err)
}

func TestPingAndClose(t *testing.T) {
	client := openMemory(t)
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Close())
	assert.Error(t, client.Ping(context.Background()))
}
