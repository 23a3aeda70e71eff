package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/ahoycrawler/internal/config"
	"github.com/tejusbharadwaj/ahoycrawler/internal/series"
)

var (
	ts1 = time.Date(2024, 1, 21, 12, 0, 0, 0, time.UTC)
	ts2 = ts1.Add(time.Minute)
)

// summaryDataset holds two rows, the second without P_AC.
func summaryDataset(t *testing.T) *series.Dataset {
	t.Helper()
	catalog, err := series.NewFieldCatalog([]string{"U_AC", "P_AC"}, []string{"V", "W"})
	require.NoError(t, err)

	ds := series.NewDataset(catalog)
	ds.InsertRow(map[string]float64{"U_AC": 230, "P_AC": 500}, ts1)
	ds.InsertRow(map[string]float64{"U_AC": 231}, ts2)
	return ds
}

func TestCSVSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)
	ds := summaryDataset(t)

	require.NoError(t, sink.Flush(context.Background(), "PV", "summary", ds))
	assert.Equal(t, 0, ds.Len())

	data, err := os.ReadFile(filepath.Join(dir, "PV", "summary.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"timestamp,U_AC,P_AC",
		"2024-01-21 12:00:00,230,500",
		"2024-01-21 12:01:00,231,",
	}, strings.Split(strings.TrimRight(string(data), "\n"), "\n"))
	assert.Equal(t, "csv", sink.Name())
}

func TestCSVSinkKeepsRowsOnFailure(t *testing.T) {
	dir := t.TempDir()
	// a file where the inverter directory should be
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PV"), nil, 0644))

	ds := summaryDataset(t)
	err := NewCSVSink(dir).Flush(context.Background(), "PV", "summary", ds)
	assert.ErrorIs(t, err, series.ErrStorage)
	assert.Equal(t, 2, ds.Len())
}

func TestCSVSinkPathStaysInDir(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)

	tests := []struct {
		inverter string
		expected string
	}{
		{inverter: "PV Microinverte", expected: filepath.Join(dir, "PV Microinverte", "0.csv")},
		{inverter: "../../etc", expected: filepath.Join(dir, ".._.._etc", "0.csv")},
		{inverter: "..", expected: filepath.Join(dir, "__", "0.csv")},
		{inverter: ".", expected: filepath.Join(dir, "_", "0.csv")},
		{inverter: "", expected: filepath.Join(dir, "_", "0.csv")},
		{inverter: `roof\east`, expected: filepath.Join(dir, "roof_east", "0.csv")},
		{inverter: "/abs", expected: filepath.Join(dir, "_abs", "0.csv")},
	}

	for _, tt := range tests {
		t.Run(tt.inverter, func(t *testing.T) {
			assert.Equal(t, tt.expected, sink.Path(tt.inverter, "0"))
		})
	}

	ds := summaryDataset(t)
	require.NoError(t, sink.Flush(context.Background(), "../escape", "summary", ds))
	_, err := os.Stat(filepath.Join(dir, ".._escape", "summary.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape"))
	assert.True(t, os.IsNotExist(err))
}

func newMockRepo(t *testing.T, driver string) (*SQLRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewSQLRepoWithDB(db, driver)
	require.NoError(t, err)
	return repo, mock
}

func TestSQLSinkFlush(t *testing.T) {
	repo, mock := newMockRepo(t, "postgres")
	sink := NewSQLSink(repo)
	ds := summaryDataset(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "PV::summary" ("timestamp" TIMESTAMP NOT NULL PRIMARY KEY, "U_AC" DOUBLE PRECISION, "P_AC" DOUBLE PRECISION)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "PV::summary" ("timestamp", "U_AC", "P_AC") VALUES ($1, $2, $3), ($4, $5, $6)`)).
		WithArgs(ts1, 230.0, 500.0, ts2, 231.0, nil).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, sink.Flush(context.Background(), "PV", "summary", ds))
	assert.Equal(t, 0, ds.Len())

	// table is known now and the buffer is empty: no statements
	require.NoError(t, sink.Flush(context.Background(), "PV", "summary", ds))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkFlushAllOrNothing(t *testing.T) {
	repo, mock := newMockRepo(t, "postgres")
	sink := NewSQLSink(repo)
	ds := summaryDataset(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := sink.Flush(context.Background(), "PV", "summary", ds)
	assert.ErrorIs(t, err, series.ErrStorage)
	assert.Equal(t, 2, ds.Len(), "failed insert keeps every row")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, sink.Flush(context.Background(), "PV", "summary", ds))
	assert.Equal(t, 0, ds.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkCreateTableFailure(t *testing.T) {
	repo, mock := newMockRepo(t, "sqlite3")
	ds := summaryDataset(t)

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("disk I/O error"))

	err := NewSQLSink(repo).Flush(context.Background(), "PV", "0", ds)
	assert.ErrorIs(t, err, series.ErrStorage)
	assert.Equal(t, 2, ds.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDialects(t *testing.T) {
	fields := []series.Field{{Name: "U_DC", Unit: "V"}}
	v := 40.0
	rows := []series.Row{{Timestamp: ts1, Values: []*float64{&v}}, {Timestamp: ts2, Values: []*float64{nil}}}

	tests := []struct {
		driver string
		create string
		insert string
	}{
		{
			driver: "mysql",
			create: "CREATE TABLE IF NOT EXISTS `PV::1` (`timestamp` DATETIME NOT NULL PRIMARY KEY, `U_DC` DOUBLE)",
			insert: "INSERT INTO `PV::1` (`timestamp`, `U_DC`) VALUES (?, ?), (?, ?)",
		},
		{
			driver: "sqlite3",
			create: `CREATE TABLE IF NOT EXISTS "PV::1" ("timestamp" TIMESTAMP NOT NULL PRIMARY KEY, "U_DC" REAL)`,
			insert: `INSERT INTO "PV::1" ("timestamp", "U_DC") VALUES (?, ?), (?, ?)`,
		},
		{
			driver: "postgres",
			create: `CREATE TABLE IF NOT EXISTS "PV::1" ("timestamp" TIMESTAMP NOT NULL PRIMARY KEY, "U_DC" DOUBLE PRECISION)`,
			insert: `INSERT INTO "PV::1" ("timestamp", "U_DC") VALUES ($1, $2), ($3, $4)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			repo, mock := newMockRepo(t, tt.driver)

			mock.ExpectExec(regexp.QuoteMeta(tt.create)).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta(tt.insert)).
				WithArgs(ts1, 40.0, ts2, nil).
				WillReturnResult(sqlmock.NewResult(0, 2))
			mock.ExpectCommit()

			ctx := context.Background()
			require.NoError(t, repo.EnsureTable(ctx, TableName("PV", "1"), fields))
			require.NoError(t, repo.InsertRows(ctx, TableName("PV", "1"), fields, rows))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLQuoteEscapes(t *testing.T) {
	assert.Equal(t, `"a""b"`, dialects["postgres"].quote(`a"b`))
	assert.Equal(t, "`a``b`", dialects["mysql"].quote("a`b"))
}

func TestNewSQLRepoUnknownDriver(t *testing.T) {
	_, err := NewSQLRepo(context.Background(), "oracle", "dsn")
	assert.ErrorIs(t, err, series.ErrStorage)
}

type fakePointWriter struct {
	points [][]*write.Point
	err    error
}

func (w *fakePointWriter) WritePoint(_ context.Context, point ...*write.Point) error {
	if w.err != nil {
		return w.err
	}
	w.points = append(w.points, point)
	return nil
}

func TestInfluxSinkFlush(t *testing.T) {
	writer := &fakePointWriter{}
	sink := &InfluxSink{writer: writer}
	ds := summaryDataset(t)

	require.NoError(t, sink.Flush(context.Background(), "PV", "summary", ds))
	assert.Equal(t, 0, ds.Len())

	require.Len(t, writer.points, 1, "one write per flush")
	batch := writer.points[0]
	require.Len(t, batch, 2)

	first := batch[0]
	assert.Equal(t, "summary", first.Name())
	assert.Equal(t, ts1, first.Time())
	require.Len(t, first.TagList(), 1)
	assert.Equal(t, "inverter", first.TagList()[0].Key)
	assert.Equal(t, "PV", first.TagList()[0].Value)
	assert.Len(t, first.FieldList(), 2)

	second := batch[1]
	require.Len(t, second.FieldList(), 1, "absent values are omitted")
	assert.Equal(t, "U_AC", second.FieldList()[0].Key)
	assert.Equal(t, 231.0, second.FieldList()[0].Value)
}

func TestInfluxSinkKeepsRowsOnFailure(t *testing.T) {
	sink := &InfluxSink{writer: &fakePointWriter{err: errors.New("unauthorized")}}
	ds := summaryDataset(t)

	err := sink.Flush(context.Background(), "PV", "summary", ds)
	assert.ErrorIs(t, err, series.ErrStorage)
	assert.Equal(t, 2, ds.Len())
}

func TestInfluxSinkSkipsEmptyRows(t *testing.T) {
	writer := &fakePointWriter{}
	sink := &InfluxSink{writer: writer}

	catalog, err := series.NewFieldCatalog([]string{"U_DC"}, []string{"V"})
	require.NoError(t, err)
	ds := series.NewDataset(catalog)
	ds.InsertRow(nil, ts1)

	require.NoError(t, sink.Flush(context.Background(), "PV", "1", ds))
	assert.Empty(t, writer.points)
	assert.Equal(t, 0, ds.Len())
}

// fakeToken is a completed mqtt.Token.
type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakePublisher accepts okPublishes messages and fails afterwards.
type fakePublisher struct {
	okPublishes int
	messages    []published
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	if len(p.messages) >= p.okPublishes {
		return fakeToken{err: errors.New("not connected")}
	}
	p.messages = append(p.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return fakeToken{}
}

func TestMQTTSinkFlush(t *testing.T) {
	pub := &fakePublisher{okPublishes: 10}
	sink := newMQTTSink(pub, "ahoy", 1)
	ds := summaryDataset(t)

	require.NoError(t, sink.Flush(context.Background(), "PV", "summary", ds))
	assert.Equal(t, 0, ds.Len())

	require.Len(t, pub.messages, 2)
	assert.Equal(t, "ahoy/PV/summary", pub.messages[0].topic)
	assert.Equal(t, byte(1), pub.messages[0].qos)

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.messages[1].payload, &second))
	assert.Equal(t, "2024-01-21 12:01:00", second["timestamp"])
	assert.Equal(t, 231.0, second["U_AC"])
	v, ok := second["P_AC"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestMQTTSinkTopicEscapesNames(t *testing.T) {
	sink := newMQTTSink(&fakePublisher{}, "ahoy", 1)
	assert.Equal(t, "ahoy/PV/0", sink.Topic("PV", "0"))
	assert.Equal(t, "ahoy/roof_east/summary", sink.Topic("roof/east", "summary"))
	assert.Equal(t, "ahoy/PV__/1", sink.Topic("PV+#", "1"))
}

func TestMQTTSinkPartialFailure(t *testing.T) {
	pub := &fakePublisher{okPublishes: 1}
	sink := newMQTTSink(pub, "ahoy", 0)
	ds := summaryDataset(t)

	err := sink.Flush(context.Background(), "PV", "summary", ds)
	assert.ErrorIs(t, err, series.ErrStorage)

	// the published row is gone, the failed one stays
	rows := ds.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, ts2, rows[0].Timestamp)
}

func TestNewSink(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	sink, err := New(ctx, config.StorageConfig{Type: "csv", CSV: config.CSVConfig{Dir: t.TempDir()}}, logger)
	require.NoError(t, err)
	assert.IsType(t, &CSVSink{}, sink)
	assert.NoError(t, sink.Close())

	sink, err = New(ctx, config.StorageConfig{
		Type:     "database",
		Database: config.DatabaseConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "ahoy.db")},
	}, logger)
	require.NoError(t, err)
	assert.Equal(t, "database", sink.Name())
	assert.NoError(t, sink.Close())

	_, err = New(ctx, config.StorageConfig{Type: "mqtt"}, logger)
	assert.ErrorIs(t, err, series.ErrStorage, "broker is required")

	_, err = New(ctx, config.StorageConfig{Type: "mqtt", MQTT: config.MQTTConfig{Broker: "tcp://localhost:1883", QoS: 256}}, logger)
	assert.ErrorIs(t, err, series.ErrStorage, "qos must fit 0..2")

	_, err = New(ctx, config.StorageConfig{Type: "influxdb"}, logger)
	assert.ErrorIs(t, err, series.ErrStorage, "url is required")

	_, err = New(ctx, config.StorageConfig{Type: "s3"}, logger)
	assert.ErrorIs(t, err, series.ErrStorage)
}
