package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatblast/internal/contacts"
	"chatblast/internal/storage"
	logx "chatblast/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeContacts(t *testing.T, path string, n int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{"First Name", "Middle Name", "Last Name", "Phone 1 - Value", "Notes"}))
	for i := 0; i < n; i++ {
		require.NoError(t, w.Write([]string{fmt.Sprintf("P%02d", i), "", "Test", fmt.Sprintf("98765432%02d", i), "keep me"}))
	}
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, f.Close())
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestConcurrentPersistenceLosesNothing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.csv")
	writeContacts(t, path, 40)

	store := contacts.NewStore(path, contacts.DefaultColumns())
	tbl, err := store.Prepare()
	require.NoError(t, err)
	require.Len(t, tbl.Contacts, 40)

	l := New(Config{SentPath: filepath.Join(dir, "sent.csv"), FailedPath: filepath.Join(dir, "failed.csv")}, store, WithLogger(logx.Nop()))

	var wg sync.WaitGroup
	for i, c := range tbl.Contacts {
		wg.Add(1)
		go func(i int, c contacts.Contact) {
			defer wg.Done()
			c.Status = contacts.StatusSent
			if i%4 == 0 {
				c.Status = contacts.StatusFailed
			}
			assert.NoError(t, l.PersistContactStatus(context.Background(), []contacts.Contact{c}))
		}(i, *c)
	}
	wg.Wait()
	require.NoError(t, l.Close(context.Background()))

	final, err := store.Load()
	require.NoError(t, err)
	require.Len(t, final.Contacts, 40)
	for i, c := range final.Contacts {
		want := contacts.StatusSent
		if i%4 == 0 {
			want = contacts.StatusFailed
		}
		assert.Equal(t, want, c.Status, c.FirstName)
		assert.Equal(t, "keep me", c.Extra["Notes"])
	}
}

func TestEnqueueThenCloseFlushes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.csv")
	writeContacts(t, path, 5)
	store := contacts.NewStore(path, contacts.DefaultColumns())
	tbl, err := store.Prepare()
	require.NoError(t, err)

	l := New(Config{SentPath: filepath.Join(dir, "s.csv"), FailedPath: filepath.Join(dir, "f.csv")}, store)
	var results []<-chan error
	for _, c := range tbl.Contacts {
		u := *c
		u.Status = contacts.StatusSent
		results = append(results, l.Enqueue([]contacts.Contact{u}))
	}
	require.NoError(t, l.Close(context.Background()))
	for _, r := range results {
		assert.NoError(t, <-r)
	}

	final, err := store.Load()
	require.NoError(t, err)
	for _, c := range final.Contacts {
		assert.Equal(t, contacts.StatusSent, c.Status)
	}

	err = <-l.Enqueue([]contacts.Contact{*tbl.Contacts[0]})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestPersistenceErrorDoesNotStopLane(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.csv")
	store := contacts.NewStore(path, contacts.DefaultColumns())
	l := New(Config{SentPath: filepath.Join(dir, "s.csv"), FailedPath: filepath.Join(dir, "f.csv")}, store)
	defer l.Close(context.Background())

	c := contacts.Contact{FirstName: "P00", LastName: "Test", Phone: "9876543200", NormalizedPhone: "919876543200", Status: contacts.StatusSent}
	err := l.PersistContactStatus(context.Background(), []contacts.Contact{c})
	require.ErrorIs(t, err, ErrPersistence)

	writeContacts(t, path, 1)
	_, err = store.Prepare()
	require.NoError(t, err)
	require.NoError(t, l.PersistContactStatus(context.Background(), []contacts.Contact{c}))

	final, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, contacts.StatusSent, final.Contacts[0].Status)
}

func TestRecordOutcomeWritesHeaderOnce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	audit, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "audit")}, logx.Nop())
	require.NoError(t, err)
	defer audit.Close()

	cfg := Config{SentPath: filepath.Join(dir, "logs", "sent.csv"), FailedPath: filepath.Join(dir, "logs", "failed.csv")}
	l := New(cfg, contacts.NewStore(filepath.Join(dir, "c.csv"), contacts.DefaultColumns()),
		WithClock(func() time.Time { return at }), WithAudit(audit, "run-1"))
	defer l.Close(context.Background())

	ctx := context.Background()
	asha := contacts.Contact{FirstName: "Asha", LastName: "K", NormalizedPhone: "919876543210"}
	ravi := contacts.Contact{FirstName: "Ravi", NormalizedPhone: "91987654321"}
	require.NoError(t, l.RecordOutcome(ctx, asha, OutcomeSent, 1, nil))
	require.NoError(t, l.RecordOutcome(ctx, ravi, OutcomeSent, 2, nil))
	require.NoError(t, l.RecordOutcome(ctx, ravi, OutcomeFailed, 2, errors.New("timeout")))

	sent := readRows(t, cfg.SentPath)
	require.Len(t, sent, 3)
	assert.Equal(t, LogHeader, sent[0])
	assert.Equal(t, []string{"Asha K", "919876543210", "2024-03-01T10:30:00.000Z"}, sent[1])

	failed := readRows(t, cfg.FailedPath)
	require.Len(t, failed, 2)
	assert.Equal(t, LogHeader, failed[0])
	assert.Equal(t, "Ravi", failed[1][0])

	tot, err := audit.Outcomes(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, storage.Totals{Sent: 2, Failed: 1}, tot)
}
