package jobs

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "GeoLite2-City_20240101/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}))
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return buf.Bytes()
}

func TestExtractMMDB(t *testing.T) {
	t.Run("copies the mmdb entry", func(t *testing.T) {
		archive := buildArchive(t, map[string]string{
			"GeoLite2-City_20240101/GeoLite2-City.mmdb": "mmdb-bytes",
		})

		var out bytes.Buffer
		require.NoError(t, extractMMDB(bytes.NewReader(archive), &out))
		assert.Equal(t, "mmdb-bytes", out.String())
	})

	t.Run("fails without an mmdb entry", func(t *testing.T) {
		archive := buildArchive(t, map[string]string{"GeoLite2-City_20240101/LICENSE.txt": "license"})

		err := extractMMDB(bytes.NewReader(archive), io.Discard)
		assert.ErrorContains(t, err, "no .mmdb file")
	})

	t.Run("fails on non-gzip input", func(t *testing.T) {
		err := extractMMDB(bytes.NewReader([]byte("<html>denied</html>")), io.Discard)
		assert.Error(t, err)
	})
}

func TestGeoLiteUpdaterJob(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"GeoLite2-City_20240101/GeoLite2-City.mmdb": "fresh-database",
	})

	var calls atomic.Int32
	var gotKey atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotKey.Store(r.URL.Query().Get("license_key"))
		w.Write(archive)
	}))
	t.Cleanup(server.Close)

	newJob := func(dest, key string) *GeoLiteUpdaterJob {
		return NewGeoLiteUpdaterJob(GeoLiteOptions{
			LicenseKey:  key,
			DestPath:    dest,
			DownloadURL: server.URL + "/download?license_key=%s",
		}, quietLogger())
	}

	t.Run("skips without a license key", func(t *testing.T) {
		before := calls.Load()
		dest := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")

		require.NoError(t, newJob(dest, "").Run(context.Background()))

		assert.Equal(t, before, calls.Load())
		assert.NoFileExists(t, dest)
	})

	t.Run("downloads a missing database", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "geo", "GeoLite2-City.mmdb")

		require.NoError(t, newJob(dest, "key&1").Run(context.Background()))

		content, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "fresh-database", string(content))
		assert.Equal(t, "key&1", gotKey.Load())
	})

	t.Run("skips a recent database", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
		require.NoError(t, os.WriteFile(dest, []byte("current"), 0o644))
		before := calls.Load()

		require.NoError(t, newJob(dest, "key").Run(context.Background()))

		assert.Equal(t, before, calls.Load())
	})

	t.Run("replaces a stale database", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
		require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))
		old := time.Now().Add(-8 * 24 * time.Hour)
		require.NoError(t, os.Chtimes(dest, old, old))

		require.NoError(t, newJob(dest, "key").Run(context.Background()))

		content, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "fresh-database", string(content))
	})

	t.Run("failed download leaves nothing behind", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		t.Cleanup(failing.Close)

		dir := t.TempDir()
		dest := filepath.Join(dir, "GeoLite2-City.mmdb")
		job := NewGeoLiteUpdaterJob(GeoLiteOptions{
			LicenseKey:  "bad",
			DestPath:    dest,
			DownloadURL: failing.URL + "/?license_key=%s",
		}, quietLogger())

		err := job.Run(context.Background())
		assert.ErrorContains(t, err, "status: 401")
		assert.NoFileExists(t, dest)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "temp files are cleaned up")
	})
}

type countingJob struct {
	name  string
	runs  atomic.Int32
	panic bool
	err   error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	return j.err
}

func TestScheduler(t *testing.T) {
	t.Run("runs jobs immediately and on each tick", func(t *testing.T) {
		s := NewScheduler(quietLogger())
		job := &countingJob{name: "counter"}
		s.Add(job, 10*time.Millisecond)

		require.NoError(t, s.Start())
		assert.True(t, s.IsRunning())

		assert.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

		s.Stop()
		assert.False(t, s.IsRunning())

		stopped := job.runs.Load()
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, stopped, job.runs.Load())
	})

	t.Run("survives panicking and failing jobs", func(t *testing.T) {
		s := NewScheduler(quietLogger())
		panicking := &countingJob{name: "panics", panic: true}
		failing := &countingJob{name: "fails", err: errors.New("nope")}
		s.Add(panicking, 10*time.Millisecond)
		s.Add(failing, 10*time.Millisecond)

		require.NoError(t, s.Start())
		assert.Eventually(t, func() bool {
			return panicking.runs.Load() >= 2 && failing.runs.Load() >= 2
		}, 2*time.Second, 5*time.Millisecond)
		s.Stop()
	})
}

type fakeCheckpointer struct{ modes []string }

func (f *fakeCheckpointer) CheckpointWAL(mode string) error {
	f.modes = append(f.modes, mode)
	return nil
}

func TestWALCheckpointJob(t *testing.T) {
	db := &fakeCheckpointer{}
	job := NewWALCheckpointJob(db, quietLogger())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"TRUNCATE"}, db.modes)
	assert.Equal(t, "wal_checkpoint", job.Name())
}
