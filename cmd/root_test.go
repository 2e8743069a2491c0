package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/places-scraper/internal/job"
)

// Tests in this file swap the package-level factory and cannot run in parallel.

func TestScrapeCommandPrintsRecord(t *testing.T) {
	fake := &fakeApp{rec: job.Record{ID: "job-1", Status: job.StatusCompleted, TotalQueries: 2, CompletedQueries: 2}}
	withFakeApp(t, fake, nil)

	out, err := execute(t, "scrape", "--location", "Austin", "pizza", "tacos")
	require.NoError(t, err)
	assert.Equal(t, []string{"pizza", "tacos"}, fake.queries)
	assert.Equal(t, "Austin", fake.location)
	assert.True(t, fake.closed)

	var got job.Record
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
}

func TestScrapeCommandReportsFailedJob(t *testing.T) {
	fake := &fakeApp{rec: job.Record{ID: "job-2", Status: job.StatusFailed, Error: "chrome not found"}}
	withFakeApp(t, fake, nil)

	_, err := execute(t, "scrape", "-l", "Austin", "pizza")
	require.ErrorContains(t, err, "chrome not found")
}

func TestScrapeCommandRequiresLocation(t *testing.T) {
	withFakeApp(t, &fakeApp{}, nil)

	_, err := execute(t, "scrape", "pizza")
	require.ErrorContains(t, err, "location")
}

func TestServeCommandRunsApp(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake, nil)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	assert.True(t, fake.ran)
}

func TestAppInitFailure(t *testing.T) {
	withFakeApp(t, nil, errors.New("bad config"))

	_, err := execute(t, "serve")
	require.ErrorContains(t, err, "bad config")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func withFakeApp(t *testing.T, fake *fakeApp, err error) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, string) (App, error) {
		if err != nil {
			return nil, err
		}
		return fake, nil
	}
	t.Cleanup(func() { newApp = prev })
}

// --- fakes ---

type fakeApp struct {
	rec      job.Record
	queries  []string
	location string
	ran      bool
	closed   bool
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return nil
}

func (f *fakeApp) RunJob(_ context.Context, queries []string, location string) (job.Record, error) {
	f.queries = queries
	f.location = location
	return f.rec, nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}
