package reveal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/revealrank/revealrank/internal/errors"
	"github.com/revealrank/revealrank/internal/fetch"
	"github.com/revealrank/revealrank/internal/pipeline"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// metadataServer serves /meta/<id>.json from a mutable body table.
type metadataServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies map[string]string
	hits   atomic.Int32
}

func newMetadataServer(t *testing.T) *metadataServer {
	t.Helper()
	s := &metadataServer{bodies: map[string]string{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/meta/"), ".json")
		s.mu.Lock()
		body, ok := s.bodies[id]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *metadataServer) set(id int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[fmt.Sprint(id)] = body
}

func (s *metadataServer) template() TemplateResolver {
	return TemplateResolver(s.URL + "/meta/{id}.json")
}

func newTestDetector(t *testing.T, s *metadataServer, ids ...int) *Detector {
	t.Helper()
	runner := pipeline.New(fetch.New(fetch.Options{}, quietLogger()), nil, quietLogger())
	d, err := NewDetector(Config{
		ProjectKey: "apes",
		SampleIDs:  ids,
		Interval:   10 * time.Millisecond,
		Timeout:    time.Second,
		Retry:      pipeline.RetryPolicy{RetryDelay: time.Millisecond, MaxAttempts: 2},
	}, runner, s.template(), quietLogger())
	require.NoError(t, err)
	return d
}

func TestDetector_Check_RevealedByDistinctAttributes(t *testing.T) {
	s := newMetadataServer(t)
	s.set(1, `{"image":"a.png","attributes":[{"trait_type":"Hat","value":"Cap"},{"trait_type":"Eyes","value":"Laser"}]}`)
	s.set(2, `{"image":"b.png","attributes":[{"trait_type":"Hat","value":"Crown"},{"trait_type":"Eyes","value":"Sleepy"}]}`)
	s.set(3, `{"image":"c.png","attributes":[]}`)

	out, err := newTestDetector(t, s, 1, 2, 3).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRevealed, out.State)
	require.NotNil(t, out.Trigger)
	assert.Equal(t, ClassRevealed, out.Trigger.Class)
}

func TestDetector_Check_IdenticalPlaceholder(t *testing.T) {
	s := newMetadataServer(t)
	for id := 1; id <= 3; id++ {
		s.set(id, `{"image":"ipfs://placeholder.gif","attributes":[{"trait_type":"Background","value":"Blue"}]}`)
	}

	out, err := newTestDetector(t, s, 1, 2, 3).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateNotRevealed, out.State)
	for _, sample := range out.Samples {
		assert.Equal(t, ClassAmbiguous, sample.Class)
	}
}

func TestDetector_Check_AmbiguousWithDistinctImages(t *testing.T) {
	s := newMetadataServer(t)
	s.set(1, `{"image":"1.png","attributes":[{"trait_type":"Background","value":"Blue"}]}`)
	s.set(2, `{"image":"2.png","attributes":[{"trait_type":"Background","value":"Red"}]}`)

	out, err := newTestDetector(t, s, 1, 2).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRevealed, out.State)
}

func TestDetector_Check_FailedFetchesAreNotRevealed(t *testing.T) {
	s := newMetadataServer(t)

	out, err := newTestDetector(t, s, 1, 2).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateNotRevealed, out.State)
	for _, sample := range out.Samples {
		assert.Equal(t, fetch.Status("404"), sample.Status)
		assert.Equal(t, ClassNotRevealed, sample.Class)
	}
}

func TestDetector_Wait_PollsUntilRevealed(t *testing.T) {
	s := newMetadataServer(t)
	s.set(7, `{"image":"p.gif","attributes":[{"trait_type":"Status","value":"Unrevealed"}]}`)

	d := newTestDetector(t, s, 7)
	go func() {
		assert.Eventually(t, func() bool { return s.hits.Load() >= 3 }, 5*time.Second, time.Millisecond)
		s.set(7, `{"image":"7.png","attributes":[{"trait_type":"Hat","value":"Cap"},{"trait_type":"Eyes","value":"Laser"}]}`)
	}()

	res, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.URL+"/meta/{id}.json", res.Template)
	assert.Equal(t, 7, res.SampleID)
	assert.GreaterOrEqual(t, res.Polls, 3)
	assert.NotEmpty(t, res.SessionID)
	assert.False(t, res.RevealedAt.IsZero())
}

func TestDetector_Wait_TemplateDerivationIsFatal(t *testing.T) {
	s := newMetadataServer(t)
	s.mu.Lock()
	s.bodies["latest"] = `{"image":"5.png","attributes":[{"trait_type":"Hat","value":"Cap"},{"trait_type":"Eyes","value":"Laser"}]}`
	s.mu.Unlock()

	runner := pipeline.New(fetch.New(fetch.Options{}, quietLogger()), nil, quietLogger())
	d, err := NewDetector(Config{ProjectKey: "apes", SampleIDs: []int{5}, Interval: time.Millisecond}, runner, fixedResolver(s.URL+"/meta/latest.json"), quietLogger())
	require.NoError(t, err)

	_, err = d.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateDerivation)
	assert.ErrorIs(t, err, domainerrors.ErrConfiguration)
}

// fixedResolver maps every ID to the same URI.
type fixedResolver string

func (f fixedResolver) ResolveURI(context.Context, int) (string, error) {
	return string(f), nil
}

// flakyResolver fails the first failures lookups with err, then expands the template.
type flakyResolver struct {
	TemplateResolver
	failures int32
	calls    atomic.Int32
	err      error
}

func (f *flakyResolver) ResolveURI(ctx context.Context, id int) (string, error) {
	if f.calls.Add(1) <= f.failures {
		return "", f.err
	}
	return f.TemplateResolver.ResolveURI(ctx, id)
}

func TestDetector_Wait_KeepsPollingAfterTransientFailure(t *testing.T) {
	s := newMetadataServer(t)
	s.set(3, `{"image":"3.png","attributes":[{"trait_type":"Hat","value":"Cap"},{"trait_type":"Eyes","value":"Laser"}]}`)

	resolver := &flakyResolver{
		TemplateResolver: s.template(),
		failures:         2,
		err:              domainerrors.TransientNetworkf("token uri lookup timed out"),
	}
	runner := pipeline.New(fetch.New(fetch.Options{}, quietLogger()), nil, quietLogger())
	d, err := NewDetector(Config{ProjectKey: "apes", SampleIDs: []int{3}, Interval: time.Millisecond, Timeout: time.Second}, runner, resolver, quietLogger())
	require.NoError(t, err)

	res, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, s.URL+"/meta/{id}.json", res.Template)
}

func TestDetector_Wait_FatalPollErrorStops(t *testing.T) {
	s := newMetadataServer(t)
	resolver := &flakyResolver{
		TemplateResolver: s.template(),
		failures:         1,
		err:              fmt.Errorf("resolver misconfigured"),
	}
	runner := pipeline.New(fetch.New(fetch.Options{}, quietLogger()), nil, quietLogger())
	d, err := NewDetector(Config{ProjectKey: "apes", SampleIDs: []int{3}, Interval: time.Millisecond}, runner, resolver, quietLogger())
	require.NoError(t, err)

	_, err = d.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), resolver.calls.Load())
	assert.Zero(t, s.hits.Load())
}

func TestDetector_Wait_Canceled(t *testing.T) {
	s := newMetadataServer(t)
	s.set(1, `{"image":"p.gif","attributes":[]}`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestDetector(t, s, 1).Wait(ctx)
	assert.ErrorIs(t, err, domainerrors.ErrCanceled)
}

func TestNewDetector_RequiresConfiguration(t *testing.T) {
	_, err := NewDetector(Config{ProjectKey: "apes", Interval: time.Second}, nil, nil, nil)
	assert.ErrorIs(t, err, domainerrors.ErrConfiguration)

	_, err = NewDetector(Config{ProjectKey: "apes", SampleIDs: []int{1}}, nil, nil, nil)
	assert.ErrorIs(t, err, domainerrors.ErrConfiguration)
}
