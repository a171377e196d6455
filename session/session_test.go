package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/ausocean/openfish/datastore"
	"github.com/ausocean/utils/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ausocean/subsync/bandwidth"
	"github.com/ausocean/subsync/loader"
	"github.com/ausocean/subsync/model"
	"github.com/ausocean/subsync/reconcile"
)

func init() {
	model.RegisterEntities()
}

var (
	gugX    = model.GUGKeyAndName{Key: "x", Name: "gug x"}
	gugY    = model.GUGKeyAndName{Key: "y", Name: "gug y"}
	testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) datastore.Store {
	t.Helper()
	store, err := datastore.NewStore(context.Background(), "file", "subsync", t.TempDir())
	require.NoError(t, err)
	return store
}

// seed stores a subscription with one synced container per query, each
// holding one seed.
func seed(t *testing.T, store datastore.Store, name string, gug model.GUGKeyAndName, texts ...string) *model.Subscription {
	t.Helper()
	ctx := context.Background()
	sub := model.NewSubscription(name, gug)
	for _, text := range texts {
		q := model.NewQueryHeader(text)
		require.NoError(t, sub.AddQueryHeaders(q))
		c := model.NewQueryLogContainer(q.ContainerName)
		c.FileSeedCache.AddSeeds(model.FileSeed{URL: fmt.Sprintf("https://example.com/%s/%s", name, text), Status: model.SeedSuccessful, Created: testNow})
		q.SyncToContainer(sub.CheckerOptions, c, testNow)
		require.NoError(t, model.PutQueryLogContainer(ctx, store, c))
	}
	require.NoError(t, model.PutSubscription(ctx, store, sub))
	return sub
}

func openSession(t *testing.T, store datastore.Store, chooser reconcile.Chooser) *Session {
	t.Helper()
	ctx := context.Background()
	subs, err := model.GetAllSubscriptions(ctx, store)
	require.NoError(t, err)
	l, err := loader.New(loader.StoreReader{Store: store}, loader.NewCache(), loader.WithLogger((*logging.TestLogger)(t)))
	require.NoError(t, err)
	s, err := Open(ctx, subs, Env{
		Loader:  l,
		Chooser: chooser,
		Log:     (*logging.TestLogger)(t),
		Now:     func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return s
}

func queryTexts(s *Session, name string) []string {
	sub, err := s.Subscription(name)
	if err != nil {
		return nil
	}
	texts := sub.QueryTexts()
	sort.Strings(texts)
	return texts
}

func subNames(subs []*model.Subscription) []string {
	var names []string
	for _, s := range subs {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

func TestOpenMissingContainer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sub := seed(t, store, "S", gugX, "a", "b")
	require.NoError(t, model.DeleteQueryLogContainers(ctx, store, []string{sub.QueryHeaders[1].ContainerName}))

	l, err := loader.New(loader.StoreReader{Store: store}, loader.NewCache())
	require.NoError(t, err)
	_, err = Open(ctx, []*model.Subscription{sub}, Env{Loader: l})
	assert.ErrorIs(t, err, model.ErrDataMissing)
}

func TestOpenDuplicateName(t *testing.T) {
	l, err := loader.New(loader.StoreReader{Store: newTestStore(t)}, loader.NewCache())
	require.NoError(t, err)
	subs := []*model.Subscription{model.NewSubscription("S", gugX), model.NewSubscription("S", gugY)}
	_, err = Open(context.Background(), subs, Env{Loader: l})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestDedupe(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a := seed(t, store, "A", gugX, "p", "q")
	b := seed(t, store, "B", gugX, "q", "r")
	seed(t, store, "C", gugY, "q")

	s := openSession(t, store, &reconcile.Script{Master: "A"})
	rep, err := s.Dedupe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Passes)
	assert.Equal(t, []string{"q"}, rep.Resolved)
	assert.Equal(t, 1, rep.Removed)

	assert.Equal(t, []string{"p", "q"}, queryTexts(s, "A"))
	assert.Equal(t, []string{"r"}, queryTexts(s, "B"))
	assert.Equal(t, []string{"q"}, queryTexts(s, "C"), "a different downloader is left alone")
	assert.True(t, reconcile.NewDuplicateIndex(s.Subscriptions(), reconcile.Caseless).Empty())

	aq, bq := a.QueryHeaders[1].ContainerName, b.QueryHeaders[0].ContainerName
	r := s.Result()
	assert.Equal(t, []string{bq}, r.DeleteeNames)
	require.Len(t, r.EditedContainers, 1)
	assert.Equal(t, aq, r.EditedContainers[0].Name)
	assert.Equal(t, 2, r.EditedContainers[0].FileSeedCache.Len(), "the removed query's history is kept")

	require.NoError(t, s.Commit(ctx, StoreCommitter{Store: store}))
	_, err = model.GetQueryLogContainer(ctx, store, bq)
	assert.ErrorIs(t, err, model.ErrDataMissing)
	c, err := model.GetQueryLogContainer(ctx, store, aq)
	require.NoError(t, err)
	assert.True(t, c.FileSeedCache.HasURL("https://example.com/B/q"))
	stored, err := model.GetSubscription(ctx, store, "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, stored.QueryTexts())
	assert.Empty(t, s.Result().DeleteeNames, "committed deletees are forgotten")
}

func TestDedupeNothingToDo(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "A", gugX, "p")
	seed(t, store, "B", gugX, "q")

	s := openSession(t, store, &reconcile.Script{})
	_, err := s.Dedupe(context.Background())
	assert.True(t, reconcile.IsVeto(err), "got %v, want a veto", err)
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seed(t, store, "A", gugX, "p")
	seed(t, store, "B", gugX, "q")
	seed(t, store, "C", gugY, "r")

	s := openSession(t, store, &reconcile.Script{Primary: map[string]bool{"A": true}})
	before := reconcile.QueryCount(s.Subscriptions())
	res, err := s.Merge(ctx)
	require.NoError(t, err)
	require.Len(t, res.Consumed, 1)
	assert.Equal(t, "B", res.Consumed[0].Name)
	assert.Equal(t, []string{"A", "C"}, subNames(s.Subscriptions()))
	assert.Equal(t, []string{"p", "q"}, queryTexts(s, "A"))
	assert.Equal(t, before, reconcile.QueryCount(s.Subscriptions()))
	assert.Empty(t, s.Result().DeleteeNames, "merged queries keep their containers")

	require.NoError(t, s.Commit(ctx, StoreCommitter{Store: store}))
	stored, err := model.GetAllSubscriptions(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, subNames(stored))
}

func TestSeparateHalf(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seed(t, store, "S", gugX, "p", "n", "o", "m")

	s := openSession(t, store, &reconcile.Script{SeparateMode: reconcile.SeparateHalf})
	res, err := s.Separate(ctx, "S")
	require.NoError(t, err)
	require.NotNil(t, res.Original)
	assert.Equal(t, []string{"S (A)", "S (B)"}, subNames(s.Subscriptions()))
	assert.Equal(t, []string{"m", "n"}, queryTexts(s, "S (A)"))
	assert.Equal(t, []string{"o", "p"}, queryTexts(s, "S (B)"))
	assert.Empty(t, s.Result().DeleteeNames)

	_, err = s.Separate(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestEditQueries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sub := seed(t, store, "S", gugX, "a", "b")
	s := openSession(t, store, nil)

	require.NoError(t, s.AddQuery("S", "c"))
	err := s.AddQuery("S", "d", "B")
	assert.True(t, reconcile.IsVeto(err), "got %v, want a veto", err)
	assert.Equal(t, []string{"a", "b", "c"}, queryTexts(s, "S"))

	got, err := s.Subscription("S")
	require.NoError(t, err)
	c := got.QueryHeaders[2]
	assert.Equal(t, model.StateOK, c.State(), "new queries are synced to their new containers")

	removed, err := s.RemoveQueries("S", "A")
	require.NoError(t, err)
	require.Len(t, removed, 1)

	r := s.Result()
	assert.Equal(t, []string{sub.QueryHeaders[0].ContainerName}, r.DeleteeNames)
	require.Len(t, r.EditedContainers, 1)
	assert.Equal(t, c.ContainerName, r.EditedContainers[0].Name)

	require.NoError(t, s.CheckNow("S", "b"))
	assert.Equal(t, model.StateChecking, got.QueryHeaders[0].State())
	require.NoError(t, s.PausePlay("S"))
	assert.True(t, got.Paused)
	require.NoError(t, s.PausePlay("S", "c"))
	assert.True(t, c.Paused)

	opts := model.DefaultCheckerOptions()
	opts.IntendedFilesPerCheck = 10
	require.NoError(t, s.SetCheckerOptions(opts, "S"))
	assert.Equal(t, model.StateUnsynced, c.State())
	n, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, model.StateOK, c.State())

	opts.NeverFasterThan = 0
	assert.True(t, reconcile.IsVeto(s.SetCheckerOptions(opts)))
}

func TestAddAndDelete(t *testing.T) {
	store := newTestStore(t)
	orig := seed(t, store, "S", gugX, "a")
	s := openSession(t, store, nil)

	err := s.Add(model.NewSubscription("S", gugX))
	assert.True(t, reconcile.IsVeto(err), "got %v, want a veto", err)

	n := model.NewSubscription("T", gugY)
	require.NoError(t, n.AddQueryHeaders(model.NewQueryHeader("z")))
	require.NoError(t, s.Add(n))
	added, err := s.Subscription("T")
	require.NoError(t, err)
	assert.NotEqual(t, n.QueryHeaders[0].ContainerName, added.QueryHeaders[0].ContainerName)

	require.NoError(t, s.Delete("S"))
	assert.Equal(t, []string{"T"}, subNames(s.Subscriptions()))
	assert.Equal(t, []string{orig.QueryHeaders[0].ContainerName}, s.Result().DeleteeNames)
	assert.ErrorIs(t, s.Delete("S"), ErrNoSubscription)
}

func TestResetAndRetry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sub := model.NewSubscription("S", gugX)
	q := model.NewQueryHeader("a")
	require.NoError(t, sub.AddQueryHeaders(q))
	c := model.NewQueryLogContainer(q.ContainerName)
	c.FileSeedCache.AddSeeds(
		model.FileSeed{URL: "https://example.com/1", Status: model.SeedFailed},
		model.FileSeed{URL: "https://example.com/2", Status: model.SeedVetoed},
		model.FileSeed{URL: "https://example.com/3", Status: model.SeedSkipped},
	)
	require.NoError(t, model.PutQueryLogContainer(ctx, store, c))
	require.NoError(t, model.PutSubscription(ctx, store, sub))
	s := openSession(t, store, nil)

	n, err := s.RetryFailed(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.RetryIgnored(ctx, "S", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	got, _ := s.Subscription("S")
	assert.Equal(t, "0/3 done", got.QueryHeaders[0].FileStatus)
	qlc, ok := s.Container(q.ContainerName)
	require.True(t, ok)
	for _, seed := range qlc.FileSeedCache.Seeds {
		assert.True(t, seed.Modified.Equal(testNow), "%s: got %v, want %v", seed.URL, seed.Modified, testNow)
	}

	n, err = s.Reset(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "no files", got.QueryHeaders[0].FileStatus)
	require.Len(t, s.Result().EditedContainers, 1)

	_, err = s.Reset(ctx, "S", "nope")
	assert.True(t, reconcile.IsVeto(err))
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seed(t, store, "S", gugX, "a", "b")
	s := openSession(t, store, &reconcile.Script{})

	texts, err := s.Export(ctx, "S", ExportTexts)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(texts))

	data, err := s.Export(ctx, "S", ExportEnvelope)
	require.NoError(t, err)

	imported, err := s.Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, "S (1)", imported.Name)
	orig, _ := s.Subscription("S")
	for i, q := range imported.QueryHeaders {
		assert.NotEqual(t, orig.QueryHeaders[i].ContainerName, q.ContainerName, "containers are re-keyed")
		_, ok := s.Container(q.ContainerName)
		assert.True(t, ok)
	}
	assert.Len(t, s.Result().EditedContainers, 2)
}

func TestImportMissingContainers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seed(t, store, "S", gugX, "a", "b")

	script := &reconcile.Script{}
	s := openSession(t, store, script)
	data, err := s.Export(ctx, "S", ExportEnvelope)
	require.NoError(t, err)
	env, err := model.DecodeSubscriptionExport(data)
	require.NoError(t, err)
	env.Containers = env.Containers[:1]
	data = env.Encode()

	_, err = s.Import(ctx, data)
	assert.ErrorIs(t, err, reconcile.ErrCancelled)
	assert.Len(t, s.Subscriptions(), 1, "a cancelled import changes nothing")

	script.Yes = true
	imported, err := s.Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, model.StateOK, imported.QueryHeaders[0].State())
	assert.Equal(t, model.StateUnsynced, imported.QueryHeaders[1].State())

	_, err = s.Import(ctx, []byte("not json"))
	assert.True(t, reconcile.IsVeto(err))
}

// failingCommitter fails every commit.
type failingCommitter struct{}

func (failingCommitter) Commit(ctx context.Context, r Result) error {
	return errors.New("store unavailable")
}

func TestCommitFailureKeepsEdits(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sub := seed(t, store, "S", gugX, "a", "b")
	s := openSession(t, store, nil)
	_, err := s.RemoveQueries("S", "a")
	require.NoError(t, err)

	before := s.Result()
	assert.Error(t, s.Commit(ctx, failingCommitter{}))
	assert.Equal(t, before.DeleteeNames, s.Result().DeleteeNames)

	require.NoError(t, s.Commit(ctx, StoreCommitter{Store: store}))
	_, err = model.GetQueryLogContainer(ctx, store, sub.QueryHeaders[0].ContainerName)
	assert.ErrorIs(t, err, model.ErrDataMissing)
	stored, err := model.GetSubscription(ctx, store, "S")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, stored.QueryTexts())
}

func TestEstimate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, model.PutGUG(ctx, store, &model.GUG{Key: "x", Name: "gug x", URLTemplate: "https://example.com/?q=%s"}))
	require.NoError(t, model.PutGUG(ctx, store, &model.GUG{Key: "y", Name: "gug y", URLTemplate: "example"}))
	seed(t, store, "S", gugX, "a")
	seed(t, store, "T", gugY, "b")

	m, err := bandwidth.NewManager(store, bandwidth.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	s := openSession(t, store, nil)

	_, err = s.Estimate(ctx, "S")
	assert.True(t, reconcile.IsVeto(err), "estimates need an estimator")

	s.env.Estimator = bandwidth.NewEstimator(bandwidth.StoreGUGs{Store: store}, m)
	est, err := s.Estimate(ctx, "S")
	require.NoError(t, err)
	assert.True(t, est.Known)
	assert.Zero(t, est.Max)
	require.Len(t, est.Queries, 1)
	assert.Equal(t, "bandwidth available", est.Queries[0].Status)

	est, err = s.Estimate(ctx, "T")
	require.NoError(t, err)
	assert.False(t, est.Known)
	assert.Equal(t, bandwidth.StatusUnknown, est.Queries[0].Status)
	assert.Zero(t, est.Queries[0].Delay)
}
